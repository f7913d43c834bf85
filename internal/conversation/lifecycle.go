package conversation

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/comigor/escal8-go/internal/store"
)

// State of a conversation. It is derived from the stored ended_at column.
type State = string

const (
	StateOpen  State = "open"
	StateEnded State = "ended"
)

// Triggers
const (
	TriggerMessage = "message"
	TriggerEnd     = "end"
)

// StateOf reports the lifecycle state of conv.
func StateOf(conv *store.Conversation) State {
	if conv.EndedAt != nil {
		return StateEnded
	}
	return StateOpen
}

// newLifecycle builds the machine for one conversation. Messages are accepted
// in both states; ending an ended conversation re-enters the state and
// stamps a new ended_at.
func (s *Service) newLifecycle(conv *store.Conversation) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateOf(conv))

	sm.Configure(StateOpen).
		InternalTransition(TriggerMessage, s.appendFromTrigger).
		Permit(TriggerEnd, StateEnded)

	sm.Configure(StateEnded).
		InternalTransition(TriggerMessage, s.appendFromTrigger).
		PermitReentry(TriggerEnd).
		OnEntryFrom(TriggerEnd, func(ctx context.Context, _ ...any) error {
			if err := s.store.EndConversation(ctx, conv.ID, s.now()); err != nil {
				return err
			}
			s.logger.Info("conversation ended", "conversation_id", conv.ID)
			return nil
		})

	return sm
}

func (s *Service) appendFromTrigger(ctx context.Context, args ...any) error {
	if len(args) != 1 {
		return fmt.Errorf("message trigger: want 1 argument, got %d", len(args))
	}
	msg, ok := args[0].(*store.Message)
	if !ok {
		return fmt.Errorf("message trigger: unexpected argument %T", args[0])
	}
	return s.store.AppendMessage(ctx, msg)
}
