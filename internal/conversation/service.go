// Package conversation runs the text chat between a user and an agent:
// starting conversations, exchanging messages and ending them.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comigor/escal8-go/internal/apperr"
	"github.com/comigor/escal8-go/internal/llm"
	"github.com/comigor/escal8-go/internal/logger"
	"github.com/comigor/escal8-go/internal/responder"
	"github.com/comigor/escal8-go/internal/store"
)

const (
	DefaultChannel = "web"

	anonymousName = "Anonymous User"
)

// Started is the result of Start.
type Started struct {
	ConversationID string `json:"conversation_id"`
	AgentName      string `json:"agent_name"`
}

// Exchange is the pair of rows written by SendMessage.
type Exchange struct {
	UserMessage      *store.Message `json:"user_message"`
	AssistantMessage *store.Message `json:"assistant_message"`
}

// Service implements the conversation operations on top of a Store.
type Service struct {
	store     store.Store
	responder responder.Responder
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(st store.Store, r responder.Responder) *Service {
	return &Service{
		store:     st,
		responder: r,
		logger:    logger.For("conversation"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a conversation with the locally recorded agent providerAgentID.
// A nil userID creates an anonymous profile first.
func (s *Service) Start(ctx context.Context, providerAgentID string, userID *string, channel string) (*Started, error) {
	if channel == "" {
		channel = DefaultChannel
	}

	uid := ""
	if userID != nil {
		uid = *userID
	}
	if uid == "" {
		profile := &store.UserProfile{
			DisplayName: anonymousName,
			Metadata:    map[string]any{"type": "anonymous"},
		}
		if err := s.store.CreateUserProfile(ctx, profile); err != nil {
			return nil, apperr.Upstream("store", err)
		}
		uid = profile.ID
	}

	agent, err := s.store.GetAgentByProviderID(ctx, providerAgentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Agent not found")
	}
	if err != nil {
		return nil, apperr.Upstream("store", err)
	}

	conv := &store.Conversation{
		UserID:          uid,
		AgentID:         agent.ID,
		ProviderAgentID: providerAgentID,
		Channel:         channel,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, apperr.Upstream("store", err)
	}
	s.logger.Info("conversation started", "conversation_id", conv.ID, "agent_id", providerAgentID, "channel", channel)

	return &Started{ConversationID: conv.ID, AgentName: agent.Name}, nil
}

func (s *Service) conversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Conversation not found")
	}
	if err != nil {
		return nil, apperr.Upstream("store", err)
	}
	return conv, nil
}

// SendMessage records text from the user, generates the agent's reply from
// the prior history and records it too.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (*Exchange, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	lc := s.newLifecycle(conv)

	userMsg := &store.Message{ConversationID: conv.ID, Role: store.RoleUser, ContentText: text}
	if err := lc.FireCtx(ctx, TriggerMessage, userMsg); err != nil {
		return nil, apperr.Upstream("store", fmt.Errorf("append user message: %w", err))
	}

	agent, err := s.store.GetAgentByProviderID(ctx, conv.ProviderAgentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		agent = nil
	case err != nil:
		return nil, apperr.Upstream("store", err)
	}

	rows, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, apperr.Upstream("store", err)
	}

	reply := s.responder.Respond(ctx, responder.Request{
		Agent:   agent,
		History: history(rows, userMsg.ID),
		Text:    text,
	})

	assistantMsg := &store.Message{ConversationID: conv.ID, Role: store.RoleAssistant, ContentText: reply}
	if err := lc.FireCtx(ctx, TriggerMessage, assistantMsg); err != nil {
		return nil, apperr.Upstream("store", fmt.Errorf("append assistant message: %w", err))
	}

	return &Exchange{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// history converts stored rows to chat turns, leaving out the message that
// is being answered.
func history(rows []*store.Message, currentID string) []llm.Message {
	out := make([]llm.Message, 0, len(rows))
	for _, m := range rows {
		if m.ID == currentID {
			continue
		}
		out = append(out, llm.Message{Role: replayRole(m.Role), Content: m.ContentText})
	}
	return out
}

// replayRole maps a stored role to a chat role. System rows are replayed as
// assistant turns so the only system turn is the agent prompt.
func replayRole(r store.Role) string {
	switch r {
	case store.RoleUser:
		return llm.RoleUser
	default:
		return llm.RoleAssistant
	}
}

// Messages returns the conversation's messages oldest first. An unknown id
// yields an empty list.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Upstream("store", err)
	}
	return msgs, nil
}

// End stamps ended_at. Ending twice moves the timestamp forward.
func (s *Service) End(ctx context.Context, conversationID string) error {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.newLifecycle(conv).FireCtx(ctx, TriggerEnd); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("Conversation not found")
		}
		return apperr.Upstream("store", err)
	}
	return nil
}
