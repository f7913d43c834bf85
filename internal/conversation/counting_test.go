package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/escal8-go/internal/config"
	"github.com/comigor/escal8-go/internal/llm"
	"github.com/comigor/escal8-go/internal/responder"
	"github.com/comigor/escal8-go/internal/store"
)

// countingStore counts the rows written through it.
type countingStore struct {
	store.Store
	profiles      atomic.Int32
	conversations atomic.Int32
	messages      atomic.Int32
}

func (c *countingStore) CreateUserProfile(ctx context.Context, p *store.UserProfile) error {
	c.profiles.Add(1)
	return c.Store.CreateUserProfile(ctx, p)
}

func (c *countingStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	c.conversations.Add(1)
	return c.Store.CreateConversation(ctx, conv)
}

func (c *countingStore) AppendMessage(ctx context.Context, m *store.Message) error {
	c.messages.Add(1)
	return c.Store.AppendMessage(ctx, m)
}

type mockCompleter struct {
	out string
	err error
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	return m.out, m.err
}

func TestStart_WritesOneProfileAndOneConversation(t *testing.T) {
	f := newFixture(t)
	cs := &countingStore{Store: f.store}
	svc := NewService(cs, f.resp)
	ctx := context.Background()

	_, err := svc.Start(ctx, "agent_el_1", nil, "web")
	require.NoError(t, err)
	require.EqualValues(t, 1, cs.profiles.Load())
	require.EqualValues(t, 1, cs.conversations.Load())

	profile := &store.UserProfile{DisplayName: "Ada"}
	require.NoError(t, f.store.CreateUserProfile(ctx, profile))
	_, err = svc.Start(ctx, "agent_el_1", &profile.ID, "web")
	require.NoError(t, err)
	require.EqualValues(t, 1, cs.profiles.Load(), "a known user gets no new profile")
	require.EqualValues(t, 2, cs.conversations.Load())
}

func TestSendMessage_AppendsTwoRowsPerReplyPath(t *testing.T) {
	cfg := config.LLMConfig{MaxTokens: 500, Temperature: 0.8}
	cases := []struct {
		name      string
		completer responder.Completer
		want      string
	}{
		{"llm reply", &mockCompleter{out: "Happy to help."}, "Happy to help."},
		{"llm failure", &mockCompleter{err: errors.New("upstream timeout")}, "Full conversational AI features work best with voice"},
		{"llm empty", &mockCompleter{err: llm.ErrEmptyCompletion}, "Full conversational AI features work best with voice"},
		{"no llm", nil, "try using the voice interface"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cs := &countingStore{Store: f.store}
			svc := NewService(cs, responder.New(tc.completer, cfg))
			ctx := context.Background()

			started, err := svc.Start(ctx, "agent_el_1", nil, "web")
			require.NoError(t, err)

			ex, err := svc.SendMessage(ctx, started.ConversationID, "hello")
			require.NoError(t, err)
			require.EqualValues(t, 2, cs.messages.Load())
			require.Contains(t, ex.AssistantMessage.ContentText, tc.want)

			msgs, err := svc.Messages(ctx, started.ConversationID)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			require.Equal(t, store.RoleUser, msgs[0].Role)
			require.Equal(t, "hello", msgs[0].ContentText)
			require.Equal(t, store.RoleAssistant, msgs[1].Role)
			require.NotEmpty(t, msgs[1].ContentText)
		})
	}
}
