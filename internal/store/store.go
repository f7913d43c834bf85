package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Agent is a locally recorded clone of the voice provider's base agent.
type Agent struct {
	ID              string    `json:"id"`
	ProviderAgentID string    `json:"elevenlabs_agent_id"`
	BaseAgentID     *string   `json:"base_agent_id"`
	Name            string    `json:"name"`
	ExtraPrompts    string    `json:"extra_prompts"`
	VoiceID         *string   `json:"voice_id"`
	CreatedByUserID *string   `json:"created_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserProfile identifies the person on the other side of a conversation.
type UserProfile struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Conversation links a user to an agent on a channel. EndedAt is nil while open.
type Conversation struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	AgentID         string     `json:"agent_id"`
	ProviderAgentID string     `json:"elevenlabs_agent_id"`
	Channel         string     `json:"channel"`
	CreatedAt       time.Time  `json:"created_at"`
	EndedAt         *time.Time `json:"ended_at"`
}

// Message is an append-only entry of a conversation, ordered by CreatedAt.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	ContentText    string    `json:"content_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists agents, user profiles, conversations and messages. Create and
// Append methods fill in ID and CreatedAt on the passed value.
type Store interface {
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgentByProviderID(ctx context.Context, providerAgentID string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	CreateUserProfile(ctx context.Context, profile *UserProfile) error

	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// EndConversation sets ended_at; ErrNotFound when no row matched.
	EndConversation(ctx context.Context, id string, endedAt time.Time) error

	AppendMessage(ctx context.Context, msg *Message) error
	// ListMessages returns the conversation's messages oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	Close() error
}
