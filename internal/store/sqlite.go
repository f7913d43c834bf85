package store

// SQLite-backed Store for local development and tests. The database is
// created and migrated on open.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/comigor/escal8-go/internal/logger"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// one writer; keeps created_at ordering and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger.For("store").With("driver", "sqlite"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := migrate(ctx, db, goose.DialectSQLite3, "sqlite", s.logger); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	agent.ID = uuid.NewString()
	agent.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO agents
		(id, elevenlabs_agent_id, base_agent_id, name, extra_prompts, voice_id, created_by_user_id, created_at)
		VALUES (?,?,?,?,?,?,?,?);`,
		agent.ID, agent.ProviderAgentID, agent.BaseAgentID, agent.Name, agent.ExtraPrompts, agent.VoiceID, agent.CreatedByUserID, agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var baseID, voiceID, createdBy sql.NullString
	if err := row.Scan(&a.ID, &a.ProviderAgentID, &baseID, &a.Name, &a.ExtraPrompts, &voiceID, &createdBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.BaseAgentID = nullable(baseID)
	a.VoiceID = nullable(voiceID)
	a.CreatedByUserID = nullable(createdBy)
	return &a, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (s *SQLiteStore) GetAgentByProviderID(ctx context.Context, providerAgentID string) (*Agent, error) {
	a, err := scanSQLiteAgent(s.db.QueryRowContext(ctx, `SELECT id, elevenlabs_agent_id, base_agent_id, name, extra_prompts, voice_id, created_by_user_id, created_at
		FROM agents WHERE elevenlabs_agent_id = ? ORDER BY created_at LIMIT 1;`, providerAgentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select agent: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, elevenlabs_agent_id, base_agent_id, name, extra_prompts, voice_id, created_by_user_id, created_at
		FROM agents ORDER BY created_at;`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*Agent, 0)
	for rows.Next() {
		a, err := scanSQLiteAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) CreateUserProfile(ctx context.Context, profile *UserProfile) error {
	if profile.Metadata == nil {
		profile.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(profile.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	profile.ID = uuid.NewString()
	profile.CreatedAt = s.now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO user_profiles (id, display_name, metadata, created_at) VALUES (?,?,?,?);`,
		profile.ID, profile.DisplayName, string(meta), profile.CreatedAt); err != nil {
		return fmt.Errorf("insert user profile: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	conv.ID = uuid.NewString()
	conv.CreatedAt = s.now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO conversations (id, user_id, agent_id, elevenlabs_agent_id, channel, created_at) VALUES (?,?,?,?,?,?);`,
		conv.ID, conv.UserID, conv.AgentID, conv.ProviderAgentID, conv.Channel, conv.CreatedAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, agent_id, elevenlabs_agent_id, channel, created_at, ended_at
		FROM conversations WHERE id = ?;`, id).
		Scan(&c.ID, &c.UserID, &c.AgentID, &c.ProviderAgentID, &c.Channel, &c.CreatedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) EndConversation(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET ended_at = ? WHERE id = ?;`, endedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, role, content_text, created_at) VALUES (?,?,?,?,?);`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.ContentText, msg.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages orders by created_at, falling back to insertion order for
// messages written within the same clock tick.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, role, content_text, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC;`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]*Message, 0)
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.ContentText, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}
