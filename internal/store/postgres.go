package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/comigor/escal8-go/internal/logger"
)

// PostgresStore implements Store on a pgx connection pool. Every query runs
// under its own timeout.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger
}

// PostgresOptions tune the pool.
type PostgresOptions struct {
	// Password is applied when the DSN has none (e.g. a Supabase service key
	// kept out of the URL).
	Password string
	MaxConns int32
	Timeout  time.Duration
}

// NewPostgresStore connects, pings and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.ConnConfig.Password == "" && opts.Password != "" {
		cfg.ConnConfig.Password = opts.Password
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 60 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{
		pool:    pool,
		timeout: opts.Timeout,
		logger:  logger.For("store").With("driver", "postgres"),
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := migrate(ctx, db, goose.DialectPostgres, "postgres", s.logger); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info("postgres store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return s, nil
}

// normalizeDSN strips driver suffixes that other ecosystems put in URLs.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	s = strings.Replace(s, "postgresql+asyncpg://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+asyncpg://", "postgres://", 1)
	s = strings.Replace(s, "postgresql+pgx://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+pgx://", "postgres://", 1)
	return s
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const agentColumns = `id::text, elevenlabs_agent_id, base_agent_id, name, extra_prompts, voice_id, created_by_user_id, created_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	if err := row.Scan(&a.ID, &a.ProviderAgentID, &a.BaseAgentID, &a.Name, &a.ExtraPrompts, &a.VoiceID, &a.CreatedByUserID, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, agent *Agent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (elevenlabs_agent_id, base_agent_id, name, extra_prompts, voice_id, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id::text, created_at
	`, agent.ProviderAgentID, agent.BaseAgentID, agent.Name, agent.ExtraPrompts, agent.VoiceID, agent.CreatedByUserID).
		Scan(&agent.ID, &agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAgentByProviderID(ctx context.Context, providerAgentID string) (*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	a, err := scanAgent(s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE elevenlabs_agent_id = $1
		ORDER BY created_at
		LIMIT 1
	`, providerAgentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select agent: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

func (s *PostgresStore) CreateUserProfile(ctx context.Context, profile *UserProfile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	metadata := profile.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_profiles (display_name, metadata)
		VALUES ($1, $2)
		RETURNING id::text, created_at
	`, profile.DisplayName, metadata).Scan(&profile.ID, &profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user profile: %w", err)
	}
	profile.Metadata = metadata
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, agent_id, elevenlabs_agent_id, channel)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, created_at
	`, conv.UserID, conv.AgentID, conv.ProviderAgentID, conv.Channel).Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	// ids are uuids; anything else cannot match a row
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, agent_id::text, elevenlabs_agent_id, channel, created_at, ended_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.AgentID, &c.ProviderAgentID, &c.Channel, &c.CreatedAt, &c.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) EndConversation(ctx context.Context, id string, endedAt time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `UPDATE conversations SET ended_at = $2 WHERE id = $1`, id, endedAt)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content_text)
		VALUES ($1, $2, $3)
		RETURNING id::text, created_at
	`, msg.ConversationID, string(msg.Role), msg.ContentText).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	if _, err := uuid.Parse(conversationID); err != nil {
		return []*Message{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, conversation_id::text, role, content_text, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`, conversationID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}
