package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomgate/loomgate/pkg/providers"
)

// PostgresStore is the alternate Store+Meta implementation against a
// relational table layout equivalent to SQLiteStore's, for deployments
// that already run Postgres for everything else.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS messages (
	session_key TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls JSONB,
	tool_call_id TEXT,
	model TEXT,
	provider TEXT,
	input_tokens INTEGER,
	output_tokens INTEGER,
	PRIMARY KEY (session_key, seq)
);
CREATE TABLE IF NOT EXISTS sessions (
	key TEXT PRIMARY KEY,
	id TEXT,
	label TEXT,
	model TEXT,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ,
	message_count INTEGER,
	project_id TEXT,
	archived BOOLEAN,
	worktree_branch TEXT,
	sandbox_enabled BOOLEAN
);
`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, sessionKey string, msg providers.Message) error {
	var toolCallsJSON []byte
	if len(msg.ToolCalls) > 0 {
		var err error
		toolCallsJSON, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("session: marshal tool calls: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO messages (session_key, seq, role, content, tool_calls, tool_call_id, model, provider, input_tokens, output_tokens)
VALUES ($1, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_key = $1), $2, $3, $4, $5, $6, $7, $8, $9)`,
		sessionKey, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, msg.Model, msg.Provider, msg.InputTokens, msg.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("session: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, sessionKey string) ([]providers.Message, error) {
	rows, err := s.pool.Query(ctx, `
SELECT role, content, tool_calls, tool_call_id, model, provider, input_tokens, output_tokens
FROM messages WHERE session_key = $1 ORDER BY seq ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	defer rows.Close()

	var out []providers.Message
	for rows.Next() {
		var m providers.Message
		var toolCallsJSON []byte
		var toolCallID, model, provider *string
		if err := rows.Scan(&m.Role, &m.Content, &toolCallsJSON, &toolCallID, &model, &provider, &m.InputTokens, &m.OutputTokens); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		if toolCallID != nil {
			m.ToolCallID = *toolCallID
		}
		if model != nil {
			m.Model = *model
		}
		if provider != nil {
			m.Provider = *provider
		}
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("session: unmarshal tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE session_key = $1`, sessionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, key string, label *string) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO sessions (key, id, label, created_at, updated_at, message_count, archived, sandbox_enabled)
VALUES ($1, $2, $3, $4, $4, 0, false, false)
ON CONFLICT (key) DO UPDATE SET label = COALESCE(EXCLUDED.label, sessions.label), updated_at = EXCLUDED.updated_at`,
		key, uuid.NewString(), label, now)
	if err != nil {
		return fmt.Errorf("session: upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, key string, messageCount int) error {
	_, err := s.pool.Exec(ctx, `UPDATE sessions SET message_count = $1, updated_at = $2 WHERE key = $3`,
		messageCount, time.Now(), key)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	var label, model, projectID, worktreeBranch *string
	err := s.pool.QueryRow(ctx, `
SELECT key, id, label, model, created_at, updated_at, message_count, project_id, archived, worktree_branch, sandbox_enabled
FROM sessions WHERE key = $1`, key).Scan(
		&e.Key, &e.ID, &label, &model, &e.CreatedAt, &e.UpdatedAt, &e.MessageCount,
		&projectID, &e.Archived, &worktreeBranch, &e.SandboxEnabled,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if label != nil {
		e.Label = *label
	}
	if model != nil {
		e.Model = *model
	}
	if projectID != nil {
		e.ProjectID = *projectID
	}
	if worktreeBranch != nil {
		e.WorktreeBranch = *worktreeBranch
	}
	return &e, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
