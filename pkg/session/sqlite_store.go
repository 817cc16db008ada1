package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loomgate/loomgate/pkg/providers"
)

// SQLiteStore is the default Store+Meta implementation, backed by
// modernc.org/sqlite (pure Go, no cgo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a session store at dsn, e.g. a path
// to a .db file or "file::memory:?cache=shared" for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS messages (
	session_key TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
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
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	message_count INTEGER,
	project_id TEXT,
	archived INTEGER,
	worktree_branch TEXT,
	sandbox_enabled INTEGER
);
`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, sessionKey string, msg providers.Message) error {
	var toolCallsJSON []byte
	if len(msg.ToolCalls) > 0 {
		var err error
		toolCallsJSON, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("session: marshal tool calls: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (session_key, seq, role, content, tool_calls, tool_call_id, model, provider, input_tokens, output_tokens)
VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE session_key = ?), ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionKey, sessionKey, msg.Role, msg.Content, nullableBytes(toolCallsJSON), msg.ToolCallID,
		msg.Model, msg.Provider, msg.InputTokens, msg.OutputTokens,
	)
	if err != nil {
		return fmt.Errorf("session: append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, sessionKey string) ([]providers.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT role, content, tool_calls, tool_call_id, model, provider, input_tokens, output_tokens
FROM messages WHERE session_key = ? ORDER BY seq ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	defer rows.Close()

	var out []providers.Message
	for rows.Next() {
		var m providers.Message
		var toolCallsJSON sql.NullString
		var toolCallID, model, provider sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &toolCallsJSON, &toolCallID, &model, &provider, &m.InputTokens, &m.OutputTokens); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		m.ToolCallID = toolCallID.String
		m.Model = model.String
		m.Provider = provider.String
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("session: unmarshal tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context, sessionKey string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_key = ?`, sessionKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("session: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, key string, label *string) error {
	now := time.Now()
	var labelVal any
	if label != nil {
		labelVal = *label
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (key, id, label, created_at, updated_at, message_count, archived, sandbox_enabled)
VALUES (?, ?, ?, ?, ?, 0, 0, 0)
ON CONFLICT(key) DO UPDATE SET label = COALESCE(excluded.label, sessions.label), updated_at = excluded.updated_at`,
		key, uuid.NewString(), labelVal, now, now)
	if err != nil {
		return fmt.Errorf("session: upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, key string, messageCount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET message_count = ?, updated_at = ? WHERE key = ?`,
		messageCount, time.Now(), key)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	var archived, sandboxEnabled int
	var label, model, projectID, worktreeBranch sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT key, id, label, model, created_at, updated_at, message_count, project_id, archived, worktree_branch, sandbox_enabled
FROM sessions WHERE key = ?`, key).Scan(
		&e.Key, &e.ID, &label, &model, &e.CreatedAt, &e.UpdatedAt, &e.MessageCount,
		&projectID, &archived, &worktreeBranch, &sandboxEnabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	e.Label, e.Model, e.ProjectID, e.WorktreeBranch = label.String, model.String, projectID.String, worktreeBranch.String
	e.Archived = archived != 0
	e.SandboxEnabled = sandboxEnabled != 0
	return &e, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullableBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
