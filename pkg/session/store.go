// Package session implements append-only conversational history keyed by
// session key, plus an upsert/touch/get metadata index. Two interchangeable
// implementations are provided, SQLiteStore and PostgresStore, against the
// same relational layout.
package session

import (
	"context"
	"time"

	"github.com/loomgate/loomgate/pkg/providers"
)

// Store is the conversational-history contract: append(session_key,
// message), read(session_key) -> [message], count(session_key) -> n.
type Store interface {
	Append(ctx context.Context, sessionKey string, msg providers.Message) error
	Read(ctx context.Context, sessionKey string) ([]providers.Message, error)
	Count(ctx context.Context, sessionKey string) (int, error)
	Close() error
}

// Meta is the session-metadata contract: upsert(key, label?), touch(key,
// message_count), get(key) -> entry?.
type Meta interface {
	Upsert(ctx context.Context, key string, label *string) error
	Touch(ctx context.Context, key string, messageCount int) error
	Get(ctx context.Context, key string) (*Entry, error)
	Close() error
}

// Entry is a row of the session metadata table.
type Entry struct {
	Key             string
	ID              string
	Label           string
	Model           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	MessageCount    int
	ProjectID       string
	Archived        bool
	WorktreeBranch  string
	SandboxEnabled  bool
}
