// Package ledger records background runs so they can be re-attached after the
// process that started them has gone away.
//
// The ledger is a client-side bookmark, not a copy of backend state: an entry
// only says "this run was started here and had not settled when last seen".
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/workbench/internal/model"
)

// ErrNotFound is returned by Get for an unknown run.
var ErrNotFound = errors.New("ledger: run not found")

// Entry is one recorded run.
type Entry struct {
	RunID          int64
	InvocationID   string
	ActionID       string
	ConversationID string
	IdempotencyKey string
	State          model.RunState
	Settled        bool
	Outcome        string
	Summary        string
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// Handle returns the run handle the entry was recorded for.
func (e Entry) Handle() model.RunHandle {
	return model.RunHandle{InvocationID: e.InvocationID, RunID: e.RunID}
}

// Store persists entries. Implementations are safe for concurrent use.
type Store interface {
	// Record inserts or replaces the entry for e.RunID. A settled entry is
	// never reopened.
	Record(ctx context.Context, e Entry) error
	// Settle marks a run as finished with its outcome and summary.
	Settle(ctx context.Context, runID int64, state model.RunState, outcome, summary string) error
	Get(ctx context.Context, runID int64) (Entry, error)
	// Pending returns unsettled entries, oldest first.
	Pending(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open selects a store by URL: empty for in-memory, postgres:// or
// postgresql:// for Postgres, sqlite:// for a SQLite file.
func Open(ctx context.Context, url string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case url == "" || url == "memory://":
		return NewMemory(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return OpenPostgres(ctx, url, logger)
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(url, "sqlite://"), logger)
	default:
		return nil, fmt.Errorf("ledger: unsupported URL scheme in %q", redact(url))
	}
}

func redact(url string) string {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return "<invalid>"
	}
	return scheme + "://…"
}
