package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/migrations"
)

// SQLite is a Store in a local SQLite file, for single-user CLI installs.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded SQLite migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("ledger: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: ping sqlite: %w", err)
	}

	s := &SQLite{db: db, logger: logger}
	if err := s.runMigrations(ctx, migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) runMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("ledger: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("ledger: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, name).Scan(&n); err != nil {
			return fmt.Errorf("ledger: check migration %s: %w", name, err)
		}
		if n > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("ledger: read migration %s: %w", name, err)
		}
		s.logger.Info("ledger: running migration", "file", name)
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("ledger: execute migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			name, formatTime(time.Now())); err != nil {
			return fmt.Errorf("ledger: record migration %s: %w", name, err)
		}
	}
	return nil
}

// timeLayout is fixed-width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func (s *SQLite) Record(ctx context.Context, e Entry) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_ledger (run_id, invocation_id, action_id, conversation_id, idempotency_key, state, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE
		SET invocation_id = excluded.invocation_id,
		    action_id = excluded.action_id,
		    conversation_id = excluded.conversation_id,
		    idempotency_key = excluded.idempotency_key,
		    state = excluded.state,
		    updated_at = excluded.updated_at
		WHERE run_ledger.settled = 0`,
		e.RunID, e.InvocationID, e.ActionID, e.ConversationID, e.IdempotencyKey, string(e.State), now, now)
	if err != nil {
		return fmt.Errorf("ledger: record run %d: %w", e.RunID, err)
	}
	return nil
}

func (s *SQLite) Settle(ctx context.Context, runID int64, state model.RunState, outcome, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_ledger
		SET state = ?, settled = 1, outcome = ?, summary = ?, updated_at = ?
		WHERE run_id = ?`,
		string(state), outcome, summary, formatTime(time.Now()), runID)
	if err != nil {
		return fmt.Errorf("ledger: settle run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectEntrySQLite = `
	SELECT run_id, invocation_id, action_id, conversation_id, idempotency_key,
	       state, settled, outcome, summary, started_at, updated_at
	FROM run_ledger`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (Entry, error) {
	var e Entry
	var state, started, updated string
	var settled int
	if err := row.Scan(&e.RunID, &e.InvocationID, &e.ActionID, &e.ConversationID, &e.IdempotencyKey,
		&state, &settled, &e.Outcome, &e.Summary, &started, &updated); err != nil {
		return Entry{}, err
	}
	e.State = model.RunState(state)
	e.Settled = settled != 0
	var err error
	if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Entry{}, fmt.Errorf("parse started_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return Entry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return e, nil
}

func (s *SQLite) Get(ctx context.Context, runID int64) (Entry, error) {
	e, err := scanSQLite(s.db.QueryRowContext(ctx, selectEntrySQLite+` WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get run %d: %w", runID, err)
	}
	return e, nil
}

func (s *SQLite) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntrySQLite+` WHERE settled = 0 ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: pending: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
