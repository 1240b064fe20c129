package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/migrations"
)

const (
	retryAttempts = 3
	retryBase     = 20 * time.Millisecond
)

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects, pings and applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: parse pool DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping pool: %w", err)
	}

	p := &Postgres{pool: pool, logger: logger}
	if err := p.RunMigrations(ctx, migrations.FS); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// RunMigrations executes unapplied SQL files from migrationsFS in name order,
// tracking them in schema_migrations so each runs at most once.
func (p *Postgres) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("ledger: create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := p.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("ledger: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("ledger: load applied migrations: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("ledger: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("ledger: read migration %s: %w", name, err)
		}
		p.logger.Info("ledger: running migration", "file", name)
		if _, err := p.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("ledger: execute migration %s: %w", name, err)
		}
		if _, err := p.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("ledger: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	err := withRetry(ctx, retryAttempts, retryBase, func() error {
		_, err := p.pool.Exec(ctx, `
			INSERT INTO run_ledger (run_id, invocation_id, action_id, conversation_id, idempotency_key, state)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (run_id) DO UPDATE
			SET invocation_id = EXCLUDED.invocation_id,
			    action_id = EXCLUDED.action_id,
			    conversation_id = EXCLUDED.conversation_id,
			    idempotency_key = EXCLUDED.idempotency_key,
			    state = EXCLUDED.state,
			    updated_at = now()
			WHERE NOT run_ledger.settled`,
			e.RunID, e.InvocationID, e.ActionID, e.ConversationID, e.IdempotencyKey, string(e.State))
		return err
	})
	if err != nil {
		return fmt.Errorf("ledger: record run %d: %w", e.RunID, err)
	}
	return nil
}

func (p *Postgres) Settle(ctx context.Context, runID int64, state model.RunState, outcome, summary string) error {
	var affected int64
	err := withRetry(ctx, retryAttempts, retryBase, func() error {
		tag, err := p.pool.Exec(ctx, `
			UPDATE run_ledger
			SET state = $2, settled = TRUE, outcome = $3, summary = $4, updated_at = now()
			WHERE run_id = $1`,
			runID, string(state), outcome, summary)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("ledger: settle run %d: %w", runID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const selectEntry = `
	SELECT run_id, invocation_id, action_id, conversation_id, idempotency_key,
	       state, settled, outcome, summary, started_at, updated_at
	FROM run_ledger`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var state string
	err := row.Scan(&e.RunID, &e.InvocationID, &e.ActionID, &e.ConversationID, &e.IdempotencyKey,
		&state, &e.Settled, &e.Outcome, &e.Summary, &e.StartedAt, &e.UpdatedAt)
	e.State = model.RunState(state)
	return e, err
}

func (p *Postgres) Get(ctx context.Context, runID int64) (Entry, error) {
	e, err := scanEntry(p.pool.QueryRow(ctx, selectEntry+` WHERE run_id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: get run %d: %w", runID, err)
	}
	return e, nil
}

func (p *Postgres) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, selectEntry+` WHERE NOT settled ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("ledger: pending: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: pending: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
