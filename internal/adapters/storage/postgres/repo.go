// Package postgres provides the pgx-backed repository for multi-instance deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultOpTimeout bounds every repository call that arrives without its own deadline.
const DefaultOpTimeout = 5 * time.Second

// Repository implements app.Repository over one pgx pool.
type Repository struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

// Options tunes the pool.
type Options struct {
	MaxConns  int32
	OpTimeout time.Duration
}

// Open connects, pings, and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Repository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	repo := &Repository{pool: pool, opTimeout: opts.OpTimeout}
	if err := repo.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases every pooled connection.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

// withTimeout applies the default deadline unless ctx already has one.
func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

// migrate creates tables and indexes idempotently.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cells (
			team TEXT NOT NULL,
			day TEXT NOT NULL,
			employee TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			updated_by TEXT NOT NULL,
			PRIMARY KEY (team, day, employee)
		)`,
		`CREATE TABLE IF NOT EXISTS cell_ops (
			team TEXT NOT NULL,
			seq BIGINT NOT NULL,
			day TEXT NOT NULL,
			employee TEXT NOT NULL,
			from_value TEXT NOT NULL DEFAULT '',
			to_value TEXT NOT NULL DEFAULT '',
			base_version BIGINT NOT NULL,
			resulting_version BIGINT NOT NULL,
			conflict BOOLEAN NOT NULL DEFAULT FALSE,
			actor TEXT NOT NULL,
			client_id TEXT NOT NULL,
			client_seq BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (team, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS live_versions (
			team TEXT PRIMARY KEY,
			version BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS soft_locks (
			team TEXT NOT NULL,
			day TEXT NOT NULL,
			employee TEXT NOT NULL,
			locked_by TEXT NOT NULL,
			lock_until_ms BIGINT NOT NULL,
			PRIMARY KEY (team, day, employee)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			day TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			cells JSONB NOT NULL DEFAULT '[]'::jsonb
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cell_ops_client_key ON cell_ops(team, client_id, client_seq)`,
		`CREATE INDEX IF NOT EXISTS idx_cell_ops_team_day_seq ON cell_ops(team, day, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_soft_locks_team_day ON soft_locks(team, day, lock_until_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_team_day_created_at ON snapshots(team, day, created_at DESC)`,
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// querier is the query surface shared by the pool and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// translateNoRows maps pgx.ErrNoRows onto app.ErrNotFound.
func translateNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return app.ErrNotFound
	}
	return err
}

// inTx runs fn in one transaction and commits when it succeeds.
func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
