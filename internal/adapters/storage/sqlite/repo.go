package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/shiftsync/internal/app"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository represents repository data used by this package.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return openWith(db, true)
}

// OpenInMemory opens one private in-memory database.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, fmt.Sprintf("file:shiftsync-%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return openWith(db, false)
}

// openWith pins the pool to one connection so write units serialize, then migrates.
func openWith(db *sql.DB, durable bool) (*Repository, error) {
	db.SetMaxOpenConns(1)
	repo := newRepository(db)
	if err := repo.configure(context.Background(), durable); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// newRepository wraps an already configured database handle.
func newRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database answers.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// configure applies connection pragmas.
func (r *Repository) configure(ctx context.Context, durable bool) error {
	pragmas := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 5000;`,
	}
	if durable {
		pragmas = append(pragmas,
			`PRAGMA journal_mode = WAL;`,
			`PRAGMA synchronous = NORMAL;`,
		)
	}
	for _, stmt := range pragmas {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure sqlite: %w", err)
		}
	}
	return nil
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cells (
			team TEXT NOT NULL,
			day TEXT NOT NULL,
			employee TEXT NOT NULL,
			value TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			updated_by TEXT NOT NULL,
			PRIMARY KEY (team, day, employee)
		);`,
		`CREATE TABLE IF NOT EXISTS cell_ops (
			team TEXT NOT NULL,
			seq INTEGER NOT NULL,
			day TEXT NOT NULL,
			employee TEXT NOT NULL,
			from_value TEXT NOT NULL DEFAULT '',
			to_value TEXT NOT NULL DEFAULT '',
			base_version INTEGER NOT NULL,
			resulting_version INTEGER NOT NULL,
			conflict INTEGER NOT NULL DEFAULT 0,
			actor TEXT NOT NULL,
			client_id TEXT NOT NULL,
			client_seq INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (team, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS live_versions (
			team TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		);`,
		// lock_until_ms is integer epoch millis so expiry compares numerically.
		`CREATE TABLE IF NOT EXISTS soft_locks (
			team TEXT NOT NULL,
			day TEXT NOT NULL,
			employee TEXT NOT NULL,
			locked_by TEXT NOT NULL,
			lock_until_ms INTEGER NOT NULL,
			PRIMARY KEY (team, day, employee)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			day TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			cells_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cell_ops_client_key ON cell_ops(team, client_id, client_seq);`,
		`CREATE INDEX IF NOT EXISTS idx_cell_ops_team_day_seq ON cell_ops(team, day, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_soft_locks_team_day ON soft_locks(team, day, lock_until_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_team_day_created_at ON snapshots(team, day, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// queryRower represents a query-only DB contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// translateNoRows maps sql.ErrNoRows onto app.ErrNotFound.
func translateNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return app.ErrNotFound
	}
	return err
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// unixMillis converts one instant to integer epoch millis.
func unixMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromUnixMillis converts integer epoch millis back to UTC time.
func fromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
