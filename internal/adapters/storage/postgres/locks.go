package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
	"github.com/jackc/pgx/v5"
)

// GetLock returns the stored lock row, expired or not.
func (r *Repository) GetLock(ctx context.Context, key domain.CellKey) (domain.SoftLock, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return getLock(ctx, r.pool, key)
}

// SwapLock upserts lock and returns the row it replaced.
// A transaction-scoped advisory lock on the cell keeps read-then-upsert atomic when no row exists yet.
func (r *Repository) SwapLock(ctx context.Context, lock domain.SoftLock) (previous domain.SoftLock, hadPrevious bool, err error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	err = r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey(lock.Key)); err != nil {
			return fmt.Errorf("acquire cell advisory lock: %w", err)
		}
		prev, getErr := getLock(ctx, tx, lock.Key)
		switch {
		case getErr == nil:
			previous, hadPrevious = prev, true
		case errors.Is(getErr, app.ErrNotFound):
		default:
			return getErr
		}
		_, execErr := tx.Exec(ctx, `
			INSERT INTO soft_locks(team, day, employee, locked_by, lock_until_ms)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (team, day, employee) DO UPDATE SET
				locked_by = EXCLUDED.locked_by,
				lock_until_ms = EXCLUDED.lock_until_ms
		`, lock.Key.Team, lock.Key.Day, lock.Key.Employee, lock.LockedBy, lock.LockUntil.UTC().UnixMilli())
		if execErr != nil {
			return fmt.Errorf("upsert lock: %w", execErr)
		}
		return nil
	})
	if err != nil {
		return domain.SoftLock{}, false, err
	}
	return previous, hadPrevious, nil
}

// RenewLock extends the lock only while who holds it unexpired.
func (r *Repository) RenewLock(ctx context.Context, key domain.CellKey, who string, now, until time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		UPDATE soft_locks
		SET lock_until_ms = $1
		WHERE team = $2 AND day = $3 AND employee = $4 AND locked_by = $5 AND lock_until_ms > $6
	`, until.UTC().UnixMilli(), key.Team, key.Day, key.Employee, who, now.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock deletes the lock when held by who or already expired.
func (r *Repository) ReleaseLock(ctx context.Context, key domain.CellKey, who string, now time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM soft_locks
		WHERE team = $1 AND day = $2 AND employee = $3 AND (locked_by = $4 OR lock_until_ms <= $5)
	`, key.Team, key.Day, key.Employee, who, now.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveLocks lists unexpired locks of one team/day ordered by employee.
func (r *Repository) ListActiveLocks(ctx context.Context, team, day string, now time.Time) ([]domain.SoftLock, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		SELECT team, day, employee, locked_by, lock_until_ms
		FROM soft_locks
		WHERE team = $1 AND day = $2 AND lock_until_ms > $3
		ORDER BY employee ASC
	`, team, day, now.UTC().UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.SoftLock, 0)
	for rows.Next() {
		lock, scanErr := scanLock(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}

// lockKey names one cell for advisory locking.
func lockKey(key domain.CellKey) string {
	return key.Team + "\x00" + key.Day + "\x00" + key.Employee
}

// getLock reads one lock row through the pool or a transaction.
func getLock(ctx context.Context, q querier, key domain.CellKey) (domain.SoftLock, error) {
	row := q.QueryRow(ctx, `
		SELECT team, day, employee, locked_by, lock_until_ms
		FROM soft_locks
		WHERE team = $1 AND day = $2 AND employee = $3
	`, key.Team, key.Day, key.Employee)
	lock, err := scanLock(row)
	if err != nil {
		return domain.SoftLock{}, translateNoRows(err)
	}
	return lock, nil
}

// scanLock decodes one soft_locks row.
func scanLock(row pgx.Row) (domain.SoftLock, error) {
	var (
		lock    domain.SoftLock
		untilMS int64
	)
	if err := row.Scan(&lock.Key.Team, &lock.Key.Day, &lock.Key.Employee, &lock.LockedBy, &untilMS); err != nil {
		return domain.SoftLock{}, err
	}
	lock.LockUntil = time.UnixMilli(untilMS).UTC()
	return lock, nil
}

var _ app.Repository = (*Repository)(nil)
