package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
)

// GetLock returns the stored lock row, expired or not.
func (r *Repository) GetLock(ctx context.Context, key domain.CellKey) (domain.SoftLock, error) {
	return getLock(ctx, r.db, key)
}

// SwapLock upserts lock and returns the row it replaced.
func (r *Repository) SwapLock(ctx context.Context, lock domain.SoftLock) (previous domain.SoftLock, hadPrevious bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SoftLock{}, false, fmt.Errorf("begin lock tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	previous, err = getLock(ctx, tx, lock.Key)
	switch {
	case err == nil:
		hadPrevious = true
	case errors.Is(err, app.ErrNotFound):
		err = nil
	default:
		return domain.SoftLock{}, false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO soft_locks(team, day, employee, locked_by, lock_until_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(team, day, employee) DO UPDATE SET
			locked_by = excluded.locked_by,
			lock_until_ms = excluded.lock_until_ms
	`, lock.Key.Team, lock.Key.Day, lock.Key.Employee, lock.LockedBy, unixMillis(lock.LockUntil))
	if err != nil {
		return domain.SoftLock{}, false, fmt.Errorf("upsert lock: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return domain.SoftLock{}, false, fmt.Errorf("commit lock tx: %w", err)
	}
	return previous, hadPrevious, nil
}

// RenewLock extends the lock only while who holds it unexpired.
func (r *Repository) RenewLock(ctx context.Context, key domain.CellKey, who string, now, until time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE soft_locks
		SET lock_until_ms = ?
		WHERE team = ? AND day = ? AND employee = ? AND locked_by = ? AND lock_until_ms > ?
	`, unixMillis(until), key.Team, key.Day, key.Employee, who, unixMillis(now))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseLock deletes the lock when held by who or already expired.
func (r *Repository) ReleaseLock(ctx context.Context, key domain.CellKey, who string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM soft_locks
		WHERE team = ? AND day = ? AND employee = ? AND (locked_by = ? OR lock_until_ms <= ?)
	`, key.Team, key.Day, key.Employee, who, unixMillis(now))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ListActiveLocks lists unexpired locks of one team/day ordered by employee.
func (r *Repository) ListActiveLocks(ctx context.Context, team, day string, now time.Time) ([]domain.SoftLock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT team, day, employee, locked_by, lock_until_ms
		FROM soft_locks
		WHERE team = ? AND day = ? AND lock_until_ms > ?
		ORDER BY employee ASC
	`, team, day, unixMillis(now))
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

// getLock reads one lock row through a DB or Tx.
func getLock(ctx context.Context, q queryRower, key domain.CellKey) (domain.SoftLock, error) {
	row := q.QueryRowContext(ctx, `
		SELECT team, day, employee, locked_by, lock_until_ms
		FROM soft_locks
		WHERE team = ? AND day = ? AND employee = ?
	`, key.Team, key.Day, key.Employee)
	lock, err := scanLock(row)
	if err != nil {
		return domain.SoftLock{}, translateNoRows(err)
	}
	return lock, nil
}

// scanLock decodes one soft_locks row.
func scanLock(s scanner) (domain.SoftLock, error) {
	var (
		lock    domain.SoftLock
		untilMS int64
	)
	if err := s.Scan(&lock.Key.Team, &lock.Key.Day, &lock.Key.Employee, &lock.LockedBy, &untilMS); err != nil {
		return domain.SoftLock{}, err
	}
	lock.LockUntil = fromUnixMillis(untilMS)
	return lock, nil
}
