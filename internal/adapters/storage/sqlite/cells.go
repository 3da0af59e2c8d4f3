package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
)

// GetCell returns one committed cell or app.ErrNotFound.
func (r *Repository) GetCell(ctx context.Context, key domain.CellKey) (domain.Cell, error) {
	return getCell(ctx, r.db, key)
}

// ListCells lists written cells of one team/day ordered by employee.
func (r *Repository) ListCells(ctx context.Context, team, day string) ([]domain.Cell, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT team, day, employee, value, version, updated_at, updated_by
		FROM cells
		WHERE team = ? AND day = ?
		ORDER BY employee ASC
	`, team, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Cell, 0)
	for rows.Next() {
		cell, scanErr := scanCell(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, cell)
	}
	return out, rows.Err()
}

// WithinWriteTx runs fn inside one transaction; the single pooled connection serializes write units.
func (r *Repository) WithinWriteTx(ctx context.Context, _ string, fn func(app.WriteTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&writeTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit write tx: %w", err)
	}
	return nil
}

// writeTx implements app.WriteTx over one sql.Tx.
type writeTx struct {
	tx *sql.Tx
}

// FindOperation returns the logged operation for one idempotency key.
func (w *writeTx) FindOperation(ctx context.Context, key domain.IdempotencyKey) (domain.Operation, error) {
	row := w.tx.QueryRowContext(ctx, `
		SELECT `+operationColumns+`
		FROM cell_ops
		WHERE team = ? AND client_id = ? AND client_seq = ?
	`, key.Team, key.ClientID, key.ClientSeq)
	op, err := scanOperation(row)
	if err != nil {
		return domain.Operation{}, translateNoRows(err)
	}
	return op, nil
}

// GetCell reads one cell inside the write unit.
func (w *writeTx) GetCell(ctx context.Context, key domain.CellKey) (domain.Cell, error) {
	return getCell(ctx, w.tx, key)
}

// CompareAndSwapCell stores cell only when the stored version still equals expected.
func (w *writeTx) CompareAndSwapCell(ctx context.Context, cell domain.Cell, expected int64) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = w.tx.ExecContext(ctx, `
			INSERT INTO cells(team, day, employee, value, version, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(team, day, employee) DO NOTHING
		`, cell.Key.Team, cell.Key.Day, cell.Key.Employee, cell.Value, cell.Version, ts(cell.UpdatedAt), cell.UpdatedBy)
	} else {
		res, err = w.tx.ExecContext(ctx, `
			UPDATE cells
			SET value = ?, version = ?, updated_at = ?, updated_by = ?
			WHERE team = ? AND day = ? AND employee = ? AND version = ?
		`, cell.Value, cell.Version, ts(cell.UpdatedAt), cell.UpdatedBy, cell.Key.Team, cell.Key.Day, cell.Key.Employee, expected)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// AppendOperation advances the team's live version and logs op under it.
func (w *writeTx) AppendOperation(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	var seq int64
	err := w.tx.QueryRowContext(ctx, `
		INSERT INTO live_versions(team, version) VALUES (?, 1)
		ON CONFLICT(team) DO UPDATE SET version = live_versions.version + 1
		RETURNING version
	`, op.Key.Team).Scan(&seq)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("advance live version: %w", err)
	}
	op.Seq = seq
	if err := insertOperation(ctx, w.tx, op); err != nil {
		return domain.Operation{}, err
	}
	return op, nil
}

// getCell reads one cell through a DB or Tx.
func getCell(ctx context.Context, q queryRower, key domain.CellKey) (domain.Cell, error) {
	row := q.QueryRowContext(ctx, `
		SELECT team, day, employee, value, version, updated_at, updated_by
		FROM cells
		WHERE team = ? AND day = ? AND employee = ?
	`, key.Team, key.Day, key.Employee)
	cell, err := scanCell(row)
	if err != nil {
		return domain.Cell{}, translateNoRows(err)
	}
	return cell, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanCell decodes one cells row.
func scanCell(s scanner) (domain.Cell, error) {
	var (
		cell       domain.Cell
		updatedRaw string
	)
	if err := s.Scan(&cell.Key.Team, &cell.Key.Day, &cell.Key.Employee, &cell.Value, &cell.Version, &updatedRaw, &cell.UpdatedBy); err != nil {
		return domain.Cell{}, err
	}
	cell.UpdatedAt = parseTS(updatedRaw)
	return cell, nil
}
