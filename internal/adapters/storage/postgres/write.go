package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
	"github.com/jackc/pgx/v5"
)

// operationColumns lists cell_ops columns in scanOperation order.
const operationColumns = `team, seq, day, employee, from_value, to_value, base_version, resulting_version, conflict, actor, client_id, client_seq, created_at`

// GetCell returns one committed cell or app.ErrNotFound.
func (r *Repository) GetCell(ctx context.Context, key domain.CellKey) (domain.Cell, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return getCell(ctx, r.pool, key)
}

// ListCells lists written cells of one team/day ordered by employee.
func (r *Repository) ListCells(ctx context.Context, team, day string) ([]domain.Cell, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		SELECT team, day, employee, value, version, updated_at, updated_by
		FROM cells
		WHERE team = $1 AND day = $2
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

// WithinWriteTx runs fn in one transaction holding the team's live_versions row lock,
// so write units of one team serialize across instances.
func (r *Repository) WithinWriteTx(ctx context.Context, team string, fn func(app.WriteTx) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO live_versions(team, version) VALUES ($1, 0)
			ON CONFLICT (team) DO NOTHING
		`, team); err != nil {
			return fmt.Errorf("seed live version: %w", err)
		}
		var version int64
		if err := tx.QueryRow(ctx, `SELECT version FROM live_versions WHERE team = $1 FOR UPDATE`, team).Scan(&version); err != nil {
			return fmt.Errorf("lock live version: %w", err)
		}
		return fn(&writeTx{tx: tx})
	})
}

// writeTx implements app.WriteTx over one pgx transaction.
type writeTx struct {
	tx pgx.Tx
}

// FindOperation returns the logged operation for one idempotency key.
func (w *writeTx) FindOperation(ctx context.Context, key domain.IdempotencyKey) (domain.Operation, error) {
	row := w.tx.QueryRow(ctx, `
		SELECT `+operationColumns+`
		FROM cell_ops
		WHERE team = $1 AND client_id = $2 AND client_seq = $3
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
	var sql string
	args := []any{cell.Key.Team, cell.Key.Day, cell.Key.Employee, cell.Value, cell.Version, cell.UpdatedAt.UTC(), cell.UpdatedBy}
	if expected == 0 {
		sql = `
			INSERT INTO cells(team, day, employee, value, version, updated_at, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (team, day, employee) DO NOTHING
		`
	} else {
		sql = `
			UPDATE cells
			SET value = $4, version = $5, updated_at = $6, updated_by = $7
			WHERE team = $1 AND day = $2 AND employee = $3 AND version = $8
		`
		args = append(args, expected)
	}
	tag, err := w.tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AppendOperation advances the team's live version and logs op under it.
func (w *writeTx) AppendOperation(ctx context.Context, op domain.Operation) (domain.Operation, error) {
	var seq int64
	err := w.tx.QueryRow(ctx, `
		UPDATE live_versions SET version = version + 1
		WHERE team = $1
		RETURNING version
	`, op.Key.Team).Scan(&seq)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("advance live version: %w", err)
	}
	op.Seq = seq
	_, err = w.tx.Exec(ctx, `
		INSERT INTO cell_ops(`+operationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		op.Key.Team,
		op.Seq,
		op.Key.Day,
		op.Key.Employee,
		op.FromValue,
		op.ToValue,
		op.BaseCellVersion,
		op.ResultingCellVersion,
		op.Conflict,
		op.Actor,
		op.ClientID,
		op.ClientSeq,
		op.CreatedAt.UTC(),
	)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	return op, nil
}

// ListOperationsSince returns ops with seq > Since in ascending order, optionally for one day.
func (r *Repository) ListOperationsSince(ctx context.Context, q app.OperationQuery) ([]domain.Operation, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var (
		rows pgx.Rows
		err  error
	)
	if q.Day == "" {
		rows, err = r.pool.Query(ctx, `
			SELECT `+operationColumns+`
			FROM cell_ops
			WHERE team = $1 AND seq > $2
			ORDER BY seq ASC
			LIMIT $3
		`, q.Team, q.Since, q.Limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+operationColumns+`
			FROM cell_ops
			WHERE team = $1 AND day = $2 AND seq > $3
			ORDER BY seq ASC
			LIMIT $4
		`, q.Team, q.Day, q.Since, q.Limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Operation, 0)
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// LiveVersion returns the team's latest sequence number, or 0 before its first write.
func (r *Repository) LiveVersion(ctx context.Context, team string) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var version int64
	err := r.pool.QueryRow(ctx, `SELECT version FROM live_versions WHERE team = $1`, team).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// getCell reads one cell through the pool or a transaction.
func getCell(ctx context.Context, q querier, key domain.CellKey) (domain.Cell, error) {
	row := q.QueryRow(ctx, `
		SELECT team, day, employee, value, version, updated_at, updated_by
		FROM cells
		WHERE team = $1 AND day = $2 AND employee = $3
	`, key.Team, key.Day, key.Employee)
	cell, err := scanCell(row)
	if err != nil {
		return domain.Cell{}, translateNoRows(err)
	}
	return cell, nil
}

// scanCell decodes one cells row.
func scanCell(row pgx.Row) (domain.Cell, error) {
	var cell domain.Cell
	if err := row.Scan(&cell.Key.Team, &cell.Key.Day, &cell.Key.Employee, &cell.Value, &cell.Version, &cell.UpdatedAt, &cell.UpdatedBy); err != nil {
		return domain.Cell{}, err
	}
	cell.UpdatedAt = cell.UpdatedAt.UTC()
	return cell, nil
}

// scanOperation decodes one cell_ops row.
func scanOperation(row pgx.Row) (domain.Operation, error) {
	var op domain.Operation
	if err := row.Scan(
		&op.Key.Team,
		&op.Seq,
		&op.Key.Day,
		&op.Key.Employee,
		&op.FromValue,
		&op.ToValue,
		&op.BaseCellVersion,
		&op.ResultingCellVersion,
		&op.Conflict,
		&op.Actor,
		&op.ClientID,
		&op.ClientSeq,
		&op.CreatedAt,
	); err != nil {
		return domain.Operation{}, err
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return op, nil
}
