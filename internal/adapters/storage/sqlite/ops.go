package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
)

// operationColumns lists cell_ops columns in scanOperation order.
const operationColumns = `team, seq, day, employee, from_value, to_value, base_version, resulting_version, conflict, actor, client_id, client_seq, created_at`

// ListOperationsSince returns ops with seq > Since in ascending order, optionally for one day.
func (r *Repository) ListOperationsSince(ctx context.Context, q app.OperationQuery) ([]domain.Operation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.Day == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+operationColumns+`
			FROM cell_ops
			WHERE team = ? AND seq > ?
			ORDER BY seq ASC
			LIMIT ?
		`, q.Team, q.Since, q.Limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+operationColumns+`
			FROM cell_ops
			WHERE team = ? AND day = ? AND seq > ?
			ORDER BY seq ASC
			LIMIT ?
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
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM live_versions WHERE team = ?`, team).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// insertOperation appends one operation row.
func insertOperation(ctx context.Context, execer execerContext, op domain.Operation) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO cell_ops(`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.Key.Team,
		op.Seq,
		op.Key.Day,
		op.Key.Employee,
		op.FromValue,
		op.ToValue,
		op.BaseCellVersion,
		op.ResultingCellVersion,
		boolToInt(op.Conflict),
		op.Actor,
		op.ClientID,
		op.ClientSeq,
		ts(op.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// scanOperation decodes one cell_ops row.
func scanOperation(s scanner) (domain.Operation, error) {
	var (
		op         domain.Operation
		conflict   int64
		createdRaw string
	)
	if err := s.Scan(
		&op.Key.Team,
		&op.Seq,
		&op.Key.Day,
		&op.Key.Employee,
		&op.FromValue,
		&op.ToValue,
		&op.BaseCellVersion,
		&op.ResultingCellVersion,
		&conflict,
		&op.Actor,
		&op.ClientID,
		&op.ClientSeq,
		&createdRaw,
	); err != nil {
		return domain.Operation{}, err
	}
	op.Conflict = conflict != 0
	op.CreatedAt = parseTS(createdRaw)
	return op, nil
}

// boolToInt encodes a bool for INTEGER columns.
func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
