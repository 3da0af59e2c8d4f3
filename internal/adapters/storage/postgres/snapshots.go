package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hylla/shiftsync/internal/domain"
	"github.com/jackc/pgx/v5"
)

// CreateSnapshot stores one snapshot with its cells as JSONB.
func (r *Repository) CreateSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	cellsJSON, err := json.Marshal(snapshot.Cells)
	if err != nil {
		return fmt.Errorf("encode snapshot cells: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO snapshots(id, team, day, note, created_by, created_at, cells)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, snapshot.ID, snapshot.Team, snapshot.Day, snapshot.Note, snapshot.CreatedBy, snapshot.CreatedAt.UTC(), string(cellsJSON))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns one snapshot or app.ErrNotFound.
func (r *Repository) GetSnapshot(ctx context.Context, id string) (domain.Snapshot, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `
		SELECT id, team, day, note, created_by, created_at, cells::text
		FROM snapshots
		WHERE id = $1
	`, id)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		return domain.Snapshot{}, translateNoRows(err)
	}
	return snapshot, nil
}

// ListSnapshots lists snapshots of one team/day, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, team, day string) ([]domain.Snapshot, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `
		SELECT id, team, day, note, created_by, created_at, cells::text
		FROM snapshots
		WHERE team = $1 AND day = $2
		ORDER BY created_at DESC, id DESC
	`, team, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Snapshot, 0)
	for rows.Next() {
		snapshot, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, snapshot)
	}
	return out, rows.Err()
}

// scanSnapshot decodes one snapshots row.
func scanSnapshot(row pgx.Row) (domain.Snapshot, error) {
	var (
		snapshot domain.Snapshot
		cellsRaw string
	)
	if err := row.Scan(&snapshot.ID, &snapshot.Team, &snapshot.Day, &snapshot.Note, &snapshot.CreatedBy, &snapshot.CreatedAt, &cellsRaw); err != nil {
		return domain.Snapshot{}, err
	}
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(cellsRaw), &snapshot.Cells); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshots.cells: %w", err)
	}
	return snapshot, nil
}
