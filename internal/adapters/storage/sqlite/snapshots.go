package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hylla/shiftsync/internal/domain"
)

// CreateSnapshot stores one snapshot with its cells as JSON.
func (r *Repository) CreateSnapshot(ctx context.Context, snapshot domain.Snapshot) error {
	cellsJSON, err := json.Marshal(snapshot.Cells)
	if err != nil {
		return fmt.Errorf("encode snapshot cells: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots(id, team, day, note, created_by, created_at, cells_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snapshot.ID, snapshot.Team, snapshot.Day, snapshot.Note, snapshot.CreatedBy, ts(snapshot.CreatedAt), string(cellsJSON))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns one snapshot or app.ErrNotFound.
func (r *Repository) GetSnapshot(ctx context.Context, id string) (domain.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, team, day, note, created_by, created_at, cells_json
		FROM snapshots
		WHERE id = ?
	`, id)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		return domain.Snapshot{}, translateNoRows(err)
	}
	return snapshot, nil
}

// ListSnapshots lists snapshots of one team/day, newest first.
func (r *Repository) ListSnapshots(ctx context.Context, team, day string) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, team, day, note, created_by, created_at, cells_json
		FROM snapshots
		WHERE team = ? AND day = ?
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
func scanSnapshot(s scanner) (domain.Snapshot, error) {
	var (
		snapshot   domain.Snapshot
		createdRaw string
		cellsRaw   string
	)
	if err := s.Scan(&snapshot.ID, &snapshot.Team, &snapshot.Day, &snapshot.Note, &snapshot.CreatedBy, &createdRaw, &cellsRaw); err != nil {
		return domain.Snapshot{}, err
	}
	snapshot.CreatedAt = parseTS(createdRaw)
	if strings.TrimSpace(cellsRaw) == "" {
		cellsRaw = "[]"
	}
	if err := json.Unmarshal([]byte(cellsRaw), &snapshot.Cells); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshots.cells_json: %w", err)
	}
	return snapshot, nil
}
