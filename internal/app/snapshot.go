package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/shiftsync/internal/domain"
)

// CreateSnapshotInput holds input values for capturing one team/day.
type CreateSnapshotInput struct {
	Team  string
	Day   string
	Note  string
	Actor string
}

// CreateSnapshot captures every written cell of a team/day.
func (s *Service) CreateSnapshot(ctx context.Context, in CreateSnapshotInput) (domain.Snapshot, error) {
	team := domain.NormalizeIdentifier(in.Team)
	if team == "" {
		return domain.Snapshot{}, domain.ErrInvalidTeam
	}
	if err := domain.ValidateDay(in.Day); err != nil {
		return domain.Snapshot{}, err
	}
	cells, err := s.repo.ListCells(ctx, team, strings.TrimSpace(in.Day))
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("list cells: %w", err)
	}
	snapshot, err := domain.NewSnapshot(s.idGen(), team, in.Day, in.Note, in.Actor, cells, s.clock())
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.repo.CreateSnapshot(ctx, snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}
	s.logger.Info("snapshot created", "snapshot_id", snapshot.ID, "team", snapshot.Team, "day", snapshot.Day, "cells", len(snapshot.Cells))
	return snapshot, nil
}

// ListSnapshots lists snapshots of a team/day, newest first.
func (s *Service) ListSnapshots(ctx context.Context, team, day string) ([]domain.Snapshot, error) {
	team = domain.NormalizeIdentifier(team)
	if team == "" {
		return nil, domain.ErrInvalidTeam
	}
	if err := domain.ValidateDay(day); err != nil {
		return nil, err
	}
	snapshots, err := s.repo.ListSnapshots(ctx, team, strings.TrimSpace(day))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snapshots, nil
}

// RestoreSnapshotInput holds input values for replaying one snapshot.
type RestoreSnapshotInput struct {
	ID       string
	Actor    string
	ClientID string
	DryRun   bool
}

// RestoreSnapshot replays one snapshot through Reconcile; cells written since the capture are cleared.
func (s *Service) RestoreSnapshot(ctx context.Context, in RestoreSnapshotInput) (ReconcileResult, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return ReconcileResult{}, domain.ErrInvalidSnapshotID
	}
	snapshot, err := s.repo.GetSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ReconcileResult{}, err
		}
		return ReconcileResult{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}

	allowed := s.AllowedValues()
	targets := make([]CellTarget, 0, len(snapshot.Cells))
	for _, cell := range snapshot.Cells {
		if !allowed.Allows(domain.NormalizeValue(cell.Value)) {
			s.logger.Warn("snapshot value no longer allowed; cell will be cleared", "snapshot_id", id, "employee", cell.Employee, "value", cell.Value)
			continue
		}
		targets = append(targets, CellTarget{Day: snapshot.Day, Employee: cell.Employee, Value: cell.Value})
	}
	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		clientID = "restore-" + id + "-" + s.idGen()
	}
	return s.Reconcile(ctx, ReconcileInput{
		Team:         snapshot.Team,
		Actor:        in.Actor,
		ClientID:     clientID,
		Cells:        targets,
		Days:         []string{snapshot.Day},
		ClearMissing: true,
		DryRun:       in.DryRun,
	})
}
