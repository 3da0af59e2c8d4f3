package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hylla/shiftsync/internal/domain"
)

// Grid is the current state of one team/day with the watermark it was read at.
type Grid struct {
	Team        string
	Day         string
	LiveVersion int64
	Cells       []domain.Cell
	Locks       []domain.SoftLock
}

// GetCell returns the committed state of one cell; never-written cells read as version 0.
func (s *Service) GetCell(ctx context.Context, team, day, employee string) (domain.Cell, error) {
	key, err := domain.NewCellKey(team, day, employee)
	if err != nil {
		return domain.Cell{}, err
	}
	cell, err := s.repo.GetCell(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return domain.EmptyCell(key), nil
	}
	if err != nil {
		return domain.Cell{}, fmt.Errorf("get cell %s: %w", key, err)
	}
	return cell, nil
}

// GetGrid returns every written cell of a team/day ordered by employee.
// The watermark is read before the cells, so replaying the feed from it can only repeat changes already visible.
func (s *Service) GetGrid(ctx context.Context, team, day string) (Grid, error) {
	team = domain.NormalizeIdentifier(team)
	if team == "" {
		return Grid{}, domain.ErrInvalidTeam
	}
	if err := domain.ValidateDay(day); err != nil {
		return Grid{}, err
	}
	watermark, err := s.repo.LiveVersion(ctx, team)
	if err != nil {
		return Grid{}, fmt.Errorf("read live version: %w", err)
	}
	cells, err := s.repo.ListCells(ctx, team, day)
	if err != nil {
		return Grid{}, fmt.Errorf("list cells: %w", err)
	}
	locks, err := s.repo.ListActiveLocks(ctx, team, day, s.clock().UTC())
	if err != nil {
		return Grid{}, fmt.Errorf("list locks: %w", err)
	}
	return Grid{
		Team:        team,
		Day:         day,
		LiveVersion: watermark,
		Cells:       cells,
		Locks:       locks,
	}, nil
}

// LiveVersion returns the sequence number of the latest accepted write of a team.
func (s *Service) LiveVersion(ctx context.Context, team string) (int64, error) {
	team = domain.NormalizeIdentifier(team)
	if team == "" {
		return 0, domain.ErrInvalidTeam
	}
	version, err := s.repo.LiveVersion(ctx, team)
	if err != nil {
		return 0, fmt.Errorf("read live version: %w", err)
	}
	return version, nil
}
