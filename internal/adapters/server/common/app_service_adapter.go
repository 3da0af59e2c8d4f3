package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// Ping reports backing store readiness.
func (a *AppServiceAdapter) Ping(ctx context.Context) error {
	if a == nil || a.service == nil {
		return errors.New("app service adapter is not configured")
	}
	return a.service.Ping(ctx)
}

// GetCell reads one cell.
func (a *AppServiceAdapter) GetCell(ctx context.Context, in GetCellRequest) (CellView, error) {
	if err := ValidateRequest(in); err != nil {
		return CellView{}, err
	}
	cell, err := a.service.GetCell(ctx, in.Team, in.Day, in.Employee)
	if err != nil {
		return CellView{}, mapAppError("get cell", err)
	}
	return NewCellView(cell), nil
}

// GetGrid reads one team/day with its watermark and active locks.
func (a *AppServiceAdapter) GetGrid(ctx context.Context, in GetGridRequest) (Grid, error) {
	if err := ValidateRequest(in); err != nil {
		return Grid{}, err
	}
	grid, err := a.service.GetGrid(ctx, in.Team, in.Day)
	if err != nil {
		return Grid{}, mapAppError("get grid", err)
	}
	out := Grid{
		Team:        grid.Team,
		Day:         grid.Day,
		LiveVersion: grid.LiveVersion,
		Cells:       make([]CellView, 0, len(grid.Cells)),
		Locks:       make([]LockView, 0, len(grid.Locks)),
	}
	for _, cell := range grid.Cells {
		out.Cells = append(out.Cells, NewCellView(cell))
	}
	for _, lock := range grid.Locks {
		out.Locks = append(out.Locks, LockView{
			Employee:  lock.Key.Employee,
			LockedBy:  lock.LockedBy,
			LockUntil: lock.LockUntil.UTC(),
		})
	}
	return out, nil
}

// WriteCell submits one write through the coordinator.
func (a *AppServiceAdapter) WriteCell(ctx context.Context, in WriteCellRequest) (WriteResult, error) {
	if err := ValidateRequest(in); err != nil {
		return WriteResult{}, err
	}
	result, err := a.service.Submit(ctx, app.WriteInput{
		Team:            in.Team,
		Day:             in.Day,
		Employee:        in.Employee,
		Value:           in.Value,
		BaseCellVersion: in.BaseCellVersion,
		ClientID:        in.ClientID,
		ClientSeq:       in.ClientSeq,
		Actor:           in.Actor,
	})
	if err != nil {
		return WriteResult{}, mapAppError("write cell", err)
	}
	return NewWriteResult(result), nil
}

// Lock runs one soft-lock transition.
func (a *AppServiceAdapter) Lock(ctx context.Context, in LockRequest) (LockResult, error) {
	if err := ValidateRequest(in); err != nil {
		return LockResult{}, err
	}
	result, err := a.service.Lock(ctx, app.LockInput{
		Team:     in.Team,
		Day:      in.Day,
		Employee: in.Employee,
		Action:   in.Action,
		Actor:    in.Actor,
	})
	if err != nil {
		return NewLockResult(result), mapAppError("lock cell", err)
	}
	return NewLockResult(result), nil
}

// ListOps returns one catch-up page.
func (a *AppServiceAdapter) ListOps(ctx context.Context, in ListOpsRequest) (OpsPage, error) {
	if err := ValidateRequest(in); err != nil {
		return OpsPage{}, err
	}
	page, err := a.service.ListSince(ctx, app.ListSinceInput{
		Team:  in.Team,
		Day:   in.Day,
		Since: in.Since,
		Limit: in.Limit,
	})
	if err != nil {
		return OpsPage{}, mapAppError("list ops", err)
	}
	out := OpsPage{
		Ops:       make([]OperationView, 0, len(page.Ops)),
		NextSince: page.NextSince,
	}
	for _, op := range page.Ops {
		out.Ops = append(out.Ops, NewOperationView(op))
	}
	return out, nil
}

// Subscribe opens one push subscription bound to ctx.
func (a *AppServiceAdapter) Subscribe(ctx context.Context, in SubscribeRequest) (OpStream, error) {
	if err := ValidateRequest(in); err != nil {
		return nil, err
	}
	sub, err := a.service.Subscribe(ctx, app.SubscribeInput{
		Team:  in.Team,
		Day:   in.Day,
		Since: in.Since,
	})
	if err != nil {
		return nil, mapAppError("subscribe", err)
	}
	return sub, nil
}

// CreateSnapshot captures one team/day.
func (a *AppServiceAdapter) CreateSnapshot(ctx context.Context, in CreateSnapshotRequest) (SnapshotView, error) {
	if err := ValidateRequest(in); err != nil {
		return SnapshotView{}, err
	}
	snapshot, err := a.service.CreateSnapshot(ctx, app.CreateSnapshotInput{
		Team:  in.Team,
		Day:   in.Day,
		Note:  in.Note,
		Actor: in.Actor,
	})
	if err != nil {
		return SnapshotView{}, mapAppError("create snapshot", err)
	}
	return newSnapshotView(snapshot), nil
}

// ListSnapshots lists snapshots of one team/day, newest first.
func (a *AppServiceAdapter) ListSnapshots(ctx context.Context, in ListSnapshotsRequest) ([]SnapshotView, error) {
	if err := ValidateRequest(in); err != nil {
		return nil, err
	}
	snapshots, err := a.service.ListSnapshots(ctx, in.Team, in.Day)
	if err != nil {
		return nil, mapAppError("list snapshots", err)
	}
	out := make([]SnapshotView, 0, len(snapshots))
	for _, snapshot := range snapshots {
		out = append(out, newSnapshotView(snapshot))
	}
	return out, nil
}

// RestoreSnapshot replays one snapshot through reconciliation.
func (a *AppServiceAdapter) RestoreSnapshot(ctx context.Context, in RestoreSnapshotRequest) (ReconcileResult, error) {
	in.ID = strings.TrimSpace(in.ID)
	if err := ValidateRequest(in); err != nil {
		return ReconcileResult{}, err
	}
	result, err := a.service.RestoreSnapshot(ctx, app.RestoreSnapshotInput{
		ID:       in.ID,
		Actor:    in.Actor,
		ClientID: in.ClientID,
		DryRun:   in.DryRun,
	})
	if err != nil {
		return ReconcileResult{}, mapAppError("restore snapshot", err)
	}
	return newReconcileResult(result), nil
}

// Reconcile applies one bulk plan through the write path.
func (a *AppServiceAdapter) Reconcile(ctx context.Context, in ReconcileRequest) (ReconcileResult, error) {
	if err := ValidateRequest(in); err != nil {
		return ReconcileResult{}, err
	}
	targets := make([]app.CellTarget, 0, len(in.Cells))
	for _, cell := range in.Cells {
		targets = append(targets, app.CellTarget{Day: cell.Day, Employee: cell.Employee, Value: cell.Value})
	}
	result, err := a.service.Reconcile(ctx, app.ReconcileInput{
		Team:         in.Team,
		Actor:        in.Actor,
		ClientID:     in.ClientID,
		Cells:        targets,
		Days:         in.Days,
		ClearMissing: in.ClearMissing,
		DryRun:       in.DryRun,
	})
	if err != nil {
		return ReconcileResult{}, mapAppError("reconcile", err)
	}
	return newReconcileResult(result), nil
}

// newSnapshotView converts one snapshot.
func newSnapshotView(snapshot domain.Snapshot) SnapshotView {
	cells := snapshot.Cells
	if cells == nil {
		cells = []domain.SnapshotCell{}
	}
	return SnapshotView{
		ID:        snapshot.ID,
		Team:      snapshot.Team,
		Day:       snapshot.Day,
		Note:      snapshot.Note,
		CreatedBy: snapshot.CreatedBy,
		CreatedAt: snapshot.CreatedAt.UTC(),
		Cells:     cells,
	}
}

// newReconcileResult converts one reconcile summary.
func newReconcileResult(result app.ReconcileResult) ReconcileResult {
	out := ReconcileResult{
		Team:      result.Team,
		ClientID:  result.ClientID,
		DryRun:    result.DryRun,
		Changes:   make([]ReconcileChange, 0, len(result.Changes)),
		Unchanged: result.Unchanged,
		Applied:   result.Applied,
		Conflicts: result.Conflicts,
	}
	for _, change := range result.Changes {
		view := ReconcileChange{
			Day:         change.Key.Day,
			Employee:    change.Key.Employee,
			From:        change.From,
			To:          change.To,
			BaseVersion: change.BaseVersion,
			ClientSeq:   change.ClientSeq,
		}
		if change.Result != nil {
			written := NewWriteResult(*change.Result)
			view.Result = &written
		}
		out.Changes = append(out.Changes, view)
	}
	return out
}

// mapAppError maps app/domain errors to transport-facing sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrLockNotHeld):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrLockNotHeld, err))
	case errors.Is(err, domain.ErrDisallowedValue):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrDisallowedValue, err))
	case errors.Is(err, domain.ErrInvalidTeam),
		errors.Is(err, domain.ErrInvalidDay),
		errors.Is(err, domain.ErrInvalidEmployee),
		errors.Is(err, domain.ErrInvalidActor),
		errors.Is(err, domain.ErrInvalidClientID),
		errors.Is(err, domain.ErrInvalidClientSeq),
		errors.Is(err, domain.ErrInvalidVersion),
		errors.Is(err, domain.ErrInvalidLockAction),
		errors.Is(err, domain.ErrInvalidSnapshotID),
		errors.Is(err, domain.ErrInvalidTargetRange),
		errors.Is(err, app.ErrDuplicateCell):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
