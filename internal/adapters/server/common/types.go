// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
)

// ErrInvalidRequest reports malformed or out-of-range input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrDisallowedValue reports a cell value outside the allowed set.
var ErrDisallowedValue = errors.New("disallowed value")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrLockNotHeld reports a renew by an actor that does not hold the lock.
var ErrLockNotHeld = errors.New("lock not held")

// ErrRateLimited reports a caller over its write budget.
var ErrRateLimited = errors.New("rate limited")

// Logger receives adapter diagnostics.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// NopLogger discards adapter diagnostics.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// GetCellRequest addresses one cell.
type GetCellRequest struct {
	Team     string `json:"team" validate:"required,max=128"`
	Day      string `json:"day" validate:"required,datetime=2006-01-02"`
	Employee string `json:"employee" validate:"required,max=128"`
}

// CellView is the wire shape of one cell; Value is null for never-written cells.
type CellView struct {
	Team      string     `json:"team"`
	Day       string     `json:"day"`
	Employee  string     `json:"employee"`
	Value     *string    `json:"value"`
	Version   int64      `json:"version"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy string     `json:"updatedBy,omitempty"`
}

// GetGridRequest addresses one team/day.
type GetGridRequest struct {
	Team string `json:"team" validate:"required,max=128"`
	Day  string `json:"day" validate:"required,datetime=2006-01-02"`
}

// LockView is one active soft lock inside a grid.
type LockView struct {
	Employee  string    `json:"employee"`
	LockedBy  string    `json:"lockedBy"`
	LockUntil time.Time `json:"lockUntil"`
}

// Grid is the wire shape of one team/day read.
type Grid struct {
	Team        string     `json:"team"`
	Day         string     `json:"day"`
	LiveVersion int64      `json:"liveVersion"`
	Cells       []CellView `json:"cells"`
	Locks       []LockView `json:"locks"`
}

// WriteCellRequest is one client write submission.
type WriteCellRequest struct {
	Team            string `json:"team" validate:"required,max=128"`
	Day             string `json:"day" validate:"required,datetime=2006-01-02"`
	Employee        string `json:"employee" validate:"required,max=128"`
	Value           string `json:"value" validate:"max=64"`
	BaseCellVersion int64  `json:"baseCellVersion" validate:"gte=0"`
	ClientID        string `json:"clientId" validate:"required,max=128"`
	ClientSeq       int64  `json:"clientSeq" validate:"gte=0"`
	Actor           string `json:"actor" validate:"required,max=128"`
}

// WriteResult is the wire shape of one write outcome.
type WriteResult struct {
	Applied        bool    `json:"applied"`
	Reason         string  `json:"reason,omitempty"`
	Conflict       bool    `json:"conflict,omitempty"`
	Value          *string `json:"value,omitempty"`
	Version        int64   `json:"version,omitempty"`
	CurrentVersion *int64  `json:"currentVersion,omitempty"`
	ServerSequence int64   `json:"serverSequence,omitempty"`
	Actor          string  `json:"actor,omitempty"`
}

// LockRequest is one soft-lock transition.
type LockRequest struct {
	Team     string `json:"team" validate:"required,max=128"`
	Day      string `json:"day" validate:"required,datetime=2006-01-02"`
	Employee string `json:"employee" validate:"required,max=128"`
	Action   string `json:"action" validate:"required"`
	Actor    string `json:"actor" validate:"required,max=128"`
}

// LockResult is the wire shape of one lock transition.
type LockResult struct {
	Locked    bool       `json:"locked"`
	LockUntil *time.Time `json:"lockUntil,omitempty"`
	LockedBy  string     `json:"lockedBy,omitempty"`
	Risk      bool       `json:"risk"`
}

// ListOpsRequest selects one catch-up page.
type ListOpsRequest struct {
	Team  string `json:"team" validate:"required,max=128"`
	Day   string `json:"day,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Since int64  `json:"since" validate:"gte=0"`
	Limit int    `json:"limit,omitempty" validate:"gte=0"`
}

// OperationView is the wire shape of one log entry.
type OperationView struct {
	Seq                  int64     `json:"seq"`
	Team                 string    `json:"team"`
	Day                  string    `json:"day"`
	Employee             string    `json:"employee"`
	FromValue            string    `json:"fromValue"`
	ToValue              string    `json:"toValue"`
	BaseCellVersion      int64     `json:"baseCellVersion"`
	ResultingCellVersion int64     `json:"resultingCellVersion"`
	Conflict             bool      `json:"conflict"`
	Actor                string    `json:"actor"`
	ClientID             string    `json:"clientId"`
	ClientSeq            int64     `json:"clientSeq"`
	CreatedAt            time.Time `json:"createdAt"`
}

// OpsPage is one ascending page of the log.
type OpsPage struct {
	Ops       []OperationView `json:"ops"`
	NextSince int64           `json:"nextSince"`
}

// SubscribeRequest opens one push subscription.
type SubscribeRequest struct {
	Team  string `json:"team" validate:"required,max=128"`
	Day   string `json:"day,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Since int64  `json:"since" validate:"gte=0"`
}

// OpStream delivers operations until the subscribing context ends.
type OpStream interface {
	Ops() <-chan domain.Operation
	Err() error
	Watermark() int64
}

// CreateSnapshotRequest captures one team/day.
type CreateSnapshotRequest struct {
	Team  string `json:"team" validate:"required,max=128"`
	Day   string `json:"day" validate:"required,datetime=2006-01-02"`
	Note  string `json:"note,omitempty" validate:"max=1024"`
	Actor string `json:"actor" validate:"required,max=128"`
}

// ListSnapshotsRequest filters snapshots by team/day.
type ListSnapshotsRequest struct {
	Team string `json:"team" validate:"required,max=128"`
	Day  string `json:"day" validate:"required,datetime=2006-01-02"`
}

// SnapshotView is the wire shape of one snapshot.
type SnapshotView struct {
	ID        string                `json:"id"`
	Team      string                `json:"team"`
	Day       string                `json:"day"`
	Note      string                `json:"note,omitempty"`
	CreatedBy string                `json:"createdBy"`
	CreatedAt time.Time             `json:"createdAt"`
	Cells     []domain.SnapshotCell `json:"cells"`
}

// RestoreSnapshotRequest replays one snapshot.
type RestoreSnapshotRequest struct {
	ID       string `json:"-" validate:"required"`
	Actor    string `json:"actor" validate:"required,max=128"`
	ClientID string `json:"clientId,omitempty" validate:"max=128"`
	DryRun   bool   `json:"dryRun,omitempty"`
}

// CellTarget is one desired cell value in a bulk plan.
type CellTarget struct {
	Day      string `json:"day" yaml:"day" validate:"required,datetime=2006-01-02"`
	Employee string `json:"employee" yaml:"employee" validate:"required,max=128"`
	Value    string `json:"value" yaml:"value" validate:"max=64"`
}

// ReconcileRequest is one bulk restore or import.
type ReconcileRequest struct {
	Team         string       `json:"team" yaml:"team" validate:"required,max=128"`
	Actor        string       `json:"actor" yaml:"actor" validate:"required,max=128"`
	ClientID     string       `json:"clientId,omitempty" yaml:"client_id,omitempty" validate:"max=128"`
	Cells        []CellTarget `json:"cells" yaml:"cells" validate:"dive"`
	Days         []string     `json:"days,omitempty" yaml:"days,omitempty" validate:"dive,datetime=2006-01-02"`
	ClearMissing bool         `json:"clearMissing,omitempty" yaml:"clear_missing,omitempty"`
	DryRun       bool         `json:"dryRun,omitempty" yaml:"-"`
}

// ReconcileChange is one differing cell in a reconcile plan.
type ReconcileChange struct {
	Day         string       `json:"day"`
	Employee    string       `json:"employee"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	BaseVersion int64        `json:"baseVersion"`
	ClientSeq   int64        `json:"clientSeq"`
	Result      *WriteResult `json:"result,omitempty"`
}

// ReconcileResult summarizes one bulk reconciliation.
type ReconcileResult struct {
	Team      string            `json:"team"`
	ClientID  string            `json:"clientId"`
	DryRun    bool              `json:"dryRun"`
	Changes   []ReconcileChange `json:"changes"`
	Unchanged int               `json:"unchanged"`
	Applied   int               `json:"applied"`
	Conflicts int               `json:"conflicts"`
}

// CellService reads and writes cells.
type CellService interface {
	GetCell(context.Context, GetCellRequest) (CellView, error)
	GetGrid(context.Context, GetGridRequest) (Grid, error)
	WriteCell(context.Context, WriteCellRequest) (WriteResult, error)
}

// LockService runs soft-lock transitions. A failed renew returns the holder together with ErrLockNotHeld.
type LockService interface {
	Lock(context.Context, LockRequest) (LockResult, error)
}

// FeedService serves catch-up pages and push subscriptions.
type FeedService interface {
	ListOps(context.Context, ListOpsRequest) (OpsPage, error)
	Subscribe(context.Context, SubscribeRequest) (OpStream, error)
}

// SnapshotService captures and restores team/day snapshots.
type SnapshotService interface {
	CreateSnapshot(context.Context, CreateSnapshotRequest) (SnapshotView, error)
	ListSnapshots(context.Context, ListSnapshotsRequest) ([]SnapshotView, error)
	RestoreSnapshot(context.Context, RestoreSnapshotRequest) (ReconcileResult, error)
}

// ReconcileService applies bulk plans through the write path.
type ReconcileService interface {
	Reconcile(context.Context, ReconcileRequest) (ReconcileResult, error)
}

// NewOperationView converts one log entry into its wire shape.
func NewOperationView(op domain.Operation) OperationView {
	return OperationView{
		Seq:                  op.Seq,
		Team:                 op.Key.Team,
		Day:                  op.Key.Day,
		Employee:             op.Key.Employee,
		FromValue:            op.FromValue,
		ToValue:              op.ToValue,
		BaseCellVersion:      op.BaseCellVersion,
		ResultingCellVersion: op.ResultingCellVersion,
		Conflict:             op.Conflict,
		Actor:                op.Actor,
		ClientID:             op.ClientID,
		ClientSeq:            op.ClientSeq,
		CreatedAt:            op.CreatedAt.UTC(),
	}
}

// NewWriteResult converts one coordinator outcome; the duplicate marker never reaches the wire.
func NewWriteResult(result domain.WriteResult) WriteResult {
	if !result.Applied {
		current := result.CurrentVersion
		return WriteResult{
			Applied:        false,
			Reason:         result.Reason,
			Conflict:       result.Conflict(),
			CurrentVersion: &current,
		}
	}
	value := result.Value
	return WriteResult{
		Applied:        true,
		Value:          &value,
		Version:        result.Version,
		ServerSequence: result.ServerSequence,
		Actor:          result.Actor,
	}
}

// NewCellView converts one cell; never-written cells carry a null value.
func NewCellView(cell domain.Cell) CellView {
	view := CellView{
		Team:     cell.Key.Team,
		Day:      cell.Key.Day,
		Employee: cell.Key.Employee,
		Version:  cell.Version,
	}
	if !cell.Exists() {
		return view
	}
	value := cell.Value
	updatedAt := cell.UpdatedAt.UTC()
	view.Value = &value
	view.UpdatedAt = &updatedAt
	view.UpdatedBy = cell.UpdatedBy
	return view
}

// NewLockResult converts one lock transition outcome.
func NewLockResult(result domain.LockResult) LockResult {
	out := LockResult{
		Locked:   result.Locked,
		LockedBy: result.LockedBy,
		Risk:     result.Risk,
	}
	if !result.LockUntil.IsZero() {
		until := result.LockUntil.UTC()
		out.LockUntil = &until
	}
	return out
}
