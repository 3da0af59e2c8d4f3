package app

import (
	"context"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
)

// OperationQuery selects one ascending page of a team's operation log.
type OperationQuery struct {
	Team  string
	Day   string
	Since int64
	Limit int
}

// CellStore reads committed cell state.
type CellStore interface {
	GetCell(context.Context, domain.CellKey) (domain.Cell, error)
	ListCells(context.Context, string, string) ([]domain.Cell, error)
}

// OperationLog reads the ordered operation history and the live watermark.
type OperationLog interface {
	ListOperationsSince(context.Context, OperationQuery) ([]domain.Operation, error)
	LiveVersion(context.Context, string) (int64, error)
}

// WriteTx is the storage view of one atomic write unit.
// AppendOperation assigns the next team sequence number and advances the live version.
type WriteTx interface {
	FindOperation(context.Context, domain.IdempotencyKey) (domain.Operation, error)
	GetCell(context.Context, domain.CellKey) (domain.Cell, error)
	CompareAndSwapCell(context.Context, domain.Cell, int64) (bool, error)
	AppendOperation(context.Context, domain.Operation) (domain.Operation, error)
}

// WriteUnitStore runs write units serialized per team; fn errors roll the unit back.
type WriteUnitStore interface {
	WithinWriteTx(ctx context.Context, team string, fn func(WriteTx) error) error
}

// LockStore persists advisory soft locks as single-row atomic upserts.
type LockStore interface {
	GetLock(context.Context, domain.CellKey) (domain.SoftLock, error)
	SwapLock(context.Context, domain.SoftLock) (domain.SoftLock, bool, error)
	RenewLock(ctx context.Context, key domain.CellKey, who string, now, until time.Time) (bool, error)
	ReleaseLock(ctx context.Context, key domain.CellKey, who string, now time.Time) (bool, error)
	ListActiveLocks(ctx context.Context, team, day string, now time.Time) ([]domain.SoftLock, error)
}

// SnapshotStore persists point-in-time captures of a team/day.
type SnapshotStore interface {
	CreateSnapshot(context.Context, domain.Snapshot) error
	GetSnapshot(context.Context, string) (domain.Snapshot, error)
	ListSnapshots(context.Context, string, string) ([]domain.Snapshot, error)
}

// Repository represents repository data used by this package.
type Repository interface {
	CellStore
	OperationLog
	WriteUnitStore
	LockStore
	SnapshotStore
	Ping(context.Context) error
}

// Logger receives structured audit and diagnostic events.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// WriteOutcome labels one coordinated write for metrics.
type WriteOutcome string

// WriteOutcome values.
const (
	WriteOutcomeApplied   WriteOutcome = "applied"
	WriteOutcomeConflict  WriteOutcome = "conflict"
	WriteOutcomeDuplicate WriteOutcome = "duplicate"
	WriteOutcomeRejected  WriteOutcome = "rejected"
	WriteOutcomeFailed    WriteOutcome = "failed"
)

// Recorder receives engine metrics.
type Recorder interface {
	ObserveWrite(outcome WriteOutcome, elapsed time.Duration)
	ObserveLock(action domain.LockAction, locked, risk bool)
	ObserveOpsServed(count int)
	SubscriberOpened()
	SubscriberClosed()
}

// nopLogger discards events.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// nopRecorder discards metrics.
type nopRecorder struct{}

func (nopRecorder) ObserveWrite(WriteOutcome, time.Duration)  {}
func (nopRecorder) ObserveLock(domain.LockAction, bool, bool) {}
func (nopRecorder) ObserveOpsServed(int)                      {}
func (nopRecorder) SubscriberOpened()                         {}
func (nopRecorder) SubscriberClosed()                         {}
