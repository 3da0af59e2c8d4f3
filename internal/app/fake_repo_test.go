package app

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
)

// fakeRepo is an in-memory Repository; write units hold the mutex for their whole duration.
type fakeRepo struct {
	mu         sync.Mutex
	cells      map[domain.CellKey]domain.Cell
	ops        []domain.Operation
	live       map[string]int64
	locks      map[domain.CellKey]domain.SoftLock
	snapshots  map[string]domain.Snapshot
	appendErr  error
	listOpsErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cells:     map[domain.CellKey]domain.Cell{},
		live:      map[string]int64{},
		locks:     map[domain.CellKey]domain.SoftLock{},
		snapshots: map[string]domain.Snapshot{},
	}
}

func (f *fakeRepo) Ping(context.Context) error {
	return nil
}

func (f *fakeRepo) GetCell(_ context.Context, key domain.CellKey) (domain.Cell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCell(key)
}

func (f *fakeRepo) getCell(key domain.CellKey) (domain.Cell, error) {
	cell, ok := f.cells[key]
	if !ok {
		return domain.Cell{}, ErrNotFound
	}
	return cell, nil
}

func (f *fakeRepo) ListCells(_ context.Context, team, day string) ([]domain.Cell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Cell, 0)
	for key, cell := range f.cells {
		if key.Team == team && key.Day == day {
			out = append(out, cell)
		}
	}
	slices.SortFunc(out, func(a, b domain.Cell) int {
		switch {
		case a.Key.Employee < b.Key.Employee:
			return -1
		case a.Key.Employee > b.Key.Employee:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

func (f *fakeRepo) ListOperationsSince(_ context.Context, q OperationQuery) ([]domain.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listOpsErr != nil {
		return nil, f.listOpsErr
	}
	out := make([]domain.Operation, 0)
	for _, op := range f.ops {
		if op.Key.Team != q.Team || op.Seq <= q.Since {
			continue
		}
		if q.Day != "" && op.Key.Day != q.Day {
			continue
		}
		out = append(out, op)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) LiveVersion(_ context.Context, team string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[team], nil
}

func (f *fakeRepo) WithinWriteTx(_ context.Context, _ string, fn func(WriteTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cells := maps.Clone(f.cells)
	live := maps.Clone(f.live)
	opCount := len(f.ops)
	if err := fn(fakeTx{repo: f}); err != nil {
		f.cells = cells
		f.live = live
		f.ops = f.ops[:opCount]
		return err
	}
	return nil
}

// fakeTx runs with fakeRepo.mu already held.
type fakeTx struct {
	repo *fakeRepo
}

func (tx fakeTx) FindOperation(_ context.Context, key domain.IdempotencyKey) (domain.Operation, error) {
	for _, op := range tx.repo.ops {
		if op.IdempotencyKey() == key {
			return op, nil
		}
	}
	return domain.Operation{}, ErrNotFound
}

func (tx fakeTx) GetCell(_ context.Context, key domain.CellKey) (domain.Cell, error) {
	return tx.repo.getCell(key)
}

func (tx fakeTx) CompareAndSwapCell(_ context.Context, cell domain.Cell, expected int64) (bool, error) {
	if tx.repo.cells[cell.Key].Version != expected {
		return false, nil
	}
	tx.repo.cells[cell.Key] = cell
	return true, nil
}

func (tx fakeTx) AppendOperation(_ context.Context, op domain.Operation) (domain.Operation, error) {
	if tx.repo.appendErr != nil {
		return domain.Operation{}, tx.repo.appendErr
	}
	if _, err := tx.FindOperation(context.Background(), op.IdempotencyKey()); err == nil {
		return domain.Operation{}, ErrDuplicateCell
	}
	tx.repo.live[op.Key.Team]++
	op.Seq = tx.repo.live[op.Key.Team]
	tx.repo.ops = append(tx.repo.ops, op)
	return op, nil
}

func (f *fakeRepo) GetLock(_ context.Context, key domain.CellKey) (domain.SoftLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[key]
	if !ok {
		return domain.SoftLock{}, ErrNotFound
	}
	return lock, nil
}

func (f *fakeRepo) SwapLock(_ context.Context, lock domain.SoftLock) (domain.SoftLock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previous, ok := f.locks[lock.Key]
	f.locks[lock.Key] = lock
	return previous, ok, nil
}

func (f *fakeRepo) RenewLock(_ context.Context, key domain.CellKey, who string, now, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[key]
	if !ok || !lock.HeldBy(who, now) {
		return false, nil
	}
	lock.LockUntil = until
	f.locks[key] = lock
	return true, nil
}

func (f *fakeRepo) ReleaseLock(_ context.Context, key domain.CellKey, who string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[key]
	if !ok || (lock.LockedBy != who && lock.ActiveAt(now)) {
		return false, nil
	}
	delete(f.locks, key)
	return true, nil
}

func (f *fakeRepo) ListActiveLocks(_ context.Context, team, day string, now time.Time) ([]domain.SoftLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SoftLock, 0)
	for key, lock := range f.locks {
		if key.Team == team && key.Day == day && lock.ActiveAt(now) {
			out = append(out, lock)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateSnapshot(_ context.Context, snapshot domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snapshot.ID] = snapshot
	return nil
}

func (f *fakeRepo) GetSnapshot(_ context.Context, id string) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.snapshots[id]
	if !ok {
		return domain.Snapshot{}, ErrNotFound
	}
	return snapshot, nil
}

func (f *fakeRepo) ListSnapshots(_ context.Context, team, day string) ([]domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Snapshot, 0)
	for _, snapshot := range f.snapshots {
		if snapshot.Team == team && snapshot.Day == day {
			out = append(out, snapshot)
		}
	}
	return out, nil
}

func (f *fakeRepo) opCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}

// testClock is a settable clock shared by the service and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs returns id-1, id-2, ...
func sequentialIDs() IDGenerator {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return "id-" + strconv.Itoa(next)
	}
}

// countingRecorder tallies write outcomes.
type countingRecorder struct {
	mu          sync.Mutex
	writes      map[WriteOutcome]int
	subscribers int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{writes: map[WriteOutcome]int{}}
}

func (r *countingRecorder) ObserveWrite(outcome WriteOutcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes[outcome]++
}

func (r *countingRecorder) ObserveLock(domain.LockAction, bool, bool) {}

func (r *countingRecorder) ObserveOpsServed(int) {}

func (r *countingRecorder) SubscriberOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers++
}

func (r *countingRecorder) SubscriberClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers--
}

func (r *countingRecorder) count(outcome WriteOutcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[outcome]
}

func (r *countingRecorder) open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribers
}
