package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hylla/shiftsync/internal/app"
	"github.com/hylla/shiftsync/internal/domain"
	_ "modernc.org/sqlite"
)

// writeCell runs one CAS + append unit directly against the repository.
func writeCell(t *testing.T, repo *Repository, key domain.CellKey, value string, expected int64, clientSeq int64, now time.Time) (domain.Operation, bool) {
	t.Helper()
	var (
		op      domain.Operation
		swapped bool
	)
	err := repo.WithinWriteTx(context.Background(), key.Team, func(tx app.WriteTx) error {
		var err error
		swapped, err = tx.CompareAndSwapCell(context.Background(), domain.Cell{
			Key:       key,
			Value:     value,
			Version:   expected + 1,
			UpdatedAt: now,
			UpdatedBy: "alice",
		}, expected)
		if err != nil || !swapped {
			return err
		}
		op, err = tx.AppendOperation(context.Background(), domain.Operation{
			Key:                  key,
			ToValue:              value,
			BaseCellVersion:      expected,
			ResultingCellVersion: expected + 1,
			Actor:                "alice",
			ClientID:             "c1",
			ClientSeq:            clientSeq,
			CreatedAt:            now,
		})
		return err
	})
	if err != nil {
		t.Fatalf("WithinWriteTx() error = %v", err)
	}
	return op, swapped
}

func TestRepository_WriteUnitPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "shiftsync.db")
	repo, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	key := domain.CellKey{Team: "T1", Day: "2024-06-01", Employee: "E1"}
	first, swapped := writeCell(t, repo, key, "白", 0, 1, now)
	if !swapped || first.Seq != 1 {
		t.Fatalf("first write swapped=%t seq=%d, want true/1", swapped, first.Seq)
	}
	second, swapped := writeCell(t, repo, key, "夜", 1, 2, now.Add(time.Second))
	if !swapped || second.Seq != 2 {
		t.Fatalf("second write swapped=%t seq=%d, want true/2", swapped, second.Seq)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	repo, err = Open(dbPath)
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	cell, err := repo.GetCell(ctx, key)
	if err != nil {
		t.Fatalf("GetCell() error = %v", err)
	}
	if cell.Value != "夜" || cell.Version != 2 || cell.UpdatedBy != "alice" {
		t.Fatalf("unexpected cell %#v", cell)
	}
	if !cell.UpdatedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("updated_at = %s, want %s", cell.UpdatedAt, now.Add(time.Second))
	}

	live, err := repo.LiveVersion(ctx, "T1")
	if err != nil {
		t.Fatalf("LiveVersion() error = %v", err)
	}
	if live != 2 {
		t.Fatalf("live version = %d, want 2", live)
	}

	ops, err := repo.ListOperationsSince(ctx, app.OperationQuery{Team: "T1", Since: 0, Limit: 10})
	if err != nil {
		t.Fatalf("ListOperationsSince() error = %v", err)
	}
	if len(ops) != 2 || ops[0].Seq != 1 || ops[1].Seq != 2 {
		t.Fatalf("unexpected ops %#v", ops)
	}
	if ops[1].BaseCellVersion != 1 || ops[1].ResultingCellVersion != 2 {
		t.Fatalf("unexpected versions on op 2: %#v", ops[1])
	}
}

func TestRepository_CompareAndSwapRejectsStaleVersion(t *testing.T) {
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	key := domain.CellKey{Team: "T1", Day: "2024-06-01", Employee: "E1"}
	if _, swapped := writeCell(t, repo, key, "白", 0, 1, now); !swapped {
		t.Fatal("expected first write to swap")
	}
	if _, swapped := writeCell(t, repo, key, "夜", 0, 2, now); swapped {
		t.Fatal("expected stale first-write CAS to fail")
	}
	if _, swapped := writeCell(t, repo, key, "夜", 5, 3, now); swapped {
		t.Fatal("expected stale update CAS to fail")
	}
	live, err := repo.LiveVersion(context.Background(), "T1")
	if err != nil {
		t.Fatalf("LiveVersion() error = %v", err)
	}
	if live != 1 {
		t.Fatalf("live version = %d, want 1", live)
	}
}

func TestRepository_ClientKeyIsUniquePerTeam(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	writeCell(t, repo, domain.CellKey{Team: "T1", Day: "2024-06-01", Employee: "E1"}, "白", 0, 7, now)

	err = repo.WithinWriteTx(ctx, "T1", func(tx app.WriteTx) error {
		found, err := tx.FindOperation(ctx, domain.IdempotencyKey{Team: "T1", ClientID: "c1", ClientSeq: 7})
		if err != nil {
			return err
		}
		if found.Seq != 1 {
			t.Fatalf("found seq = %d, want 1", found.Seq)
		}
		_, err = tx.AppendOperation(ctx, domain.Operation{
			Key:       domain.CellKey{Team: "T1", Day: "2024-06-02", Employee: "E2"},
			Actor:     "bob",
			ClientID:  "c1",
			ClientSeq: 7,
			CreatedAt: now,
		})
		return err
	})
	if err == nil {
		t.Fatal("expected duplicate client key append to fail")
	}

	live, err := repo.LiveVersion(ctx, "T1")
	if err != nil {
		t.Fatalf("LiveVersion() error = %v", err)
	}
	if live != 1 {
		t.Fatalf("live version = %d, want 1 after rollback", live)
	}

	other := domain.CellKey{Team: "T2", Day: "2024-06-01", Employee: "E1"}
	op, swapped := writeCell(t, repo, other, "白", 0, 7, now)
	if !swapped || op.Seq != 1 {
		t.Fatalf("other team write swapped=%t seq=%d, want true/1", swapped, op.Seq)
	}
}

func TestRepository_ListOperationsSinceFiltersDay(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	writeCell(t, repo, domain.CellKey{Team: "T1", Day: "2024-06-01", Employee: "E1"}, "白", 0, 1, now)
	writeCell(t, repo, domain.CellKey{Team: "T1", Day: "2024-06-02", Employee: "E1"}, "白", 0, 2, now)
	writeCell(t, repo, domain.CellKey{Team: "T1", Day: "2024-06-01", Employee: "E2"}, "夜", 0, 3, now)

	ops, err := repo.ListOperationsSince(ctx, app.OperationQuery{Team: "T1", Day: "2024-06-01", Since: 1, Limit: 10})
	if err != nil {
		t.Fatalf("ListOperationsSince() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Seq != 3 || ops[0].Key.Employee != "E2" {
		t.Fatalf("unexpected filtered ops %#v", ops)
	}

	limited, err := repo.ListOperationsSince(ctx, app.OperationQuery{Team: "T1", Since: 0, Limit: 2})
	if err != nil {
		t.Fatalf("ListOperationsSince() error = %v", err)
	}
	if len(limited) != 2 || limited[1].Seq != 2 {
		t.Fatalf("unexpected limited ops %#v", limited)
	}
}

func TestRepository_SoftLockTransitions(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	key := domain.CellKey{Team: "T1", Day: "2024-06-01", Employee: "E1"}

	if _, err := repo.GetLock(ctx, key); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("GetLock() error = %v, want ErrNotFound", err)
	}
	_, had, err := repo.SwapLock(ctx, domain.SoftLock{Key: key, LockedBy: "alice", LockUntil: now.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("SwapLock() error = %v", err)
	}
	if had {
		t.Fatal("expected no previous lock")
	}
	previous, had, err := repo.SwapLock(ctx, domain.SoftLock{Key: key, LockedBy: "bob", LockUntil: now.Add(40 * time.Second)})
	if err != nil {
		t.Fatalf("SwapLock() error = %v", err)
	}
	if !had || previous.LockedBy != "alice" || !previous.LockUntil.Equal(now.Add(30*time.Second)) {
		t.Fatalf("unexpected previous lock %#v had=%t", previous, had)
	}

	renewed, err := repo.RenewLock(ctx, key, "alice", now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RenewLock() error = %v", err)
	}
	if renewed {
		t.Fatal("expected renew by non-holder to fail")
	}
	renewed, err = repo.RenewLock(ctx, key, "bob", now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RenewLock() error = %v", err)
	}
	if !renewed {
		t.Fatal("expected renew by holder to succeed")
	}

	active, err := repo.ListActiveLocks(ctx, "T1", "2024-06-01", now)
	if err != nil {
		t.Fatalf("ListActiveLocks() error = %v", err)
	}
	if len(active) != 1 || active[0].LockedBy != "bob" {
		t.Fatalf("unexpected active locks %#v", active)
	}

	released, err := repo.ReleaseLock(ctx, key, "alice", now)
	if err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
	if released {
		t.Fatal("expected release by non-holder of live lock to be a no-op")
	}
	released, err = repo.ReleaseLock(ctx, key, "alice", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ReleaseLock() error = %v", err)
	}
	if !released {
		t.Fatal("expected release of expired lock to delete it")
	}
}

func TestRepository_SnapshotsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	older := domain.Snapshot{ID: "s1", Team: "T1", Day: "2024-06-01", CreatedBy: "alice", CreatedAt: now,
		Cells: []domain.SnapshotCell{{Employee: "E1", Value: "白", Version: 1}}}
	newer := domain.Snapshot{ID: "s2", Team: "T1", Day: "2024-06-01", Note: "after swap", CreatedBy: "bob", CreatedAt: now.Add(time.Hour)}
	for _, snapshot := range []domain.Snapshot{older, newer} {
		if err := repo.CreateSnapshot(ctx, snapshot); err != nil {
			t.Fatalf("CreateSnapshot() error = %v", err)
		}
	}

	listed, err := repo.ListSnapshots(ctx, "T1", "2024-06-01")
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "s2" || listed[1].ID != "s1" {
		t.Fatalf("unexpected snapshot order %#v", listed)
	}
	loaded, err := repo.GetSnapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if len(loaded.Cells) != 1 || loaded.Cells[0].Value != "白" {
		t.Fatalf("unexpected snapshot cells %#v", loaded.Cells)
	}
	if _, err := repo.GetSnapshot(ctx, "missing"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("GetSnapshot() error = %v, want ErrNotFound", err)
	}
}
