package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hylla/shiftsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDay = "2024-06-01"

func newTestService(t *testing.T, cfg ServiceConfig) (*Service, *fakeRepo, *testClock) {
	t.Helper()
	repo := newFakeRepo()
	clock := newTestClock()
	return NewService(repo, sequentialIDs(), clock.Now, cfg), repo, clock
}

func write(emp, value string, base int64, clientID string, clientSeq int64, actor string) WriteInput {
	return WriteInput{
		Team:            "T1",
		Day:             testDay,
		Employee:        emp,
		Value:           value,
		BaseCellVersion: base,
		ClientID:        clientID,
		ClientSeq:       clientSeq,
		Actor:           actor,
	}
}

func TestSubmitFirstWriteConflictAndRetry(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	first, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, int64(1), first.ServerSequence)
	assert.Equal(t, "白", first.Value)

	stale, err := svc.Submit(ctx, write("E1", "夜", 0, "c2", 1, "bob"))
	require.NoError(t, err)
	assert.False(t, stale.Applied)
	assert.True(t, stale.Conflict())
	assert.Equal(t, int64(1), stale.CurrentVersion)

	retry, err := svc.Submit(ctx, write("E1", "夜", 1, "c2", 2, "bob"))
	require.NoError(t, err)
	assert.True(t, retry.Applied)
	assert.Equal(t, int64(2), retry.Version)
	assert.Equal(t, int64(2), retry.ServerSequence)

	cell, err := svc.GetCell(ctx, "T1", testDay, "E1")
	require.NoError(t, err)
	assert.Equal(t, "夜", cell.Value)
	assert.Equal(t, int64(2), cell.Version)
	assert.Equal(t, "bob", cell.UpdatedBy)
}

func TestSubmitDuplicateReturnsRecordedResult(t *testing.T) {
	svc, repo, clock := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	original, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 7, "alice"))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	replay, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 7, "alice"))
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	replay.Duplicate = false
	assert.Equal(t, original, replay)

	// A reused key with a different payload still answers from the log.
	reused, err := svc.Submit(ctx, write("E2", "夜", 0, "c1", 7, "alice"))
	require.NoError(t, err)
	reused.Duplicate = false
	assert.Equal(t, original, reused)

	assert.Equal(t, 1, repo.opCount())
	live, err := svc.LiveVersion(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), live)
}

func TestSubmitRejectsInvalidInputWithoutWriting(t *testing.T) {
	recorder := newCountingRecorder()
	svc, repo, _ := newTestService(t, ServiceConfig{Recorder: recorder})
	ctx := context.Background()

	_, err := svc.Submit(ctx, write("E1", "X", 0, "c1", 1, "alice"))
	assert.ErrorIs(t, err, domain.ErrDisallowedValue)
	_, err = svc.Submit(ctx, write("E1", "白", -1, "c1", 1, "alice"))
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
	_, err = svc.Submit(ctx, write("E1", "白", 0, "c1", 1, ""))
	assert.ErrorIs(t, err, domain.ErrInvalidActor)

	assert.Equal(t, 0, repo.opCount())
	assert.Equal(t, 3, recorder.count(WriteOutcomeRejected))
}

func TestSubmitVersionEqualsAppliedWrites(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	values := domain.DefaultAllowedValues()

	for i := range 7 {
		result, err := svc.Submit(ctx, write("E1", values[i%len(values)], int64(i), "c1", int64(i), "alice"))
		require.NoError(t, err)
		require.True(t, result.Applied, "write %d", i)
	}
	cell, err := svc.GetCell(ctx, "T1", testDay, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), cell.Version)

	page, err := svc.ListSince(ctx, ListSinceInput{Team: "T1"})
	require.NoError(t, err)
	require.Len(t, page.Ops, 7)
	for i, op := range page.Ops {
		assert.Equal(t, int64(i+1), op.Seq)
		assert.Equal(t, int64(i), op.BaseCellVersion)
		assert.Equal(t, int64(i+1), op.ResultingCellVersion)
	}
}

func TestSubmitClearsCell(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, write("E1", "休", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	cleared, err := svc.Submit(ctx, write("E1", "  ", 1, "c1", 2, "alice"))
	require.NoError(t, err)
	assert.True(t, cleared.Applied)
	assert.Equal(t, domain.ClearValue, cleared.Value)
	assert.Equal(t, int64(2), cleared.Version)
}

func TestSubmitRollsBackWhenAppendFails(t *testing.T) {
	recorder := newCountingRecorder()
	svc, repo, _ := newTestService(t, ServiceConfig{Recorder: recorder})
	ctx := context.Background()
	repo.appendErr = errors.New("disk full")

	_, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.appendErr)

	cell, err := svc.GetCell(ctx, "T1", testDay, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cell.Version)
	assert.Equal(t, 1, recorder.count(WriteOutcomeFailed))

	repo.appendErr = nil
	result, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(1), result.ServerSequence)
}

func TestSetAllowedValuesAppliesToLaterWrites(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{AllowedValues: []string{"A"}})
	ctx := context.Background()

	_, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.ErrorIs(t, err, domain.ErrDisallowedValue)

	svc.SetAllowedValues(domain.NewValueSet([]string{"A", "白"}))
	result, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, []string{"A", "白"}, svc.AllowedValues().Values())
}

func TestGetCellNeverWrittenReadsVersionZero(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})

	cell, err := svc.GetCell(context.Background(), "T1", testDay, "E9")
	require.NoError(t, err)
	assert.False(t, cell.Exists())
	assert.Equal(t, domain.ClearValue, cell.Value)

	_, err = svc.GetCell(context.Background(), "T1", "June 1", "E9")
	assert.ErrorIs(t, err, domain.ErrInvalidDay)
}

func TestGetGridReturnsCellsLocksAndWatermark(t *testing.T) {
	svc, _, clock := newTestService(t, ServiceConfig{LockTTL: 10 * time.Second})
	ctx := context.Background()

	_, err := svc.Submit(ctx, write("E2", "夜", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, write("E1", "白", 0, "c1", 2, "alice"))
	require.NoError(t, err)
	other := write("E1", "白", 0, "c1", 3, "alice")
	other.Day = "2024-06-02"
	_, err = svc.Submit(ctx, other)
	require.NoError(t, err)

	_, err = svc.AcquireLock(ctx, "T1", testDay, "E1", "bob")
	require.NoError(t, err)
	_, err = svc.AcquireLock(ctx, "T1", testDay, "E2", "carol")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	_, err = svc.AcquireLock(ctx, "T1", testDay, "E3", "dave")
	require.NoError(t, err)
	clock.Advance(6 * time.Second)

	grid, err := svc.GetGrid(ctx, "T1", testDay)
	require.NoError(t, err)
	assert.Equal(t, int64(3), grid.LiveVersion)
	require.Len(t, grid.Cells, 2)
	assert.Equal(t, "E1", grid.Cells[0].Key.Employee)
	assert.Equal(t, "E2", grid.Cells[1].Key.Employee)
	require.Len(t, grid.Locks, 1)
	assert.Equal(t, "dave", grid.Locks[0].LockedBy)
}

func TestListSinceCatchUp(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	for i := range 103 {
		emp := fmt.Sprintf("E%03d", i)
		_, err := svc.Submit(ctx, write(emp, "白", 0, "c1", int64(i), "alice"))
		require.NoError(t, err)
	}

	page, err := svc.ListSince(ctx, ListSinceInput{Team: "T1", Since: 100})
	require.NoError(t, err)
	require.Len(t, page.Ops, 3)
	assert.Equal(t, []int64{101, 102, 103}, []int64{page.Ops[0].Seq, page.Ops[1].Seq, page.Ops[2].Seq})
	assert.Equal(t, int64(103), page.NextSince)

	empty, err := svc.ListSince(ctx, ListSinceInput{Team: "T1", Since: 103})
	require.NoError(t, err)
	assert.Empty(t, empty.Ops)
	assert.Equal(t, int64(103), empty.NextSince)

	limited, err := svc.ListSince(ctx, ListSinceInput{Team: "T1", Since: 10, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited.Ops, 2)
	assert.Equal(t, int64(12), limited.NextSince)

	_, err = svc.ListSince(ctx, ListSinceInput{Team: "T1", Since: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidVersion)
	_, err = svc.ListSince(ctx, ListSinceInput{Team: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidTeam)
}

func TestListSinceClampsLimit(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{DefaultOpsLimit: 2, MaxOpsLimit: 3})
	ctx := context.Background()
	for i := range 5 {
		_, err := svc.Submit(ctx, write(fmt.Sprintf("E%d", i), "白", 0, "c1", int64(i), "alice"))
		require.NoError(t, err)
	}

	page, err := svc.ListSince(ctx, ListSinceInput{Team: "T1"})
	require.NoError(t, err)
	assert.Len(t, page.Ops, 2)

	page, err = svc.ListSince(ctx, ListSinceInput{Team: "T1", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Ops, 3)
}

func TestListSinceFiltersDay(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()
	_, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	other := write("E1", "夜", 0, "c1", 2, "alice")
	other.Day = "2024-06-02"
	_, err = svc.Submit(ctx, other)
	require.NoError(t, err)

	page, err := svc.ListSince(ctx, ListSinceInput{Team: "T1", Day: "2024-06-02"})
	require.NoError(t, err)
	require.Len(t, page.Ops, 1)
	assert.Equal(t, int64(2), page.Ops[0].Seq)
}
