package app

import (
	"context"
	"testing"

	"github.com/hylla/shiftsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreSnapshotReconcilesDay(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, write("E1", "白", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, write("E2", "夜", 0, "c1", 2, "alice"))
	require.NoError(t, err)

	snapshot, err := svc.CreateSnapshot(ctx, CreateSnapshotInput{Team: "T1", Day: testDay, Note: "before edits", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", snapshot.ID)
	require.Len(t, snapshot.Cells, 2)

	_, err = svc.Submit(ctx, write("E1", "休", 1, "c1", 3, "bob"))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, write("E3", "中1", 0, "c1", 4, "bob"))
	require.NoError(t, err)

	preview, err := svc.RestoreSnapshot(ctx, RestoreSnapshotInput{ID: snapshot.ID, Actor: "alice", DryRun: true})
	require.NoError(t, err)
	require.Len(t, preview.Changes, 2)

	restored, err := svc.RestoreSnapshot(ctx, RestoreSnapshotInput{ID: snapshot.ID, Actor: "alice", ClientID: "restore-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Applied)
	assert.Equal(t, 1, restored.Unchanged)

	grid, err := svc.GetGrid(ctx, "T1", testDay)
	require.NoError(t, err)
	got := map[string]string{}
	for _, cell := range grid.Cells {
		got[cell.Key.Employee] = cell.Value
	}
	assert.Equal(t, map[string]string{"E1": "白", "E2": "夜", "E3": domain.ClearValue}, got)
	assert.Equal(t, int64(6), grid.LiveVersion)
}

func TestRestoreSnapshotSkipsValuesNoLongerAllowed(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, write("E1", "中2", 0, "c1", 1, "alice"))
	require.NoError(t, err)
	snapshot, err := svc.CreateSnapshot(ctx, CreateSnapshotInput{Team: "T1", Day: testDay, Actor: "alice"})
	require.NoError(t, err)

	svc.SetAllowedValues(domain.NewValueSet([]string{"白"}))
	result, err := svc.RestoreSnapshot(ctx, RestoreSnapshotInput{ID: snapshot.ID, Actor: "alice", DryRun: true})
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, domain.ClearValue, result.Changes[0].To)
}

func TestSnapshotLookupErrors(t *testing.T) {
	svc, _, _ := newTestService(t, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.RestoreSnapshot(ctx, RestoreSnapshotInput{ID: "missing", Actor: "alice"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.RestoreSnapshot(ctx, RestoreSnapshotInput{ID: " ", Actor: "alice"})
	assert.ErrorIs(t, err, domain.ErrInvalidSnapshotID)
	_, err = svc.CreateSnapshot(ctx, CreateSnapshotInput{Team: "T1", Day: testDay})
	assert.ErrorIs(t, err, domain.ErrInvalidActor)

	list, err := svc.ListSnapshots(ctx, "T1", testDay)
	require.NoError(t, err)
	assert.Empty(t, list)
}
