package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coriolis-labs/agentrun/internal/runmodel"
)

func TestMemoryStoreCreateAndGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "restart the staging cluster", "ops", map[string]string{"alert": "high_cpu"}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, runmodel.StatusPending, run.Status)

	fetched, err := store.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, fetched.RunID)
	assert.Equal(t, "restart the staging cluster", fetched.Goal)
	assert.Equal(t, "high_cpu", fetched.Context["alert"])

	_, err = store.GetRunByID(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetReturnsIndependentCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "goal", "default", nil, false)
	require.NoError(t, err)

	a, err := store.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	a.Goal = "mutated"

	b, err := store.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "goal", b.Goal)
}

func TestMemoryStoreUpdateRunPatchesOnlySetFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "goal", "default", nil, false)
	require.NoError(t, err)

	running := runmodel.StatusRunning
	_, err = store.UpdateRun(ctx, run.RunID, runmodel.UpdateFields{Status: &running})
	require.NoError(t, err)

	fetched, err := store.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusRunning, fetched.Status)
	assert.Equal(t, "goal", fetched.Goal)
}

func TestMemoryStoreUpdateRunPendingToolCallSetAndClear(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "goal", "default", nil, false)
	require.NoError(t, err)

	pending := &runmodel.PendingToolCall{ServerID: "net", ToolName: "restart", StepIndex: 1}
	_, err = store.UpdateRun(ctx, run.RunID, runmodel.UpdateFields{PendingToolCall: pending})
	require.NoError(t, err)

	fetched, err := store.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, fetched.PendingToolCall)
	assert.Equal(t, "restart", fetched.PendingToolCall.ToolName)

	_, err = store.UpdateRun(ctx, run.RunID, runmodel.UpdateFields{PendingToolCall: runmodel.ClearPendingToolCall})
	require.NoError(t, err)

	cleared, err := store.GetRunByID(ctx, run.RunID)
	require.NoError(t, err)
	assert.Nil(t, cleared.PendingToolCall)
}

func TestMemoryStoreUpdateRunNotFound(t *testing.T) {
	store := NewMemoryStore()
	status := runmodel.StatusRunning
	_, err := store.UpdateRun(context.Background(), "missing", runmodel.UpdateFields{Status: &status})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAppendAndGetRunEvents(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run, err := store.CreateRun(ctx, "goal", "default", nil, false)
	require.NoError(t, err)

	e1, err := store.AppendRunEvent(ctx, run.RunID, runmodel.EventStatus, map[string]string{"status": "running"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e1.EventID)

	e2, err := store.AppendRunEvent(ctx, run.RunID, runmodel.EventStep, map[string]int{"step": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e2.EventID)

	all, err := store.GetRunEvents(ctx, run.RunID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	after1, err := store.GetRunEvents(ctx, run.RunID, 1, 0)
	require.NoError(t, err)
	require.Len(t, after1, 1)
	assert.Equal(t, int64(2), after1[0].EventID)
}

func TestMemoryStoreAppendRunEventNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.AppendRunEvent(context.Background(), "missing", runmodel.EventStatus, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListRunsNewestFirstWithStatusFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.CreateRun(ctx, "first", "default", nil, false)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := store.CreateRun(ctx, "second", "default", nil, false)
	require.NoError(t, err)

	completed := runmodel.StatusCompleted
	_, err = store.UpdateRun(ctx, first.RunID, runmodel.UpdateFields{Status: &completed})
	require.NoError(t, err)

	all, err := store.ListRuns(ctx, 0, 0, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.RunID, all[0].RunID)

	onlyCompleted, err := store.ListRuns(ctx, 0, 0, runmodel.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, onlyCompleted, 1)
	assert.Equal(t, first.RunID, onlyCompleted[0].RunID)
}

func TestMemoryStoreCountRunningRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, err := store.CreateRun(ctx, "a", "default", nil, false)
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, "b", "default", nil, false)
	require.NoError(t, err)

	running := runmodel.StatusRunning
	_, err = store.UpdateRun(ctx, a.RunID, runmodel.UpdateFields{Status: &running})
	require.NoError(t, err)

	count, err := store.CountRunningRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
