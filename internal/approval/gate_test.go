package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/runstore"
)

type recordingResumer struct {
	resumed []string
}

func (r *recordingResumer) ResumeRun(runID string) {
	r.resumed = append(r.resumed, runID)
}

type fakeToolCaller struct {
	lastArguments map[string]any
	result        *mcp.ToolCallResult
}

func (f *fakeToolCaller) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) *mcp.ToolCallResult {
	f.lastArguments = arguments
	if f.result != nil {
		return f.result
	}
	return &mcp.ToolCallResult{Content: []mcp.ToolResultContent{{Type: "text", Text: "nginx restarted"}}}
}

func setupAwaitingRun(t *testing.T, store *runstore.MemoryStore) *runmodel.Run {
	t.Helper()
	ctx := context.Background()
	run, err := store.CreateRun(ctx, "restart nginx", "ops", nil, false)
	require.NoError(t, err)

	awaiting := runmodel.StatusAwaitingApproval
	pending := &runmodel.PendingToolCall{
		ServerID:  "ansible",
		ToolName:  "restart",
		Arguments: map[string]any{"service": "nginx", "host": "host1"},
		StepIndex: 1,
	}
	updated, err := store.UpdateRun(ctx, run.RunID, runmodel.UpdateFields{
		Status:          &awaiting,
		PendingToolCall: pending,
	})
	require.NoError(t, err)
	return updated
}

func TestGateApproveUnmodifiedArguments(t *testing.T) {
	store := runstore.NewMemoryStore()
	resumer := &recordingResumer{}
	caller := &fakeToolCaller{}
	gate := New(store, caller, resumer, true)

	run := setupAwaitingRun(t, store)

	updated, err := gate.Approve(context.Background(), run.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusRunning, updated.Status)
	assert.Nil(t, updated.PendingToolCall)
	assert.Equal(t, []string{run.RunID}, resumer.resumed)
	assert.Equal(t, "nginx", caller.lastArguments["service"])
	require.Len(t, updated.ToolCalls, 1)
	assert.Equal(t, "nginx restarted", updated.ToolCalls[0].ResultSummary)

	events, err := store.GetRunEvents(context.Background(), run.RunID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, runmodel.EventStep, events[0].EventType)
	assert.Equal(t, runmodel.EventStatus, events[1].EventType)
	assert.Equal(t, runmodel.EventAudit, events[2].EventType)
	payload := events[2].Payload.(map[string]any)
	assert.Equal(t, false, payload["arguments_modified"])
}

func TestGateApproveModifiedArguments(t *testing.T) {
	store := runstore.NewMemoryStore()
	resumer := &recordingResumer{}
	caller := &fakeToolCaller{}
	gate := New(store, caller, resumer, true)

	run := setupAwaitingRun(t, store)
	modified := map[string]any{"service": "nginx", "host": "host1", "force": false}

	_, err := gate.Approve(context.Background(), run.RunID, modified)
	require.NoError(t, err)
	assert.Equal(t, false, caller.lastArguments["force"])

	events, err := store.GetRunEvents(context.Background(), run.RunID, 0, 0)
	require.NoError(t, err)
	payload := events[2].Payload.(map[string]any)
	assert.Equal(t, true, payload["arguments_modified"])
}

func TestGateRejectTransitionsToFailed(t *testing.T) {
	store := runstore.NewMemoryStore()
	resumer := &recordingResumer{}
	gate := New(store, &fakeToolCaller{}, resumer, true)

	run := setupAwaitingRun(t, store)

	updated, err := gate.Reject(context.Background(), run.RunID, "")
	require.NoError(t, err)
	assert.Equal(t, runmodel.StatusFailed, updated.Status)
	assert.Equal(t, "tool call rejected by operator", updated.Error)
	assert.Empty(t, resumer.resumed)
}

func TestGateApproveNotAwaitingApproval(t *testing.T) {
	store := runstore.NewMemoryStore()
	gate := New(store, &fakeToolCaller{}, &recordingResumer{}, true)

	run, err := store.CreateRun(context.Background(), "goal", "default", nil, false)
	require.NoError(t, err)

	_, err = gate.Approve(context.Background(), run.RunID, nil)
	assert.ErrorIs(t, err, ErrNotAwaitingApproval)
}
