// Package approval implements the human-in-the-loop gate: a run whose
// planner proposes a tool call on an approval-required tool pauses in
// awaiting_approval until an operator approves or rejects it. Unlike a
// per-call allow/deny/pending policy engine, this gate only ever pauses one
// step at a time, executes the approved call itself, and resumes the same
// run's planner loop from the next step.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/runmodel"
	"github.com/coriolis-labs/agentrun/internal/runstore"
	"github.com/coriolis-labs/agentrun/internal/security"
)

const resultSummaryLimit = 500

// ToolCaller is the subset of *mcp.Manager the gate needs to execute an
// approved call. Its CallTool never raises; failures come back as an
// error-flagged result.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) *mcp.ToolCallResult
}

// Resumer restarts a run's planner loop from its next unexecuted step after
// a decision clears its awaiting_approval state. The planner package
// supplies the concrete implementation; approval depends only on this
// narrow interface so the two packages don't import each other.
type Resumer interface {
	ResumeRun(runID string)
}

// Gate mediates approve/reject decisions against the run store.
type Gate struct {
	store              runstore.Store
	tools              ToolCaller
	resumer            Resumer
	promptInjectFilter bool
}

// New creates a Gate backed by store and tools. Approve calls
// resumer.ResumeRun after executing the tool call; Reject fails the run and
// does not resume it.
// filterEnabled mirrors the planner's own prompt-injection-filter setting so
// tool output flowing back from an approved call is sanitized the same way.
func New(store runstore.Store, tools ToolCaller, resumer Resumer, filterEnabled bool) *Gate {
	return &Gate{store: store, tools: tools, resumer: resumer, promptInjectFilter: filterEnabled}
}

// ErrNotAwaitingApproval is returned when approve/reject is called on a run
// that is not currently paused for approval. Both operations are idempotent
// against a run that already left awaiting_approval: a second approve/reject
// call returns this error rather than corrupting a run that has since moved
// on.
var ErrNotAwaitingApproval = fmt.Errorf("run is not awaiting approval")

// Approve executes the pending tool call — with modifiedArguments in place
// of the planner's original proposal when non-nil — appends the resulting
// step and an audit event, clears the pending call, returns the run to
// running, and resumes the planner loop from the next step.
func (g *Gate) Approve(ctx context.Context, runID string, modifiedArguments map[string]any) (*runmodel.Run, error) {
	run, err := g.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runmodel.StatusAwaitingApproval || run.PendingToolCall == nil {
		return nil, ErrNotAwaitingApproval
	}
	pending := *run.PendingToolCall

	arguments := pending.Arguments
	argumentsModified := false
	if modifiedArguments != nil {
		arguments = modifiedArguments
		argumentsModified = true
	}

	result := g.tools.CallTool(ctx, pending.ServerID, pending.ToolName, arguments)
	resultText := flattenToolResult(result)
	resultText = security.ApplyFilter(resultText, g.promptInjectFilter)
	if len(resultText) > resultSummaryLimit {
		resultText = resultText[:resultSummaryLimit]
	}

	toolCall := runmodel.ToolCall{
		ServerID:      pending.ServerID,
		ToolName:      pending.ToolName,
		Arguments:     arguments,
		ResultSummary: resultText,
		IsError:       result.IsError,
	}
	step := runmodel.Step{
		StepIndex:   pending.StepIndex,
		Kind:        runmodel.StepToolCall,
		ToolCall:    &toolCall,
		RawResponse: "(approved)",
	}

	steps := append(append([]runmodel.Step{}, run.Steps...), step)
	toolCalls := append(append([]runmodel.ToolCall{}, run.ToolCalls...), toolCall)
	running := runmodel.StatusRunning

	updated, err := g.store.UpdateRun(ctx, runID, runmodel.UpdateFields{
		Status:              &running,
		Steps:               &steps,
		ToolCalls:           &toolCalls,
		PendingToolCall:     runmodel.ClearPendingToolCall,
		CheckpointStepIndex: &pending.StepIndex,
	})
	if err != nil {
		return nil, err
	}

	if _, err := g.store.AppendRunEvent(ctx, runID, runmodel.EventStep, step); err != nil {
		return nil, err
	}
	if _, err := g.store.AppendRunEvent(ctx, runID, runmodel.EventStatus, map[string]string{"status": string(running)}); err != nil {
		return nil, err
	}
	if _, err := g.store.AppendRunEvent(ctx, runID, runmodel.EventAudit, map[string]any{
		"action":             "tool_approved",
		"server_id":          pending.ServerID,
		"tool_name":          pending.ToolName,
		"arguments_modified": argumentsModified,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	g.resumer.ResumeRun(runID)
	return updated, nil
}

// Reject clears the pending tool call and transitions the run to failed;
// the planner loop is not resumed.
func (g *Gate) Reject(ctx context.Context, runID, reason string) (*runmodel.Run, error) {
	run, err := g.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != runmodel.StatusAwaitingApproval || run.PendingToolCall == nil {
		return nil, ErrNotAwaitingApproval
	}
	pending := *run.PendingToolCall

	failed := runmodel.StatusFailed
	errMsg := "tool call rejected by operator"
	if reason != "" {
		errMsg = reason
	}

	updated, err := g.store.UpdateRun(ctx, runID, runmodel.UpdateFields{
		Status:          &failed,
		Error:           &errMsg,
		PendingToolCall: runmodel.ClearPendingToolCall,
	})
	if err != nil {
		return nil, err
	}

	if _, err := g.store.AppendRunEvent(ctx, runID, runmodel.EventAudit, map[string]any{
		"action":     "tool_rejected",
		"server_id":  pending.ServerID,
		"tool_name":  pending.ToolName,
		"reason":     errMsg,
		"step_index": pending.StepIndex,
	}); err != nil {
		return nil, err
	}
	if _, err := g.store.AppendRunEvent(ctx, runID, runmodel.EventStatus, map[string]string{"status": string(failed), "error": errMsg}); err != nil {
		return nil, err
	}

	return updated, nil
}

func flattenToolResult(result *mcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	for _, content := range result.Content {
		if content.Type == "text" {
			sb.WriteString(content.Text)
		}
	}
	return sb.String()
}
