// Package runstore is the durable record of run state, steps, tool calls,
// and the append-only event log every run emits. Every public operation
// opens and closes its own transaction; callers never compose transactions
// across calls.
package runstore

import (
	"context"
	"errors"

	"github.com/coriolis-labs/agentrun/internal/runmodel"
)

// ErrNotFound is returned when a run lookup or update references an unknown
// run_id. GetRunEvents does not return it: an unknown run_id yields no events.
var ErrNotFound = errors.New("run not found")

// Store is the Run Store's public contract.
type Store interface {
	// CreateRun creates a Run in status pending.
	CreateRun(ctx context.Context, goal, profileID string, runCtx map[string]string, streamTokens bool) (*runmodel.Run, error)

	// GetRunByID returns ErrNotFound if no run has that ID.
	GetRunByID(ctx context.Context, runID string) (*runmodel.Run, error)

	// ListRuns returns runs newest-first, optionally filtered by status.
	ListRuns(ctx context.Context, limit, offset int, status runmodel.Status) ([]*runmodel.Run, error)

	// UpdateRun patches the subset of fields set on patch.
	UpdateRun(ctx context.Context, runID string, patch runmodel.UpdateFields) (*runmodel.Run, error)

	// AppendRunEvent durably appends an event, returning it with its assigned EventID.
	AppendRunEvent(ctx context.Context, runID string, eventType runmodel.EventType, payload any) (*runmodel.Event, error)

	// GetRunEvents returns events with EventID > afterID, oldest first, capped at limit.
	GetRunEvents(ctx context.Context, runID string, afterID int64, limit int) ([]*runmodel.Event, error)

	// CountRunningRuns counts runs in status running or awaiting_approval, used by
	// the webhook intake's concurrency cap.
	CountRunningRuns(ctx context.Context) (int, error)
}
