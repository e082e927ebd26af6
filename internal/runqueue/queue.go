// Package runqueue lets a separate worker pool carry out planner loops
// instead of running them in the HTTP request goroutine. Two backends are
// provided: an in-process bounded pool, and a Redis-backed distributed
// queue for deployments that run workers on separate nodes from the API.
package runqueue

import (
	"context"
)

// Dispatcher runs a planner loop to completion for one run. *planner.Loop
// satisfies this directly.
type Dispatcher interface {
	StartRun(ctx context.Context, runID string)
}

// Job is the payload enqueued for a run. It carries enough of the run's
// creation arguments that a worker node with no access to the original
// HTTP request can still start the loop.
type Job struct {
	RunID     string            `json:"run_id"`
	Goal      string            `json:"goal"`
	ProfileID string            `json:"profile_id"`
	Context   map[string]string `json:"context,omitempty"`
}

// Queue hands a run off to a worker pool. Enqueue returns false when the
// queue is not configured or the enqueue attempt failed, signaling the
// caller to fall back to running the loop in-process rather than dropping
// the run.
type Queue interface {
	Enqueue(ctx context.Context, job Job) bool
	Close() error
}

// Unconfigured is the zero-value Queue: every Enqueue call returns false,
// directing callers to execute runs in-process. Used when no queue backend
// is configured.
var Unconfigured Queue = unconfigured{}

type unconfigured struct{}

func (unconfigured) Enqueue(ctx context.Context, job Job) bool { return false }
func (unconfigured) Close() error                              { return nil }
