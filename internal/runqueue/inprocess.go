package runqueue

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// InProcessConfig configures the in-process pool.
type InProcessConfig struct {
	// MaxConcurrency bounds how many planner loops run at once. Defaults to 5.
	MaxConcurrency int
}

// DefaultInProcessConfig returns an InProcessConfig with sensible defaults.
func DefaultInProcessConfig() InProcessConfig {
	return InProcessConfig{MaxConcurrency: 5}
}

// InProcessQueue dispatches enqueued runs to goroutines bounded by a
// weighted semaphore, without any external broker.
type InProcessQueue struct {
	dispatcher Dispatcher
	sem        *semaphore.Weighted
	logger     *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewInProcessQueue constructs a pool that dispatches to dispatcher.
func NewInProcessQueue(dispatcher Dispatcher, cfg InProcessConfig, logger *slog.Logger) *InProcessQueue {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessQueue{
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger:     logger.With("component", "runqueue", "backend", "inprocess"),
	}
}

// Enqueue reports success unless the queue has been closed: the run is
// handed to a pool goroutine that blocks only on the concurrency semaphore,
// never on the caller.
func (q *InProcessQueue) Enqueue(ctx context.Context, job Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer q.sem.Release(1)

		q.logger.Debug("dispatching run", "run_id", job.RunID)
		q.dispatcher.StartRun(context.Background(), job.RunID)
	}()
	return true
}

// Close stops accepting new work and waits for in-flight loops to finish.
func (q *InProcessQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}
