package runqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingDispatcher struct {
	mu          sync.Mutex
	started     []string
	inFlightNow int32
	maxInFlight int32
}

func (d *recordingDispatcher) StartRun(ctx context.Context, runID string) {
	n := atomic.AddInt32(&d.inFlightNow, 1)
	for {
		max := atomic.LoadInt32(&d.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&d.maxInFlight, max, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	d.mu.Lock()
	d.started = append(d.started, runID)
	d.mu.Unlock()
	atomic.AddInt32(&d.inFlightNow, -1)
}

func TestInProcessQueueDispatchesAllJobs(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	q := NewInProcessQueue(dispatcher, InProcessConfig{MaxConcurrency: 2}, nil)

	for i := 0; i < 6; i++ {
		ok := q.Enqueue(context.Background(), Job{RunID: string(rune('a' + i))})
		assert.True(t, ok)
	}

	waitForDrain(t, q)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	assert.Len(t, dispatcher.started, 6)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&dispatcher.maxInFlight)), 2)
}

func waitForDrain(t *testing.T, q *InProcessQueue) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not drain in time")
	}
}

func TestInProcessQueueRejectsAfterClose(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	q := NewInProcessQueue(dispatcher, InProcessConfig{MaxConcurrency: 1}, nil)
	waitForDrain(t, q)

	ok := q.Enqueue(context.Background(), Job{RunID: "late"})
	assert.False(t, ok)
}

func TestUnconfiguredQueueAlwaysReturnsFalse(t *testing.T) {
	assert.False(t, Unconfigured.Enqueue(context.Background(), Job{RunID: "x"}))
}
