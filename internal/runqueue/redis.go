package runqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "agentrun:runqueue"

// RedisConfig configures the distributed backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// QueueKey is the Redis list the queue pushes jobs onto and workers pop
	// from. Defaults to "agentrun:runqueue".
	QueueKey string

	// PopTimeout bounds how long a single BRPop call blocks before looping
	// to recheck the context. Defaults to 5s.
	PopTimeout time.Duration

	// Concurrency bounds how many jobs a single worker pool runs at once.
	// Defaults to 5.
	Concurrency int
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		QueueKey:    defaultQueueKey,
		PopTimeout:  5 * time.Second,
		Concurrency: 5,
	}
}

// RedisQueue pushes run jobs onto a Redis list for consumption by one or
// more worker pool processes, supporting deployments where the API node
// and the planner-loop workers scale independently. The Redis connection is
// established lazily on first Enqueue/Run call and torn down on Close.
type RedisQueue struct {
	cfg    RedisConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *redis.Client
}

// NewRedisQueue constructs a RedisQueue. It does not connect until first use.
func NewRedisQueue(cfg RedisConfig, logger *slog.Logger) *RedisQueue {
	if cfg.QueueKey == "" {
		cfg.QueueKey = defaultQueueKey
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{cfg: cfg, logger: logger.With("component", "runqueue", "backend", "redis")}
}

func (q *RedisQueue) connect() *redis.Client {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.client == nil {
		q.client = redis.NewClient(&redis.Options{
			Addr:     q.cfg.Addr,
			Password: q.cfg.Password,
			DB:       q.cfg.DB,
		})
	}
	return q.client
}

// Enqueue pushes job onto the queue list. It returns false (directing the
// caller to run in-process instead) if the connection or push fails.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) bool {
	client := q.connect()
	payload, err := json.Marshal(job)
	if err != nil {
		q.logger.Error("marshal job failed", "run_id", job.RunID, "error", err)
		return false
	}
	if err := client.LPush(ctx, q.cfg.QueueKey, payload).Err(); err != nil {
		q.logger.Error("enqueue failed", "run_id", job.RunID, "error", err)
		return false
	}
	return true
}

// Run starts a worker loop that pops jobs off the queue and dispatches them,
// bounded by cfg.Concurrency, until ctx is cancelled. Intended to run in a
// dedicated worker process.
func (q *RedisQueue) Run(ctx context.Context, dispatcher Dispatcher) error {
	client := q.connect()
	sem := make(chan struct{}, q.cfg.Concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		result, err := client.BRPop(ctx, q.cfg.PopTimeout, q.cfg.QueueKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}
			q.logger.Error("pop failed", "error", err)
			continue
		}

		// result is [key, value]; BRPop on a single key always returns two elements.
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			q.logger.Error("unmarshal job failed", "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-sem }()
			q.logger.Debug("dispatching run", "run_id", job.RunID)
			dispatcher.StartRun(context.Background(), job.RunID)
		}(job)
	}
}

// Close releases the Redis connection, if one was established.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.client == nil {
		return nil
	}
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	q.client = nil
	return nil
}
