// Package queue implements the FIFO event queue on Redis.
//
// Intake pushes serialized events onto the tail of a Redis list and the
// worker pool pops them from the head, which gives strict arrival order and
// lets the queue absorb bursts while workers drain at their own pace.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventsink-io/eventsink/internal/event"
)

// Compile-time check that Queue satisfies the buffering port.
var _ event.Queue = (*Queue)(nil)

// ErrQueueUnavailable is returned when the Redis backend cannot be reached.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Queue is a Redis list holding serialized events in FIFO order.
type Queue struct {
	client     *redis.Client
	config     *Config
	logger     *slog.Logger
	popTimeout time.Duration
}

// New creates a Queue from config. The underlying client connects lazily;
// call HealthCheck to verify reachability before serving traffic.
func New(cfg *Config, logger *slog.Logger) (*Queue, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid queue config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(cfg.redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &Queue{
		client:     redis.NewClient(opts),
		config:     cfg,
		logger:     logger,
		popTimeout: cfg.PopTimeout,
	}, nil
}

// Enqueue appends the payloads to the tail of the queue in argument order.
// All pushes run in a single pipeline so a batch is queued atomically.
func (q *Queue) Enqueue(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	for _, payload := range payloads {
		pipe.RPush(ctx, q.config.QueueName, payload)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: enqueue failed: %w", ErrQueueUnavailable, err)
	}

	return nil
}

// Dequeue pops the head of the queue, blocking up to the configured pop
// timeout when the queue is empty. An elapsed timeout is not an error; it
// returns ok=false so the caller can check its context and try again.
func (q *Queue) Dequeue(ctx context.Context) ([]byte, bool, error) {
	result, err := q.client.BLPop(ctx, q.popTimeout, q.config.QueueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("%w: dequeue failed: %w", ErrQueueUnavailable, err)
	}

	// BLPOP returns [key, value].
	if len(result) != 2 {
		return nil, false, fmt.Errorf("%w: unexpected BLPOP reply of length %d", ErrQueueUnavailable, len(result))
	}

	return []byte(result[1]), true, nil
}

// Length returns the number of elements currently queued.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.config.QueueName).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: length failed: %w", ErrQueueUnavailable, err)
	}

	return n, nil
}

// HealthCheck verifies the Redis backend responds to PING.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	return nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close queue client: %w", err)
	}

	q.logger.Info("queue closed", slog.String("queue", q.config.QueueName))

	return nil
}
