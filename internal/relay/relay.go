// Package relay consumes events from Kafka and feeds them into the intake
// queue, giving broker-based producers the same admission path as HTTP
// publishers. Invalid messages are committed and skipped; enqueue failures
// are left uncommitted so the broker redelivers them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/eventsink-io/eventsink/internal/event"
)

const (
	fetchMinBytes = 1
	fetchMaxBytes = 1 << 20 // 1 MB
	fetchMaxWait  = 500 * time.Millisecond

	commitTimeout = 2 * time.Second
	closeTimeout  = 5 * time.Second
)

var (
	// ErrRelayDisabled is returned when constructing a relay from a config
	// with no brokers.
	ErrRelayDisabled = errors.New("relay is disabled: no kafka brokers configured")

	// ErrNilQueue indicates a missing queue dependency.
	ErrNilQueue = errors.New("queue cannot be nil")

	// ErrCloseTimeout is returned when the consumer loop does not stop
	// within the close timeout.
	ErrCloseTimeout = errors.New("relay close timed out")
)

// Relay is a Kafka consumer-group reader that validates and enqueues events.
type Relay struct {
	reader    *kafka.Reader
	queue     event.Queue
	validator *event.Validator
	logger    *slog.Logger
	config    *Config

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Relay and starts its consumer loop.
func New(cfg *Config, queue event.Queue, logger *slog.Logger) (*Relay, error) {
	if cfg == nil || !cfg.Enabled() {
		return nil, ErrRelayDisabled
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay configuration: %w", err)
	}

	if queue == nil {
		return nil, ErrNilQueue
	}

	if logger == nil {
		logger = slog.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: fetchMinBytes,
		MaxBytes: fetchMaxBytes,
		MaxWait:  fetchMaxWait,
	})

	ctx, cancel := context.WithCancel(context.Background())

	r := &Relay{
		reader:    reader,
		queue:     queue,
		validator: event.NewValidator(),
		logger:    logger.With(slog.String("component", "relay")),
		config:    cfg,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go r.run(ctx)

	r.logger.Info("kafka relay started",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
		slog.String("group_id", cfg.GroupID),
	)

	return r, nil
}

// run is the consumer loop. It exits when the relay's context is cancelled.
func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			r.logger.Error("failed to fetch kafka message",
				slog.String("error", err.Error()),
			)
			r.backoff(ctx)

			continue
		}

		r.handleMessage(ctx, msg)
	}
}

// handleMessage validates one Kafka message and routes it onto the queue.
//
// Commit semantics carry the retry behavior: malformed and invalid messages
// are committed so they are never redelivered, while enqueue failures leave
// the offset uncommitted for broker redelivery.
func (r *Relay) handleMessage(ctx context.Context, msg kafka.Message) {
	e, err := event.Decode(msg.Value)
	if err != nil {
		r.logger.Warn("skipping undecodable kafka message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		r.commit(msg)

		return
	}

	if err := r.validator.ValidateEvent(e); err != nil {
		r.logger.Warn("skipping invalid kafka message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		r.commit(msg)

		return
	}

	e.Normalize()

	payload, err := event.Encode(e)
	if err != nil {
		r.logger.Warn("skipping unencodable kafka message",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		r.commit(msg)

		return
	}

	if err := r.queue.Enqueue(ctx, payload); err != nil {
		r.logger.Error("failed to enqueue kafka event, leaving offset uncommitted",
			slog.String("topic", e.Topic),
			slog.String("event_id", e.EventID),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		r.backoff(ctx)

		return
	}

	r.logger.Debug("kafka event enqueued",
		slog.String("topic", e.Topic),
		slog.String("event_id", e.EventID),
	)
	r.commit(msg)
}

// commit acknowledges a message offset with a bounded timeout.
func (r *Relay) commit(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if err := r.reader.CommitMessages(ctx, msg); err != nil {
		r.logger.Error("failed to commit kafka offset",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// backoff sleeps the error backoff, returning early on cancellation.
func (r *Relay) backoff(ctx context.Context) {
	timer := time.NewTimer(r.config.ErrorBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Close stops the consumer loop and closes the Kafka reader. Idempotent.
func (r *Relay) Close() error {
	var err error

	r.closeOnce.Do(func() {
		r.cancel()

		select {
		case <-r.done:
		case <-time.After(closeTimeout):
			err = ErrCloseTimeout
		}

		if closeErr := r.reader.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close kafka reader: %w", closeErr)
		}

		r.logger.Info("kafka relay stopped")
	})

	return err
}
