// Package worker drains the event queue into the store.
//
// The pool runs a fixed number of goroutines that each loop on dequeue,
// decode, store. Deduplication lives entirely in the store, so workers need
// no coordination beyond the queue itself and the pool scales by count
// alone.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventsink-io/eventsink/internal/event"
)

// Pool owns the worker goroutines between the queue and the store.
//
// Workers start at construction and run until Close. A worker never dies on
// error: undecodable elements are dropped as poison, and failed writes are
// retried after a backoff by whichever worker picks the element up next.
type Pool struct {
	queue  event.Queue
	store  event.Store
	logger *slog.Logger
	config *Config

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool creates a Pool and starts its workers.
func NewPool(cfg *Config, queue event.Queue, store event.Store, logger *slog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}

	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}

	if store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		queue:  queue,
		store:  store,
		logger: logger.With(slog.String("component", "worker_pool")),
		config: cfg,
		cancel: cancel,
	}

	p.wg.Add(cfg.Count)

	for i := 0; i < cfg.Count; i++ {
		go p.run(ctx, i)
	}

	p.logger.Info("worker pool started", slog.Int("workers", cfg.Count))

	return p, nil
}

// run is the worker loop. It exits only when ctx is cancelled; every other
// failure is logged and the loop continues.
func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With(slog.Int("worker", id))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")

			return
		default:
		}

		payload, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("worker stopping")

				return
			}

			logger.Error("dequeue failed", "error", err)
			p.backoff(ctx)

			continue
		}

		if !ok {
			// Queue empty; loop back to observe cancellation.
			continue
		}

		e, err := event.Decode(payload)
		if err != nil {
			// Poison element. Intake validates before enqueueing, so this
			// payload was corrupted in transit; drop it and keep draining.
			logger.Warn("dropping undecodable queue element",
				"error", err,
				"payload_bytes", len(payload),
			)

			continue
		}

		outcome, err := p.store.StoreEvent(ctx, e)
		if err != nil {
			logger.Error("event write failed",
				"topic", e.Topic,
				"event_id", e.EventID,
				"error", err,
			)
			p.backoff(ctx)

			continue
		}

		logger.Debug("event processed",
			"topic", e.Topic,
			"event_id", e.EventID,
			"outcome", string(outcome),
		)
	}
}

// backoff pauses after a failure, waking early on cancellation.
func (p *Pool) backoff(ctx context.Context) {
	timer := time.NewTimer(p.config.ErrorBackoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Close stops the workers and waits up to the configured shutdown timeout
// for in-flight events to finish. Safe to call more than once.
func (p *Pool) Close() error {
	var err error

	p.closeOnce.Do(func() {
		p.cancel()

		done := make(chan struct{})

		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped")
		case <-time.After(p.config.ShutdownTimeout):
			err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.ShutdownTimeout)
			p.logger.Warn("worker pool shutdown timed out")
		}
	})

	return err
}
