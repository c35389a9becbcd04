// Package eventlog provides the read-side port over stored events: recently
// processed events and the running pipeline counters. The write side lives in
// the event package; this split keeps the API server off the write path.
package eventlog

import (
	"context"
	"time"
)

const (
	// DefaultLimit is applied when a query does not name a limit.
	DefaultLimit = 100

	// MaxLimit bounds how many events a single query may return.
	MaxLimit = 1000
)

type (
	// StoredEvent is a processed event as persisted, including the
	// pipeline-assigned processing time.
	StoredEvent struct {
		Topic       string
		EventID     string
		Timestamp   time.Time
		Source      string
		Payload     map[string]any
		ProcessedAt time.Time
	}

	// Stats is a snapshot of the lifetime pipeline counters.
	//
	// Received counts admitted events, UniqueProcessed first-time stores,
	// and DuplicateDropped absorbed replays. Received converges on the sum
	// of the other two once the queue drains.
	Stats struct {
		Received         int64
		UniqueProcessed  int64
		DuplicateDropped int64
		Topics           int64
		UpdatedAt        time.Time
	}

	// Filter narrows a RecentEvents query. A zero Topic matches all topics;
	// a zero Limit falls back to DefaultLimit.
	Filter struct {
		Topic string
		Limit int
	}
)

// Store is the read-side port over persisted events.
type Store interface {
	// RecentEvents returns stored events ordered by processing time,
	// newest first.
	RecentEvents(ctx context.Context, filter Filter) ([]StoredEvent, error)

	// Stats returns the current counter snapshot.
	Stats(ctx context.Context) (*Stats, error)

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
}
