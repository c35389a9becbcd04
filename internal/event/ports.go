package event

import "context"

// Outcome reports how the store resolved a write.
type Outcome string

const (
	// OutcomeProcessed means the event was seen for the first time and stored.
	OutcomeProcessed Outcome = "processed"

	// OutcomeDuplicate means an event with the same (topic, event_id) was
	// already stored; the write was absorbed without modifying the row.
	OutcomeDuplicate Outcome = "duplicate"
)

// Queue is the buffering port between intake and the worker pool.
//
// Elements are opaque byte slices in FIFO order. Implementations must be
// safe for concurrent use: intake enqueues from request handlers while
// multiple workers dequeue.
type Queue interface {
	// Enqueue appends the payloads to the tail of the queue in argument
	// order. The operation is atomic per call: either all payloads are
	// queued or none are.
	Enqueue(ctx context.Context, payloads ...[]byte) error

	// Dequeue pops the head of the queue, blocking for a bounded interval
	// when the queue is empty. It returns ok=false with a nil error when
	// the interval elapses without an element, which lets callers observe
	// context cancellation between attempts.
	Dequeue(ctx context.Context) (payload []byte, ok bool, err error)

	// HealthCheck verifies the queue backend is reachable.
	HealthCheck(ctx context.Context) error
}

// Store is the persistence port the worker pool writes through.
type Store interface {
	// StoreEvent durably records an event exactly once. Replays of an
	// already-stored (topic, event_id) are absorbed and reported as
	// OutcomeDuplicate; both outcomes update the running counters.
	StoreEvent(ctx context.Context, e *Event) (Outcome, error)
}
