package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventsink-io/eventsink/internal/event"
)

// fakeQueue feeds workers from a channel, mimicking the blocking-pop
// contract: a bounded wait returning ok=false when nothing arrives.
type fakeQueue struct {
	elements   chan []byte
	dequeueErr atomic.Value
}

func newFakeQueue(capacity int) *fakeQueue {
	return &fakeQueue{elements: make(chan []byte, capacity)}
}

func (q *fakeQueue) Enqueue(_ context.Context, payloads ...[]byte) error {
	for _, p := range payloads {
		q.elements <- p
	}

	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) ([]byte, bool, error) {
	if err, _ := q.dequeueErr.Load().(error); err != nil {
		return nil, false, err
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case payload := <-q.elements:
		return payload, true, nil
	case <-time.After(20 * time.Millisecond):
		return nil, false, nil
	}
}

func (q *fakeQueue) HealthCheck(context.Context) error { return nil }

// fakeStore records stored events and can be set to fail.
type fakeStore struct {
	mu       sync.Mutex
	seen     map[string]int
	storeErr error
	calls    atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string]int)}
}

func (s *fakeStore) StoreEvent(_ context.Context, e *event.Event) (event.Outcome, error) {
	s.calls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storeErr != nil {
		return "", s.storeErr
	}

	key := e.Topic + "/" + e.EventID
	s.seen[key]++

	if s.seen[key] > 1 {
		return event.OutcomeDuplicate, nil
	}

	return event.OutcomeProcessed, nil
}

func (s *fakeStore) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seen[key]
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storeErr = err
}

func testConfig() *Config {
	return &Config{
		Count:           2,
		ErrorBackoff:    10 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}
}

func encodeTestEvent(t *testing.T, topic, eventID string) []byte {
	t.Helper()

	data, err := event.Encode(&event.Event{
		Topic:     topic,
		EventID:   eventID,
		Timestamp: "2026-08-26T10:15:00Z",
		Source:    "web-app-1",
	})
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	return data
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met before deadline")
}

func TestPool_ProcessesQueuedEvents(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue(10)
	store := newFakeStore()

	pool, err := NewPool(testConfig(), queue, store, nil)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}

	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()

	err = queue.Enqueue(ctx,
		encodeTestEvent(t, "order.created", "evt-1"),
		encodeTestEvent(t, "order.created", "evt-2"),
		encodeTestEvent(t, "user.login", "evt-1"),
	)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return store.count("order.created/evt-1") == 1 &&
			store.count("order.created/evt-2") == 1 &&
			store.count("user.login/evt-1") == 1
	})
}

func TestPool_DropsPoisonElements(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue(10)
	store := newFakeStore()

	pool, err := NewPool(testConfig(), queue, store, nil)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}

	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()

	// A poison element between two valid ones must not stall the pool.
	err = queue.Enqueue(ctx,
		encodeTestEvent(t, "order.created", "evt-1"),
		[]byte("{corrupted"),
		encodeTestEvent(t, "order.created", "evt-2"),
	)
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return store.count("order.created/evt-1") == 1 &&
			store.count("order.created/evt-2") == 1
	})
}

func TestPool_RetriesAfterStoreFailure(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue(10)
	store := newFakeStore()
	store.setErr(errors.New("database down"))

	pool, err := NewPool(testConfig(), queue, store, nil)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}

	t.Cleanup(func() { _ = pool.Close() })

	ctx := context.Background()

	if err := queue.Enqueue(ctx, encodeTestEvent(t, "order.created", "evt-1")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.calls.Load() >= 1 })

	// The failed element is consumed, but workers keep serving once the
	// store recovers.
	store.setErr(nil)

	if err := queue.Enqueue(ctx, encodeTestEvent(t, "order.created", "evt-2")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	waitFor(t, time.Second, func() bool { return store.count("order.created/evt-2") == 1 })
}

func TestPool_CloseStopsWorkers(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue(10)
	store := newFakeStore()

	pool, err := NewPool(testConfig(), queue, store, nil)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}

	done := make(chan error, 1)

	go func() { done <- pool.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return before deadline")
	}

	// Idempotent.
	if err := pool.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestNewPool_InvalidArguments(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	queue := newFakeQueue(1)
	store := newFakeStore()

	if _, err := NewPool(nil, queue, store, nil); err == nil {
		t.Error("NewPool() succeeded with nil config")
	}

	if _, err := NewPool(&Config{Count: 0, ErrorBackoff: time.Second}, queue, store, nil); !errors.Is(err, ErrWorkerCountInvalid) {
		t.Errorf("NewPool() error = %v, want ErrWorkerCountInvalid", err)
	}

	if _, err := NewPool(testConfig(), nil, store, nil); err == nil {
		t.Error("NewPool() succeeded with nil queue")
	}

	if _, err := NewPool(testConfig(), queue, nil, nil); err == nil {
		t.Error("NewPool() succeeded with nil store")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("WORKER_COUNT", "")
	t.Setenv("EVENTSINK_WORKER_ERROR_BACKOFF", "")

	cfg := LoadConfig()

	if cfg.Count != defaultWorkerCount {
		t.Errorf("Count = %d, want %d", cfg.Count, defaultWorkerCount)
	}

	if cfg.ErrorBackoff != defaultErrorBackoff {
		t.Errorf("ErrorBackoff = %v, want %v", cfg.ErrorBackoff, defaultErrorBackoff)
	}

	t.Setenv("WORKER_COUNT", "8")

	if cfg := LoadConfig(); cfg.Count != 8 {
		t.Errorf("Count = %d, want 8", cfg.Count)
	}
}
