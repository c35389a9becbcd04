package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventsink-io/eventsink/internal/config"
	"github.com/eventsink-io/eventsink/internal/event"
	"github.com/eventsink-io/eventsink/internal/queue"
	"github.com/eventsink-io/eventsink/internal/storage"
	"github.com/eventsink-io/eventsink/internal/worker"
)

// pipelineHarness wires the full intake path against real backends:
// HTTP handlers -> Redis-compatible queue -> worker pool -> Postgres store.
type pipelineHarness struct {
	handler http.Handler
	queue   *queue.Queue
	pool    *worker.Pool
}

func setupPipeline(t *testing.T) *pipelineHarness {
	t.Helper()

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	testDB := config.SetupTestDatabase(ctx, t)
	conn := &storage.Connection{DB: testDB.Connection}

	store, err := storage.NewEventStore(conn)
	require.NoError(t, err)
	require.NoError(t, store.EnsureStatsSingleton(ctx))

	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("EVENTSINK_QUEUE_POP_TIMEOUT", "100ms")

	q, err := queue.New(queue.LoadConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	pool, err := worker.NewPool(&worker.Config{
		Count:           2,
		ErrorBackoff:    50 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}, q, store, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	server := &Server{
		logger:    logger,
		config:    &ServerConfig{MaxRequestSize: 1 << 20},
		queue:     q,
		store:     store,
		validator: event.NewValidator(),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	return &pipelineHarness{handler: mux, queue: q, pool: pool}
}

func (h *pipelineHarness) publish(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.handler.ServeHTTP(rec, req)

	return rec
}

func (h *pipelineHarness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()

	h.handler.ServeHTTP(rec, req)

	return rec
}

// waitForStats polls /stats until the received counter reaches want or the
// deadline passes.
func (h *pipelineHarness) waitForStats(t *testing.T, want int64) StatsResponse {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	var stats StatsResponse

	for time.Now().Before(deadline) {
		rec := h.get(t, "/stats")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))

		if stats.Received >= want {
			return stats
		}

		time.Sleep(50 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d received events, last stats: %+v", want, stats)

	return stats
}

func eventJSON(topic, eventID, timestamp string) map[string]any {
	return map[string]any{
		"topic":     topic,
		"event_id":  eventID,
		"timestamp": timestamp,
		"source":    "integration-test",
		"payload":   map[string]any{"k": "v"},
	}
}

func batchJSON(t *testing.T, events ...map[string]any) string {
	t.Helper()

	body, err := json.Marshal(map[string]any{"events": events})
	require.NoError(t, err)

	return string(body)
}

// TestPipelineIntegration_PublishToStore publishes a batch with duplicates
// and verifies deduplicated persistence end to end.
func TestPipelineIntegration_PublishToStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h := setupPipeline(t)

	// Three distinct events plus one replayed pair member
	body := batchJSON(t,
		eventJSON("order.created", "evt-1", "2026-08-26T10:00:00Z"),
		eventJSON("order.created", "evt-2", "2026-08-26T10:00:01Z"),
		eventJSON("payment.settled", "evt-1", "2026-08-26T10:00:02Z"),
		eventJSON("order.created", "evt-1", "2026-08-26T10:00:03Z"),
	)

	rec := h.publish(t, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var response PublishResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, 4, response.Queued)

	stats := h.waitForStats(t, 4)
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(3), stats.UniqueProcessed)
	assert.Equal(t, int64(1), stats.DuplicateDropped)
	assert.Equal(t, int64(2), stats.Topics)

	// Read side: the replay must not have produced a fourth row
	eventsRec := h.get(t, "/events")
	require.Equal(t, http.StatusOK, eventsRec.Code)

	var events []EventResponse
	require.NoError(t, json.Unmarshal(eventsRec.Body.Bytes(), &events))
	assert.Len(t, events, 3)

	// Topic filter
	filteredRec := h.get(t, "/events?topic=payment.settled")
	require.Equal(t, http.StatusOK, filteredRec.Code)

	var filtered []EventResponse
	require.NoError(t, json.Unmarshal(filteredRec.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "evt-1", filtered[0].EventID)
}

// TestPipelineIntegration_ReplayedBatchConverges verifies that republishing
// an identical batch only moves the received and duplicate counters.
func TestPipelineIntegration_ReplayedBatchConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h := setupPipeline(t)

	body := batchJSON(t,
		eventJSON("user.signed_up", "evt-10", "2026-08-26T11:00:00Z"),
		eventJSON("user.signed_up", "evt-11", "2026-08-26T11:00:01Z"),
	)

	require.Equal(t, http.StatusAccepted, h.publish(t, body).Code)
	h.waitForStats(t, 2)

	// Publisher retry: identical batch again
	require.Equal(t, http.StatusAccepted, h.publish(t, body).Code)
	stats := h.waitForStats(t, 4)

	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(2), stats.UniqueProcessed)
	assert.Equal(t, int64(2), stats.DuplicateDropped)

	var events []EventResponse

	eventsRec := h.get(t, "/events")
	require.Equal(t, http.StatusOK, eventsRec.Code)
	require.NoError(t, json.Unmarshal(eventsRec.Body.Bytes(), &events))
	assert.Len(t, events, 2)
}

// TestPipelineIntegration_Health verifies the health endpoint against live
// backends, then against a stopped queue.
func TestPipelineIntegration_Health(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	h := setupPipeline(t)

	rec := h.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Queue)
	assert.Equal(t, "connected", health.Store)
}
