package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestRecovery_PanicBecomesProblemResponse verifies that a handler panic is
// converted into a 500 problem+json response carrying the correlation ID,
// without leaking the panic value to the client.
func TestRecovery_PanicBecomesProblemResponse(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)

	handler := CorrelationID()(Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("secret internal state")
	})))

	req := httptest.NewRequest(http.MethodGet, "/publish", nil)
	req.Header.Set("X-Correlation-ID", "req-panic-1")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", ct)
	}

	var problem struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Instance      string `json:"instance"`
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}

	if problem.Status != http.StatusInternalServerError {
		t.Errorf("expected problem status 500, got %d", problem.Status)
	}

	if problem.Instance != "/publish" {
		t.Errorf("expected instance %q, got %q", "/publish", problem.Instance)
	}

	if problem.CorrelationID != "req-panic-1" {
		t.Errorf("expected correlation ID %q, got %q", "req-panic-1", problem.CorrelationID)
	}

	if strings.Contains(rec.Body.String(), "secret internal state") {
		t.Error("panic value must not appear in the response body")
	}
}

// TestRecovery_PassthroughWithoutPanic verifies that well-behaved handlers
// are untouched.
func TestRecovery_PassthroughWithoutPanic(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
}
