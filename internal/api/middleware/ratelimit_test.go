package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const testClient = "203.0.113.7"

// TestRateLimiter_GlobalLimitEnforced verifies that the global rate limit
// is enforced across all requests regardless of client IP.
func TestRateLimiter_GlobalLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter: 10 RPS global, 50 RPS client (global is more restrictive)
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   10,
		GlobalBurst: 10, // use override value
		ClientRPS:   50,
		MaxClients:  maxClients,
	})
	defer rl.Close()

	// Test: Send 11 requests with the same client, expect 11th to fail
	// Global limit (10) should be hit before client limit (50)
	successCount := 0

	for i := 0; i < 11; i++ {
		if rl.Allow(testClient) {
			successCount++
		}
	}

	// Expect exactly 10 to succeed (global limit)
	if successCount != 10 {
		t.Errorf("expected 10 successful requests, got %d", successCount)
	}
}

// TestRateLimiter_ClientLimitEnforced verifies that per-client rate limits
// are enforced independently from the global limit.
func TestRateLimiter_ClientLimitEnforced(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter: 100 RPS global, 5 RPS client
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		ClientRPS:   5,
		ClientBurst: 5, // use override value
		MaxClients:  maxClients,
	})
	defer rl.Close()

	// Test: Send 6 requests from same client, expect 6th to fail
	successCount := 0

	for i := 0; i < 6; i++ {
		if rl.Allow(testClient) {
			successCount++
		}
	}

	// Expect exactly 5 to succeed (client limit)
	if successCount != 5 {
		t.Errorf("expected 5 successful requests, got %d", successCount)
	}
}

// TestRateLimiter_ClientIsolation verifies that rate limits for different
// clients are tracked independently.
func TestRateLimiter_ClientIsolation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter: 100 RPS global, 5 RPS client
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		ClientRPS:   5,
		ClientBurst: 5, // use override value
		MaxClients:  maxClients,
	})
	defer rl.Close()

	client1 := "198.51.100.1"
	client2 := "198.51.100.2"

	// Client 1 uses all 5 requests
	for i := 0; i < 5; i++ {
		if !rl.Allow(client1) {
			t.Errorf("client1 request %d should succeed", i+1)
		}
	}

	// Client 1's 6th request fails
	if rl.Allow(client1) {
		t.Error("client1 should be rate limited")
	}

	// Client 2 should still have 5 requests available
	for i := 0; i < 5; i++ {
		if !rl.Allow(client2) {
			t.Errorf("client2 request %d should succeed", i+1)
		}
	}
}

// TestRateLimiter_ConcurrentAccess verifies that the rate limiter is safe
// for concurrent use by multiple goroutines.
func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:  100,
		ClientRPS:  50,
		MaxClients: maxClients,
	})
	defer rl.Close()

	// Launch 10 goroutines, each making 10 requests
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func(clientID string) {
			defer wg.Done()

			for j := 0; j < 10; j++ {
				_ = rl.Allow(clientID)
			}
		}(fmt.Sprintf("10.0.0.%d", i))
	}

	wg.Wait()
	// If we get here without panic/race, concurrent access is safe
}

// TestRateLimiter_MemoryCleanup verifies that stale client limiters
// are removed after the idle timeout period.
func TestRateLimiter_MemoryCleanup(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter with short idle timeout for testing
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		ClientRPS:   50,
		IdleTimeout: 100 * time.Millisecond, // Short timeout for test
		MaxClients:  maxClients,
	})
	defer rl.Close()

	// Create client limiter by making a request
	clientID := "192.0.2.50"
	if !rl.Allow(clientID) {
		t.Fatal("first request should succeed")
	}

	// Verify client limiter exists in map
	rl.mu.RLock()
	_, exists := rl.perClient[clientID]
	rl.mu.RUnlock()

	if !exists {
		t.Fatal("client limiter should exist after first request")
	}

	// Wait for idle timeout + buffer
	time.Sleep(150 * time.Millisecond)

	// Manually trigger cleanup (don't wait for ticker)
	rl.cleanup()

	// Verify client limiter was removed
	rl.mu.RLock()
	_, exists = rl.perClient[clientID]
	rl.mu.RUnlock()

	if exists {
		t.Error("stale client limiter should have been removed after cleanup")
	}
}

// TestRateLimiter_CleanupPreservesActiveClients verifies that cleanup
// only removes idle clients and preserves recently active ones.
func TestRateLimiter_CleanupPreservesActiveClients(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		ClientRPS:   50,
		IdleTimeout: 100 * time.Millisecond,
		MaxClients:  maxClients,
	})
	defer rl.Close()

	staleClient := "192.0.2.51"
	activeClient := "192.0.2.52"

	// Create both client limiters
	if !rl.Allow(staleClient) {
		t.Fatal("stale client first request should succeed")
	}

	if !rl.Allow(activeClient) {
		t.Fatal("active client first request should succeed")
	}

	// Wait for stale client to exceed idle timeout
	time.Sleep(150 * time.Millisecond)

	// Keep active client active (update lastAccess)
	if !rl.Allow(activeClient) {
		t.Fatal("active client should still be allowed")
	}

	// Trigger cleanup
	rl.cleanup()

	// Verify stale client was removed
	rl.mu.RLock()
	_, staleExists := rl.perClient[staleClient]
	_, activeExists := rl.perClient[activeClient]
	rl.mu.RUnlock()

	if staleExists {
		t.Error("stale client should have been removed")
	}

	if !activeExists {
		t.Error("active client should have been preserved")
	}
}

// TestRateLimitMiddleware_RequestAllowed verifies that requests under
// the rate limit are allowed to proceed to the next handler.
func TestRateLimitMiddleware_RequestAllowed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter with high limits (request will not be blocked)
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:  100,
		ClientRPS:  50,
		MaxClients: maxClients,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	// Create test handler that tracks if it was called
	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	// Wrap with rate limit middleware
	handler := RateLimit(rl, logger)(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	// Verify next handler was called
	if !nextCalled {
		t.Error("expected next handler to be called when rate limit not exceeded")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

// TestRateLimitMiddleware_RequestBlocked verifies that requests exceeding
// the rate limit are rejected with 429 status and an RFC 7807 body.
func TestRateLimitMiddleware_RequestBlocked(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// Create limiter with very low limits (requests will be blocked)
	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   1,
		GlobalBurst: 1,
		ClientRPS:   1,
		ClientBurst: 1,
		MaxClients:  maxClients,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)

	// Create test handler that should NOT be called
	nextCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true

		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimit(rl, logger)(nextHandler)

	// Make first request (should succeed)
	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)

	if rec1.Code != http.StatusOK {
		t.Errorf("first request should succeed, got status %d", rec1.Code)
	}

	// Make second request immediately (should be rate limited)
	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec2 := httptest.NewRecorder()
	nextCalled = false // Reset flag

	handler.ServeHTTP(rec2, req2)

	// Verify next handler was NOT called
	if nextCalled {
		t.Error("expected next handler NOT to be called when rate limited")
	}

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec2.Code)
	}

	if ct := rec2.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", ct)
	}

	var problem map[string]interface{}
	if err := json.Unmarshal(rec2.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}

	if problem["title"] != "Too Many Requests" {
		t.Errorf("expected title %q, got %v", "Too Many Requests", problem["title"])
	}

	if problem["status"] != float64(http.StatusTooManyRequests) {
		t.Errorf("expected status field 429, got %v", problem["status"])
	}
}

// TestRateLimitMiddleware_ClientKeyStripsPort verifies that requests from
// the same host on different source ports share a rate limit bucket.
func TestRateLimitMiddleware_ClientKeyStripsPort(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	rl := NewInMemoryRateLimiter(&Config{
		GlobalRPS:   100,
		ClientRPS:   2,
		ClientBurst: 2,
		MaxClients:  maxClients,
	})
	defer rl.Close()

	logger := slog.New(slog.DiscardHandler)
	handler := RateLimit(rl, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Same host, different ports: all should count against one bucket
	ports := []string{"50001", "50002", "50003"}
	codes := make([]int, 0, len(ports))

	for _, port := range ports {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.0.2.99:" + port
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two requests should succeed, got %v", codes)
	}

	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request from same host should be rate limited, got %d", codes[2])
	}
}

// TestLoadConfig_Defaults verifies that middleware config defaults apply
// when no environment variables are set.
func TestLoadConfig_Defaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := LoadConfig()

	if cfg.GlobalRPS != defaultGlobalRPS {
		t.Errorf("expected global RPS %d, got %d", defaultGlobalRPS, cfg.GlobalRPS)
	}

	if cfg.ClientRPS != defaultClientRPS {
		t.Errorf("expected client RPS %d, got %d", defaultClientRPS, cfg.ClientRPS)
	}

	if cfg.MaxClients != maxClients {
		t.Errorf("expected max clients %d, got %d", maxClients, cfg.MaxClients)
	}

	if !cfg.Enabled {
		t.Error("expected rate limiting enabled by default")
	}
}
