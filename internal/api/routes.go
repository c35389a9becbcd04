// Package api provides HTTP API server implementation for the eventsink service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eventsink-io/eventsink/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	contentTypeProblemJSON = "application/problem+json"

	serviceName    = "eventsink"
	serviceVersion = "v1.0.0" // TODO: inject version at build time
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerRoutes(
		mux,
		Route{"POST /publish", s.handlePublishEvents},
		Route{"GET /events", s.handleGetEvents},
		Route{"GET /stats", s.handleGetStats},
		Route{"GET /health", s.handleHealth}, // Per-dependency health check
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /{$}", s.handleRoot},      // Service info (exact root match only)
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)
}

// registerRoutes registers HTTP routes declaratively with the mux.
func (s *Server) registerRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Eventsink-Version", serviceVersion)
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("pong"))
	if err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth reports per-dependency health for the queue and the store.
//
// Response codes:
//   - 200 OK: Both the queue and the store are reachable
//   - 503 Service Unavailable: Either dependency is unreachable
//
// Each dependency is checked with its own 2-second timeout so one hung
// backend cannot mask the other's status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	health := HealthStatus{
		Status:    "healthy",
		Queue:     "connected",
		Store:     "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if err := s.checkDependency(r.Context(), s.queue.HealthCheck); err != nil {
		health.Queue = "error: " + err.Error()
		health.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable

		s.logger.Error("Queue health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.checkDependency(r.Context(), s.store.HealthCheck); err != nil {
		health.Store = "error: " + err.Error()
		health.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable

		s.logger.Error("Store health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	// Only write headers after successful marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// checkDependency runs a single dependency health check with a bounded timeout.
func (s *Server) checkDependency(ctx context.Context, check func(context.Context) error) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	return check(checkCtx)
}

// handleRoot returns service metadata and the endpoint map.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	info := ServiceInfo{
		Service: serviceName,
		Version: serviceVersion,
		Endpoints: map[string]string{
			"POST /publish": "Queue a batch of events for processing",
			"GET /events":   "Recently processed events, newest first",
			"GET /stats":    "Pipeline counters and uptime",
			"GET /health":   "Queue and store health",
			"GET /ping":     "Liveness probe",
		},
	}

	data, err := json.Marshal(info)
	if err != nil {
		s.logger.Error("Failed to encode service info response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode service info response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write service info response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
