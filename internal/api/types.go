package api

import (
	"net/http"

	"github.com/eventsink-io/eventsink/internal/event"
)

type (
	// EventBatch is the request body for POST /publish.
	EventBatch struct {
		Events []event.Event `json:"events"`
	}

	// PublishResponse acknowledges an accepted batch. Acceptance means
	// queued, not stored; processing happens asynchronously.
	PublishResponse struct {
		Status  string `json:"status"`
		Queued  int    `json:"queued"`
		Message string `json:"message"`
	}

	// EventResponse is a stored event as returned by GET /events.
	EventResponse struct {
		Topic       string         `json:"topic"`
		EventID     string         `json:"event_id"`
		Timestamp   string         `json:"timestamp"`
		Source      string         `json:"source"`
		Payload     map[string]any `json:"payload"`
		ProcessedAt string         `json:"processed_at"`
	}

	// StatsResponse is the pipeline counter snapshot for GET /stats.
	StatsResponse struct {
		Received         int64   `json:"received"`
		UniqueProcessed  int64   `json:"unique_processed"`
		DuplicateDropped int64   `json:"duplicate_dropped"`
		Topics           int64   `json:"topics"`
		UptimeSeconds    float64 `json:"uptime_seconds"`
		Status           string  `json:"status"`
	}

	// HealthStatus reports per-dependency health for GET /health.
	HealthStatus struct {
		Status    string `json:"status"`
		Queue     string `json:"queue"`
		Store     string `json:"store"`
		Timestamp string `json:"timestamp"`
	}

	// ServiceInfo describes the service for GET /.
	ServiceInfo struct {
		Service   string            `json:"service"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	Route struct {
		Path    string           // The URL path for this route (e.g., "GET /ping")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)
