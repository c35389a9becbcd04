package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eventsink-io/eventsink/internal/api/middleware"
	"github.com/eventsink-io/eventsink/internal/eventlog"
)

// handleGetEvents returns recently processed events, newest first.
// GET /events?topic=<optional>&limit=<1..1000, default 100>
//
// Response codes:
//   - 200 OK: JSON array of events ordered by processed_at descending
//   - 422 Unprocessable Entity: limit is not an integer in [1, 1000]
//   - 500 Internal Server Error: store failure
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	filter, problem := parseEventsQuery(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	stored, err := s.store.RecentEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to query recent events",
			slog.String("correlation_id", correlationID),
			slog.String("topic", filter.Topic),
			slog.Int("limit", filter.Limit),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query events"))

		return
	}

	// Empty result is a JSON array, never null
	events := make([]EventResponse, len(stored))
	for i, se := range stored {
		events[i] = EventResponse{
			Topic:       se.Topic,
			EventID:     se.EventID,
			Timestamp:   se.Timestamp.UTC().Format(time.RFC3339),
			Source:      se.Source,
			Payload:     se.Payload,
			ProcessedAt: se.ProcessedAt.UTC().Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(events)
	if err != nil {
		s.logger.Error("Failed to encode events response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode events response"))

		return
	}

	// Only write headers after successful marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write events response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// parseEventsQuery validates the topic and limit query parameters.
func parseEventsQuery(r *http.Request) (eventlog.Filter, *ProblemDetail) {
	filter := eventlog.Filter{
		Topic: r.URL.Query().Get("topic"),
		Limit: eventlog.DefaultLimit,
	}

	rawLimit := r.URL.Query().Get("limit")
	if rawLimit == "" {
		return filter, nil
	}

	limit, err := strconv.Atoi(rawLimit)
	if err != nil {
		return eventlog.Filter{}, UnprocessableEntity("limit must be an integer")
	}

	if limit < 1 || limit > eventlog.MaxLimit {
		return eventlog.Filter{}, UnprocessableEntity(
			"limit must be between 1 and " + strconv.Itoa(eventlog.MaxLimit),
		)
	}

	filter.Limit = limit

	return filter, nil
}
