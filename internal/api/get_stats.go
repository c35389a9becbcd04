package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/eventsink-io/eventsink/internal/api/middleware"
)

// handleGetStats returns the pipeline counter snapshot.
// GET /stats
//
// Response codes:
//   - 200 OK: counters plus server uptime
//   - 500 Internal Server Error: store failure (including a missing
//     stats singleton, which means migrations have not run)
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to query pipeline stats",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to query stats"))

		return
	}

	var uptime float64
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Seconds()
	}

	response := StatsResponse{
		Received:         stats.Received,
		UniqueProcessed:  stats.UniqueProcessed,
		DuplicateDropped: stats.DuplicateDropped,
		Topics:           stats.Topics,
		UptimeSeconds:    uptime,
		Status:           "healthy",
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to encode stats response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode stats response"))

		return
	}

	// Only write headers after successful marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write stats response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}
