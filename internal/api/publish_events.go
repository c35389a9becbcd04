package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eventsink-io/eventsink/internal/api/middleware"
	"github.com/eventsink-io/eventsink/internal/event"
)

// handlePublishEvents handles event batch intake.
// POST /publish - Queue a batch of events for asynchronous processing
//
// Request validation (returns 4xx):
//   - 405 Method Not Allowed: Only POST is allowed (handled by route pattern)
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body or invalid JSON
//   - 422 Unprocessable Entity: Empty batch or any invalid event
//
// Success response:
//   - 202 Accepted: The whole batch was queued. Acceptance means queued,
//     not stored; deduplication happens downstream in the writer.
//
// Admission is all-or-nothing: one invalid event rejects the batch and
// nothing is queued.
func (s *Server) handlePublishEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	correlationID := middleware.GetCorrelationID(r.Context())

	// Content-Type validation
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	// Parse and validate request
	batch, problem := s.parsePublishRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	// Normalize before encoding so every queued element carries a payload object
	for i := range batch.Events {
		batch.Events[i].Normalize()
	}

	// Encode all events before touching the queue (all-or-nothing admission)
	payloads := make([][]byte, len(batch.Events))

	for i := range batch.Events {
		data, err := event.Encode(&batch.Events[i])
		if err != nil {
			s.logger.Error("Failed to encode event for queueing",
				slog.String("correlation_id", correlationID),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)

			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode events"))

			return
		}

		payloads[i] = data
	}

	if err := s.queue.Enqueue(r.Context(), payloads...); err != nil {
		s.logger.Error("Failed to enqueue event batch",
			slog.String("correlation_id", correlationID),
			slog.Int("batch_size", len(payloads)),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to queue events"))

		return
	}

	response := PublishResponse{
		Status:  "accepted",
		Queued:  len(batch.Events),
		Message: "Events queued for processing",
	}

	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to encode publish response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	// Only write headers after successful marshaling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write publish response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		return
	}

	duration := time.Since(startTime)
	s.logger.Info("Event batch queued",
		slog.String("correlation_id", correlationID),
		slog.Int("queued", response.Queued),
		slog.Duration("duration", duration),
	)
}

// parsePublishRequest parses and validates the HTTP request body.
// Returns the decoded batch or a ProblemDetail if parsing or validation fails.
//
// Validates:
//   - Request size (optimization for known oversized requests)
//   - Empty body check (better UX than JSON decode error)
//   - JSON parsing
//   - Per-event field validation (all-or-nothing)
func (s *Server) parsePublishRequest(r *http.Request) (*EventBatch, *ProblemDetail) {
	// Request size check (optimization: fail fast for known oversized requests)
	// Allow unknown sizes (-1) or 0 (empty, caught later)
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	// Empty body check (better UX: specific error message)
	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var batch EventBatch

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&batch); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	if err := s.validator.ValidateBatch(batch.Events); err != nil {
		if errors.Is(err, event.ErrEmptyBatch) {
			return nil, UnprocessableEntity("Event batch cannot be empty")
		}

		return nil, UnprocessableEntity(err.Error())
	}

	return &batch, nil
}
