// Package event provides the event domain model, validation, and the ports
// the ingestion pipeline depends on for queueing and persistence.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Event is a single published event - Domain Model.
	//
	// The JSON shape below is the wire contract at every boundary: the intake
	// request body, the serialized queue element, and the read API response all
	// carry events in this form. Two events are the same if and only if they
	// share (Topic, EventID); every other field is descriptive and ignored for
	// deduplication.
	Event struct {
		// Topic is the event stream name (e.g., "order.created").
		// Required, at most 255 characters.
		Topic string `json:"topic"`

		// EventID uniquely identifies the event within its topic. Publishers
		// reuse the same EventID when retrying, which is what makes
		// deduplication possible. Required, at most 255 characters.
		EventID string `json:"event_id"`

		// Timestamp is when the event occurred, as an RFC 3339 string
		// (a trailing "Z" is accepted as UTC). Producer-assigned; arrival
		// order is tracked separately as processed_at.
		Timestamp string `json:"timestamp"`

		// Source identifies the emitting system (e.g., "web-app-1").
		// Required, at most 255 characters.
		Source string `json:"source"`

		// Payload is an arbitrary JSON object, possibly empty. The pipeline
		// treats it as opaque: it is stored and returned losslessly but never
		// inspected.
		Payload map[string]any `json:"payload"`
	}
)

// Time parses the event timestamp. Validation guarantees this succeeds for
// events that passed intake; a failure here indicates corruption.
func (e *Event) Time() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, e.Timestamp)
	}

	return ts, nil
}

// Normalize replaces a nil payload with an empty object so that every
// serialized form of the event carries a JSON object, never null.
func (e *Event) Normalize() {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
}

// Encode serializes an event to its compact JSON queue form.
func Encode(e *Event) ([]byte, error) {
	if e == nil {
		return nil, ErrNilEvent
	}

	e.Normalize()

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	return data, nil
}

// Decode deserializes a queue element back into an Event.
//
// Intake validates events before they are enqueued, so a decode failure means
// the element was corrupted after admission; callers treat it as a poison
// message and drop it.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	e.Normalize()

	return &e, nil
}
