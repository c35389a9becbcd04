package event

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// maxFieldLength bounds topic, event_id, and source, matching the
// VARCHAR(255) columns they are persisted into. Counted in Unicode
// characters, not bytes.
const maxFieldLength = 255

// Sentinel errors for validation failures.
var (
	ErrNilEvent         = errors.New("event cannot be nil")
	ErrEmptyBatch       = errors.New("batch must contain at least one event")
	ErrMissingTopic     = errors.New("topic is required")
	ErrTopicTooLong     = errors.New("topic cannot exceed 255 characters")
	ErrMissingEventID   = errors.New("event_id is required")
	ErrEventIDTooLong   = errors.New("event_id cannot exceed 255 characters")
	ErrMissingTimestamp = errors.New("timestamp is required")
	ErrInvalidTimestamp = errors.New("timestamp must be a valid ISO-8601 instant")
	ErrMissingSource    = errors.New("source is required")
	ErrSourceTooLong    = errors.New("source cannot exceed 255 characters")
)

// Validator performs semantic validation of incoming events.
//
// Validation runs once, at admission: events that pass are serialized onto
// the queue and are trusted from that point on. The timestamp grammar is
// RFC 3339 (a trailing "Z" is accepted as UTC; zone-less instants are
// ambiguous and rejected).
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateEvent validates that an Event carries all required fields within
// their length bounds and a parseable timestamp.
//
// Required fields:
//   - topic: non-empty, ≤255 characters
//   - event_id: non-empty, ≤255 characters
//   - timestamp: RFC 3339 instant
//   - source: non-empty, ≤255 characters
//
// The payload is not inspected; any JSON object (including none) is valid.
func (v *Validator) ValidateEvent(e *Event) error {
	if e == nil {
		return ErrNilEvent
	}

	if e.Topic == "" {
		return ErrMissingTopic
	}

	if utf8.RuneCountInString(e.Topic) > maxFieldLength {
		return fmt.Errorf("%w: got %d characters", ErrTopicTooLong, utf8.RuneCountInString(e.Topic))
	}

	if e.EventID == "" {
		return ErrMissingEventID
	}

	if utf8.RuneCountInString(e.EventID) > maxFieldLength {
		return fmt.Errorf("%w: got %d characters", ErrEventIDTooLong, utf8.RuneCountInString(e.EventID))
	}

	if e.Timestamp == "" {
		return ErrMissingTimestamp
	}

	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimestamp, e.Timestamp)
	}

	if e.Source == "" {
		return ErrMissingSource
	}

	if utf8.RuneCountInString(e.Source) > maxFieldLength {
		return fmt.Errorf("%w: got %d characters", ErrSourceTooLong, utf8.RuneCountInString(e.Source))
	}

	return nil
}

// ValidateBatch validates every event in a batch before any of them is
// admitted. Admission is all-or-nothing: the first invalid event fails the
// whole batch, and the returned error names its index.
func (v *Validator) ValidateBatch(events []Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	for i := range events {
		if err := v.ValidateEvent(&events[i]); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}

	return nil
}
