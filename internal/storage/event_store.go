package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/eventsink-io/eventsink/internal/event"
	"github.com/eventsink-io/eventsink/internal/eventlog"
)

// Compile-time checks: EventStore serves both the write port the workers
// depend on and the read port the API depends on.
var (
	_ event.Store    = (*EventStore)(nil)
	_ eventlog.Store = (*EventStore)(nil)
)

// Sentinel errors for event storage operations.
var (
	// ErrEventStoreFailed is returned when a write cannot be completed.
	ErrEventStoreFailed = errors.New("event storage failed")

	// ErrStatsUnavailable is returned when the stats singleton cannot be read.
	ErrStatsUnavailable = errors.New("event stats unavailable")
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = pq.ErrorCode("23505")

// statsRowID is the fixed primary key of the event_stats singleton row.
const statsRowID = 1

// EventStore persists events with deduplication on (topic, event_id).
//
// Each write runs in one transaction that stores the event and bumps the
// lifetime counters, so a crash between the two can never leave them
// disagreeing. Deduplication rides on the uq_topic_event_id constraint
// rather than a read-before-write, which stays correct under any number of
// concurrent workers.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventStore creates an EventStore over an established connection.
func NewEventStore(conn *Connection) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{
		conn:   conn,
		logger: slog.Default().With(slog.String("component", "event_store")),
	}, nil
}

// StoreEvent durably records an event exactly once.
//
// The transaction always increments received_count, then attempts the insert
// with ON CONFLICT DO NOTHING. One affected row means first sight: bump
// unique_processed and report OutcomeProcessed. Zero affected rows means a
// replay: bump duplicate_dropped and report OutcomeDuplicate. If the insert
// still surfaces a unique violation (a concurrent writer winning the race
// inside the window), the transaction is rolled back and the duplicate is
// recorded in a fresh statement so the counters never drift.
func (s *EventStore) StoreEvent(ctx context.Context, e *event.Event) (event.Outcome, error) {
	startTime := time.Now()

	if e == nil {
		return "", fmt.Errorf("%w: %w", ErrEventStoreFailed, event.ErrNilEvent)
	}

	occurredAt, err := e.Time()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEventStoreFailed, err)
	}

	e.Normalize()

	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal payload: %w", ErrEventStoreFailed, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to begin transaction: %w", ErrEventStoreFailed, err)
	}

	// Safe after commit: Rollback on a committed transaction is a no-op error.
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`UPDATE event_stats SET received_count = received_count + 1, updated_at = NOW() WHERE id = $1`,
		statsRowID,
	)
	if err != nil {
		return "", s.writeError("failed to update received count", e, err, startTime)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO processed_events (topic, event_id, timestamp, source, payload)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (topic, event_id) DO NOTHING`,
		e.Topic, e.EventID, occurredAt, e.Source, payloadJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			// Lost a race with a concurrent writer. The transaction is
			// aborted, so record the duplicate outside it.
			_ = tx.Rollback()

			return s.recordRacedDuplicate(ctx, e, startTime)
		}

		return "", s.writeError("failed to insert event", e, err, startTime)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", s.writeError("failed to read insert result", e, err, startTime)
	}

	outcome := event.OutcomeDuplicate
	counterQuery := `UPDATE event_stats SET duplicate_dropped = duplicate_dropped + 1, updated_at = NOW() WHERE id = $1`

	if affected == 1 {
		outcome = event.OutcomeProcessed
		counterQuery = `UPDATE event_stats SET unique_processed = unique_processed + 1, updated_at = NOW() WHERE id = $1`
	}

	_, err = tx.ExecContext(ctx, counterQuery, statsRowID)
	if err != nil {
		return "", s.writeError("failed to update outcome counter", e, err, startTime)
	}

	if err := tx.Commit(); err != nil {
		return "", s.writeError("failed to commit transaction", e, err, startTime)
	}

	s.logger.Debug("event stored",
		"topic", e.Topic,
		"event_id", e.EventID,
		"outcome", string(outcome),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return outcome, nil
}

// recordRacedDuplicate counts an event whose insert lost a unique-constraint
// race. The original transaction is already rolled back, so received_count
// and duplicate_dropped are bumped together in a single fresh statement.
func (s *EventStore) recordRacedDuplicate(
	ctx context.Context,
	e *event.Event,
	startTime time.Time,
) (event.Outcome, error) {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE event_stats
		 SET received_count = received_count + 1,
		     duplicate_dropped = duplicate_dropped + 1,
		     updated_at = NOW()
		 WHERE id = $1`,
		statsRowID,
	)
	if err != nil {
		return "", s.writeError("failed to record raced duplicate", e, err, startTime)
	}

	s.logger.Debug("event stored",
		"topic", e.Topic,
		"event_id", e.EventID,
		"outcome", string(event.OutcomeDuplicate),
		"raced", true,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return event.OutcomeDuplicate, nil
}

func (s *EventStore) writeError(msg string, e *event.Event, err error, startTime time.Time) error {
	level := slog.LevelWarn
	if isConnectionError(err) {
		level = slog.LevelError
	}

	s.logger.Log(context.Background(), level, msg,
		"topic", e.Topic,
		"event_id", e.EventID,
		"error", err,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)

	return fmt.Errorf("%w: %s: %w", ErrEventStoreFailed, msg, err)
}

// RecentEvents returns stored events ordered by processing time, newest
// first. A zero filter limit falls back to the default page size.
func (s *EventStore) RecentEvents(ctx context.Context, filter eventlog.Filter) ([]eventlog.StoredEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = eventlog.DefaultLimit
	}

	query := `SELECT topic, event_id, timestamp, source, payload, processed_at
		 FROM processed_events`

	args := []any{}

	if filter.Topic != "" {
		query += ` WHERE topic = $1`
		args = append(args, filter.Topic)
	}

	query += fmt.Sprintf(` ORDER BY processed_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var events []eventlog.StoredEvent

	for rows.Next() {
		var (
			stored      eventlog.StoredEvent
			payloadJSON []byte
		)

		err := rows.Scan(
			&stored.Topic,
			&stored.EventID,
			&stored.Timestamp,
			&stored.Source,
			&payloadJSON,
			&stored.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		if err := json.Unmarshal(payloadJSON, &stored.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for event %s: %w", stored.EventID, err)
		}

		events = append(events, stored)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}

	return events, nil
}

// Stats returns the current counter snapshot plus the distinct topic count.
func (s *EventStore) Stats(ctx context.Context) (*eventlog.Stats, error) {
	var stats eventlog.Stats

	err := s.conn.QueryRowContext(ctx,
		`SELECT received_count, unique_processed, duplicate_dropped, updated_at
		 FROM event_stats WHERE id = $1`,
		statsRowID,
	).Scan(&stats.Received, &stats.UniqueProcessed, &stats.DuplicateDropped, &stats.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: stats singleton missing, run migrations", ErrStatsUnavailable)
		}

		return nil, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}

	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT topic) FROM processed_events`,
	).Scan(&stats.Topics)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}

	return &stats, nil
}

// EnsureStatsSingleton seeds the counter row if migrations have not already
// done so. Idempotent and safe to run on every startup.
func (s *EventStore) EnsureStatsSingleton(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO event_stats (id, received_count, unique_processed, duplicate_dropped)
		 VALUES ($1, 0, 0, 0)
		 ON CONFLICT (id) DO NOTHING`,
		statsRowID,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure stats singleton: %w", err)
	}

	return nil
}

// HealthCheck verifies the backing database is reachable.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// isConnectionError checks if an error indicates database connection failure.
// PostgreSQL class 08 covers connection exceptions.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
