// Package storage provides PostgreSQL persistence for the event pipeline.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const healthCheckTimeout = 5 * time.Second

// ErrNoDatabaseConnection is returned when an operation runs against a
// Connection that was never established or has been closed.
var ErrNoDatabaseConnection = errors.New("no database connection")

// Connection wraps a PostgreSQL connection pool.
//
// DB is exported so tests can construct a Connection around an existing
// *sql.DB without going through the URL-based constructor.
type Connection struct {
	DB     *sql.DB
	logger *slog.Logger
}

// NewConnection opens a PostgreSQL connection pool and verifies it with a
// bounded retry: ConnectAttempts pings with a doubling delay starting at
// ConnectBackoff. The database frequently comes up after the service in
// container deployments, so startup waits rather than failing on the first
// refused connection.
func NewConnection(config *Config) (*Connection, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	db, err := sql.Open("postgres", config.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	logger := slog.Default().With(slog.String("component", "storage"))

	attempts := config.ConnectAttempts
	if attempts <= 0 {
		attempts = defaultConnectAttempts
	}

	backoff := config.ConnectBackoff
	if backoff <= 0 {
		backoff = defaultConnectBackoff
	}

	var pingErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		pingErr = db.PingContext(ctx)

		cancel()

		if pingErr == nil {
			logger.Info("database connection established",
				slog.String("url", config.MaskDatabaseURL()),
				slog.Int("attempt", attempt),
			)

			return &Connection{DB: db, logger: logger}, nil
		}

		if attempt < attempts {
			logger.Warn("database not ready, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
				slog.String("error", pingErr.Error()),
			)

			time.Sleep(backoff)

			backoff *= 2
		}
	}

	_ = db.Close()

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, pingErr)
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement without returning rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.DB.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if c.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	return c.DB.BeginTx(ctx, opts)
}

// HealthCheck verifies the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Close closes the connection pool.
func (c *Connection) Close() error {
	if c.DB == nil {
		return nil
	}

	if err := c.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
