package worker

import (
	"errors"
	"time"

	"github.com/eventsink-io/eventsink/internal/config"
)

const (
	defaultWorkerCount     = 4
	defaultErrorBackoff    = 1 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

var (
	// ErrWorkerCountInvalid is returned when the worker count is not positive.
	ErrWorkerCountInvalid = errors.New("worker count must be positive")

	// ErrErrorBackoffInvalid is returned when the error backoff is not positive.
	ErrErrorBackoffInvalid = errors.New("error backoff must be positive")
)

// Config holds worker pool configuration.
type Config struct {
	// Count is the number of concurrent workers draining the queue.
	Count int

	// ErrorBackoff is how long a worker pauses after a failed write before
	// retrying, so a down database is not hammered in a tight loop.
	ErrorBackoff time.Duration

	// ShutdownTimeout bounds how long Close waits for workers to finish
	// their in-flight event.
	ShutdownTimeout time.Duration
}

// LoadConfig loads worker pool configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Count:           config.GetEnvInt("WORKER_COUNT", defaultWorkerCount),
		ErrorBackoff:    config.GetEnvDuration("EVENTSINK_WORKER_ERROR_BACKOFF", defaultErrorBackoff),
		ShutdownTimeout: config.GetEnvDuration("EVENTSINK_WORKER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
	}
}

// Validate checks if the worker pool configuration is valid.
func (c *Config) Validate() error {
	if c.Count <= 0 {
		return ErrWorkerCountInvalid
	}

	if c.ErrorBackoff <= 0 {
		return ErrErrorBackoffInvalid
	}

	return nil
}
