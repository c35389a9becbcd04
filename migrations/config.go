package migrations

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/eventsink-io/eventsink/internal/config"
)

const defaultMigrationTable = "schema_migrations"

var (
	// ErrDatabaseURLEmpty is returned when DATABASE_URL is not set.
	ErrDatabaseURLEmpty = errors.New("DATABASE_URL cannot be empty")

	// ErrMigrationTableEmpty is returned when the migration table name is empty.
	ErrMigrationTableEmpty = errors.New("migration table name cannot be empty")
)

// Config holds configuration for the migration tooling.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table tracking applied migrations.
	MigrationTable string
}

// LoadConfig loads migration configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", defaultMigrationTable),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String returns a representation of the configuration safe for logging;
// any password in the database URL is redacted.
func (c *Config) String() string {
	masked := c.DatabaseURL

	if parsed, err := url.Parse(c.DatabaseURL); err == nil && parsed.User != nil {
		masked = parsed.Redacted()
	}

	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}", masked, c.MigrationTable)
}
