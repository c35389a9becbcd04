package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// MigrationRunner defines the operations the migrator CLI dispatches to.
	MigrationRunner interface {
		// Up applies all pending migrations.
		Up() error

		// Down rolls back the last migration.
		Down() error

		// Status logs the current migration status.
		Status() error

		// Version logs the current migration version.
		Version() error

		// Drop drops all tables (destructive operation).
		Drop() error

		// Close closes any open connections.
		Close() error
	}

	// Runner implements MigrationRunner over golang-migrate with the
	// embedded migration source.
	Runner struct {
		config  *Config
		migrate *migrate.Migrate
		db      *sql.DB
		source  *Source
		logger  *slog.Logger
	}

	// migrateLogger adapts slog to the migrate.Logger interface.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner creates a migration runner for the given configuration. The
// embedded migration set is validated before the database is touched.
func NewRunner(config *Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("initializing migration runner", slog.String("config", config.String()))

	source := NewSource(nil)

	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(source.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		config:  config,
		migrate: m,
		db:      db,
		source:  source,
		logger:  logger,
	}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.source.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no new migrations to apply")
	} else {
		r.logger.Info("all migrations applied")
	}

	return nil
}

// Down rolls back the last migration.
func (r *Runner) Down() error {
	if err := r.source.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("no migrations to roll back")
	} else {
		r.logger.Info("last migration rolled back")
	}

	return nil
}

// Status logs the current version against the highest embedded version.
func (r *Runner) Status() error {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			r.logger.Info("migration status",
				slog.String("database", "no migrations applied"),
				slog.Int("available", r.source.MaxVersion()),
			)

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	r.logger.Info("migration status",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
		slog.Int("available", r.source.MaxVersion()),
	)

	return nil
}

// Version logs the current migration version.
func (r *Runner) Version() error {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			r.logger.Info("no migrations applied")

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	r.logger.Info("current version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))

	return nil
}

// Drop drops all tables (destructive operation).
func (r *Runner) Drop() error {
	if err := r.source.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	r.logger.Warn("dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	r.logger.Info("all tables dropped")

	return nil
}

// Close closes database connections.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf("[migrate] "+format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
