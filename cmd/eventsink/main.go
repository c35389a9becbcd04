// Package main provides the eventsink event ingestion service.
//
// The service accepts event batches over HTTP (and optionally Kafka), queues
// them in Redis, and persists them to PostgreSQL exactly once per
// (topic, event_id) pair regardless of publisher retries.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/eventsink-io/eventsink/internal/api"
	"github.com/eventsink-io/eventsink/internal/api/middleware"
	"github.com/eventsink-io/eventsink/internal/queue"
	"github.com/eventsink-io/eventsink/internal/relay"
	"github.com/eventsink-io/eventsink/internal/storage"
	"github.com/eventsink-io/eventsink/internal/worker"
	"github.com/eventsink-io/eventsink/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "eventsink"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting eventsink service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Connect to the store with bounded retry
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	// Apply embedded migrations before taking any traffic
	if err := applyMigrations(logger); err != nil {
		logger.Error("Failed to apply migrations", slog.String("error", err.Error()))

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	eventStore, err := storage.NewEventStore(dbConn)
	if err != nil {
		logger.Error("Failed to create event store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	if err := eventStore.EnsureStatsSingleton(context.Background()); err != nil {
		logger.Error("Failed to ensure stats singleton", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Event store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	// Connect to the queue and verify it answers before starting workers
	queueConfig := queue.LoadConfig()

	eventQueue, err := queue.New(queueConfig, logger)
	if err != nil {
		logger.Error("Failed to create queue client", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = eventQueue.Close()
	}()

	if err := eventQueue.HealthCheck(context.Background()); err != nil {
		logger.Error("Queue is unreachable", slog.String("error", err.Error()))

		_ = eventQueue.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Queue connected",
		slog.String("redis_url", queueConfig.MaskRedisURL()),
		slog.String("queue_name", queueConfig.QueueName),
		slog.Duration("pop_timeout", queueConfig.PopTimeout),
	)

	// Start the worker pool
	workerConfig := worker.LoadConfig()

	pool, err := worker.NewPool(workerConfig, eventQueue, eventStore, logger)
	if err != nil {
		logger.Error("Failed to start worker pool", slog.String("error", err.Error()))

		_ = eventQueue.Close()
		_ = dbConn.Close()
		os.Exit(1)
	}

	defer func() {
		if err := pool.Close(); err != nil {
			logger.Error("Worker pool shutdown failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Worker pool started",
		slog.Int("worker_count", workerConfig.Count),
		slog.Duration("error_backoff", workerConfig.ErrorBackoff),
	)

	// Optional Kafka relay
	relayConfig := relay.LoadConfig()
	if relayConfig.Enabled() {
		kafkaRelay, err := relay.New(relayConfig, eventQueue, logger)
		if err != nil {
			logger.Error("Failed to start kafka relay", slog.String("error", err.Error()))

			_ = pool.Close()
			_ = eventQueue.Close()
			_ = dbConn.Close()
			os.Exit(1)
		}

		defer func() {
			if err := kafkaRelay.Close(); err != nil {
				logger.Error("Kafka relay shutdown failed", slog.String("error", err.Error()))
			}
		}()
	} else {
		logger.Info("Kafka relay disabled",
			slog.String("note", "Set EVENTSINK_KAFKA_BROKERS to enable broker intake"),
		)
	}

	// Rate limiter (graceful shutdown handled by server.shutdown())
	var rateLimiter middleware.RateLimiter

	middlewareConfig := middleware.LoadConfig()
	if middlewareConfig.Enabled {
		rateLimiter = middleware.NewInMemoryRateLimiter(middlewareConfig)

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", middlewareConfig.GlobalRPS),
			slog.Int("global_burst", middlewareConfig.GlobalBurst),
			slog.Int("client_rps", middlewareConfig.ClientRPS),
			slog.Int("client_burst", middlewareConfig.ClientBurst),
		)
	}

	server := api.NewServer(serverConfig, eventQueue, eventStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("eventsink service stopped")
}

// applyMigrations runs all pending embedded migrations against DATABASE_URL.
func applyMigrations(logger *slog.Logger) error {
	migrationConfig, err := migrations.LoadConfig()
	if err != nil {
		return err
	}

	runner, err := migrations.NewRunner(migrationConfig, logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = runner.Close()
	}()

	return runner.Up()
}
