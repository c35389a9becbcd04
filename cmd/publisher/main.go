// Package main provides a load generator for the eventsink service.
//
// The publisher sends batches of synthetic events to POST /publish with a
// configurable share of duplicates, which makes it double as an end-to-end
// check of the pipeline's idempotence: the server's /stats counters must
// account for every duplicate it was sent.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/eventsink-io/eventsink/internal/config"
	"github.com/eventsink-io/eventsink/internal/event"
)

const (
	defaultServerURL    = "http://localhost:8080"
	defaultBatchSize    = 100
	defaultTotalEvents  = 20000
	defaultDupRate      = 0.3
	defaultBatchDelay   = 500 * time.Millisecond
	defaultProfilePath  = ".eventsink.yaml"
	maxCachedEvents     = 1000
	maxPublishAttempts  = 5
	retryBackoffStep    = 500 * time.Millisecond
	healthPollInterval  = 2 * time.Second
	healthWaitBudget    = 60 * time.Second
	progressEveryNBatch = 10

	exitInterrupted = 130
)

// builtinTopics mirror the event families a typical commerce stack emits.
var builtinTopics = []string{
	"user.signed_up",
	"user.logged_in",
	"order.created",
	"order.shipped",
	"order.cancelled",
	"payment.authorized",
	"payment.settled",
	"payment.failed",
	"inventory.reserved",
	"inventory.released",
}

var builtinSources = []string{
	"web-app-1",
	"web-app-2",
	"mobile-app",
	"checkout-service",
	"billing-service",
	"warehouse-service",
}

type (
	// settings holds the publisher run configuration from the environment.
	settings struct {
		ServerURL  string
		BatchSize  int
		Total      int
		DupRate    float64
		BatchDelay time.Duration
		Profile    string
	}

	// workloadProfile is the optional YAML override for topics and sources.
	workloadProfile struct {
		Topics  []string `yaml:"topics"`
		Sources []string `yaml:"sources"`
	}

	// generator produces synthetic events with a configurable duplicate share.
	generator struct {
		rng     *rand.Rand
		topics  []string
		sources []string
		dupRate float64
		counter int

		// cache holds recently sent events for duplicate generation
		cache []event.Event
	}

	// runStats tracks what the publisher actually sent.
	runStats struct {
		Sent       int
		Duplicates int
		Batches    int
		Retries    int
	}
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := loadSettings()

	logger.Info("Starting publisher",
		slog.String("server_url", cfg.ServerURL),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Int("total_events", cfg.Total),
		slog.Float64("duplicate_rate", cfg.DupRate),
		slog.Duration("batch_delay", cfg.BatchDelay),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics, sources := loadWorkloadProfile(cfg.Profile, logger)
	gen := newGenerator(topics, sources, cfg.DupRate)
	client := &http.Client{Timeout: 30 * time.Second}

	if err := waitForHealth(ctx, client, cfg.ServerURL, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted while waiting for server health")

			return exitInterrupted
		}

		logger.Error("Server never became healthy", slog.String("error", err.Error()))

		return 1
	}

	stats, err := publishAll(ctx, client, cfg, gen, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted",
				slog.Int("events_sent", stats.Sent),
				slog.Int("batches", stats.Batches),
			)

			return exitInterrupted
		}

		logger.Error("Publishing failed", slog.String("error", err.Error()))

		return 1
	}

	logger.Info("Publishing complete",
		slog.Int("events_sent", stats.Sent),
		slog.Int("duplicates_sent", stats.Duplicates),
		slog.Int("batches", stats.Batches),
		slog.Int("retries", stats.Retries),
	)

	reportServerStats(ctx, client, cfg.ServerURL, logger)

	return 0
}

func loadSettings() *settings {
	return &settings{
		ServerURL:  config.GetEnvStr("EVENTSINK_URL", defaultServerURL),
		BatchSize:  config.GetEnvInt("BATCH_SIZE", defaultBatchSize),
		Total:      config.GetEnvInt("TOTAL_EVENTS", defaultTotalEvents),
		DupRate:    config.GetEnvFloat("DUPLICATE_RATE", defaultDupRate),
		BatchDelay: config.GetEnvDuration("DELAY_BETWEEN_BATCHES", defaultBatchDelay),
		Profile:    config.GetEnvStr("EVENTSINK_PUBLISHER_PROFILE", defaultProfilePath),
	}
}

// loadWorkloadProfile reads the optional YAML profile, falling back to the
// built-in topics and sources when the file is absent or unusable.
func loadWorkloadProfile(path string, logger *slog.Logger) (topics, sources []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read workload profile, using built-ins",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}

		return builtinTopics, builtinSources
	}

	var profile workloadProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		logger.Warn("Failed to parse workload profile, using built-ins",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return builtinTopics, builtinSources
	}

	topics = profile.Topics
	if len(topics) == 0 {
		topics = builtinTopics
	}

	sources = profile.Sources
	if len(sources) == 0 {
		sources = builtinSources
	}

	logger.Info("Loaded workload profile",
		slog.String("path", path),
		slog.Int("topics", len(topics)),
		slog.Int("sources", len(sources)),
	)

	return topics, sources
}

func newGenerator(topics, sources []string, dupRate float64) *generator {
	return &generator{
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		topics:  topics,
		sources: sources,
		dupRate: dupRate,
	}
}

// newEvent produces a fresh event with a collision-proof ID.
func (g *generator) newEvent() event.Event {
	g.counter++

	topic := g.topics[g.rng.Intn(len(g.topics))]

	e := event.Event{
		Topic:     topic,
		EventID:   fmt.Sprintf("%d-%s-%d", time.Now().UnixMilli(), uuid.NewString()[:8], g.counter),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    g.sources[g.rng.Intn(len(g.sources))],
		Payload:   g.payloadFor(topic),
	}

	g.cache = append(g.cache, e)
	if len(g.cache) > maxCachedEvents {
		g.cache = g.cache[len(g.cache)-maxCachedEvents:]
	}

	return e
}

// duplicateEvent replays a previously sent event with a refreshed timestamp.
// The identity pair stays intact, which is what makes it a duplicate.
func (g *generator) duplicateEvent() event.Event {
	e := g.cache[g.rng.Intn(len(g.cache))]
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)

	return e
}

// batch assembles n events with roughly dupRate duplicates shuffled in.
func (g *generator) batch(n int) (events []event.Event, duplicates int) {
	events = make([]event.Event, 0, n)

	for i := 0; i < n; i++ {
		if len(g.cache) > 0 && g.rng.Float64() < g.dupRate {
			events = append(events, g.duplicateEvent())
			duplicates++

			continue
		}

		events = append(events, g.newEvent())
	}

	g.rng.Shuffle(len(events), func(i, j int) {
		events[i], events[j] = events[j], events[i]
	})

	return events, duplicates
}

// payloadFor shapes the payload after the topic's family.
func (g *generator) payloadFor(topic string) map[string]any {
	switch {
	case strings.HasPrefix(topic, "user."):
		return map[string]any{
			"user_id": g.rng.Intn(100000),
			"plan":    []string{"free", "pro", "enterprise"}[g.rng.Intn(3)],
		}
	case strings.HasPrefix(topic, "order."):
		return map[string]any{
			"order_id": uuid.NewString(),
			"items":    1 + g.rng.Intn(10),
			"total":    float64(g.rng.Intn(100000)) / 100,
		}
	case strings.HasPrefix(topic, "payment."):
		return map[string]any{
			"payment_id": uuid.NewString(),
			"amount":     float64(g.rng.Intn(100000)) / 100,
			"currency":   []string{"USD", "EUR", "GBP"}[g.rng.Intn(3)],
		}
	case strings.HasPrefix(topic, "inventory."):
		return map[string]any{
			"sku":      fmt.Sprintf("SKU-%05d", g.rng.Intn(100000)),
			"quantity": 1 + g.rng.Intn(50),
		}
	default:
		return map[string]any{"seq": g.counter}
	}
}

// waitForHealth polls GET /health until the server reports healthy.
func waitForHealth(ctx context.Context, client *http.Client, serverURL string, logger *slog.Logger) error {
	deadline := time.Now().Add(healthWaitBudget)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/health", nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				logger.Info("Server is healthy")

				return nil
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Info("Waiting for server health", slog.String("url", serverURL+"/health"))

		select {
		case <-time.After(healthPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("server at %s not healthy within %v", serverURL, healthWaitBudget)
}

// publishAll drives the whole run, batch by batch.
func publishAll(
	ctx context.Context,
	client *http.Client,
	cfg *settings,
	gen *generator,
	logger *slog.Logger,
) (*runStats, error) {
	stats := &runStats{}
	start := time.Now()

	for stats.Sent < cfg.Total {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		size := cfg.BatchSize
		if remaining := cfg.Total - stats.Sent; remaining < size {
			size = remaining
		}

		events, duplicates := gen.batch(size)

		retries, err := publishBatch(ctx, client, cfg.ServerURL, events)
		stats.Retries += retries

		if err != nil {
			return stats, err
		}

		stats.Sent += len(events)
		stats.Duplicates += duplicates
		stats.Batches++

		if stats.Batches%progressEveryNBatch == 0 {
			elapsed := time.Since(start)
			logger.Info("Progress",
				slog.Int("events_sent", stats.Sent),
				slog.Int("total", cfg.Total),
				slog.Int("batches", stats.Batches),
				slog.Float64("events_per_sec", float64(stats.Sent)/elapsed.Seconds()),
			)
		}

		if cfg.BatchDelay > 0 {
			select {
			case <-time.After(cfg.BatchDelay):
			case <-ctx.Done():
				return stats, ctx.Err()
			}
		}
	}

	return stats, nil
}

// publishBatch POSTs one batch, retrying transient failures with linear
// backoff. 4xx responses other than 429 are permanent and fail the run.
func publishBatch(ctx context.Context, client *http.Client, serverURL string, events []event.Event) (int, error) {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return 0, fmt.Errorf("failed to encode batch: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt) * retryBackoffStep):
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/publish", bytes.NewReader(body))
		if err != nil {
			return attempt - 1, err
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err

			continue
		}

		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusAccepted:
			return attempt - 1, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// Retriable: throttled or transient server failure
			lastErr = fmt.Errorf("server returned %d: %s", resp.StatusCode, respBody)
		default:
			return attempt - 1, fmt.Errorf("batch rejected with %d: %s", resp.StatusCode, respBody)
		}
	}

	return maxPublishAttempts, fmt.Errorf("batch failed after %d attempts: %w", maxPublishAttempts, lastErr)
}

// reportServerStats fetches and logs the server's /stats snapshot so the run
// can be checked against the pipeline counters.
func reportServerStats(ctx context.Context, client *http.Client, serverURL string, logger *slog.Logger) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/stats", nil)
	if err != nil {
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("Failed to fetch server stats", slog.String("error", err.Error()))

		return
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	var stats struct {
		Received         int64 `json:"received"`
		UniqueProcessed  int64 `json:"unique_processed"`
		DuplicateDropped int64 `json:"duplicate_dropped"`
		Topics           int64 `json:"topics"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		logger.Warn("Failed to decode server stats", slog.String("error", err.Error()))

		return
	}

	logger.Info("Server stats snapshot",
		slog.Int64("received", stats.Received),
		slog.Int64("unique_processed", stats.UniqueProcessed),
		slog.Int64("duplicate_dropped", stats.DuplicateDropped),
		slog.Int64("topics", stats.Topics),
	)
}
