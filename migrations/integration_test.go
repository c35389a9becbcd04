package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("eventsink_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	return connStr
}

func TestRunner_UpDownCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	connStr := setupPostgres(ctx, t)

	cfg := &Config{DatabaseURL: connStr, MigrationTable: defaultMigrationTable}

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err, "Failed to create migration runner")

	t.Cleanup(func() { _ = runner.Close() })

	require.NoError(t, runner.Up(), "Up failed")

	// Both tables exist and the stats singleton is seeded.
	var count int
	err = runner.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('processed_events', 'event_stats')",
	).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 2, count, "expected both tables after Up")

	var received int64
	err = runner.db.QueryRowContext(ctx,
		"SELECT received_count FROM event_stats WHERE id = 1",
	).Scan(&received)
	require.NoError(t, err, "stats singleton not seeded")
	require.Zero(t, received)

	// Up is idempotent.
	require.NoError(t, runner.Up(), "second Up failed")

	// Down removes the most recent migration only.
	require.NoError(t, runner.Down(), "Down failed")

	err = runner.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'event_stats'",
	).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count, "event_stats should be gone after Down")

	err = runner.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'processed_events'",
	).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count, "processed_events should survive a single Down")

	require.NoError(t, runner.Status(), "Status failed")
	require.NoError(t, runner.Version(), "Version failed")
}
