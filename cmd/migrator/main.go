// Package main provides the database migration CLI for eventsink.
//
// Migrations are embedded in the binary, so the tool needs nothing beyond a
// DATABASE_URL to bring a fresh database to the current schema.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/eventsink-io/eventsink/migrations"
)

// Build-time version information, set with -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	name      = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
		force       = flag.Bool("force", false, "Skip confirmation for destructive commands")
	)

	flag.Parse()

	if *showVersion {
		printVersionInfo()
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	command := flag.Arg(0)

	config, err := migrations.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner, err := migrations.NewRunner(config, logger)
	if err != nil {
		logger.Error("failed to create migration runner", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(command, runner, *force); err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// executeCommand dispatches the CLI command to the runner.
func executeCommand(command string, runner migrations.MigrationRunner, force bool) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		if !force {
			fmt.Println("drop removes all tables; re-run as 'migrator --force drop' to confirm")

			return nil
		}

		return runner.Drop()
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printVersionInfo() {
	fmt.Printf("%s v%s\n", name, Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Database Migration Tool for eventsink\n")
}

func printUsage() {
	fmt.Printf(`%s v%s - Database Migration Tool for eventsink

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (requires --force)

OPTIONS:
    --help     Show this help message
    --version  Show version information
    --force    Skip confirmation for destructive commands

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)

    MIGRATION_TABLE Name of migration tracking table
                   (default: schema_migrations)

EXAMPLES:
    %s up                   # Apply all pending migrations
    %s status               # Show current migration status
    %s down                 # Rollback last migration
    %s --force drop         # Drop all tables
`, name, Version, name, name, name, name, name)
}
