// Package main implements the migrate CLI for applying the embedded schema
// migrations outside the API process.
//
// Usage:
//
//	go run ./cmd/migrate up
//	go run ./cmd/migrate down --steps=1
//	go run ./cmd/migrate version
//	go run ./cmd/migrate force 1
//
// DATABASE_URL is read from the environment (or a .env file via godotenv).
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"coachkit/internal/db"
)

// schemaMigrator is the subset of *migrate.Migrate the CLI drives.
type schemaMigrator interface {
	Up() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
}

func main() {
	steps := flag.Int("steps", 1, "Number of migrations to roll back with down")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [flags] <up|down|version|force N>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded (this is fine in production)", "error", err)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "error: DATABASE_URL is required")
		os.Exit(1)
	}

	m, err := db.NewMigrator(databaseURL)
	if err != nil {
		logger.Error("failed to open migrator", "error", err)
		os.Exit(1)
	}

	err = runCommand(m, flag.Arg(0), flag.Args()[1:], *steps, os.Stdout)
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		logger.Warn("closing migrator", "source_error", srcErr, "database_error", dbErr)
	}
	if err != nil {
		logger.Error("migration command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

// runCommand executes one CLI command and reports the resulting schema
// version on out.
func runCommand(m schemaMigrator, command string, args []string, steps int, out io.Writer) error {
	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("applying migrations: %w", err)
		}
	case "down":
		if steps <= 0 {
			return fmt.Errorf("--steps must be positive, got %d", steps)
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("rolling back %d migration(s): %w", steps, err)
		}
	case "force":
		if len(args) != 1 {
			return errors.New("force requires exactly one version argument")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("forcing version %d: %w", v, err)
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	return printVersion(m, out)
}

func printVersion(m schemaMigrator, out io.Writer) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Fprintln(out, "version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading version: %w", err)
	}
	fmt.Fprintf(out, "version: %d dirty: %t\n", version, dirty)
	return nil
}
