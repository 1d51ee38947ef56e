package gtfsdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trains.tokyogtfs.org/internal/appconf"
	"trains.tokyogtfs.org/internal/logging"
)

//go:embed schema.sql
var ddl string

const memoryPath = ":memory:"

// createDB opens the SQLite database and brings its schema up to date.
func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != memoryPath {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	// Configure the pool first so that a :memory: database keeps a single
	// connection for the pragmas, the migration and every later query.
	configureConnectionPool(db, config)

	ctx := context.Background()
	if err := configureSQLitePerformance(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}

	if err := performDatabaseMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	return db, nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmed); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmed, err)
		}
	}
	return nil
}

// configureSQLitePerformance applies PRAGMA settings for one-shot bulk loads.
func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		name        string
		description string
	}{
		// Negative value means KB: 64MB
		{"PRAGMA cache_size=-64000", "Set cache size to 64MB"},
		{"PRAGMA temp_store=MEMORY", "Store temporary data in memory"},
		// The mirror is rebuilt from scratch on every run.
		{"PRAGMA synchronous=NORMAL", "Relax fsync on commit"},
	}

	logger := slog.Default().With(slog.String("component", "sqlite_performance"))

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma.name); err != nil {
			logging.LogError(logger, fmt.Sprintf("Failed to set %s", pragma.description), err)
			return fmt.Errorf("failed to execute %s: %w", pragma.name, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	logging.LogOperation(logger, "sqlite_performance_settings_applied",
		slog.Int("pragma_count", len(pragmas)))

	return nil
}

// configureConnectionPool sizes the pool. Every connection to ":memory:"
// opens a separate empty database, so that case is pinned to one connection.
func configureConnectionPool(db *sql.DB, config Config) {
	if config.DBPath == memoryPath {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt64(i int64) sql.NullInt64 {
	return sql.NullInt64{Int64: i, Valid: true}
}
