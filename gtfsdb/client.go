// Package gtfsdb mirrors a produced GTFS feed into SQLite, together with the
// block assignments behind it and the metadata of the run that wrote it.
package gtfsdb

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver
	"trains.tokyogtfs.org/internal/logging"
)

// Client is the main entry point for the library
type Client struct {
	config Config
	DB     *sql.DB
	logger *slog.Logger
}

// NewClient opens the database and applies the schema.
func NewClient(config Config) (*Client, error) {
	logger := slog.Default().With(slog.String("component", "gtfsdb"))

	db, err := createDB(config)
	if err != nil {
		return nil, fmt.Errorf("unable to create DB: %w", err)
	} else if config.verbose {
		logging.LogOperation(logger, "tables_created", slog.String("path", config.DBPath))
	}

	return &Client{
		config: config,
		DB:     db,
		logger: logger,
	}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

func (c *Client) GetDBPath() string {
	return c.config.DBPath
}
