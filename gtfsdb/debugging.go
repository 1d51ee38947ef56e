package gtfsdb

import (
	"fmt"
	"log/slog"

	"trains.tokyogtfs.org/internal/logging"
)

// tableCountQueries is the whitelist of tables TableCounts reports on.
var tableCountQueries = map[string]string{
	"run_metadata":      "SELECT COUNT(*) FROM run_metadata",
	"agencies":          "SELECT COUNT(*) FROM agencies",
	"routes":            "SELECT COUNT(*) FROM routes",
	"stops":             "SELECT COUNT(*) FROM stops",
	"trips":             "SELECT COUNT(*) FROM trips",
	"stop_times":        "SELECT COUNT(*) FROM stop_times",
	"calendar_dates":    "SELECT COUNT(*) FROM calendar_dates",
	"feed_info":         "SELECT COUNT(*) FROM feed_info",
	"translations":      "SELECT COUNT(*) FROM translations",
	"block_assignments": "SELECT COUNT(*) FROM block_assignments",
	"route_paths":       "SELECT COUNT(*) FROM route_paths",
}

// TableCounts returns row counts for the known tables present in the database.
func (c *Client) TableCounts() (map[string]int, error) {
	rows, err := c.DB.Query("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("failed to query table names: %w", err)
	}
	defer logging.SafeCloseWithLogging(rows,
		slog.Default().With(slog.String("component", "debugging")),
		"database_rows")

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, table := range tables {
		query, ok := tableCountQueries[table]
		if !ok {
			continue
		}
		var count int
		if err := c.DB.QueryRow(query).Scan(&count); err != nil {
			return nil, err
		}
		counts[table] = count
	}
	return counts, nil
}
