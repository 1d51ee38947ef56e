package gtfsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/feed"
	"trains.tokyogtfs.org/internal/geo"
	"trains.tokyogtfs.org/internal/logging"
	"trains.tokyogtfs.org/internal/wallclock"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// LatestRun returns the metadata of the stored run.
func (c *Client) LatestRun(ctx context.Context) (Run, error) {
	var (
		run                    Run
		id, created            string
		windowStart, windowEnd string
		strict                 int64
		output                 sql.NullString
	)
	err := c.DB.QueryRowContext(ctx,
		`SELECT run_id, created_at, window_start, window_end, strict, output_path
		 FROM run_metadata ORDER BY created_at DESC LIMIT 1`,
	).Scan(&id, &created, &windowStart, &windowEnd, &strict, &output)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run metadata: %w", ErrNotFound)
	}
	if err != nil {
		return Run{}, err
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return Run{}, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return Run{}, fmt.Errorf("invalid run timestamp %q: %w", created, err)
	}
	if run.WindowStart, err = parseCompactDate(windowStart); err != nil {
		return Run{}, err
	}
	if run.WindowEnd, err = parseCompactDate(windowEnd); err != nil {
		return Run{}, err
	}
	run.Strict = strict != 0
	run.OutputPath = output.String
	return run, nil
}

// TripsInBlock lists the source trips assigned to blockID.
func (c *Client) TripsInBlock(ctx context.Context, blockID string) ([]string, error) {
	rows, err := c.DB.QueryContext(ctx,
		"SELECT trip_id FROM block_assignments WHERE block_id = ? ORDER BY trip_id", blockID)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "block_assignment_rows")

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BlocksForTrip returns every block a source trip was assigned to.
func (c *Client) BlocksForTrip(ctx context.Context, tripID string) ([]BlockAssignment, error) {
	rows, err := c.DB.QueryContext(ctx,
		`SELECT trip_id, block_id, topology, destinations FROM block_assignments
		 WHERE trip_id = ? ORDER BY CAST(block_id AS INTEGER), block_id`, tripID)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "block_assignment_rows")

	var out []BlockAssignment
	for rows.Next() {
		var (
			b            BlockAssignment
			destinations sql.NullString
		)
		if err := rows.Scan(&b.TripID, &b.BlockID, &b.Topology, &destinations); err != nil {
			return nil, err
		}
		if destinations.Valid {
			b.Destinations = strings.Split(destinations.String, destinationSeparator)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// StopTimes returns the stop times of an emitted trip in sequence order.
func (c *Client) StopTimes(ctx context.Context, tripID string) ([]feed.StopTime, error) {
	rows, err := c.DB.QueryContext(ctx,
		`SELECT trip_id, stop_sequence, stop_id, platform, arrival_time, departure_time
		 FROM stop_times WHERE trip_id = ? ORDER BY stop_sequence`, tripID)
	if err != nil {
		return nil, err
	}
	defer logging.SafeCloseWithLogging(rows, c.logger, "stop_time_rows")

	var out []feed.StopTime
	for rows.Next() {
		var (
			st                 feed.StopTime
			platform           sql.NullString
			arrival, departure int
		)
		if err := rows.Scan(&st.TripID, &st.StopSequence, &st.StopID, &platform, &arrival, &departure); err != nil {
			return nil, err
		}
		st.Platform = platform.String
		st.Arrival = wallclock.Time(arrival)
		st.Departure = wallclock.Time(departure)
		out = append(out, st)
	}
	return out, rows.Err()
}

// RoutePath decodes the stored station path of a route.
func (c *Client) RoutePath(ctx context.Context, routeID string) ([]geo.Point, error) {
	var encoded string
	err := c.DB.QueryRowContext(ctx,
		"SELECT encoded_polyline FROM route_paths WHERE route_id = ?", routeID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("route path %s: %w", routeID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	points, err := decodePath(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid polyline for route %s: %w", routeID, err)
	}
	return points, nil
}

func parseCompactDate(s string) (calendar.Date, error) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return calendar.Date{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return calendar.DateOf(t), nil
}
