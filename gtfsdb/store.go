package gtfsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/twpayne/go-polyline"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/feed"
	"trains.tokyogtfs.org/internal/geo"
	"trains.tokyogtfs.org/internal/logging"
)

// sqliteMaxParams is SQLITE_MAX_VARIABLE_NUMBER for SQLite >= 3.32.
const sqliteMaxParams = 32766

// Run describes one conversion.
type Run struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	WindowStart calendar.Date
	WindowEnd   calendar.Date
	Strict      bool
	OutputPath  string
}

func NewRun(createdAt time.Time, start, end calendar.Date, strict bool, outputPath string) Run {
	return Run{
		ID:          uuid.New(),
		CreatedAt:   createdAt,
		WindowStart: start,
		WindowEnd:   end,
		Strict:      strict,
		OutputPath:  outputPath,
	}
}

// BlockAssignment records that a source trip belongs to a block.
// Destinations is set only for trunk trips before a split.
type BlockAssignment struct {
	TripID       string
	BlockID      string
	Topology     string
	Destinations []string
}

// RoutePath is the ordered station path of a route.
type RoutePath struct {
	RouteID string
	Points  []geo.Point
}

// Snapshot is everything written for one run.
type Snapshot struct {
	Run    Run
	Feed   *feed.Feed
	Blocks []BlockAssignment
	Paths  []RoutePath
}

const destinationSeparator = "|"

// insertSpec describes a multi-row INSERT for rows of type T.
type insertSpec[T any] struct {
	table   string
	columns []string
	args    func(T) []any
}

type preparedBatch struct {
	query string
	args  []any
	index int
	end   int
}

var clearTables = []string{
	"run_metadata", "agencies", "routes", "stops", "trips", "stop_times",
	"calendar_dates", "feed_info", "translations", "block_assignments", "route_paths",
}

// StoreSnapshot replaces the database contents with s in one transaction.
func (c *Client) StoreSnapshot(ctx context.Context, s Snapshot) error {
	if s.Feed == nil {
		return fmt.Errorf("snapshot for run %s has no feed", s.Run.ID)
	}

	logger := c.logger.With(slog.String("run_id", s.Run.ID.String()))
	start := time.Now()

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "store_snapshot")

	for _, table := range clearTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("error clearing %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_metadata (run_id, created_at, window_start, window_end, strict, output_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.Run.ID.String(),
		s.Run.CreatedAt.UTC().Format(time.RFC3339),
		s.Run.WindowStart.Compact(),
		s.Run.WindowEnd.Compact(),
		boolToInt(s.Run.Strict),
		toNullString(s.Run.OutputPath),
	)
	if err != nil {
		return fmt.Errorf("error inserting run metadata: %w", err)
	}

	f := s.Feed
	batch := c.config.GetBulkInsertBatchSize()
	steps := []func() error{
		func() error { return bulkInsert(ctx, tx, logger, batch, agencyInsert, f.Agencies) },
		func() error { return bulkInsert(ctx, tx, logger, batch, routeInsert, f.Routes) },
		func() error { return bulkInsert(ctx, tx, logger, batch, stopInsert, f.Stops) },
		func() error { return bulkInsert(ctx, tx, logger, batch, tripInsert, f.Trips) },
		func() error { return bulkInsert(ctx, tx, logger, batch, stopTimeInsert, f.StopTimes) },
		func() error { return bulkInsert(ctx, tx, logger, batch, calendarDateInsert, f.CalendarDates) },
		func() error { return bulkInsert(ctx, tx, logger, batch, translationInsert, f.Translations) },
		func() error { return bulkInsert(ctx, tx, logger, batch, blockInsert, s.Blocks) },
		func() error { return bulkInsert(ctx, tx, logger, batch, routePathInsert, s.Paths) },
		func() error {
			return bulkInsert(ctx, tx, logger, batch, feedInfoInsert, []feed.FeedInfo{f.FeedInfo})
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "snapshot_stored",
		slog.Int("trips", len(f.Trips)),
		slog.Int("stop_times", len(f.StopTimes)),
		slog.Int("block_assignments", len(s.Blocks)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// bulkInsert prepares multi-row statements on a worker pool and executes them
// in order on tx.
func bulkInsert[T any](ctx context.Context, tx *sql.Tx, logger *slog.Logger, batchSize int, spec insertSpec[T], rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	if limit := sqliteMaxParams / len(spec.columns); batchSize > limit {
		batchSize = limit
	}
	numBatches := (len(rows) + batchSize - 1) / batchSize

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(spec.columns)), ", ") + ")"
	baseQuery := "INSERT INTO " + spec.table + " (" + strings.Join(spec.columns, ", ") + ") VALUES "

	numWorkers := min(runtime.NumCPU(), numBatches)
	batchChan := make(chan int, numWorkers)
	resultsChan := make(chan preparedBatch, numWorkers*4)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batchIndex := range batchChan {
				start := batchIndex * batchSize
				end := min(start+batchSize, len(rows))

				// Values are only ever bound as parameters.
				var query strings.Builder
				query.WriteString(baseQuery)
				args := make([]any, 0, (end-start)*len(spec.columns))
				for j, row := range rows[start:end] {
					if j > 0 {
						query.WriteString(", ")
					}
					query.WriteString(placeholder)
					args = append(args, spec.args(row)...)
				}

				resultsChan <- preparedBatch{query: query.String(), args: args, index: batchIndex, end: end}
			}
		}()
	}

	go func() {
		defer close(batchChan)
		for i := 0; i < numBatches; i++ {
			select {
			case <-ctx.Done():
				return
			case batchChan <- i:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	prepared := make([]preparedBatch, 0, numBatches)
	for b := range resultsChan {
		prepared = append(prepared, b)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sort.Slice(prepared, func(i, j int) bool { return prepared[i].index < prepared[j].index })

	for _, b := range prepared {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := tx.ExecContext(ctx, b.query, b.args...); err != nil {
			return fmt.Errorf("failed to insert %s batch: %w", spec.table, err)
		}
		if b.end%100000 == 0 && b.end != len(rows) {
			logging.LogOperation(logger, spec.table+"_progress",
				slog.Int("inserted", b.end),
				slog.Int("total", len(rows)))
		}
	}

	logging.LogOperation(logger, spec.table+"_inserted", slog.Int("count", len(rows)))
	return nil
}

var agencyInsert = insertSpec[feed.Agency]{
	table:   "agencies",
	columns: []string{"id", "name", "url", "timezone", "lang"},
	args: func(a feed.Agency) []any {
		return []any{a.ID, a.Name, a.URL, a.Timezone, toNullString(a.Lang)}
	},
}

var routeInsert = insertSpec[feed.Route]{
	table:   "routes",
	columns: []string{"id", "agency_id", "short_name", "long_name", "type", "color", "text_color"},
	args: func(r feed.Route) []any {
		return []any{r.ID, r.AgencyID, toNullString(r.ShortName), toNullString(r.LongName),
			r.Type, toNullString(r.Color), toNullString(r.TextColor)}
	},
}

var stopInsert = insertSpec[feed.Stop]{
	table:   "stops",
	columns: []string{"id", "code", "name", "lat", "lon", "location_type", "parent_station"},
	args: func(s feed.Stop) []any {
		return []any{s.ID, toNullString(s.Code), s.Name, s.Lat, s.Lon, s.LocationType, toNullString(s.ParentStation)}
	},
}

var tripInsert = insertSpec[feed.Trip]{
	table: "trips",
	columns: []string{"id", "route_id", "service_id", "short_name", "headsign",
		"direction_id", "direction_name", "block_id", "realtime_id"},
	args: func(t feed.Trip) []any {
		return []any{t.ID, t.RouteID, t.ServiceID, toNullString(t.ShortName), toNullString(t.Headsign),
			toNullInt64(int64(t.DirectionID)), toNullString(t.DirectionName),
			toNullString(t.BlockID), toNullString(t.RealtimeID)}
	},
}

var stopTimeInsert = insertSpec[feed.StopTime]{
	table:   "stop_times",
	columns: []string{"trip_id", "stop_sequence", "stop_id", "platform", "arrival_time", "departure_time"},
	args: func(st feed.StopTime) []any {
		return []any{st.TripID, st.StopSequence, st.StopID, toNullString(st.Platform),
			st.Arrival.Seconds(), st.Departure.Seconds()}
	},
}

var calendarDateInsert = insertSpec[feed.CalendarDate]{
	table:   "calendar_dates",
	columns: []string{"service_id", "date", "exception_type"},
	args: func(cd feed.CalendarDate) []any {
		return []any{cd.ServiceID, cd.Date.Compact(), cd.ExceptionType}
	},
}

var translationInsert = insertSpec[feed.Translation]{
	table:   "translations",
	columns: []string{"trans_id", "lang", "translation"},
	args: func(t feed.Translation) []any {
		return []any{t.TransID, t.Lang, t.Translation}
	},
}

var feedInfoInsert = insertSpec[feed.FeedInfo]{
	table:   "feed_info",
	columns: []string{"publisher_name", "publisher_url", "lang", "version"},
	args: func(fi feed.FeedInfo) []any {
		return []any{fi.PublisherName, fi.PublisherURL, fi.Lang, toNullString(fi.Version)}
	},
}

var blockInsert = insertSpec[BlockAssignment]{
	table:   "block_assignments",
	columns: []string{"trip_id", "block_id", "topology", "destinations"},
	args: func(b BlockAssignment) []any {
		return []any{b.TripID, b.BlockID, b.Topology,
			toNullString(strings.Join(b.Destinations, destinationSeparator))}
	},
}

var routePathInsert = insertSpec[RoutePath]{
	table:   "route_paths",
	columns: []string{"route_id", "station_count", "encoded_polyline"},
	args: func(p RoutePath) []any {
		return []any{p.RouteID, len(p.Points), string(encodePath(p.Points))}
	},
}

func encodePath(points []geo.Point) []byte {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Lat, p.Lon}
	}
	return polyline.EncodeCoords(coords)
}

func decodePath(encoded string) ([]geo.Point, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	points := make([]geo.Point, len(coords))
	for i, c := range coords {
		points[i] = geo.Point{Lat: c[0], Lon: c[1]}
	}
	return points, nil
}
