package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"trains.tokyogtfs.org/gtfsdb"
	"trains.tokyogtfs.org/internal/app"
	"trains.tokyogtfs.org/internal/appconf"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/clock"
	"trains.tokyogtfs.org/internal/convert"
	"trains.tokyogtfs.org/internal/feed"
	"trains.tokyogtfs.org/internal/logging"
	"trains.tokyogtfs.org/internal/metrics"
	"trains.tokyogtfs.org/internal/odpt"
)

// BrokenStopsFile is written next to the output archive.
const BrokenStopsFile = "broken_stops.csv"

const dbStatsInterval = 5 * time.Second

// BuildApplication wires the dependencies described by cfg.
func BuildApplication(cfg appconf.Config, logger *slog.Logger) (*app.Application, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clk, err := clock.FromEnvironment(clock.EnvNow, loc)
	if err != nil {
		return nil, err
	}

	ref, err := convert.LoadReference(cfg.ReferenceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference data: %w", err)
	}

	m := metrics.NewWithLogger(logger)

	var src odpt.Source
	if cfg.UsesLocalData() {
		src = odpt.DirSource{Dir: cfg.DataDir}
	} else {
		src = odpt.NewClient(odpt.ClientConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			OnResponse:        m.ObserveRequest,
		})
	}

	coreApp := &app.Application{
		Config:    cfg,
		Logger:    logger,
		Clock:     clk,
		Metrics:   m,
		Source:    src,
		Reference: ref,
	}

	if cfg.DBPath != "" {
		db, err := gtfsdb.NewClient(gtfsdb.NewConfig(cfg.DBPath, cfg.Env, cfg.Verbose))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		coreApp.DB = db
		m.StartDBStatsCollector(db.DB, dbStatsInterval)
	}

	return coreApp, nil
}

// Run performs one conversion and writes every configured output.
func Run(ctx context.Context, coreApp *app.Application) error {
	cfg := coreApp.Config
	logger := coreApp.Logger
	began := time.Now()
	now := coreApp.Clock.Now()

	start, end, err := coreApp.Window()
	if err != nil {
		return err
	}

	holidays, err := loadHolidays(ctx, cfg, start, end)
	if err != nil {
		return err
	}

	logging.LogOperation(logger, "conversion_started",
		slog.Time("now", now),
		slog.String("window_start", start.String()),
		slog.String("window_end", end.String()),
		slog.Int("holidays", len(holidays)),
		slog.Bool("strict", cfg.Strict),
		slog.Bool("local_data", cfg.UsesLocalData()))

	result, err := convert.New(coreApp.Source, coreApp.Reference, convert.Options{
		Now:      now,
		Start:    start,
		End:      end,
		Holidays: holidays,
		Strict:   cfg.Strict,
		Timezone: cfg.Timezone,
	}, coreApp.Metrics).Run(ctx)
	if err != nil {
		return err
	}

	archive, err := feed.WriteFile(cfg.Output, result.Feed)
	if err != nil {
		return err
	}
	report, _, err := feed.Verify(archive)
	if err != nil {
		return err
	}

	if err := writeBrokenStops(filepath.Join(filepath.Dir(cfg.Output), BrokenStopsFile), result.BrokenStops); err != nil {
		return err
	}

	if coreApp.DB != nil {
		run := gtfsdb.NewRun(now, start, end, cfg.Strict, cfg.Output)
		if err := coreApp.DB.StoreSnapshot(ctx, snapshotOf(run, result)); err != nil {
			return fmt.Errorf("failed to store feed in database: %w", err)
		}
		if counts, err := coreApp.DB.TableCounts(); err != nil {
			logging.LogError(logger, "failed to count database rows", err)
		} else {
			logger.Debug("database_stored",
				slog.String("path", coreApp.DB.GetDBPath()),
				slog.Any("rows", counts))
		}
	}

	coreApp.Metrics.FinishRun(began, time.Now())
	if cfg.MetricsPath != "" {
		if err := coreApp.Metrics.WriteToTextfile(cfg.MetricsPath); err != nil {
			return err
		}
	}

	logging.LogOperation(logger, "run_finished",
		slog.String("output", cfg.Output),
		slog.Int("trips", report.Trips),
		slog.Int("blocks", report.Blocks),
		slog.Int("stops", report.Stops),
		slog.Int("broken_stops", len(result.BrokenStops)),
		slog.Duration("duration", time.Since(began)))
	return nil
}

// loadHolidays prefers a local holiday file to the download. Without either
// the window has no holidays.
func loadHolidays(ctx context.Context, cfg appconf.Config, start, end calendar.Date) ([]calendar.Date, error) {
	switch {
	case cfg.HolidaysFile != "":
		f, err := os.Open(cfg.HolidaysFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open holidays file: %w", err)
		}
		defer logging.SafeCloseWithLogging(f, slog.Default(), "holidays_file")
		return calendar.ParseHolidays(f, start, end)

	case cfg.HolidaysURL != "":
		return calendar.FetchHolidays(ctx, &http.Client{Timeout: cfg.Timeout}, cfg.HolidaysURL, start, end)
	}
	return nil, nil
}

func writeBrokenStops(path string, stops []feed.BrokenStop) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create broken stops report: %w", err)
	}
	if err := feed.WriteBrokenStops(f, stops); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write broken stops report: %w", err)
	}
	return f.Close()
}

// snapshotOf flattens a conversion result into the rows stored by gtfsdb.
func snapshotOf(run gtfsdb.Run, result *convert.Result) gtfsdb.Snapshot {
	s := gtfsdb.Snapshot{Run: run, Feed: result.Feed}

	if result.Blocks != nil {
		topology := make(map[string]string)
		for _, c := range result.Blocks.Components {
			for _, id := range c.Members {
				topology[id] = c.Topology.String()
			}
		}

		tripIDs := make([]string, 0, len(result.Blocks.Assignments))
		for id := range result.Blocks.Assignments {
			tripIDs = append(tripIDs, id)
		}
		slices.Sort(tripIDs)

		for _, id := range tripIDs {
			a := result.Blocks.Assignments[id]
			if !a.Branched() {
				if a.BlockID != "" {
					s.Blocks = append(s.Blocks, gtfsdb.BlockAssignment{TripID: id, BlockID: a.BlockID, Topology: topology[id]})
				}
				continue
			}
			for _, tag := range a.Tags {
				s.Blocks = append(s.Blocks, gtfsdb.BlockAssignment{
					TripID:       id,
					BlockID:      tag.BlockID,
					Topology:     topology[id],
					Destinations: tag.Destinations,
				})
			}
		}
	}

	for _, p := range result.Paths {
		s.Paths = append(s.Paths, gtfsdb.RoutePath{RouteID: p.RouteID, Points: p.Points})
	}
	return s
}
