package feed

import (
	"fmt"
	"log/slog"

	"github.com/OneBusAway/go-gtfs"
	"trains.tokyogtfs.org/internal/logging"
)

// Report summarizes a parsed archive.
type Report struct {
	Agencies int
	Routes   int
	Stops    int
	Services int
	Trips    int
	Blocks   int
	Warnings int
}

// Verify parses the archive with the GTFS static parser and reports what it
// found. A parse failure is returned as an error; warnings are logged.
func Verify(archive []byte) (*Report, *gtfs.Static, error) {
	logger := slog.Default().With(slog.String("component", "feed_verifier"))

	static, err := gtfs.ParseStatic(archive, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("written feed does not parse: %w", err)
	}

	blocks := make(map[string]struct{})
	for _, trip := range static.Trips {
		if trip.BlockID != "" {
			blocks[trip.BlockID] = struct{}{}
		}
	}

	report := &Report{
		Agencies: len(static.Agencies),
		Routes:   len(static.Routes),
		Stops:    len(static.Stops),
		Services: len(static.Services),
		Trips:    len(static.Trips),
		Blocks:   len(blocks),
		Warnings: len(static.Warnings),
	}

	for i, w := range static.Warnings {
		if i == 20 {
			logging.LogWarning(logger, "further_feed_warnings_omitted",
				slog.Int("remaining", len(static.Warnings)-i))
			break
		}
		logging.LogWarning(logger, "feed_warning", slog.String("warning", fmt.Sprintf("%v", w)))
	}

	logging.LogOperation(logger, "feed_verified",
		slog.Int("agencies", report.Agencies),
		slog.Int("routes", report.Routes),
		slog.Int("stops", report.Stops),
		slog.Int("services", report.Services),
		slog.Int("trips", report.Trips),
		slog.Int("blocks", report.Blocks),
		slog.Int("warnings", report.Warnings))

	return report, static, nil
}
