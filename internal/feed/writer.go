package feed

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zip"
	"trains.tokyogtfs.org/internal/logging"
)

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

type table[T any] struct {
	name   string
	header []string
	row    func(T) []string
}

var (
	agencyTable = table[Agency]{
		name:   "agency.txt",
		header: []string{"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang"},
		row: func(a Agency) []string {
			return []string{a.ID, a.Name, a.URL, a.Timezone, a.Lang}
		},
	}
	routeTable = table[Route]{
		name: "routes.txt",
		header: []string{"agency_id", "route_id", "route_short_name", "route_long_name",
			"route_type", "route_color", "route_text_color"},
		row: func(r Route) []string {
			return []string{r.AgencyID, r.ID, r.ShortName, r.LongName,
				strconv.Itoa(r.Type), r.Color, r.TextColor}
		},
	}
	stopTable = table[Stop]{
		name: "stops.txt",
		header: []string{"stop_id", "stop_code", "stop_name", "stop_lat", "stop_lon",
			"location_type", "parent_station"},
		row: func(s Stop) []string {
			return []string{s.ID, s.Code, s.Name, formatFloat(s.Lat), formatFloat(s.Lon),
				strconv.Itoa(s.LocationType), s.ParentStation}
		},
	}
	tripTable = table[Trip]{
		name: "trips.txt",
		header: []string{"route_id", "trip_id", "service_id", "trip_short_name", "trip_headsign",
			"direction_id", "direction_name", "block_id", "train_realtime_id"},
		row: func(t Trip) []string {
			return []string{t.RouteID, t.ID, t.ServiceID, t.ShortName, t.Headsign,
				strconv.Itoa(t.DirectionID), t.DirectionName, t.BlockID, t.RealtimeID}
		},
	}
	stopTimeTable = table[StopTime]{
		name:   "stop_times.txt",
		header: []string{"trip_id", "stop_sequence", "stop_id", "platform", "arrival_time", "departure_time"},
		row: func(st StopTime) []string {
			return []string{st.TripID, strconv.Itoa(st.StopSequence), st.StopID, st.Platform,
				st.Arrival.String(), st.Departure.String()}
		},
	}
	calendarDateTable = table[CalendarDate]{
		name:   "calendar_dates.txt",
		header: []string{"service_id", "date", "exception_type"},
		row: func(cd CalendarDate) []string {
			return []string{cd.ServiceID, cd.Date.Compact(), strconv.Itoa(cd.ExceptionType)}
		},
	}
	feedInfoTable = table[FeedInfo]{
		name:   "feed_info.txt",
		header: []string{"feed_publisher_name", "feed_publisher_url", "feed_lang", "feed_version"},
		row: func(fi FeedInfo) []string {
			return []string{fi.PublisherName, fi.PublisherURL, fi.Lang, fi.Version}
		},
	}
	translationTable = table[Translation]{
		name:   "translations.txt",
		header: []string{"trans_id", "lang", "translation"},
		row: func(t Translation) []string {
			return []string{t.TransID, t.Lang, t.Translation}
		},
	}
	brokenStopTable = table[BrokenStop]{
		name:   "broken_stops.csv",
		header: []string{"stop_id", "stop_name", "stop_name_en", "stop_code"},
		row: func(b BrokenStop) []string {
			return []string{b.ID, b.Name, b.NameEn, b.Code}
		},
	}
)

func (t table[T]) write(w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return fmt.Errorf("writing %s header: %w", t.name, err)
	}
	for _, r := range rows {
		if err := cw.Write(t.row(r)); err != nil {
			return fmt.Errorf("writing %s: %w", t.name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", t.name, err)
	}
	return nil
}

func addToArchive[T any](zw *zip.Writer, t table[T], rows []T) error {
	w, err := zw.Create(t.name)
	if err != nil {
		return fmt.Errorf("creating %s in archive: %w", t.name, err)
	}
	return t.write(w, rows)
}

// WriteArchive writes every table of f into a zip archive on w.
func WriteArchive(w io.Writer, f *Feed) error {
	zw := zip.NewWriter(w)

	steps := []func() error{
		func() error { return addToArchive(zw, agencyTable, f.Agencies) },
		func() error { return addToArchive(zw, routeTable, f.Routes) },
		func() error { return addToArchive(zw, stopTable, f.Stops) },
		func() error { return addToArchive(zw, tripTable, f.Trips) },
		func() error { return addToArchive(zw, stopTimeTable, f.StopTimes) },
		func() error { return addToArchive(zw, calendarDateTable, f.CalendarDates) },
		func() error { return addToArchive(zw, feedInfoTable, []FeedInfo{f.FeedInfo}) },
		func() error { return addToArchive(zw, translationTable, f.Translations) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

// WriteFile writes the archive to path through a temporary file in the same
// directory, so a failed run never leaves a truncated archive behind. It
// returns the archive bytes for verification.
func WriteFile(path string, f *Feed) ([]byte, error) {
	logger := slog.Default().With(slog.String("component", "feed_writer"))

	var buf bytes.Buffer
	if err := WriteArchive(&buf, f); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gtfs-*.zip")
	if err != nil {
		return nil, fmt.Errorf("creating temporary archive: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		logging.SafeCloseWithLogging(tmp, logger, "temporary_archive")
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("moving archive into place: %w", err)
	}

	logging.LogOperation(logger, "feed_written",
		slog.String("path", path),
		slog.Int("bytes", buf.Len()),
		slog.Int("trips", len(f.Trips)),
		slog.Int("stop_times", len(f.StopTimes)))
	return buf.Bytes(), nil
}

// WriteBrokenStops writes the report of stations without coordinates.
func WriteBrokenStops(w io.Writer, stops []BrokenStop) error {
	return brokenStopTable.write(w, stops)
}
