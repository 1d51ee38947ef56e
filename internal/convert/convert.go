// Package convert runs one ODPT to GTFS conversion: reference tables and API
// dumps in, a complete feed.Feed plus its block resolution out.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"trains.tokyogtfs.org/internal/block"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/feed"
	"trains.tokyogtfs.org/internal/geo"
	"trains.tokyogtfs.org/internal/logging"
	"trains.tokyogtfs.org/internal/metrics"
	"trains.tokyogtfs.org/internal/odpt"
	"trains.tokyogtfs.org/internal/stations"
)

const (
	DefaultTimezone  = "Asia/Tokyo"
	DefaultPublisher = "Tokyo trains GTFS"
	DefaultURL       = "https://github.com/MKuranowski/TokyoGTFS"
)

// Options configure a conversion.
type Options struct {
	// Now decides which timetables have expired and stamps feed_version.
	Now time.Time
	// Start and End bound the calendar window. A zero End means the default
	// window after Start.
	Start, End calendar.Date
	Holidays   []calendar.Date
	// Strict aborts the run on the first unsupported block topology.
	Strict bool
	// Diagnostics receives block resolver diagnostics in addition to the log.
	Diagnostics block.Sink

	Timezone      string
	PublisherName string
	PublisherURL  string
}

// RoutePath is the ordered list of station positions of a route.
type RoutePath struct {
	RouteID string
	Points  []geo.Point
}

// Stats counts what happened to the input.
type Stats struct {
	TimetablesRead    int
	TimetablesSkipped int
	TripsEmitted      int
	TripsRemoved      int
	StopTimesSkipped  int
	BrokenStops       int
}

// Result is the output of one conversion.
type Result struct {
	Feed        *feed.Feed
	BrokenStops []feed.BrokenStop
	Blocks      *block.Result
	Paths       []RoutePath
	Calendar    *calendar.Resolver
	Stats       Stats
}

// Converter turns ODPT data into a GTFS feed.
type Converter struct {
	src     odpt.Source
	ref     *Reference
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(src odpt.Source, ref *Reference, opts Options, m *metrics.Metrics) *Converter {
	if opts.Timezone == "" {
		opts.Timezone = DefaultTimezone
	}
	if opts.PublisherName == "" {
		opts.PublisherName = DefaultPublisher
	}
	if opts.PublisherURL == "" {
		opts.PublisherURL = DefaultURL
	}
	if m == nil {
		m = metrics.New()
	}
	return &Converter{
		src:     src,
		ref:     ref,
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With(slog.String("component", "converter")),
	}
}

// run is the mutable state of one Run call.
type run struct {
	*Converter

	feed         *feed.Feed
	result       *Result
	translations *feed.Translations
	calendar     *calendar.Resolver
	merger       *stations.Merger

	routes        map[string]struct{}
	stationNames  map[string]string
	points        map[string]geo.Point
	directions    map[string]string
	trainTypes    map[string]trainType
	unknownNames  map[string]struct{}
	missingStops  map[string]int
}

type trainType struct {
	ja, en string
}

// Run performs the conversion. Errors reading the source abort the run;
// problems with single records are logged and the record is skipped.
func (c *Converter) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	r := &run{
		Converter:     c,
		feed:          &feed.Feed{},
		translations:  feed.NewTranslations(),
		calendar:      calendar.NewResolver(c.opts.Start, c.opts.End, c.opts.Holidays, nil),
		merger:        stations.NewMerger(stations.DefaultMaxDistance, stations.DefaultSeparate),
		routes:        make(map[string]struct{}),
		stationNames:  make(map[string]string),
		points:        make(map[string]geo.Point),
		directions:    make(map[string]string),
		trainTypes:    make(map[string]trainType),
		unknownNames:  make(map[string]struct{}),
		missingStops:  make(map[string]int),
	}
	r.result = &Result{Feed: r.feed, Calendar: r.calendar}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"agencies", r.loadAgencies},
		{"stations", r.loadStations},
		{"routes", r.loadRoutes},
		{"calendars", r.loadCalendars},
		{"rail_directions", r.loadDirections},
		{"train_types", r.loadTrainTypes},
		{"trips", r.convertTrips},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step.fn(ctx); err != nil {
			return nil, fmt.Errorf("converting %s: %w", step.name, err)
		}
	}

	r.finish()

	logging.LogOperation(c.logger, "conversion_finished",
		slog.Int("trips", len(r.feed.Trips)),
		slog.Int("stop_times", len(r.feed.StopTimes)),
		slog.Int("stops", len(r.feed.Stops)),
		slog.Int("calendar_dates", len(r.feed.CalendarDates)),
		slog.Duration("duration", time.Since(start)))
	return r.result, nil
}

func (r *run) loadAgencies(context.Context) error {
	for _, id := range r.ref.OperatorIDs() {
		op, ok := r.ref.Operators[id]
		if !ok {
			logging.LogWarning(r.logger, "operator_without_reference_data", slog.String("operator", id))
		}

		name := op.Name
		if name == "" {
			name = id
		}
		r.translations.Set(op.Name, op.NameEn)

		r.feed.Agencies = append(r.feed.Agencies, feed.Agency{
			ID:       id,
			Name:     name,
			URL:      op.Website,
			Timezone: r.opts.Timezone,
			Lang:     "ja",
		})
	}
	return nil
}

func (r *run) loadStations(ctx context.Context) error {
	for st, err := range odpt.Stream[odpt.Station](ctx, r.src, odpt.EndpointStation) {
		if err != nil {
			return err
		}

		id := odpt.StripPrefix(st.SameAs)
		r.stationNames[id] = st.Title
		r.translations.Set(st.Title, st.StationTitle["en"])

		if _, ok := r.ref.Route(odpt.StripPrefix(st.Railway)); !ok {
			continue
		}

		code := strings.ReplaceAll(st.StationCode, "-", "")
		point, ok := r.ref.Fixes[id]
		if !ok && st.Lat != nil && st.Lon != nil && *st.Lat != 0 && *st.Lon != 0 {
			point, ok = geo.Point{Lat: *st.Lat, Lon: *st.Lon}, true
		}

		if !ok {
			r.result.BrokenStops = append(r.result.BrokenStops, feed.BrokenStop{
				ID: id, Name: st.Title, NameEn: st.StationTitle["en"], Code: code,
			})
			continue
		}

		r.points[id] = point
		r.merger.Add(stations.Stop{ID: id, Code: code, Name: st.Title, Point: point})
	}

	r.result.Stats.BrokenStops = len(r.result.BrokenStops)
	if n := len(r.result.BrokenStops); n > 0 {
		logging.LogWarning(r.logger, "stations_without_position", slog.Int("count", n))
	}
	return nil
}

func (r *run) loadRoutes(ctx context.Context) error {
	for rw, err := range odpt.Stream[odpt.Railway](ctx, r.src, odpt.EndpointRailway) {
		if err != nil {
			return err
		}

		id := odpt.StripPrefix(rw.SameAs)
		info, ok := r.ref.Route(id)
		if !ok {
			continue
		}
		if _, dup := r.routes[id]; dup {
			continue
		}

		textColor, err := feed.TextColor(info.Color)
		if err != nil {
			logging.LogWarning(r.logger, "route_color_invalid",
				slog.String("route_id", id), slog.String("error", err.Error()))
			info.Color, textColor = "", ""
		}
		r.translations.Set(info.Name, info.NameEn)

		r.routes[id] = struct{}{}
		r.feed.Routes = append(r.feed.Routes, feed.Route{
			ID:        id,
			AgencyID:  info.Operator,
			ShortName: info.Code,
			LongName:  info.Name,
			Type:      info.Type,
			Color:     info.Color,
			TextColor: textColor,
		})

		order := slices.Clone(rw.StationOrder)
		slices.SortStableFunc(order, func(a, b odpt.StationOrder) int { return a.Index - b.Index })
		path := RoutePath{RouteID: id}
		for _, so := range order {
			if p, ok := r.points[odpt.StripPrefix(so.Station)]; ok {
				path.Points = append(path.Points, p)
			}
		}
		if len(path.Points) >= 2 {
			r.result.Paths = append(r.result.Paths, path)
		}
	}

	for _, info := range r.ref.Routes {
		if _, ok := r.routes[info.ID]; !ok {
			logging.LogWarning(r.logger, "route_missing_from_railway_data", slog.String("route_id", info.ID))
		}
	}
	return nil
}

func (r *run) loadCalendars(ctx context.Context) error {
	for _, id := range calendar.BuiltIns() {
		r.calendar.AddDefinition(calendar.Definition{ID: id})
	}

	for cal, err := range odpt.Stream[odpt.Calendar](ctx, r.src, odpt.EndpointCalendar) {
		if err != nil {
			return err
		}

		def := calendar.Definition{ID: odpt.StripPrefix(cal.SameAs)}
		for _, day := range cal.Days {
			d, err := calendar.ParseDate(day)
			if err != nil {
				logging.LogWarning(r.logger, "calendar_day_invalid",
					slog.String("calendar", def.ID), slog.String("error", err.Error()))
				continue
			}
			def.Days = append(def.Days, d)
		}
		r.calendar.AddDefinition(def)
	}
	return nil
}

func (r *run) loadDirections(ctx context.Context) error {
	for dir, err := range odpt.Stream[odpt.RailDirection](ctx, r.src, odpt.EndpointRailDirection) {
		if err != nil {
			return err
		}
		r.directions[odpt.StripPrefix(dir.SameAs)] = dir.Title
	}
	return nil
}

func (r *run) loadTrainTypes(ctx context.Context) error {
	for tt, err := range odpt.Stream[odpt.TrainType](ctx, r.src, odpt.EndpointTrainType) {
		if err != nil {
			return err
		}
		r.trainTypes[odpt.StripPrefix(tt.SameAs)] = trainType{ja: tt.Title, en: tt.TrainTypeTitle["en"]}
	}
	return nil
}

// finish exports calendars, drops trips whose service never runs, and
// assembles the stop and translation tables.
func (r *run) finish() {
	for sd, d := range r.calendar.Export() {
		r.feed.CalendarDates = append(r.feed.CalendarDates, feed.CalendarDate{
			ServiceID:     sd.ID(),
			Date:          d,
			ExceptionType: feed.ExceptionAdded,
		})
	}
	r.metrics.CalendarDates.Add(float64(len(r.feed.CalendarDates)))

	removed := r.feed.RemoveTrips(func(t feed.Trip) bool { return r.calendar.WasExported(t.ServiceID) })
	r.result.Stats.TripsRemoved = removed
	r.result.Stats.TripsEmitted = len(r.feed.Trips)
	r.metrics.TripsRemoved.Add(float64(removed))
	if removed > 0 {
		logging.LogOperation(r.logger, "trips_without_service_removed", slog.Int("count", removed))
	}

	for _, e := range r.merger.Entries() {
		r.feed.Stops = append(r.feed.Stops, feed.Stop{
			ID:            e.ID,
			Code:          e.Code,
			Name:          e.Name,
			Lat:           e.Point.Lat,
			Lon:           e.Point.Lon,
			LocationType:  e.LocationType,
			ParentStation: e.Parent,
		})
	}

	r.feed.Translations = r.translations.Rows()
	r.feed.FeedInfo = feed.FeedInfo{
		PublisherName: r.opts.PublisherName,
		PublisherURL:  r.opts.PublisherURL,
		Lang:          "ja",
		Version:       r.opts.Now.Format(time.DateTime),
	}
}
