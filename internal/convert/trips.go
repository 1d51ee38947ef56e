package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"trains.tokyogtfs.org/internal/block"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/feed"
	"trains.tokyogtfs.org/internal/logging"
	"trains.tokyogtfs.org/internal/odpt"
	"trains.tokyogtfs.org/internal/wallclock"
)

const yamanoteRouteID = "JR-East.Yamanote"

// Yamanote line loop directions, as titled by the RailDirection dump.
const (
	innerLoop = "内回り"
	outerLoop = "外回り"
)

var loopEnglish = map[string]string{
	innerLoop: "Inner Loop ⟲",
	outerLoop: "Outer Loop ⟳",
}

// Reasons counted in StopTimesSkipped.
const (
	skipInvalidStation = "invalid_station"
	skipNoTime         = "no_time"
	skipInvalidTime    = "invalid_time"
)

// Reasons counted in TimetablesSkipped after the source filter.
const (
	skipUnknownRoute    = "unknown_route"
	skipUnknownCalendar = "unknown_calendar"
	skipTooShort        = "too_short"
)

// timedTrip is a timetable with its corrected stop times.
type timedTrip struct {
	tt        odpt.TrainTimetable
	id        string
	routeID   string
	stops     []block.Stop
	platforms []string
}

func (t *timedTrip) blockTrip() block.Trip {
	return block.Trip{
		ID:           t.id,
		Previous:     t.tt.Previous.Stripped(),
		Next:         t.tt.Next.Stripped(),
		Destinations: t.tt.DestinationStation.Stripped(),
		Stops:        t.stops,
	}
}

func (r *run) convertTrips(ctx context.Context) error {
	onSkip := func(_ odpt.TrainTimetable, reason odpt.SkipReason) {
		r.result.Stats.TimetablesSkipped++
		r.metrics.TimetablesSkipped.WithLabelValues(string(reason)).Inc()
	}

	var trips []*timedTrip
	for tt, err := range odpt.TrainTimetables(ctx, r.src, r.opts.Now, onSkip) {
		if err != nil {
			return err
		}
		r.result.Stats.TimetablesRead++
		r.metrics.TimetablesRead.Inc()
		trips = append(trips, r.timeTrip(tt))
	}

	for station, n := range r.missingStops {
		logging.LogWarning(r.logger, "timetable_references_unknown_station",
			slog.String("station", station), slog.Int("entries", n))
	}

	blocks, err := r.resolveBlocks(trips)
	if err != nil {
		return err
	}
	r.result.Blocks = blocks

	mainDirections := make(map[string]string)
	for _, t := range trips {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.emitTrip(t, blocks, mainDirections)
	}
	return nil
}

// timeTrip keeps the entries at valid stations that carry a time and applies
// the midnight rollover to them. Stop sequences are the entry indices.
func (r *run) timeTrip(tt odpt.TrainTimetable) *timedTrip {
	t := &timedTrip{tt: tt, id: tt.ID(), routeID: odpt.StripPrefix(tt.Railway)}
	seq := newSequence(tt)

	for idx, obj := range tt.Objects {
		station := obj.Station()
		if _, ok := r.points[station]; !ok {
			r.missingStops[station]++
			r.skipStopTime(skipInvalidStation)
			continue
		}

		arrivalText, departureText := obj.Times()
		if arrivalText == "" {
			r.skipStopTime(skipNoTime)
			continue
		}

		arrival, errArr := wallclock.Parse(arrivalText)
		departure, errDep := wallclock.Parse(departureText)
		if err := errors.Join(errArr, errDep); err != nil {
			logging.LogWarning(r.logger, "timetable_time_invalid",
				slog.String("trip_id", t.id), slog.String("error", err.Error()))
			r.skipStopTime(skipInvalidTime)
			continue
		}

		arrival, departure = seq.Next(arrival, departure)

		t.stops = append(t.stops, block.Stop{
			Sequence:  idx,
			StationID: station,
			Arrival:   arrival,
			Departure: departure,
		})
		t.platforms = append(t.platforms, obj.PlatformNumber)
	}
	return t
}

// newSequence reads the after-midnight flag and the first time from the same
// entry, the first one of the timetable, whether or not its station is known.
func newSequence(tt odpt.TrainTimetable) *wallclock.Sequence {
	if !tt.StartsAfterMidnight() {
		return &wallclock.Sequence{}
	}
	first, err := wallclock.Parse(tt.FirstTime())
	if err != nil {
		return &wallclock.Sequence{}
	}
	return wallclock.NewSequence(true, first)
}

func (r *run) skipStopTime(reason string) {
	r.result.Stats.StopTimesSkipped++
	r.metrics.StopTimesSkipped.WithLabelValues(reason).Inc()
}

func (r *run) resolveBlocks(trips []*timedTrip) (*block.Result, error) {
	countDiagnostic := block.SinkFunc(func(d block.Diagnostic) {
		r.metrics.BlockDiagnostics.WithLabelValues(string(d.Kind)).Inc()
	})
	resolver := block.NewResolver(block.Options{
		Strict: r.opts.Strict,
		Sink:   block.Tee(block.LogSink{Logger: r.logger}, countDiagnostic, r.opts.Diagnostics),
	})

	result, err := resolver.Resolve(func(yield func(block.Trip) bool) {
		for _, t := range trips {
			if !yield(t.blockTrip()) {
				return
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("resolving blocks: %w", err)
	}

	for _, c := range result.Components {
		r.metrics.BlockComponents.WithLabelValues(c.Topology.String()).Inc()
	}
	return result, nil
}

func (r *run) skipTimetable(reason string) {
	r.result.Stats.TimetablesSkipped++
	r.metrics.TimetablesSkipped.WithLabelValues(reason).Inc()
}

// emitTrip writes t to the feed, once per block for trips shared by several
// blocks.
func (r *run) emitTrip(t *timedTrip, blocks *block.Result, mainDirections map[string]string) {
	if _, ok := r.routes[t.routeID]; !ok {
		r.skipTimetable(skipUnknownRoute)
		return
	}

	service, err := r.calendar.Use(t.routeID, odpt.StripPrefix(t.tt.Calendar))
	if err != nil {
		if !errors.Is(err, calendar.ErrUnknownDayType) {
			logging.LogError(r.logger, "calendar use failed", err, slog.String("trip_id", t.id))
		}
		r.skipTimetable(skipUnknownCalendar)
		return
	}

	assignment, inBlock := blocks.Lookup(t.id)
	if len(t.tt.Objects) < 2 && !inBlock {
		r.skipTimetable(skipTooShort)
		return
	}

	destinations := t.tt.DestinationStation.Stripped()
	if len(destinations) == 0 && len(t.tt.Objects) > 0 {
		destinations = []string{t.tt.Objects[len(t.tt.Objects)-1].Station()}
	}

	if _, ok := mainDirections[t.routeID]; !ok {
		mainDirections[t.routeID] = t.tt.RailDirection
	}
	directionID := 0
	if t.tt.RailDirection != mainDirections[t.routeID] {
		directionID = 1
	}
	directionName := r.directions[odpt.StripPrefix(t.tt.RailDirection)]

	base := feed.Trip{
		RouteID:       t.routeID,
		ServiceID:     service.ID(),
		ID:            t.id,
		ShortName:     r.shortName(t.tt),
		Headsign:      r.headsign(t, destinations, directionName),
		DirectionID:   directionID,
		DirectionName: directionName,
		BlockID:       assignment.BlockID,
		RealtimeID:    odpt.StripPrefix(t.tt.Train),
	}

	if !assignment.Branched() {
		r.appendTrip(base, t)
		return
	}

	for _, tag := range assignment.Tags {
		trip := base
		trip.ID = fmt.Sprintf("%s.Block%s", t.id, tag.BlockID)
		trip.BlockID = tag.BlockID
		if len(tag.Destinations) > 0 {
			trip.Headsign = r.headsign(t, tag.Destinations, directionName)
		}
		r.appendTrip(trip, t)
	}
}

func (r *run) appendTrip(trip feed.Trip, t *timedTrip) {
	r.feed.Trips = append(r.feed.Trips, trip)
	r.metrics.TripsEmitted.Inc()

	for i, s := range t.stops {
		r.feed.StopTimes = append(r.feed.StopTimes, feed.StopTime{
			TripID:       trip.ID,
			StopSequence: s.Sequence,
			StopID:       s.StationID,
			Platform:     t.platforms[i],
			Arrival:      s.Arrival,
			Departure:    s.Departure,
		})
	}
}

// shortName is the train number followed by the train names, if any.
func (r *run) shortName(tt odpt.TrainTimetable) string {
	name := tt.TrainName.Join("ja", "・")
	if name == "" {
		return tt.TrainNumber
	}

	short := tt.TrainNumber + " " + name
	if en := tt.TrainName.Join("en", " / "); en != "" {
		r.translations.Set(short, tt.TrainNumber+" "+en)
	}
	return short
}

// headsign renders the destination names, prefixed by the train type or, on
// the Yamanote line, by the loop direction.
func (r *run) headsign(t *timedTrip, destinationIDs []string, direction string) string {
	names := make([]string, len(destinationIDs))
	namesEn := make([]string, 0, len(destinationIDs))
	for i, id := range destinationIDs {
		names[i] = r.stationName(id)
		if en, ok := r.translations.English(names[i]); ok {
			namesEn = append(namesEn, en)
		}
	}

	destination := strings.Join(names, "・")
	destinationEn := ""
	if len(namesEn) == len(names) {
		destinationEn = strings.Join(namesEn, " / ")
	}

	var headsign, headsignEn string
	loopEn, isLoop := loopEnglish[direction]

	switch {
	case t.routeID == yamanoteRouteID && isLoop && len(t.tt.Next) == 0:
		headsign = "（" + direction + "）" + destination
		if destinationEn != "" {
			headsignEn = "(" + loopEn + ") " + destinationEn
		}

	case t.routeID == yamanoteRouteID && isLoop:
		headsign, headsignEn = direction, loopEn

	default:
		headsign, headsignEn = destination, destinationEn
		if kind, ok := r.trainTypes[odpt.StripPrefix(t.tt.TrainType)]; ok && kind.ja != "" {
			headsign = "（" + kind.ja + "）" + destination
			headsignEn = ""
			if destinationEn != "" && kind.en != "" {
				headsignEn = "(" + kind.en + ") " + destinationEn
			}
		}
	}

	r.translations.Set(headsign, headsignEn)
	return headsign
}

// stationName returns the station title, or a name derived from the id for
// stations missing from the Station dump.
func (r *run) stationName(id string) string {
	if name, ok := r.stationNames[id]; ok {
		return name
	}

	last := id
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		last = id[i+1:]
	}
	name := splitCamel(last)
	r.stationNames[id] = name

	if _, warned := r.unknownNames[id]; !warned {
		r.unknownNames[id] = struct{}{}
		logging.LogWarning(r.logger, "station_name_missing",
			slog.String("station", id), slog.String("fallback", name))
	}
	return name
}

// splitCamel puts a space before every capitalized word but the first:
// "HongoSanchome" becomes "Hongo Sanchome".
func splitCamel(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if i > 0 && isUpper(c) && i+1 < len(s) && isLower(s[i+1]) {
			b.WriteByte(' ')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isUpper(c byte) bool { return 'A' <= c && c <= 'Z' }
func isLower(c byte) bool { return 'a' <= c && c <= 'z' }
