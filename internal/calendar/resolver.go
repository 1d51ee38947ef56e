// Package calendar decides on which concrete dates each ODPT day type
// (Weekday, SaturdayHoliday, explicit-date calendars, ...) runs, and flattens
// the day types used by every route into GTFS calendar_dates rows.
package calendar

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"trains.tokyogtfs.org/internal/logging"
)

// DefaultWindow is the number of days after the start date covered when no
// end date is given.
const DefaultWindow = 180

// Built-in day types.
const (
	Everyday        = "Everyday"
	Weekday         = "Weekday"
	Holiday         = "Holiday"
	SaturdayHoliday = "SaturdayHoliday"
)

// ErrUnknownDayType marks a day type that is neither built in nor has any
// explicit date inside the window.
var ErrUnknownDayType = errors.New("unknown day type")

var builtIns = map[string]struct{}{
	Everyday: {}, Weekday: {}, Holiday: {}, SaturdayHoliday: {},
	"Monday": {}, "Tuesday": {}, "Wednesday": {}, "Thursday": {},
	"Friday": {}, "Saturday": {}, "Sunday": {},
}

// IsBuiltIn reports whether id is one of the fixed day types.
func IsBuiltIn(id string) bool {
	_, ok := builtIns[id]
	return ok
}

// BuiltIns lists the fixed day types in lexical order.
func BuiltIns() []string {
	ids := make([]string, 0, len(builtIns))
	for id := range builtIns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Definition is one calendar record from the source: its id and any explicit
// dates it is scheduled on.
type Definition struct {
	ID   string
	Days []Date
}

// ServiceDay is the (route, day type) pair used as a GTFS service_id.
type ServiceDay struct {
	RouteID string
	DayType string
}

// ID renders the GTFS service_id.
func (s ServiceDay) ID() string { return s.RouteID + "." + s.DayType }

// Resolver holds one run's calendar state. It is not safe for concurrent use.
type Resolver struct {
	start, end Date

	valid    map[string]struct{}
	special  map[Date]map[string]struct{}
	holidays map[Date]struct{}

	used     map[string]map[string]struct{}
	exported map[string]struct{}

	logger *slog.Logger
}

// NewResolver creates a resolver for [start, end]. A zero end means
// start + DefaultWindow days. Holidays outside the window are ignored.
func NewResolver(start, end Date, holidays []Date, logger *slog.Logger) *Resolver {
	if end.IsZero() {
		end = start.AddDays(DefaultWindow)
	}
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "calendar_resolver"))
	}

	r := &Resolver{
		start:    start,
		end:      end,
		valid:    make(map[string]struct{}),
		special:  make(map[Date]map[string]struct{}),
		holidays: make(map[Date]struct{}),
		used:     make(map[string]map[string]struct{}),
		exported: make(map[string]struct{}),
		logger:   logger,
	}

	for _, h := range holidays {
		if r.inWindow(h) {
			r.holidays[h] = struct{}{}
		}
	}
	return r
}

func (r *Resolver) Start() Date { return r.start }
func (r *Resolver) End() Date   { return r.end }

func (r *Resolver) inWindow(d Date) bool { return !d.Before(r.start) && !d.After(r.end) }

// AddDefinition registers a calendar from the source. Built-in ids are always
// valid; other ids become valid only if at least one of their dates falls
// inside the window, and those dates become special dates.
func (r *Resolver) AddDefinition(def Definition) {
	if IsBuiltIn(def.ID) {
		r.valid[def.ID] = struct{}{}
		return
	}

	inWindow := 0
	for _, d := range def.Days {
		if !r.inWindow(d) {
			continue
		}
		if r.special[d] == nil {
			r.special[d] = make(map[string]struct{})
		}
		r.special[d][def.ID] = struct{}{}
		inWindow++
	}

	if inWindow > 0 {
		r.valid[def.ID] = struct{}{}
	}
}

// IsValid reports whether trips may reference dayType.
func (r *Resolver) IsValid(dayType string) bool {
	_, ok := r.valid[dayType]
	return ok
}

// IsHoliday reports whether d is a holiday inside the window.
func (r *Resolver) IsHoliday(d Date) bool {
	_, ok := r.holidays[d]
	return ok
}

// ResolveDay returns the day types among candidates that apply on date,
// evaluating the precedence rules in order; only explicitly scheduled day
// types can produce more than one result. No match returns nil.
func (r *Resolver) ResolveDay(date Date, candidates ...string) []string {
	set := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		set[c] = struct{}{}
	}
	return r.resolveDay(date, set)
}

func (r *Resolver) resolveDay(date Date, candidates map[string]struct{}) []string {
	has := func(id string) bool {
		_, ok := candidates[id]
		return ok
	}

	var special []string
	for id := range r.special[date] {
		if has(id) {
			special = append(special, id)
		}
	}
	if len(special) > 0 {
		slices.Sort(special)
		return special
	}

	weekday := date.Weekday()
	holiday := r.IsHoliday(date)
	weekend := weekday == time.Saturday || weekday == time.Sunday

	switch {
	case holiday && has(Holiday):
		return []string{Holiday}
	case holiday && has(SaturdayHoliday):
		return []string{SaturdayHoliday}
	case !holiday && has(weekday.String()):
		return []string{weekday.String()}
	case !holiday && !weekend && has(Weekday):
		return []string{Weekday}
	case (weekend || holiday) && has(SaturdayHoliday):
		return []string{SaturdayHoliday}
	case has(Everyday):
		return []string{Everyday}
	}
	return nil
}

// Use records that routeID runs trips on dayType and returns the service key
// for them. Unknown day types return ErrUnknownDayType and are not recorded.
func (r *Resolver) Use(routeID, dayType string) (ServiceDay, error) {
	if !r.IsValid(dayType) {
		return ServiceDay{}, fmt.Errorf("%w: %s (route %s)", ErrUnknownDayType, dayType, routeID)
	}

	if r.used[routeID] == nil {
		r.used[routeID] = make(map[string]struct{})
	}
	r.used[routeID][dayType] = struct{}{}

	return ServiceDay{RouteID: routeID, DayType: dayType}, nil
}

// Export walks every used (route, day type) pair over the window and yields
// one pair per date on which that day type is selected. Routes are visited in
// lexical order, dates in calendar order.
func (r *Resolver) Export() iter.Seq2[ServiceDay, Date] {
	return func(yield func(ServiceDay, Date) bool) {
		routes := make([]string, 0, len(r.used))
		for routeID := range r.used {
			routes = append(routes, routeID)
		}
		slices.Sort(routes)

		for _, routeID := range routes {
			logging.LogOperation(r.logger, "exporting_route_calendars",
				slog.String("route_id", routeID),
				slog.Int("day_types", len(r.used[routeID])))

			for d := r.start; !d.After(r.end); d = d.AddDays(1) {
				for _, dayType := range r.resolveDay(d, r.used[routeID]) {
					sd := ServiceDay{RouteID: routeID, DayType: dayType}
					r.exported[sd.ID()] = struct{}{}
					if !yield(sd, d) {
						return
					}
				}
			}
		}
	}
}

// WasExported reports whether Export produced at least one date for serviceID.
func (r *Resolver) WasExported(serviceID string) bool {
	_, ok := r.exported[serviceID]
	return ok
}
