// Package feed holds the GTFS tables produced by a conversion and writes
// them out as a zip archive.
package feed

import (
	"fmt"
	"strconv"
	"strings"

	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/wallclock"
)

// RouteTypeRail is the GTFS route_type used when the route table gives none.
const RouteTypeRail = 2

// ExceptionAdded is the only calendar_dates exception type produced.
const ExceptionAdded = 1

type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
	Lang     string
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Type      int
	Color     string
	TextColor string
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Lat           float64
	Lon           float64
	LocationType  int
	ParentStation string
}

type Trip struct {
	RouteID       string
	ServiceID     string
	ID            string
	ShortName     string
	Headsign      string
	DirectionID   int
	DirectionName string
	BlockID       string
	RealtimeID    string
}

type StopTime struct {
	TripID       string
	StopSequence int
	StopID       string
	Platform     string
	Arrival      wallclock.Time
	Departure    wallclock.Time
}

type CalendarDate struct {
	ServiceID     string
	Date          calendar.Date
	ExceptionType int
}

type FeedInfo struct {
	PublisherName string
	PublisherURL  string
	Lang          string
	Version       string
}

// Translation uses the trans_id form: TransID is the original Japanese text.
type Translation struct {
	TransID     string
	Lang        string
	Translation string
}

// BrokenStop is a station left out of stops.txt for lack of coordinates.
type BrokenStop struct {
	ID     string
	Name   string
	NameEn string
	Code   string
}

// Feed is a complete set of GTFS tables.
type Feed struct {
	Agencies      []Agency
	Routes        []Route
	Stops         []Stop
	Trips         []Trip
	StopTimes     []StopTime
	CalendarDates []CalendarDate
	FeedInfo      FeedInfo
	Translations  []Translation
}

// RemoveTrips drops the trips for which keep returns false, along with their
// stop times, and returns how many trips were removed.
func (f *Feed) RemoveTrips(keep func(Trip) bool) int {
	removed := make(map[string]struct{})
	trips := f.Trips[:0]
	for _, t := range f.Trips {
		if keep(t) {
			trips = append(trips, t)
		} else {
			removed[t.ID] = struct{}{}
		}
	}
	f.Trips = trips

	if len(removed) == 0 {
		return 0
	}

	times := f.StopTimes[:0]
	for _, st := range f.StopTimes {
		if _, gone := removed[st.TripID]; !gone {
			times = append(times, st)
		}
	}
	f.StopTimes = times
	return len(removed)
}

// Translations collects Japanese to English pairs, keeping the first English
// text set for each string.
type Translations struct {
	order   []string
	english map[string]string
}

func NewTranslations() *Translations {
	return &Translations{english: make(map[string]string)}
}

func (t *Translations) Set(japanese, english string) {
	if japanese == "" || english == "" {
		return
	}
	if _, ok := t.english[japanese]; ok {
		return
	}
	t.order = append(t.order, japanese)
	t.english[japanese] = english
}

func (t *Translations) English(japanese string) (string, bool) {
	en, ok := t.english[japanese]
	return en, ok
}

// Rows renders a "ja" and an "en" row per string, in insertion order.
func (t *Translations) Rows() []Translation {
	rows := make([]Translation, 0, 2*len(t.order))
	for _, ja := range t.order {
		rows = append(rows,
			Translation{TransID: ja, Lang: "ja", Translation: ja},
			Translation{TransID: ja, Lang: "en", Translation: t.english[ja]})
	}
	return rows
}

// TextColor picks black or white text for a RRGGBB background using its YIQ
// brightness.
func TextColor(background string) (string, error) {
	background = strings.TrimPrefix(background, "#")
	if len(background) != 6 {
		return "", fmt.Errorf("invalid color %q", background)
	}

	var rgb [3]float64
	for i := range rgb {
		v, err := strconv.ParseUint(background[2*i:2*i+2], 16, 8)
		if err != nil {
			return "", fmt.Errorf("invalid color %q: %w", background, err)
		}
		rgb[i] = float64(v)
	}

	if 0.299*rgb[0]+0.587*rgb[1]+0.114*rgb[2] > 128 {
		return "000000", nil
	}
	return "FFFFFF", nil
}
