// Package odpt reads records from the Open Data for Public Transportation
// (ODPT) API v4 or from a directory holding its data dumps.
package odpt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Endpoints used by the converter.
const (
	EndpointCalendar       = "Calendar"
	EndpointRailDirection  = "RailDirection"
	EndpointRailway        = "Railway"
	EndpointStation        = "Station"
	EndpointTrainTimetable = "TrainTimetable"
	EndpointTrainType      = "TrainType"
)

// StripPrefix drops the "odpt.Type:" part of an ODPT identifier.
func StripPrefix(id string) string {
	if _, rest, ok := strings.Cut(id, ":"); ok {
		return rest
	}
	return id
}

// StringList decodes a field the API sends either as a string or as a list of
// strings. A null or empty string decodes to an empty list.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
		} else {
			*l = StringList{s}
		}
		return nil
	default:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("expected string or list of strings: %w", err)
		}
		*l = list
		return nil
	}
}

// Stripped returns the list with StripPrefix applied to every entry.
func (l StringList) Stripped() []string {
	if len(l) == 0 {
		return nil
	}
	out := make([]string, len(l))
	for i, s := range l {
		out[i] = StripPrefix(s)
	}
	return out
}

// Titles is a language-keyed set of names, e.g. {"ja": "...", "en": "..."}.
type Titles map[string]string

// TitleList decodes a field sent either as one Titles object or a list of them.
type TitleList []Titles

func (l *TitleList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case len(data) > 0 && data[0] == '{':
		var t Titles
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		*l = TitleList{t}
		return nil
	default:
		var list []Titles
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
}

// Join concatenates the names in lang, skipping entries without one.
func (l TitleList) Join(lang, sep string) string {
	var parts []string
	for _, t := range l {
		if name := t[lang]; name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, sep)
}

type Calendar struct {
	SameAs string   `json:"owl:sameAs"`
	Title  string   `json:"dc:title"`
	Days   []string `json:"odpt:day"`
}

type RailDirection struct {
	SameAs string `json:"owl:sameAs"`
	Title  string `json:"dc:title"`
}

type StationOrder struct {
	Index   int    `json:"odpt:index"`
	Station string `json:"odpt:station"`
}

type Railway struct {
	SameAs       string         `json:"owl:sameAs"`
	Title        string         `json:"dc:title"`
	RailwayTitle Titles         `json:"odpt:railwayTitle"`
	Operator     string         `json:"odpt:operator"`
	StationOrder []StationOrder `json:"odpt:stationOrder"`
}

type Station struct {
	SameAs       string   `json:"owl:sameAs"`
	Title        string   `json:"dc:title"`
	StationTitle Titles   `json:"odpt:stationTitle"`
	StationCode  string   `json:"odpt:stationCode"`
	Railway      string   `json:"odpt:railway"`
	Lat          *float64 `json:"geo:lat"`
	Lon          *float64 `json:"geo:long"`
}

type TrainType struct {
	SameAs         string `json:"owl:sameAs"`
	Title          string `json:"dc:title"`
	TrainTypeTitle Titles `json:"odpt:trainTypeTitle"`
}

// TimetableObject is one entry of odpt:trainTimetableObject.
type TimetableObject struct {
	ArrivalTime      string `json:"odpt:arrivalTime"`
	DepartureTime    string `json:"odpt:departureTime"`
	ArrivalStation   string `json:"odpt:arrivalStation"`
	DepartureStation string `json:"odpt:departureStation"`
	PlatformNumber   string `json:"odpt:platformNumber"`
	IsMidnight       bool   `json:"odpt:isMidnight"`
}

// Station returns the departure station, or the arrival station for entries
// without one, with the prefix stripped.
func (o TimetableObject) Station() string {
	if o.DepartureStation != "" {
		return StripPrefix(o.DepartureStation)
	}
	return StripPrefix(o.ArrivalStation)
}

// Times returns arrival and departure, each falling back to the other.
func (o TimetableObject) Times() (arrival, departure string) {
	arrival, departure = o.ArrivalTime, o.DepartureTime
	if arrival == "" {
		arrival = departure
	}
	if departure == "" {
		departure = arrival
	}
	return arrival, departure
}

type TrainTimetable struct {
	SameAs             string            `json:"owl:sameAs"`
	Valid              string            `json:"dct:valid"`
	Railway            string            `json:"odpt:railway"`
	Calendar           string            `json:"odpt:calendar"`
	Train              string            `json:"odpt:train"`
	TrainNumber        string            `json:"odpt:trainNumber"`
	TrainType          string            `json:"odpt:trainType"`
	TrainName          TitleList         `json:"odpt:trainName"`
	RailDirection      string            `json:"odpt:railDirection"`
	Previous           StringList        `json:"odpt:previousTrainTimetable"`
	Next               StringList        `json:"odpt:nextTrainTimetable"`
	OriginStation      StringList        `json:"odpt:originStation"`
	DestinationStation StringList        `json:"odpt:destinationStation"`
	Objects            []TimetableObject `json:"odpt:trainTimetableObject"`
}

// ID is the trip id: owl:sameAs without its prefix.
func (t TrainTimetable) ID() string { return StripPrefix(t.SameAs) }

// StartsAfterMidnight reports whether the first stop is flagged as running
// after a literal midnight.
func (t TrainTimetable) StartsAfterMidnight() bool {
	return len(t.Objects) > 0 && t.Objects[0].IsMidnight
}

// FirstTime returns the departure of the first stop, or its arrival when it
// has none.
func (t TrainTimetable) FirstTime() string {
	if len(t.Objects) == 0 {
		return ""
	}
	_, departure := t.Objects[0].Times()
	return departure
}
