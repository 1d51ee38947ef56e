// Package stations groups stops that share a station name and lie close to
// each other under a common parent station.
package stations

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/rtree"
	"trains.tokyogtfs.org/internal/geo"
	"trains.tokyogtfs.org/internal/logging"
)

// DefaultMaxDistance is how far a stop may be from a group's first stop to
// join the group, in meters.
const DefaultMaxDistance = 1000.0

// DefaultSeparate lists station names that are close to another station of
// the same name but must stay apart.
var DefaultSeparate = []string{
	"Waseda", "Kuramae", "Nakanobu",
	"Suidobashi", "HongoSanchome",
	"Ryogoku", "Kumanomae",
}

type Stop struct {
	ID    string
	Code  string
	Name  string
	Point geo.Point
}

// Location types of Entry.
const (
	LocationStop    = 0
	LocationStation = 1
)

// Entry is one row of the merged stop list.
type Entry struct {
	ID           string
	Code         string
	Name         string
	Point        geo.Point
	LocationType int
	Parent       string
}

type group struct {
	key   string
	base  string
	order int
	stops []Stop
}

// Merger collects stops and decides their groups. Stops are grouped by the
// last dot-separated segment of their id.
type Merger struct {
	maxDistance float64
	separate    map[string]struct{}

	groups []*group
	tree   rtree.RTreeG[*group]
	byBase map[string]int
	names  map[string]string
	logger *slog.Logger
}

func NewMerger(maxDistance float64, separate []string) *Merger {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	m := &Merger{
		maxDistance: maxDistance,
		separate:    make(map[string]struct{}, len(separate)),
		byBase:      make(map[string]int),
		names:       make(map[string]string),
		logger:      slog.Default().With(slog.String("component", "station_merger")),
	}
	for _, name := range separate {
		m.separate[name] = struct{}{}
	}
	return m
}

func baseName(stopID string) string {
	if i := strings.LastIndexByte(stopID, '.'); i >= 0 {
		return stopID[i+1:]
	}
	return stopID
}

// Add places s in the earliest group of the same name whose first stop is
// within the merge distance, or in a new group.
func (m *Merger) Add(s Stop) {
	base := baseName(s.ID)
	m.names[base] = s.Name

	if _, apart := m.separate[base]; !apart {
		if g := m.nearestGroup(base, s.Point); g != nil {
			g.stops = append(g.stops, s)
			return
		}
	}

	n := m.byBase[base]
	m.byBase[base] = n + 1

	key := base
	if n > 0 {
		key = base + "." + strconv.Itoa(n)
	}

	g := &group{key: key, base: base, order: len(m.groups), stops: []Stop{s}}
	m.groups = append(m.groups, g)

	b := geo.BoundsAround(s.Point, 0)
	m.tree.Insert(b.Min(), b.Max(), g)
}

func (m *Merger) nearestGroup(base string, p geo.Point) *group {
	var best *group
	b := geo.BoundsAround(p, m.maxDistance)

	m.tree.Search(b.Min(), b.Max(), func(_, _ [2]float64, g *group) bool {
		if g.base != base || (best != nil && best.order < g.order) {
			return true
		}
		if geo.Distance(g.stops[0].Point, p) <= m.maxDistance {
			best = g
		}
		return true
	})
	return best
}

// Entries returns the merged stop list: single stops as they are, and for
// every group of two or more a "Merged.<key>" station followed by its stops.
func (m *Merger) Entries() []Entry {
	var entries []Entry
	merged := 0

	for _, g := range m.groups {
		name := m.names[g.base]

		if len(g.stops) == 1 {
			s := g.stops[0]
			entries = append(entries, Entry{
				ID: s.ID, Code: s.Code, Name: name, Point: s.Point, LocationType: LocationStop,
			})
			continue
		}

		merged++
		stationID := "Merged." + g.key
		points := make([]geo.Point, len(g.stops))
		var codes []string
		for i, s := range g.stops {
			points[i] = s.Point
			if s.Code != "" {
				codes = append(codes, s.Code)
			}
		}

		entries = append(entries, Entry{
			ID:           stationID,
			Code:         strings.Join(codes, "/"),
			Name:         name,
			Point:        geo.Centroid(points),
			LocationType: LocationStation,
		})
		for _, s := range g.stops {
			entries = append(entries, Entry{
				ID: s.ID, Code: s.Code, Name: name, Point: s.Point,
				LocationType: LocationStop, Parent: stationID,
			})
		}
	}

	logging.LogOperation(m.logger, "stations_merged",
		slog.Int("groups", len(m.groups)),
		slog.Int("merged_stations", merged))
	return entries
}
