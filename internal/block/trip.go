// Package block reconstructs physical vehicle courses ("blocks") from trips
// that reference each other through previous/next timetable links.
package block

import "trains.tokyogtfs.org/internal/wallclock"

// Stop is one timed call of a trip at a station.
type Stop struct {
	Sequence  int
	StationID string
	Arrival   wallclock.Time
	Departure wallclock.Time
}

// Trip is the descriptor the resolver works on. Previous and Next hold 0-2
// trip ids each; Destinations may be empty.
type Trip struct {
	ID           string
	Previous     []string
	Next         []string
	Destinations []string
	Stops        []Stop
}

// IsLinked reports whether the trip references any other trip.
func (t *Trip) IsLinked() bool { return len(t.Previous) > 0 || len(t.Next) > 0 }

// arena owns every trip of one run, keyed by id, plus the set of trips already
// folded into a component.
type arena struct {
	trips    map[string]*Trip
	order    []string
	consumed map[string]struct{}

	// referencedBy maps a trip id to the linked trips listing it in Previous
	// or Next, in input order.
	referencedBy map[string][]string
}

func newArena() *arena {
	return &arena{
		trips:        make(map[string]*Trip),
		consumed:     make(map[string]struct{}),
		referencedBy: make(map[string][]string),
	}
}

// add stores t and reports false if its id was already present.
func (a *arena) add(t Trip) bool {
	if _, ok := a.trips[t.ID]; ok {
		return false
	}
	trip := t
	a.trips[t.ID] = &trip
	a.order = append(a.order, t.ID)

	seen := make(map[string]struct{}, len(t.Previous)+len(t.Next))
	for _, ref := range append(append([]string(nil), t.Previous...), t.Next...) {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		a.referencedBy[ref] = append(a.referencedBy[ref], t.ID)
	}
	return true
}

func (a *arena) lookup(id string) (*Trip, bool) {
	t, ok := a.trips[id]
	return t, ok
}

func (a *arena) isConsumed(id string) bool {
	_, ok := a.consumed[id]
	return ok
}

func (a *arena) consume(ids []string) {
	for _, id := range ids {
		a.consumed[id] = struct{}{}
	}
}
