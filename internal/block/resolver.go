package block

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"

	"trains.tokyogtfs.org/internal/logging"
)

// Topology is the shape of a resolved component.
type Topology int

const (
	Isolated Topology = iota
	Linear
	Split
	Merge
	Rejected
	Abandoned
)

func (t Topology) String() string {
	switch t {
	case Isolated:
		return "isolated"
	case Linear:
		return "linear"
	case Split:
		return "split"
	case Merge:
		return "merge"
	case Rejected:
		return "rejected"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Tag ties a trip to one of the blocks it participates in. Destinations is
// nil for tags produced by a merge.
type Tag struct {
	BlockID      string
	Destinations []string
}

// Assignment is the block membership of one trip: either a single BlockID or,
// for trunk trips of a split or merge, one Tag per branch.
type Assignment struct {
	BlockID string
	Tags    []Tag
}

// Branched reports whether the trip belongs to several blocks at once.
func (a Assignment) Branched() bool { return len(a.Tags) > 0 }

// Component is one connected group of trips and how it was classified.
type Component struct {
	Members  []string
	Topology Topology
	Blocks   []string
}

// Result is the outcome of one resolution run.
type Result struct {
	Assignments map[string]Assignment
	Components  []Component
}

// Lookup returns the assignment of tripID. Trips without one are not part of
// any through-service chain.
func (r *Result) Lookup(tripID string) (Assignment, bool) {
	a, ok := r.Assignments[tripID]
	return a, ok
}

// Count returns the number of components with the given topology.
func (r *Result) Count(topology Topology) int {
	n := 0
	for _, c := range r.Components {
		if c.Topology == topology {
			n++
		}
	}
	return n
}

// Options configure a Resolver.
type Options struct {
	// Strict aborts the whole run on the first TopologyError instead of
	// skipping the offending component.
	Strict bool
	// AssignIsolated gives trips without any links a block of their own.
	AssignIsolated bool
	// Sink receives data-quality diagnostics. Defaults to a LogSink.
	Sink Sink
}

// Resolver assigns block ids to trips. A Resolver keeps no state between
// calls to Resolve.
type Resolver struct {
	opts   Options
	logger *slog.Logger
}

func NewResolver(opts Options) *Resolver {
	logger := slog.Default().With(slog.String("component", "block_resolver"))
	if opts.Sink == nil {
		opts.Sink = LogSink{Logger: logger}
	}
	return &Resolver{opts: opts, logger: logger}
}

// ResolveSlice is Resolve over a slice.
func (r *Resolver) ResolveSlice(trips []Trip) (*Result, error) {
	return r.Resolve(slices.Values(trips))
}

// Resolve partitions trips into connected components and assigns blocks to
// every component with a supported topology. In strict mode the first
// TopologyError is returned; otherwise it is reported to the sink and the
// component is left without blocks.
func (r *Resolver) Resolve(trips iter.Seq[Trip]) (*Result, error) {
	run := &resolution{
		opts:   r.opts,
		arena:  newArena(),
		result: &Result{Assignments: make(map[string]Assignment)},
	}

	for t := range trips {
		if !run.arena.add(t) {
			run.opts.Sink.Report(Diagnostic{
				Kind:  KindDuplicateTrip,
				Err:   fmt.Errorf("duplicate trip %s", t.ID),
				Trips: []Trip{t},
			})
		}
	}

	if err := run.resolve(); err != nil {
		return nil, err
	}

	logging.LogOperation(r.logger, "blocks_resolved",
		slog.Int("trips", len(run.arena.order)),
		slog.Int("blocks", run.nextBlock),
		slog.Int("linear", run.result.Count(Linear)),
		slog.Int("split", run.result.Count(Split)),
		slog.Int("merge", run.result.Count(Merge)),
		slog.Int("rejected", run.result.Count(Rejected)),
		slog.Int("abandoned", run.result.Count(Abandoned)))

	return run.result, nil
}

type resolution struct {
	opts      Options
	arena     *arena
	result    *Result
	nextBlock int
}

func (run *resolution) resolve() error {
	invalid := make(map[string]error)
	for _, id := range run.arena.order {
		t, _ := run.arena.lookup(id)
		if err := classify(t); err != nil {
			if run.opts.Strict {
				return err
			}
			invalid[id] = err
		}
	}

	for _, id := range run.arena.order {
		t, _ := run.arena.lookup(id)
		if !t.IsLinked() || run.arena.isConsumed(id) {
			continue
		}
		if err := run.resolveComponent(id, invalid); err != nil {
			return err
		}
	}

	for _, id := range run.arena.order {
		if run.arena.isConsumed(id) {
			continue
		}
		run.arena.consume([]string{id})

		c := Component{Members: []string{id}, Topology: Isolated}
		if run.opts.AssignIsolated {
			blockID := run.newBlock()
			run.result.Assignments[id] = Assignment{BlockID: blockID}
			c.Blocks = []string{blockID}
		}
		run.result.Components = append(run.result.Components, c)
	}
	return nil
}

// classify rejects trips whose own links already describe an unsupported shape.
func classify(t *Trip) error {
	switch {
	case len(t.Previous) > 2:
		return &TopologyError{TripIDs: []string{t.ID}, Reason: fmt.Sprintf("%d previous trips", len(t.Previous))}
	case len(t.Next) > 2:
		return &TopologyError{TripIDs: []string{t.ID}, Reason: fmt.Sprintf("%d next trips", len(t.Next))}
	case len(t.Previous) > 1 && len(t.Next) > 1:
		return &TopologyError{TripIDs: []string{t.ID}, Reason: "trip both merges and splits"}
	}
	return nil
}

func (run *resolution) resolveComponent(start string, invalid map[string]error) error {
	members, missing := run.extract(start)
	run.arena.consume(members)

	if len(missing) > 0 {
		run.report(KindDanglingReference, &DanglingReferenceError{TripIDs: members, Missing: missing}, members)
		run.result.Components = append(run.result.Components, Component{Members: members, Topology: Abandoned})
		return nil
	}

	for _, id := range members {
		if err, ok := invalid[id]; ok {
			run.report(KindTopology, err, members)
			run.result.Components = append(run.result.Components, Component{Members: members, Topology: Rejected})
			return nil
		}
	}

	p := newPlan(run, members)
	topology, err := p.solve()
	if err != nil {
		var topoErr *TopologyError
		if run.opts.Strict && errors.As(err, &topoErr) {
			return err
		}
		run.report(KindTopology, err, members)
		run.result.Components = append(run.result.Components, Component{Members: members, Topology: Rejected})
		return nil
	}

	if len(p.unreached) > 0 {
		run.report(KindUnreachedTrips,
			fmt.Errorf("trips %v are linked to a %s component but not on any branch walk", p.unreached, topology),
			p.unreached)
	}

	for id, a := range p.assignments {
		run.result.Assignments[id] = a
	}
	run.nextBlock += len(p.blocks)
	run.result.Components = append(run.result.Components, Component{
		Members:  members,
		Topology: topology,
		Blocks:   p.blocks,
	})
	return nil
}

// extract walks previous/next links in both directions from start and
// returns the component members in visiting order, plus every referenced id
// that is unknown or already consumed.
func (run *resolution) extract(start string) (members, missing []string) {
	visited := map[string]struct{}{start: {}}
	missingSet := make(map[string]struct{})
	queue := []string{start}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		members = append(members, id)

		t, _ := run.arena.lookup(id)
		neighbours := slices.Concat(t.Previous, t.Next, run.arena.referencedBy[id])

		for _, n := range neighbours {
			if _, ok := visited[n]; ok {
				continue
			}
			if _, known := run.arena.lookup(n); !known || run.arena.isConsumed(n) {
				if _, ok := missingSet[n]; !ok {
					missingSet[n] = struct{}{}
					missing = append(missing, n)
				}
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	return members, missing
}

func (run *resolution) newBlock() string {
	run.nextBlock++
	return strconv.Itoa(run.nextBlock)
}

func (run *resolution) report(kind Kind, err error, ids []string) {
	trips := make([]Trip, 0, len(ids))
	for _, id := range ids {
		if t, ok := run.arena.lookup(id); ok {
			trips = append(trips, *t)
		}
	}
	run.opts.Sink.Report(Diagnostic{Kind: kind, Err: err, Trips: trips})
}
