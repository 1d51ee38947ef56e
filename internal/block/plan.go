package block

import (
	"fmt"
	"strconv"
)

// plan resolves a single component without touching the run's result, so a
// component that fails leaves no partial assignments behind.
type plan struct {
	members []string
	trips   map[string]*Trip

	// byPrevious maps an id to the members listing it in Previous;
	// byNext to the members listing it in Next.
	byPrevious map[string][]string
	byNext     map[string][]string

	base        int
	blocks      []string
	assignments map[string]Assignment
	unreached   []string
}

func newPlan(run *resolution, members []string) *plan {
	p := &plan{
		members:     members,
		trips:       make(map[string]*Trip, len(members)),
		byPrevious:  make(map[string][]string),
		byNext:      make(map[string][]string),
		base:        run.nextBlock,
		assignments: make(map[string]Assignment, len(members)),
	}
	for _, id := range members {
		t, _ := run.arena.lookup(id)
		p.trips[id] = t
		for _, ref := range t.Previous {
			p.byPrevious[ref] = append(p.byPrevious[ref], id)
		}
		for _, ref := range t.Next {
			p.byNext[ref] = append(p.byNext[ref], id)
		}
	}
	return p
}

func (p *plan) newBlock() string {
	id := strconv.Itoa(p.base + len(p.blocks) + 1)
	p.blocks = append(p.blocks, id)
	return id
}

func (p *plan) solve() (Topology, error) {
	var fanIn, fanOut int
	var splits, merges []string
	for _, id := range p.members {
		t := p.trips[id]
		fanIn = max(fanIn, len(t.Previous))
		fanOut = max(fanOut, len(t.Next))
		if len(t.Next) > 1 {
			splits = append(splits, id)
		}
		if len(t.Previous) > 1 {
			merges = append(merges, id)
		}
	}

	switch {
	case fanIn > 1 && fanOut > 1:
		return Rejected, &TopologyError{TripIDs: p.members, Reason: "component both splits and merges"}
	case fanOut > 1:
		if len(splits) > 1 {
			return Rejected, &TopologyError{TripIDs: splits, Reason: "more than one split point"}
		}
		return Split, p.split(splits[0])
	case fanIn > 1:
		if len(merges) > 1 {
			return Rejected, &TopologyError{TripIDs: merges, Reason: "more than one merge point"}
		}
		return Merge, p.merge(merges[0])
	default:
		blockID := p.newBlock()
		for _, id := range p.members {
			p.assignments[id] = Assignment{BlockID: blockID}
		}
		return Linear, nil
	}
}

// split gives every branch after the split trip its own block, tagged with
// the destination of the first trip of the branch, and tags the split trip
// and its trunk once per branch.
func (p *plan) split(splitID string) error {
	splitter := p.trips[splitID]
	owner := map[string]string{splitID: ""}

	for _, first := range splitter.Next {
		head, ok := p.trips[first]
		if !ok {
			return &TopologyError{TripIDs: []string{splitID, first}, Reason: "split branch outside component"}
		}
		if len(head.Destinations) == 0 {
			return &TopologyError{
				TripIDs: []string{first},
				Reason:  fmt.Sprintf("first trip after split %s has no destination", splitID),
			}
		}

		blockID := p.newBlock()
		branch, err := p.walk(first, owner, forward)
		if err != nil {
			return err
		}
		for _, id := range branch {
			owner[id] = blockID
			p.assignments[id] = Assignment{BlockID: blockID}
		}

		tag := Tag{BlockID: blockID, Destinations: head.Destinations}
		if err := p.tagTrunk(splitID, backward, owner, tag); err != nil {
			return err
		}
	}

	p.collectUnreached()
	return nil
}

// merge is the mirror of split: every branch before the merge trip gets its
// own block and the merge trip and everything after it are tagged once per
// branch, without a destination.
func (p *plan) merge(mergeID string) error {
	merger := p.trips[mergeID]
	owner := map[string]string{mergeID: ""}

	for _, last := range merger.Previous {
		if _, ok := p.trips[last]; !ok {
			return &TopologyError{TripIDs: []string{mergeID, last}, Reason: "merge branch outside component"}
		}

		blockID := p.newBlock()
		branch, err := p.walk(last, owner, backward)
		if err != nil {
			return err
		}
		for _, id := range branch {
			owner[id] = blockID
			p.assignments[id] = Assignment{BlockID: blockID}
		}

		if err := p.tagTrunk(mergeID, forward, owner, Tag{BlockID: blockID}); err != nil {
			return err
		}
	}

	p.collectUnreached()
	return nil
}

type direction int

const (
	forward direction = iota
	backward
)

// step returns the trip following id in dir: the first explicit link when
// present, otherwise the first member linking back to id that is in none of
// the skip sets.
func (p *plan) step(id string, dir direction, skip ...map[string]string) (string, bool) {
	t := p.trips[id]

	links, reverse := t.Next, p.byPrevious[id]
	if dir == backward {
		links, reverse = t.Previous, p.byNext[id]
	}
	if len(links) > 0 {
		return links[0], true
	}
next:
	for _, candidate := range reverse {
		for _, set := range skip {
			if _, taken := set[candidate]; taken {
				continue next
			}
		}
		return candidate, true
	}
	return "", false
}

// walk follows single links from start and returns the visited trips. It
// fails when the walk reaches a trip already owned by another walk or loops.
func (p *plan) walk(start string, owner map[string]string, dir direction) ([]string, error) {
	var visited []string
	seen := make(map[string]string)

	for id, ok := start, true; ok; id, ok = p.step(id, dir, owner, seen) {
		if _, member := p.trips[id]; !member {
			return nil, &TopologyError{TripIDs: []string{id}, Reason: "branch leaves component"}
		}
		if _, taken := owner[id]; taken {
			return nil, &TopologyError{TripIDs: []string{id}, Reason: "trip reached by two branch walks"}
		}
		if _, assigned := p.assignments[id]; assigned {
			return nil, &TopologyError{TripIDs: []string{id}, Reason: "branch walk reaches trunk trip"}
		}
		if _, again := seen[id]; again {
			return nil, &TopologyError{TripIDs: visited, Reason: "cyclic through-service"}
		}
		seen[id] = ""
		visited = append(visited, id)
	}
	return visited, nil
}

// tagTrunk appends tag to from and to every trip reached from it in dir.
func (p *plan) tagTrunk(from string, dir direction, owner map[string]string, tag Tag) error {
	seen := map[string]string{}

	for id, ok := from, true; ok; id, ok = p.step(id, dir, owner, seen) {
		if _, member := p.trips[id]; !member {
			return &TopologyError{TripIDs: []string{id}, Reason: "trunk leaves component"}
		}
		if blockID := owner[id]; blockID != "" {
			return &TopologyError{TripIDs: []string{id}, Reason: "trunk trip also belongs to block " + blockID}
		}
		if _, again := seen[id]; again {
			return &TopologyError{TripIDs: []string{from, id}, Reason: "cyclic through-service"}
		}
		seen[id] = ""

		a := p.assignments[id]
		a.Tags = append(a.Tags, tag)
		p.assignments[id] = a
	}
	return nil
}

func (p *plan) collectUnreached() {
	for _, id := range p.members {
		if _, ok := p.assignments[id]; !ok {
			p.unreached = append(p.unreached, id)
		}
	}
}
