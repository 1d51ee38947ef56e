package block

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trip(id string, prev, next []string, dest ...string) Trip {
	return Trip{ID: id, Previous: prev, Next: next, Destinations: dest}
}

func ids(s ...string) []string { return s }

func newTestResolver(strict bool) (*Resolver, *CollectingSink) {
	sink := &CollectingSink{}
	return NewResolver(Options{Strict: strict, Sink: sink}), sink
}

func TestResolve_Linear(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B")),
		trip("B", ids("A"), ids("C")),
		trip("C", ids("B"), nil),
	}

	// every rotation of the input starts the traversal from a different trip
	for i := range trips {
		t.Run("start "+trips[i].ID, func(t *testing.T) {
			input := append(slices.Clone(trips[i:]), trips[:i]...)
			r, sink := newTestResolver(true)

			result, err := r.ResolveSlice(input)
			require.NoError(t, err)
			assert.Empty(t, sink.Diagnostics())

			a, ok := result.Lookup("A")
			require.True(t, ok)
			assert.False(t, a.Branched())
			assert.NotEmpty(t, a.BlockID)

			for _, id := range ids("B", "C") {
				other, ok := result.Lookup(id)
				require.True(t, ok)
				assert.Equal(t, a.BlockID, other.BlockID)
			}
			assert.Equal(t, 1, result.Count(Linear))
		})
	}
}

func TestResolve_LinearWithOneSidedLinks(t *testing.T) {
	// B and C never point back, the links are only declared forward
	trips := []Trip{
		trip("C", nil, nil),
		trip("B", nil, ids("C")),
		trip("A", nil, ids("B")),
	}

	r, _ := newTestResolver(true)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)

	a, _ := result.Lookup("A")
	b, _ := result.Lookup("B")
	c, ok := result.Lookup("C")
	require.True(t, ok)
	assert.Equal(t, a.BlockID, b.BlockID)
	assert.Equal(t, a.BlockID, c.BlockID)
	assert.Len(t, result.Components, 1)
}

func TestResolve_IsolatedTrips(t *testing.T) {
	trips := []Trip{trip("A", nil, nil), trip("B", nil, nil)}

	r, _ := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Empty(t, result.Assignments)
	assert.Equal(t, 2, result.Count(Isolated))

	r = NewResolver(Options{AssignIsolated: true, Sink: &CollectingSink{}})
	result, err = r.ResolveSlice(trips)
	require.NoError(t, err)

	a, _ := result.Lookup("A")
	b, _ := result.Lookup("B")
	assert.NotEmpty(t, a.BlockID)
	assert.NotEqual(t, a.BlockID, b.BlockID)
}

func TestResolve_Split(t *testing.T) {
	trips := []Trip{
		trip("T", nil, ids("A")),
		trip("A", ids("T"), ids("B", "C")),
		trip("B", ids("A"), ids("B2"), "X"),
		trip("B2", ids("B"), nil),
		trip("C", ids("A"), nil, "Y"),
	}

	r, sink := newTestResolver(true)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Empty(t, sink.Diagnostics())

	b, _ := result.Lookup("B")
	b2, _ := result.Lookup("B2")
	c, _ := result.Lookup("C")
	assert.False(t, b.Branched())
	assert.Equal(t, b.BlockID, b2.BlockID)
	assert.NotEqual(t, b.BlockID, c.BlockID)

	expected := []Tag{
		{BlockID: b.BlockID, Destinations: ids("X")},
		{BlockID: c.BlockID, Destinations: ids("Y")},
	}
	for _, id := range ids("A", "T") {
		a, ok := result.Lookup(id)
		require.True(t, ok)
		assert.True(t, a.Branched())
		assert.Empty(t, a.BlockID)
		assert.Equal(t, expected, a.Tags, id)
	}

	require.Len(t, result.Components, 1)
	assert.Equal(t, Split, result.Components[0].Topology)
	assert.ElementsMatch(t, ids(b.BlockID, c.BlockID), result.Components[0].Blocks)
}

func TestResolve_SplitFollowsBackReferences(t *testing.T) {
	// B does not list its successor, B2 only names B as previous
	trips := []Trip{
		trip("A", nil, ids("B", "C")),
		trip("B", ids("A"), nil, "X"),
		trip("B2", ids("B"), nil),
		trip("C", ids("A"), nil, "Y"),
	}

	r, _ := newTestResolver(true)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)

	b, _ := result.Lookup("B")
	b2, ok := result.Lookup("B2")
	require.True(t, ok)
	assert.Equal(t, b.BlockID, b2.BlockID)
}

func TestResolve_SplitWithoutDestination(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B", "C")),
		trip("B", ids("A"), nil),
		trip("C", ids("A"), nil, "Y"),
	}

	r, sink := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Empty(t, result.Assignments)
	assert.Equal(t, 1, result.Count(Rejected))
	assert.Equal(t, 1, sink.Count(KindTopology))

	r, _ = newTestResolver(true)
	_, err = r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Equal(t, ids("B"), topoErr.TripIDs)
	assert.Contains(t, topoErr.Reason, "no destination")
}

func TestResolve_Merge(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("M"), "S"),
		trip("B0", nil, ids("B")),
		trip("B", ids("B0"), ids("M")),
		trip("M", ids("A", "B"), ids("N")),
		trip("N", ids("M"), nil),
	}

	r, sink := newTestResolver(true)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Empty(t, sink.Diagnostics())

	a, _ := result.Lookup("A")
	b, _ := result.Lookup("B")
	b0, _ := result.Lookup("B0")
	assert.Equal(t, b.BlockID, b0.BlockID)
	assert.NotEqual(t, a.BlockID, b.BlockID)

	expected := []Tag{{BlockID: a.BlockID}, {BlockID: b.BlockID}}
	for _, id := range ids("M", "N") {
		m, ok := result.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, expected, m.Tags, id)
	}
	assert.Equal(t, 1, result.Count(Merge))
}

func TestResolve_RejectsThreeNext(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B", "C", "D")),
		trip("B", ids("A"), nil, "X"),
		trip("C", ids("A"), nil, "Y"),
		trip("D", ids("A"), nil, "Z"),
		trip("E", nil, ids("F")),
		trip("F", ids("E"), nil),
	}

	r, _ := newTestResolver(true)
	_, err := r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Equal(t, ids("A"), topoErr.TripIDs)

	r, sink := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.Count(KindTopology))
	assert.Equal(t, 1, result.Count(Rejected))

	for _, id := range ids("A", "B", "C", "D") {
		_, ok := result.Lookup(id)
		assert.False(t, ok, id)
	}
	e, _ := result.Lookup("E")
	f, _ := result.Lookup("F")
	assert.NotEmpty(t, e.BlockID)
	assert.Equal(t, e.BlockID, f.BlockID)
}

func TestResolve_RejectsSplitAndMerge(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("M")),
		trip("B", nil, ids("M")),
		trip("M", ids("A", "B"), ids("S")),
		trip("S", ids("M"), ids("X", "Y")),
		trip("X", ids("S"), nil, "x"),
		trip("Y", ids("S"), nil, "y"),
	}

	r, _ := newTestResolver(true)
	_, err := r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Contains(t, topoErr.Reason, "splits and merges")

	r, sink := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Empty(t, result.Assignments)
	assert.Equal(t, 1, sink.Count(KindTopology))
}

func TestResolve_RejectsTripThatSplitsAndMerges(t *testing.T) {
	trips := []Trip{trip("M", ids("A", "B"), ids("C", "D"))}

	r, _ := newTestResolver(true)
	_, err := r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Equal(t, ids("M"), topoErr.TripIDs)
}

func TestResolve_RejectsTwoSplitPoints(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B", "C")),
		trip("B", ids("A"), ids("D", "E"), "b"),
		trip("C", ids("A"), nil, "c"),
		trip("D", ids("B"), nil, "d"),
		trip("E", ids("B"), nil, "e"),
	}

	r, _ := newTestResolver(true)
	_, err := r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.ElementsMatch(t, ids("A", "B"), topoErr.TripIDs)
}

func TestResolve_RejectsTwoMergePoints(t *testing.T) {
	trips := []Trip{
		trip("D", nil, ids("B")),
		trip("E", nil, ids("B")),
		trip("B", ids("D", "E"), ids("A")),
		trip("C", nil, ids("A")),
		trip("A", ids("B", "C"), nil),
	}

	r, _ := newTestResolver(true)
	_, err := r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.ElementsMatch(t, ids("A", "B"), topoErr.TripIDs)
	assert.Contains(t, topoErr.Error(), "more than one merge point")

	r, sink := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.Count(KindTopology))
	for _, id := range ids("A", "B", "C", "D", "E") {
		_, ok := result.Lookup(id)
		assert.False(t, ok, id)
	}
	assert.Equal(t, 1, result.Count(Rejected))
}

func TestResolve_DanglingReference(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B")),
		trip("B", ids("A"), ids("Gone")),
		trip("C", nil, ids("D")),
		trip("D", ids("C"), nil),
	}

	// dangling references are never fatal
	r, sink := newTestResolver(true)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)

	diags := sink.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, KindDanglingReference, diags[0].Kind)
	assert.ElementsMatch(t, ids("A", "B"), diags[0].TripIDs())

	var dangling *DanglingReferenceError
	require.True(t, errors.As(diags[0].Err, &dangling))
	assert.Equal(t, ids("Gone"), dangling.Missing)

	_, ok := result.Lookup("A")
	assert.False(t, ok)
	_, ok = result.Lookup("B")
	assert.False(t, ok)
	_, ok = result.Lookup("C")
	assert.True(t, ok)
	assert.Equal(t, 1, result.Count(Abandoned))
}

func TestResolve_DuplicateTrip(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B")),
		trip("A", nil, nil),
		trip("B", ids("A"), nil),
	}

	r, sink := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.Count(KindDuplicateTrip))

	a, _ := result.Lookup("A")
	b, _ := result.Lookup("B")
	assert.Equal(t, a.BlockID, b.BlockID)
}

func TestResolve_Cycle(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B", "C")),
		trip("B", ids("A"), ids("B2"), "X"),
		trip("B2", ids("B"), ids("B"), "X"),
		trip("C", ids("A"), nil, "Y"),
	}

	r, _ := newTestResolver(true)
	_, err := r.ResolveSlice(trips)
	var topoErr *TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Contains(t, topoErr.Reason, "cyclic")
}

func TestResolve_BlockIDsAreDense(t *testing.T) {
	trips := []Trip{
		trip("A", nil, ids("B")),
		trip("B", ids("A"), nil),
		// rejected component must not consume block ids
		trip("S", nil, ids("S1", "S2")),
		trip("S1", ids("S"), nil),
		trip("S2", ids("S"), nil),
		trip("C", nil, ids("D")),
		trip("D", ids("C"), nil),
	}

	r, _ := newTestResolver(false)
	result, err := r.ResolveSlice(trips)
	require.NoError(t, err)

	a, _ := result.Lookup("A")
	c, _ := result.Lookup("C")
	assert.Equal(t, "1", a.BlockID)
	assert.Equal(t, "2", c.BlockID)
}

// partition renders the block groupings of a result without their labels.
func partition(result *Result) []string {
	groups := make(map[string][]string)
	for tripID, a := range result.Assignments {
		if a.BlockID != "" {
			groups[a.BlockID] = append(groups[a.BlockID], tripID)
		}
		for _, tag := range a.Tags {
			groups[tag.BlockID] = append(groups[tag.BlockID], tripID+"@"+strings.Join(tag.Destinations, "/"))
		}
	}

	var out []string
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, strings.Join(members, ","))
	}
	for _, c := range result.Components {
		members := slices.Clone(c.Members)
		sort.Strings(members)
		out = append(out, c.Topology.String()+":"+strings.Join(members, ","))
	}
	sort.Strings(out)
	return out
}

func TestResolve_Idempotent(t *testing.T) {
	trips := []Trip{
		trip("T", nil, ids("A")),
		trip("A", ids("T"), ids("B", "C")),
		trip("B", ids("A"), nil, "X"),
		trip("C", ids("A"), nil, "Y"),
		trip("L1", nil, ids("L2")),
		trip("L2", ids("L1"), nil),
		trip("P", nil, ids("M")),
		trip("Q", nil, ids("M")),
		trip("M", ids("P", "Q"), nil),
		trip("I", nil, nil),
	}

	r, _ := newTestResolver(false)
	first, err := r.ResolveSlice(trips)
	require.NoError(t, err)

	reversed := slices.Clone(trips)
	slices.Reverse(reversed)
	second, err := r.ResolveSlice(reversed)
	require.NoError(t, err)

	again, err := r.ResolveSlice(trips)
	require.NoError(t, err)

	assert.Equal(t, partition(first), partition(second))
	assert.Equal(t, partition(first), partition(again))
	assert.Equal(t, first.Assignments, again.Assignments)
}

func TestTee(t *testing.T) {
	a, b := &CollectingSink{}, &CollectingSink{}
	var called int
	sink := Tee(a, nil, b, SinkFunc(func(Diagnostic) { called++ }))

	sink.Report(Diagnostic{Kind: KindTopology})

	assert.Len(t, a.Diagnostics(), 1)
	assert.Len(t, b.Diagnostics(), 1)
	assert.Equal(t, 1, called)
}
