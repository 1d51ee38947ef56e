package wallclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func correct(seq *Sequence, literal []string) []string {
	out := make([]string, 0, len(literal))
	for _, s := range literal {
		v := MustParse(s)
		arr, _ := seq.Next(v, v)
		out = append(out, arr.String())
	}
	return out
}

func TestSequence_MidnightCrossing(t *testing.T) {
	got := correct(NewSequence(false, MustParse("23:50")), []string{"23:50", "00:10", "00:40"})
	assert.Equal(t, []string{"23:50:00", "24:10:00", "24:40:00"}, got)
}

func TestSequence_ZeroValue(t *testing.T) {
	var seq Sequence
	got := correct(&seq, []string{"05:00", "05:30", "06:00"})
	assert.Equal(t, []string{"05:00:00", "05:30:00", "06:00:00"}, got)
}

func TestSequence_DepartureBeforeArrival(t *testing.T) {
	seq := NewSequence(false, 0)

	arr, dep := seq.Next(MustParse("23:58"), MustParse("00:02"))
	assert.Equal(t, "23:58:00", arr.String())
	assert.Equal(t, "24:02:00", dep.String())

	arr, dep = seq.Next(MustParse("00:10"), MustParse("00:11"))
	assert.Equal(t, "24:10:00", arr.String())
	assert.Equal(t, "24:11:00", dep.String())
	assert.Equal(t, dep, seq.Last())
}

func TestSequence_NightStart(t *testing.T) {
	t.Run("early first time moves to previous day", func(t *testing.T) {
		seq := NewSequence(true, MustParse("00:30"))
		got := correct(seq, []string{"00:30", "01:00"})
		assert.Equal(t, []string{"24:30:00", "25:00:00"}, got)
	})

	t.Run("first time after cutoff is kept", func(t *testing.T) {
		seq := NewSequence(true, MustParse("06:00"))
		got := correct(seq, []string{"06:00", "06:20"})
		assert.Equal(t, []string{"06:00:00", "06:20:00"}, got)
	})

	t.Run("flag ignored when not set", func(t *testing.T) {
		seq := NewSequence(false, MustParse("00:30"))
		got := correct(seq, []string{"00:30"})
		assert.Equal(t, []string{"00:30:00"}, got)
	})
}

func TestSequence_Monotonic(t *testing.T) {
	literal := []string{"22:00", "22:45", "23:30", "00:15", "01:00", "01:00", "02:30"}
	seq := NewSequence(false, MustParse(literal[0]))

	var prev Time
	for _, s := range literal {
		v := MustParse(s)
		arr, dep := seq.Next(v, v)
		assert.GreaterOrEqual(t, arr, prev)
		assert.GreaterOrEqual(t, dep, arr)
		prev = dep
	}
}
