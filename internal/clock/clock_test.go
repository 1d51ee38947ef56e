package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	return loc
}

func TestRealClock_Now(t *testing.T) {
	loc := tokyo(t)
	before := time.Now()
	now := RealClock{Location: loc}.Now()
	after := time.Now()

	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
	assert.Equal(t, loc, now.Location())
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 9, 1, 4, 0, 0, 0, time.UTC)
	m := NewMockClock(start)
	assert.Equal(t, start, m.Now())

	m.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), m.Now())

	m.Advance(-time.Hour)
	assert.Equal(t, start.Add(30*time.Minute), m.Now())

	later := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Set(later)
	assert.Equal(t, later, m.Now())
}

func TestMockClock_ConcurrentAccess(t *testing.T) {
	m := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = m.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 50, 0, time.UTC), m.Now())
}

func TestFromEnvironment(t *testing.T) {
	loc := tokyo(t)

	t.Run("unset falls back to the real clock", func(t *testing.T) {
		t.Setenv(EnvNow, "")
		c, err := FromEnvironment(EnvNow, loc)
		require.NoError(t, err)
		assert.IsType(t, RealClock{}, c)
	})

	t.Run("pinned time", func(t *testing.T) {
		t.Setenv(EnvNow, " 2024-09-01 05:30:00\n")
		c, err := FromEnvironment(EnvNow, loc)
		require.NoError(t, err)
		want := time.Date(2024, 9, 1, 5, 30, 0, 0, loc)
		assert.True(t, want.Equal(c.Now()))
		assert.True(t, want.Equal(c.Now()), "pinned clock must not move")
	})

	t.Run("invalid value is an error", func(t *testing.T) {
		t.Setenv(EnvNow, "yesterday")
		_, err := FromEnvironment(EnvNow, loc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvNow)
	})
}

func TestParseTime(t *testing.T) {
	loc := tokyo(t)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC3339", "2024-09-01T05:30:00+09:00", time.Date(2024, 9, 1, 5, 30, 0, 0, loc)},
		{"RFC3339 UTC", "2024-08-31T20:30:00Z", time.Date(2024, 9, 1, 5, 30, 0, 0, loc)},
		{"date time", "2024-09-01 05:30:00", time.Date(2024, 9, 1, 5, 30, 0, 0, loc)},
		{"date T time", "2024-09-01T05:30:00", time.Date(2024, 9, 1, 5, 30, 0, 0, loc)},
		{"date only", "2024-09-01", time.Date(2024, 9, 1, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.input, loc)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseTime_NilLocation(t *testing.T) {
	_, err := ParseTime("2024-09-01", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")

	got, err := ParseTime("2024-09-01T00:00:00Z", nil)
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())
}
