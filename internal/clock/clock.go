// Package clock fixes the notion of "now" for a conversion run. Timetable
// expiry and the default calendar window both depend on it.
package clock

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvNow names the environment variable that pins the conversion time.
const EnvNow = "TRAINS_GTFS_NOW"

type Clock interface {
	Now() time.Time
}

// RealClock reads the system time in Location, or in time.Local when
// Location is nil.
type RealClock struct {
	Location *time.Location
}

func (c RealClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// MockClock is a settable, thread-safe clock for tests.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the clock by d, which may be negative.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// FromEnvironment returns a FixedClock when the variable named envVar holds a
// time, and a RealClock in loc when it is unset or empty. An unparsable value
// is an error rather than a silent fallback, since it would change which
// timetables count as expired.
func FromEnvironment(envVar string, loc *time.Location) (Clock, error) {
	value := strings.TrimSpace(os.Getenv(envVar))
	if value == "" {
		return RealClock{Location: loc}, nil
	}
	t, err := ParseTime(value, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", envVar, err)
	}
	return FixedClock(t), nil
}

// ParseTime accepts RFC 3339, or a zone-less "2006-01-02 15:04:05",
// "2006-01-02T15:04:05" or "2006-01-02" read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		return time.Time{}, fmt.Errorf("unable to parse time %q: zone-less formats need a timezone", s)
	}

	for _, format := range []string{time.DateTime, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.ParseInLocation(format, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q: expected RFC3339, YYYY-MM-DD HH:MM:SS, YYYY-MM-DDTHH:MM:SS or YYYY-MM-DD", s)
}
