// Package wallclock models GTFS-style times of day: seconds since the start
// of the operating day, allowed to run past 24:00 for service continuing after
// midnight.
package wallclock

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	Minute = 60
	Hour   = 60 * Minute
	Day    = 24 * Hour
)

// MaxHours is the largest hours field Parse accepts.
const MaxHours = 9999

// Time is a non-negative number of seconds since the start of the operating day.
// Values of Day and above belong to the next calendar day.
type Time int

// FormatError is returned by Parse for anything that is not HH:MM or HH:MM:SS.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid time %q: %s (expected HH:MM or HH:MM:SS)", e.Value, e.Reason)
}

// Parse reads "HH:MM" or "HH:MM:SS". Hours take at least two digits and may
// exceed 23 up to MaxHours; minutes and seconds take exactly two digits below 60.
func Parse(s string) (Time, error) {
	fields := strings.Split(s, ":")
	if len(fields) != 2 && len(fields) != 3 {
		return 0, &FormatError{Value: s, Reason: fmt.Sprintf("got %d fields", len(fields))}
	}

	var parts [3]int
	for i, field := range fields {
		if i == 0 && len(field) < 2 || i > 0 && len(field) != 2 {
			return 0, &FormatError{Value: s, Reason: fmt.Sprintf("field %d is not zero-padded", i+1)}
		}
		for _, r := range field {
			if r < '0' || r > '9' {
				return 0, &FormatError{Value: s, Reason: fmt.Sprintf("field %d is not numeric", i+1)}
			}
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return 0, &FormatError{Value: s, Reason: err.Error()}
		}
		if i == 0 && n > MaxHours || i > 0 && n >= 60 {
			return 0, &FormatError{Value: s, Reason: fmt.Sprintf("field %d out of range", i+1)}
		}
		parts[i] = n
	}

	return Time(parts[0]*Hour + parts[1]*Minute + parts[2]), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Add returns t moved by seconds, saturating at zero and at math.MaxInt
// instead of wrapping.
func (t Time) Add(seconds int) Time {
	switch {
	case seconds > 0 && int(t) > math.MaxInt-seconds:
		return Time(math.MaxInt)
	case seconds < 0 && int(t)+seconds < 0:
		return 0
	}
	return Time(int(t) + seconds)
}

// Sub returns t-u in seconds.
func (t Time) Sub(u Time) int { return int(t) - int(u) }

func (t Time) Before(u Time) bool { return t < u }
func (t Time) After(u Time) bool  { return t > u }

// Seconds returns the underlying count.
func (t Time) Seconds() int { return int(t) }

// Duration converts t to a time.Duration since the start of the operating day.
func (t Time) Duration() time.Duration { return time.Duration(t) * time.Second }

// Hours returns the hour component, which can be 24 or more.
func (t Time) Hours() int { return int(t) / Hour }

// String renders zero-padded HH:MM:SS; HH is not wrapped at 24.
func (t Time) String() string {
	s := int(t)
	h, s := s/Hour, s%Hour
	m, s := s/Minute, s%Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Time) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Time) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
