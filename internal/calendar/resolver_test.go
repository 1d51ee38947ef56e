package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-09-17 is a Tuesday, 2024-09-23 (Autumnal Equinox, observed) a Monday.
var (
	tuesday       = NewDate(2024, time.September, 17)
	holidayMonday = NewDate(2024, time.September, 23)
	saturday      = NewDate(2024, time.September, 21)
	sunday        = NewDate(2024, time.September, 22)
)

func newTestResolver(holidays ...Date) *Resolver {
	r := NewResolver(NewDate(2024, time.September, 1), Date{}, holidays, nil)
	for id := range builtIns {
		r.AddDefinition(Definition{ID: id})
	}
	return r
}

func TestNewResolver_DefaultWindow(t *testing.T) {
	start := NewDate(2024, time.September, 1)
	r := NewResolver(start, Date{}, nil, nil)

	assert.Equal(t, start, r.Start())
	assert.Equal(t, start.AddDays(180), r.End())
}

func TestNewResolver_HolidaysOutsideWindowIgnored(t *testing.T) {
	start := NewDate(2024, time.September, 1)
	r := NewResolver(start, start.AddDays(10), []Date{start.AddDays(3), start.AddDays(40)}, nil)

	assert.True(t, r.IsHoliday(start.AddDays(3)))
	assert.False(t, r.IsHoliday(start.AddDays(40)))
}

func TestResolveDay_HolidayBeatsWeekday(t *testing.T) {
	holidayTuesday := tuesday
	r := newTestResolver(holidayTuesday)

	assert.Equal(t, []string{Holiday}, r.ResolveDay(holidayTuesday, Holiday, Weekday))
	assert.Equal(t, []string{SaturdayHoliday}, r.ResolveDay(holidayTuesday, SaturdayHoliday, Weekday))
	assert.Equal(t, []string{Holiday}, r.ResolveDay(holidayTuesday, SaturdayHoliday, Holiday, Weekday))
}

func TestResolveDay_Precedence(t *testing.T) {
	r := newTestResolver(holidayMonday)

	tests := []struct {
		name       string
		date       Date
		candidates []string
		expected   []string
	}{
		{"named weekday beats Weekday", tuesday, []string{"Tuesday", Weekday}, []string{"Tuesday"}},
		{"Weekday on a plain Tuesday", tuesday, []string{Weekday, SaturdayHoliday}, []string{Weekday}},
		{"SaturdayHoliday on Saturday", saturday, []string{Weekday, SaturdayHoliday}, []string{SaturdayHoliday}},
		{"named Saturday beats SaturdayHoliday", saturday, []string{"Saturday", SaturdayHoliday}, []string{"Saturday"}},
		{"SaturdayHoliday on Sunday", sunday, []string{Weekday, SaturdayHoliday}, []string{SaturdayHoliday}},
		{"holiday Monday is not a Weekday", holidayMonday, []string{Weekday, SaturdayHoliday}, []string{SaturdayHoliday}},
		{"holiday Monday ignores named Monday", holidayMonday, []string{"Monday", Everyday}, []string{Everyday}},
		{"Everyday as fallback", saturday, []string{Weekday, Everyday}, []string{Everyday}},
		{"no match", sunday, []string{Weekday}, nil},
		{"no candidates", tuesday, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.ResolveDay(tt.date, tt.candidates...))
		})
	}
}

func TestResolveDay_SpecialDatesWin(t *testing.T) {
	r := newTestResolver(holidayMonday)
	r.AddDefinition(Definition{ID: "Fireworks", Days: []Date{saturday, holidayMonday}})
	r.AddDefinition(Definition{ID: "Marathon", Days: []Date{saturday}})

	assert.True(t, r.IsValid("Fireworks"))

	assert.Equal(t, []string{"Fireworks"}, r.ResolveDay(holidayMonday, Holiday, "Fireworks", Weekday))
	assert.Equal(t, []string{"Fireworks", "Marathon"}, r.ResolveDay(saturday, SaturdayHoliday, "Fireworks", "Marathon"))
	// special day types only apply when the route uses them
	assert.Equal(t, []string{SaturdayHoliday}, r.ResolveDay(saturday, SaturdayHoliday))
}

func TestAddDefinition_OutOfWindowDatesInvalid(t *testing.T) {
	r := newTestResolver()
	r.AddDefinition(Definition{ID: "LastYear", Days: []Date{NewDate(2023, time.January, 2)}})
	r.AddDefinition(Definition{ID: "Empty"})

	assert.False(t, r.IsValid("LastYear"))
	assert.False(t, r.IsValid("Empty"))
	assert.True(t, r.IsValid(Weekday))
}

func TestUse(t *testing.T) {
	r := newTestResolver()

	sd, err := r.Use("JR-East.Yamanote", Weekday)
	require.NoError(t, err)
	assert.Equal(t, "JR-East.Yamanote.Weekday", sd.ID())

	_, err = r.Use("JR-East.Yamanote", "Unheard")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDayType)
}

func TestExport(t *testing.T) {
	start := NewDate(2024, time.September, 16) // Monday
	r := NewResolver(start, start.AddDays(7), []Date{holidayMonday}, nil)
	r.AddDefinition(Definition{ID: Weekday})
	r.AddDefinition(Definition{ID: SaturdayHoliday})
	r.AddDefinition(Definition{ID: "Special", Days: []Date{NewDate(2024, time.September, 18)}})

	_, err := r.Use("B", Weekday)
	require.NoError(t, err)
	_, err = r.Use("A", Weekday)
	require.NoError(t, err)
	_, err = r.Use("A", SaturdayHoliday)
	require.NoError(t, err)
	_, err = r.Use("A", "Special")
	require.NoError(t, err)

	var rows []string
	for sd, d := range r.Export() {
		rows = append(rows, sd.ID()+"@"+d.Compact())
	}

	assert.Equal(t, []string{
		"A.Weekday@20240916",
		"A.Weekday@20240917",
		"A.Special@20240918",
		"A.Weekday@20240919",
		"A.Weekday@20240920",
		"A.SaturdayHoliday@20240921",
		"A.SaturdayHoliday@20240922",
		"A.SaturdayHoliday@20240923",
		"B.Weekday@20240916",
		"B.Weekday@20240917",
		"B.Weekday@20240918",
		"B.Weekday@20240919",
		"B.Weekday@20240920",
	}, rows)

	assert.True(t, r.WasExported("A.Special"))
	assert.True(t, r.WasExported("B.Weekday"))
	assert.False(t, r.WasExported("B.SaturdayHoliday"))
}

func TestExport_StopsEarly(t *testing.T) {
	r := newTestResolver()
	_, err := r.Use("A", Everyday)
	require.NoError(t, err)

	count := 0
	for range r.Export() {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}
