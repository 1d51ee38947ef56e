package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trains.tokyogtfs.org/gtfsdb"
	"trains.tokyogtfs.org/internal/appconf"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/clock"
	"trains.tokyogtfs.org/internal/metrics"
)

func TestWindow_DefaultsToToday(t *testing.T) {
	cfg := appconf.Default()
	cfg.Days = 10

	// 23:30 UTC is already the next day in Tokyo.
	app := &Application{Config: cfg, Clock: clock.NewMockClock(time.Date(2024, 9, 1, 23, 30, 0, 0, time.UTC))}

	start, end, err := app.Window()
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2024, time.September, 2), start)
	assert.Equal(t, calendar.NewDate(2024, time.September, 12), end)
}

func TestWindow_ExplicitStart(t *testing.T) {
	cfg := appconf.Default()
	cfg.Start = "2024-12-30"
	cfg.Days = 5

	app := &Application{Config: cfg, Clock: clock.NewMockClock(time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))}

	start, end, err := app.Window()
	require.NoError(t, err)
	assert.Equal(t, calendar.NewDate(2024, time.December, 30), start)
	assert.Equal(t, calendar.NewDate(2025, time.January, 4), end)
}

func TestWindow_InvalidStart(t *testing.T) {
	cfg := appconf.Default()
	cfg.Start = "30/12/2024"

	app := &Application{Config: cfg, Clock: clock.NewMockClock(time.Now())}
	_, _, err := app.Window()
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	db, err := gtfsdb.NewClient(gtfsdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)

	app := &Application{Metrics: metrics.New(), DB: db}
	app.Metrics.StartDBStatsCollector(db.DB, time.Hour)

	require.NoError(t, app.Close())
	assert.Nil(t, app.DB)
	require.NoError(t, app.Close(), "closing twice is a no-op")
}
