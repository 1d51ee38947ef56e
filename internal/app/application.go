package app

import (
	"log/slog"

	"trains.tokyogtfs.org/gtfsdb"
	"trains.tokyogtfs.org/internal/appconf"
	"trains.tokyogtfs.org/internal/calendar"
	"trains.tokyogtfs.org/internal/clock"
	"trains.tokyogtfs.org/internal/convert"
	"trains.tokyogtfs.org/internal/metrics"
	"trains.tokyogtfs.org/internal/odpt"
)

// Application holds the dependencies of one conversion run.
type Application struct {
	Config    appconf.Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Source    odpt.Source
	Reference *convert.Reference
	// DB mirrors the produced feed. Nil unless Config.DBPath is set.
	DB *gtfsdb.Client
}

// Window returns the calendar window: Config.Days days after the configured
// start date, or after today when none is set.
func (app *Application) Window() (start, end calendar.Date, err error) {
	first, err := app.Config.StartTime(app.Clock.Now())
	if err != nil {
		return calendar.Date{}, calendar.Date{}, err
	}
	start = calendar.DateOf(first)
	return start, start.AddDays(app.Config.Days), nil
}

// Close stops the metrics collector and closes the database.
func (app *Application) Close() error {
	if app.Metrics != nil {
		app.Metrics.Shutdown()
	}
	if app.DB == nil {
		return nil
	}
	err := app.DB.Close()
	app.DB = nil
	return err
}
