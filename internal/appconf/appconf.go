// Package appconf holds the converter configuration and the rules for
// assembling it from defaults, a YAML file, the environment and flags.
package appconf

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// ParseEnvironment maps "development", "test" and "production" (any case) to
// an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "development", "dev":
		return Development, nil
	case "test":
		return Test, nil
	case "production", "prod":
		return Production, nil
	}
	return Development, fmt.Errorf("unknown environment %q", s)
}

func (e *Environment) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	env, err := ParseEnvironment(s)
	if err != nil {
		return err
	}
	*e = env
	return nil
}

func (e Environment) MarshalYAML() (any, error) {
	return e.String(), nil
}

const (
	DefaultBaseURL           = "https://api.odpt.org/api/v4/"
	DefaultHolidaysURL       = "https://www8.cao.go.jp/chosei/shukujitsu/syukujitsu.csv"
	DefaultDays              = 180
	DefaultTimezone          = "Asia/Tokyo"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 5.0
	DefaultOutput            = "tokyo_trains.zip"
	DefaultReferenceDir      = "data"
)

// Config is the full set of settings for one conversion run.
type Config struct {
	Env Environment `yaml:"env"`

	// APIKey authenticates against the ODPT API. Not needed when DataDir
	// points at a local dump.
	APIKey            string        `yaml:"api_key" validate:"required_without=DataDir"`
	BaseURL           string        `yaml:"base_url" validate:"required,url"`
	DataDir           string        `yaml:"data_dir"`
	ReferenceDir      string        `yaml:"reference_dir" validate:"required"`
	HolidaysURL       string        `yaml:"holidays_url" validate:"omitempty,url"`
	HolidaysFile      string        `yaml:"holidays_file"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gt=0"`

	Output      string `yaml:"output" validate:"required"`
	DBPath      string `yaml:"db_path"`
	MetricsPath string `yaml:"metrics_path"`

	Strict   bool   `yaml:"strict"`
	Start    string `yaml:"start" validate:"omitempty,datetime=2006-01-02"`
	Days     int    `yaml:"days" validate:"min=1,max=366"`
	Timezone string `yaml:"timezone" validate:"required,timezone"`

	Verbose bool `yaml:"verbose"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Env:               Development,
		BaseURL:           DefaultBaseURL,
		ReferenceDir:      DefaultReferenceDir,
		HolidaysURL:       DefaultHolidaysURL,
		Timeout:           DefaultTimeout,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Output:            DefaultOutput,
		Days:              DefaultDays,
		Timezone:          DefaultTimezone,
	}
}

// Location loads the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// StartTime returns the first day of the calendar window. Without an
// explicit start it is the day of now in the configured zone.
func (c Config) StartTime(now time.Time) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	if c.Start == "" {
		y, m, d := now.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, c.Start, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start date %q: %w", c.Start, err)
	}
	return t, nil
}

// UsesLocalData reports whether ODPT dumps come from DataDir instead of the API.
func (c Config) UsesLocalData() bool {
	return c.DataDir != ""
}
