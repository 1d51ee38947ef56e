package appconf

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey  = "ODPT_APIKEY"
	EnvEnv     = "TRAINS_GTFS_ENV"
	EnvDataDir = "TRAINS_GTFS_DATA_DIR"
	EnvStrict  = "TRAINS_GTFS_STRICT"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFromFile reads a YAML config on top of Default and validates the result.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile is LoadFromFile without validation, for callers that overlay
// more settings before validating.
func ReadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overlays environment settings on cfg. Variables from dotenvPath
// are used when the process environment does not set them. A missing
// dotenv file is not an error.
func ApplyEnv(cfg *Config, dotenvPath string) error {
	fileVars := map[string]string{}
	if dotenvPath != "" {
		vars, err := godotenv.Read(dotenvPath)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("failed to read env file %s: %w", dotenvPath, err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}

	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		cfg.DataDir = v
	}
	if v, ok := lookup(EnvEnv); ok && v != "" {
		env, err := ParseEnvironment(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEnv, err)
		}
		cfg.Env = env
	}
	if v, ok := lookup(EnvStrict); ok && v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStrict, err)
		}
		cfg.Strict = strict
	}
	return nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
