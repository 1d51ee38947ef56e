package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"trains.tokyogtfs.org/internal/appconf"
	"trains.tokyogtfs.org/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := loadConfig(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}

	logger := logging.NewLogger(stderr, cfg.Env == appconf.Production, cfg.Verbose)
	slog.SetDefault(logger)

	coreApp, err := BuildApplication(cfg, logger)
	if err != nil {
		logging.LogError(logger, "failed to build application", err)
		return 1
	}
	defer func() {
		if err := coreApp.Close(); err != nil {
			logging.LogError(logger, "failed to close application", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := Run(ctx, coreApp); err != nil {
		logging.LogError(logger, "conversion failed", err)
		return 1
	}
	return 0
}

// loadConfig layers defaults, the optional YAML file, the environment and
// finally the flags that were given explicitly.
func loadConfig(args []string, output io.Writer) (appconf.Config, error) {
	fs := flag.NewFlagSet("trains-gtfs", flag.ContinueOnError)
	fs.SetOutput(output)

	configPath := fs.String("config", "", "YAML configuration file")
	envFile := fs.String("env-file", ".env", "dotenv file with ODPT_APIKEY")
	apiKey := fs.String("apikey", "", "ODPT API key")
	dataDir := fs.String("data-dir", "", "read ODPT dumps from this directory instead of the API")
	referenceDir := fs.String("reference-dir", appconf.DefaultReferenceDir, "directory with train_routes.csv and operators.csv")
	out := fs.String("out", appconf.DefaultOutput, "output GTFS archive")
	dbPath := fs.String("db", "", "also store the feed in this SQLite database")
	metricsPath := fs.String("metrics", "", "write Prometheus metrics to this file")
	holidaysFile := fs.String("holidays", "", "local copy of the Cabinet Office holiday CSV")
	strict := fs.Bool("strict", false, "abort on the first unsupported block topology")
	start := fs.String("start", "", "first day of the calendar window (YYYY-MM-DD)")
	days := fs.Int("days", appconf.DefaultDays, "length of the calendar window in days")
	verbose := fs.Bool("verbose", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return appconf.Config{}, err
	}
	if fs.NArg() > 0 {
		return appconf.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := appconf.Default()
	if *configPath != "" {
		loaded, err := appconf.ReadFile(*configPath)
		if err != nil {
			return appconf.Config{}, err
		}
		cfg = *loaded
	}

	if err := appconf.ApplyEnv(&cfg, *envFile); err != nil {
		return appconf.Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "apikey":
			cfg.APIKey = *apiKey
		case "data-dir":
			cfg.DataDir = *dataDir
		case "reference-dir":
			cfg.ReferenceDir = *referenceDir
		case "out":
			cfg.Output = *out
		case "db":
			cfg.DBPath = *dbPath
		case "metrics":
			cfg.MetricsPath = *metricsPath
		case "holidays":
			cfg.HolidaysFile = *holidaysFile
		case "strict":
			cfg.Strict = *strict
		case "start":
			cfg.Start = *start
		case "days":
			cfg.Days = *days
		case "verbose":
			cfg.Verbose = *verbose
		}
	})

	if err := cfg.Validate(); err != nil {
		return appconf.Config{}, err
	}
	return cfg, nil
}
