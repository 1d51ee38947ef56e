// Package metrics provides Prometheus metrics for a conversion run.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trains_gtfs"

// Metrics holds all Prometheus metrics for one run.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// ODPT API
	ODPTRequestsTotal   *prometheus.CounterVec
	ODPTRequestDuration *prometheus.HistogramVec

	// Conversion
	TimetablesRead    prometheus.Counter
	TimetablesSkipped *prometheus.CounterVec
	BlockComponents   *prometheus.CounterVec
	BlockDiagnostics  *prometheus.CounterVec
	StopTimesSkipped  *prometheus.CounterVec
	TripsEmitted      prometheus.Counter
	TripsRemoved      prometheus.Counter
	CalendarDates     prometheus.Counter
	RunDuration       prometheus.Gauge
	LastRunTimestamp  prometheus.Gauge

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitSecondsTotal prometheus.Counter

	logger *slog.Logger

	// collectorStarted prevents spawning multiple collector goroutines
	collectorStarted atomic.Bool
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// New creates and registers all metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		logger:   logger,

		ODPTRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "odpt_requests_total",
			Help:      "Total number of ODPT API requests",
		}, []string{"endpoint", "status"}),
		ODPTRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "odpt_request_duration_seconds",
			Help:      "Time until ODPT response headers arrived",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"endpoint"}),

		TimetablesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timetables_read_total",
			Help:      "Train timetables accepted from the source",
		}),
		TimetablesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timetables_skipped_total",
			Help:      "Train timetables dropped before conversion",
		}, []string{"reason"}),
		BlockComponents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_components_total",
			Help:      "Connected trip components by resolved topology",
		}, []string{"topology"}),
		BlockDiagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_diagnostics_total",
			Help:      "Block resolver diagnostics by kind",
		}, []string{"kind"}),
		StopTimesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_times_skipped_total",
			Help:      "Timetable entries left out of stop_times.txt",
		}, []string{"reason"}),
		TripsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trips_emitted_total",
			Help:      "Rows written to trips.txt",
		}),
		TripsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trips_removed_total",
			Help:      "Trips dropped because their service never ran in the window",
		}),
		CalendarDates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_dates_total",
			Help:      "Rows written to calendar_dates.txt",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last conversion",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last conversion finished",
		}),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Number of database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		}),
		DBWaitSecondsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_wait_seconds_total",
			Help:      "Total time blocked waiting for a database connection",
		}),
	}

	m.Registry.MustRegister(
		m.ODPTRequestsTotal,
		m.ODPTRequestDuration,
		m.TimetablesRead,
		m.TimetablesSkipped,
		m.BlockComponents,
		m.BlockDiagnostics,
		m.StopTimesSkipped,
		m.TripsEmitted,
		m.TripsRemoved,
		m.CalendarDates,
		m.RunDuration,
		m.LastRunTimestamp,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitSecondsTotal,
	)
	return m
}

// ObserveRequest records one ODPT API call. A zero status means the request
// failed before a response arrived.
func (m *Metrics) ObserveRequest(endpoint string, statusCode int, elapsed time.Duration) {
	status := "error"
	if statusCode != 0 {
		status = strconv.Itoa(statusCode)
	}
	m.ODPTRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.ODPTRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// FinishRun stamps the run duration and completion time.
func (m *Metrics) FinishRun(started, finished time.Time) {
	m.RunDuration.Set(finished.Sub(started).Seconds())
	m.LastRunTimestamp.Set(float64(finished.Unix()))
}

// WriteToTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// StartDBStatsCollector starts a goroutine that periodically copies the
// connection pool statistics of db into the DB gauges.
// Calling it again after the first call has no effect. Call Shutdown to stop it.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration) {
	if db == nil {
		return
	}

	if !m.collectorStarted.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	var lastWaitDuration time.Duration

	// Add to WaitGroup before exposing cancel to avoid a race with Shutdown
	m.wg.Add(1)
	m.cancel = cancel

	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.Error("panic in DB stats collector", "error", r)
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.collectDBStats(db, &lastWaitDuration)
			case <-ctx.Done():
				// One last sample so short runs still report their pool usage.
				m.collectDBStats(db, &lastWaitDuration)
				return
			}
		}
	}()
}

func (m *Metrics) collectDBStats(db *sql.DB, lastWait *time.Duration) {
	stats := db.Stats()
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))

	if delta := stats.WaitDuration - *lastWait; delta > 0 {
		m.DBWaitSecondsTotal.Add(delta.Seconds())
	}
	*lastWait = stats.WaitDuration
}

// Shutdown stops the DB stats collector goroutine and waits for it to exit.
// It is safe to call multiple times.
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
