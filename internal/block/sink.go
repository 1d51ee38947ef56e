package block

import (
	"context"
	"log/slog"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"trains.tokyogtfs.org/internal/logging"
)

// Kind classifies a resolver diagnostic.
type Kind string

const (
	KindDuplicateTrip     Kind = "duplicate_trip"
	KindDanglingReference Kind = "dangling_reference"
	KindTopology          Kind = "topology"
	KindUnreachedTrips    Kind = "unreached_trips"
)

// Diagnostic is a data-quality event raised while resolving blocks. Trips
// holds the affected descriptors.
type Diagnostic struct {
	Kind  Kind
	Err   error
	Trips []Trip
}

// TripIDs lists the ids of the affected trips.
func (d Diagnostic) TripIDs() []string {
	ids := make([]string, len(d.Trips))
	for i, t := range d.Trips {
		ids[i] = t.ID
	}
	return ids
}

// Sink receives diagnostics from the resolver.
type Sink interface {
	Report(Diagnostic)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Report(d Diagnostic) { f(d) }

// LogSink writes diagnostics as warnings and dumps the affected trips at
// debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Report(d Diagnostic) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "block_resolver"))
	}

	logging.LogWarning(logger, "block_resolver_diagnostic",
		slog.String("kind", string(d.Kind)),
		slog.Any("trip_ids", d.TripIDs()),
		slog.String("error", errString(d.Err)))

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		logger.Debug("block component dump", slog.String("trips", spew.Sdump(d.Trips)))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// CollectingSink keeps every diagnostic in memory.
type CollectingSink struct {
	mu          sync.Mutex
	diagnostics []Diagnostic
}

func (s *CollectingSink) Report(d Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnostics = append(s.diagnostics, d)
}

// Diagnostics returns a copy of the collected diagnostics.
func (s *CollectingSink) Diagnostics() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Diagnostic(nil), s.diagnostics...)
}

// Count returns the number of diagnostics of the given kind.
func (s *CollectingSink) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.diagnostics {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// multiSink fans a diagnostic out to several sinks.
type multiSink []Sink

func (m multiSink) Report(d Diagnostic) {
	for _, s := range m {
		s.Report(d)
	}
}

// Tee returns a sink reporting to every non-nil sink given.
func Tee(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}
