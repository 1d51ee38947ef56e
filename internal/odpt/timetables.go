package odpt

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"trains.tokyogtfs.org/internal/logging"
)

// SkipReason says why a timetable record was not yielded.
type SkipReason string

const (
	SkipExpired   SkipReason = "expired"
	SkipDuplicate SkipReason = "duplicate"
)

// TimetableFilter drops expired and repeated TrainTimetable records.
type TimetableFilter struct {
	now  time.Time
	seen map[string]struct{}
}

func NewTimetableFilter(now time.Time) *TimetableFilter {
	return &TimetableFilter{now: now, seen: make(map[string]struct{})}
}

// Keep reports whether t should be converted: its dct:valid, when present,
// must be after the conversion time and its owl:sameAs must not repeat.
func (f *TimetableFilter) Keep(t TrainTimetable) (bool, SkipReason) {
	if t.Valid != "" {
		validUntil, err := time.Parse(time.RFC3339, t.Valid)
		if err == nil && !validUntil.After(f.now) {
			return false, SkipExpired
		}
	}
	if _, dup := f.seen[t.SameAs]; dup {
		return false, SkipDuplicate
	}
	f.seen[t.SameAs] = struct{}{}
	return true, ""
}

// TrainTimetables streams TrainTimetable records that are still valid at now,
// each owl:sameAs at most once.
func TrainTimetables(ctx context.Context, src Source, now time.Time, onSkip func(TrainTimetable, SkipReason)) iter.Seq2[TrainTimetable, error] {
	return func(yield func(TrainTimetable, error) bool) {
		logger := slog.Default().With(slog.String("component", "odpt_timetables"))
		filter := NewTimetableFilter(now)
		kept, skipped := 0, 0

		for t, err := range Stream[TrainTimetable](ctx, src, EndpointTrainTimetable) {
			if err != nil {
				yield(TrainTimetable{}, fmt.Errorf("streaming train timetables: %w", err))
				return
			}
			if ok, reason := filter.Keep(t); !ok {
				skipped++
				if onSkip != nil {
					onSkip(t, reason)
				}
				continue
			}
			kept++
			if !yield(t, nil) {
				return
			}
		}

		logging.LogOperation(logger, "train_timetables_streamed",
			slog.Int("kept", kept),
			slog.Int("skipped", skipped))
	}
}
