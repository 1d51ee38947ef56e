package block

import (
	"fmt"
	"strings"
)

// TopologyError reports a component whose shape cannot be mapped to blocks.
type TopologyError struct {
	TripIDs []string
	Reason  string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("unsupported block topology: %s (trips: %s)", e.Reason, strings.Join(e.TripIDs, ", "))
}

// DanglingReferenceError reports a component with previous/next references to
// trips that are unknown or already part of another component.
type DanglingReferenceError struct {
	TripIDs []string
	Missing []string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("trips %s reference unavailable trips %s",
		strings.Join(e.TripIDs, ", "), strings.Join(e.Missing, ", "))
}
