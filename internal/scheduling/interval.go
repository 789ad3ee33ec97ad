package scheduling

import (
	"fmt"
	"time"
)

// Interval is the part of an appointment that matters for overlap checks.
// Ranges are half-open: [Start, End).
type Interval struct {
	ID         string
	ResourceID string
	Start      time.Time
	End        time.Time
	Cancelled  bool
}

// Validate rejects zero and negative durations.
func (iv Interval) Validate() error {
	if !iv.Start.Before(iv.End) {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidInterval,
			iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether the two ranges intersect. Touching ends do not.
func (iv Interval) Overlaps(other Interval) bool {
	return other.Start.Before(iv.End) && other.End.After(iv.Start)
}

// HasConflict reports whether candidate overlaps any live interval on the
// same resource. The interval being edited (same ID) is ignored.
func HasConflict(candidate Interval, existing []Interval) bool {
	return len(FindConflicts(candidate, existing)) > 0
}

// FindConflicts returns the existing intervals candidate collides with.
func FindConflicts(candidate Interval, existing []Interval) []Interval {
	if candidate.Cancelled {
		return nil
	}
	var out []Interval
	for _, other := range existing {
		if other.Cancelled {
			continue
		}
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}
		if other.ResourceID != candidate.ResourceID {
			continue
		}
		if candidate.Overlaps(other) {
			out = append(out, other)
		}
	}
	return out
}

// Check validates candidate and then tests it against existing.
func Check(candidate Interval, existing []Interval) error {
	if err := candidate.Validate(); err != nil {
		return err
	}
	if conflicts := FindConflicts(candidate, existing); len(conflicts) > 0 {
		return &ConflictError{Candidate: candidate, With: conflicts}
	}
	return nil
}
