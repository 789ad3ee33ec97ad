package scheduling

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInterval indicates a zero or negative duration.
	ErrInvalidInterval = errors.New("scheduling: invalid interval")
	// ErrConflict indicates the time slot is already booked.
	ErrConflict = errors.New("scheduling: time conflict")
	// ErrAppointmentNotFound indicates no appointment matched for the tenant.
	ErrAppointmentNotFound = errors.New("scheduling: appointment not found")
	// ErrInvalidAppointment indicates missing required fields.
	ErrInvalidAppointment = errors.New("scheduling: invalid appointment")
)

// ConflictError lists the intervals a candidate collided with.
type ConflictError struct {
	Candidate Interval
	With      []Interval
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.With))
	for _, iv := range e.With {
		ids = append(ids, iv.ID)
	}
	return fmt.Sprintf("scheduling: time conflict on resource %s with %s", e.Candidate.ResourceID, strings.Join(ids, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
