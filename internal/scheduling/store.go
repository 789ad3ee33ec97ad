package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists appointments. Create and Reschedule run the conflict check
// and the write as one critical section per professional.
type Store interface {
	Create(ctx context.Context, appt *Appointment) error
	Reschedule(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, orgID string, id uuid.UUID) (*Appointment, error)
	// Transition moves a scheduled appointment to a final status.
	Transition(ctx context.Context, orgID string, id uuid.UUID, to Status, at time.Time) (*Appointment, error)
	ListForProfessional(ctx context.Context, orgID, professionalID string, from, to time.Time) ([]Appointment, error)
}
