package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks an appointment's lifecycle.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Appointment is a booked slot with a professional.
type Appointment struct {
	ID             uuid.UUID `json:"id"`
	OrgID          string    `json:"org_id"`
	ProfessionalID string    `json:"professional_id"`
	PatientID      string    `json:"patient_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Interval projects the appointment onto the overlap model.
func (a Appointment) Interval() Interval {
	return Interval{
		ID:         a.ID.String(),
		ResourceID: a.ProfessionalID,
		Start:      a.StartsAt,
		End:        a.EndsAt,
		Cancelled:  a.Status == StatusCancelled,
	}
}
