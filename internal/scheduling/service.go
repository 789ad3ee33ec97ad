package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var schedulingTracer = otel.Tracer("clinic.internal.scheduling")

// Variables offered to follow-up templates for every appointment event.
const (
	VarDate     = "data"
	VarDateEN   = "date"
	VarTime     = "hora"
	VarTimeEN   = "time"
	VarEndTime  = "hora_fim"
	VarApptID   = "appointment_id"
	dateLayout  = "02/01/2006"
	clockLayout = "15:04"
)

// FollowUps receives the automation events raised after a booking change commits.
type FollowUps interface {
	Handle(ctx context.Context, evt automation.Event) automation.Report
}

// BookInput describes a new appointment.
type BookInput struct {
	ProfessionalID string            `json:"professional_id"`
	PatientID      string            `json:"patient_id"`
	StartsAt       time.Time         `json:"starts_at"`
	EndsAt         time.Time         `json:"ends_at"`
	Variables      map[string]string `json:"variables,omitempty"`
}

// RescheduleInput moves an appointment. An empty ProfessionalID keeps the current one.
type RescheduleInput struct {
	ProfessionalID string            `json:"professional_id,omitempty"`
	StartsAt       time.Time         `json:"starts_at"`
	EndsAt         time.Time         `json:"ends_at"`
	Variables      map[string]string `json:"variables,omitempty"`
}

// Service books appointments and notifies the automation engine.
type Service struct {
	store     Store
	followUps FollowUps
	logger    *logging.Logger
	location  *time.Location
	now       func() time.Time
}

// NewService creates a booking service. followUps may be nil.
func NewService(store Store, followUps FollowUps, logger *logging.Logger) *Service {
	if store == nil {
		panic("scheduling: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:     store,
		followUps: followUps,
		logger:    logger,
		location:  time.UTC,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithLocation sets the zone used for {data} and {hora}.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.location = loc
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Book creates an appointment when the professional is free for [StartsAt, EndsAt).
func (s *Service) Book(ctx context.Context, orgID string, in BookInput) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.professional_id", in.ProfessionalID),
	)

	if strings.TrimSpace(orgID) == "" || strings.TrimSpace(in.ProfessionalID) == "" || strings.TrimSpace(in.PatientID) == "" {
		return nil, fmt.Errorf("%w: org, professional and patient are required", ErrInvalidAppointment)
	}
	appt := &Appointment{
		OrgID:          orgID,
		ProfessionalID: strings.TrimSpace(in.ProfessionalID),
		PatientID:      strings.TrimSpace(in.PatientID),
		StartsAt:       in.StartsAt,
		EndsAt:         in.EndsAt,
	}
	if err := s.store.Create(ctx, appt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "book failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.appointment_id", appt.ID.String()))

	s.logger.Info("appointment booked",
		"org_id", orgID,
		"appointment_id", appt.ID,
		"professional_id", appt.ProfessionalID,
		"starts_at", appt.StartsAt,
	)
	s.emit(ctx, *appt, automation.TriggerAppointmentScheduled, false, in.Variables)
	s.emit(ctx, *appt, automation.TriggerAppointmentReminder, false, in.Variables)
	return appt, nil
}

// Reschedule moves a scheduled appointment. Pending follow-ups computed from the
// old start are superseded before new ones are scheduled.
func (s *Service) Reschedule(ctx context.Context, orgID string, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.appointment_id", id.String()),
	)

	current, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	appt := *current
	if p := strings.TrimSpace(in.ProfessionalID); p != "" {
		appt.ProfessionalID = p
	}
	appt.StartsAt = in.StartsAt
	appt.EndsAt = in.EndsAt
	if err := s.store.Reschedule(ctx, &appt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reschedule failed")
		return nil, err
	}

	s.logger.Info("appointment rescheduled",
		"org_id", orgID,
		"appointment_id", appt.ID,
		"from", current.StartsAt,
		"to", appt.StartsAt,
	)
	s.emit(ctx, appt, automation.TriggerAppointmentScheduled, true, in.Variables)
	s.emit(ctx, appt, automation.TriggerAppointmentReminder, false, in.Variables)
	return &appt, nil
}

// Cancel frees the slot and supersedes pending follow-ups for the appointment.
func (s *Service) Cancel(ctx context.Context, orgID string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, orgID, id, StatusCancelled, automation.TriggerAppointmentCancelled, true)
}

// Complete marks the appointment attended.
func (s *Service) Complete(ctx context.Context, orgID string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, orgID, id, StatusCompleted, automation.TriggerAppointmentCompleted, false)
}

// MarkNoShow marks the appointment missed.
func (s *Service) MarkNoShow(ctx context.Context, orgID string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, orgID, id, StatusNoShow, automation.TriggerAppointmentNoShow, true)
}

// Get loads one appointment for the tenant.
func (s *Service) Get(ctx context.Context, orgID string, id uuid.UUID) (*Appointment, error) {
	return s.store.Get(ctx, orgID, id)
}

// Agenda lists a professional's live appointments overlapping [from, to).
func (s *Service) Agenda(ctx context.Context, orgID, professionalID string, from, to time.Time) ([]Appointment, error) {
	if err := (Interval{Start: from, End: to}).Validate(); err != nil {
		return nil, err
	}
	return s.store.ListForProfessional(ctx, orgID, professionalID, from, to)
}

func (s *Service) transition(ctx context.Context, orgID string, id uuid.UUID, to Status, trigger automation.Trigger, supersede bool) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", orgID),
		attribute.String("clinic.appointment_id", id.String()),
		attribute.String("clinic.status", string(to)),
	)

	appt, err := s.store.Transition(ctx, orgID, id, to, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment status changed", "org_id", orgID, "appointment_id", id, "status", to)
	s.emit(ctx, *appt, trigger, supersede, nil)
	return appt, nil
}

// emit runs after the booking write committed. Follow-up failures are logged
// and never undo the booking.
func (s *Service) emit(ctx context.Context, appt Appointment, trigger automation.Trigger, supersede bool, extra map[string]string) {
	if s.followUps == nil {
		return
	}
	start := appt.StartsAt
	evt := automation.Event{
		ID:                uuid.NewString(),
		OrgID:             appt.OrgID,
		Trigger:           trigger,
		TargetKind:        automation.TargetPatient,
		TargetID:          appt.PatientID,
		SubjectID:         appt.ID.String(),
		OccurredAt:        s.now(),
		AppointmentStart:  &start,
		Variables:         s.variables(appt, extra),
		SupersedesPending: supersede,
	}
	report := s.followUps.Handle(ctx, evt)
	if !report.OK() {
		s.logger.Warn("appointment follow-ups reported errors",
			"org_id", appt.OrgID,
			"appointment_id", appt.ID,
			"trigger", trigger,
			"errors", report.ErrorMessages(),
		)
	}
}

func (s *Service) variables(appt Appointment, extra map[string]string) map[string]string {
	local := appt.StartsAt.In(s.location)
	vars := map[string]string{
		VarDate:    local.Format(dateLayout),
		VarDateEN:  local.Format(dateLayout),
		VarTime:    local.Format(clockLayout),
		VarTimeEN:  local.Format(clockLayout),
		VarEndTime: appt.EndsAt.In(s.location).Format(clockLayout),
		VarApptID:  appt.ID.String(),
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
