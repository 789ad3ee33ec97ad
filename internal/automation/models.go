package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trigger is the domain event kind a rule reacts to.
type Trigger string

const (
	TriggerLeadCreated          Trigger = "LEAD_CREATED"
	TriggerLeadStatusChanged    Trigger = "LEAD_STATUS_CHANGED"
	TriggerAppointmentScheduled Trigger = "APPOINTMENT_SCHEDULED"
	TriggerAppointmentReminder  Trigger = "APPOINTMENT_REMINDER"
	TriggerAppointmentCompleted Trigger = "APPOINTMENT_COMPLETED"
	TriggerAppointmentCancelled Trigger = "APPOINTMENT_CANCELLED"
	TriggerAppointmentNoShow    Trigger = "APPOINTMENT_NO_SHOW"
	TriggerPatientCreated       Trigger = "PATIENT_CREATED"
)

var knownTriggers = map[Trigger]struct{}{
	TriggerLeadCreated:          {},
	TriggerLeadStatusChanged:    {},
	TriggerAppointmentScheduled: {},
	TriggerAppointmentReminder:  {},
	TriggerAppointmentCompleted: {},
	TriggerAppointmentCancelled: {},
	TriggerAppointmentNoShow:    {},
	TriggerPatientCreated:       {},
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	_, ok := knownTriggers[t]
	return ok
}

// TargetKind identifies what kind of entity a follow-up concerns.
type TargetKind string

const (
	TargetLead    TargetKind = "LEAD"
	TargetPatient TargetKind = "PATIENT"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	return k == TargetLead || k == TargetPatient
}

// ReferenceSource names the instant a rule's delay is counted from.
type ReferenceSource string

const (
	// ReferenceEventTime counts from when the event happened (or now).
	ReferenceEventTime ReferenceSource = "event_time"
	// ReferenceAppointmentStart counts from the appointment's start.
	ReferenceAppointmentStart ReferenceSource = "appointment_start"
)

// Valid reports whether s is a known reference source.
func (s ReferenceSource) Valid() bool {
	return s == ReferenceEventTime || s == ReferenceAppointmentStart
}

// DefaultReferenceSource is the reference a new rule gets when the operator
// does not pick one. It is stored on the rule, never re-derived later.
func DefaultReferenceSource(t Trigger) ReferenceSource {
	if t == TriggerAppointmentReminder {
		return ReferenceAppointmentStart
	}
	return ReferenceEventTime
}

// Reference is the explicit instant passed to the scheduler.
type Reference struct {
	Source ReferenceSource `json:"source"`
	At     time.Time       `json:"at"`
}

// ExecutionStatus tracks the lifecycle of a scheduled follow-up.
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	// StatusProcessing marks an execution claimed by a dispatcher cycle.
	StatusProcessing ExecutionStatus = "processing"
	StatusSent       ExecutionStatus = "sent"
	StatusFailed     ExecutionStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Channel is a delivery channel for a follow-up.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Failure reasons recorded on executions.
const (
	ReasonAddressNotFound = "address not found"
	ReasonRuleDeactivated = "rule deactivated"
	ReasonSuperseded      = "superseded"
)

// Rule is a tenant-scoped automation rule.
type Rule struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           string          `json:"org_id"`
	Name            string          `json:"name"`
	Trigger         Trigger         `json:"trigger"`
	TargetKind      TargetKind      `json:"target_kind"`
	DelayDays       int             `json:"delay_days"`
	ReferenceSource ReferenceSource `json:"reference_source"`
	MessageTemplate string          `json:"message_template"`
	Active          bool            `json:"active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeactivatedAt   *time.Time      `json:"deactivated_at,omitempty"`
}

// Validate checks the operator-editable fields.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.OrgID) == "" {
		return fmt.Errorf("%w: org id required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidRule)
	}
	if !r.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidRule, r.Trigger)
	}
	if !r.TargetKind.Valid() {
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidRule, r.TargetKind)
	}
	if !r.ReferenceSource.Valid() {
		return fmt.Errorf("%w: unknown reference source %q", ErrInvalidRule, r.ReferenceSource)
	}
	if strings.TrimSpace(r.MessageTemplate) == "" {
		return fmt.Errorf("%w: message template required", ErrInvalidRule)
	}
	return nil
}

// Execution is one rule fired for one target at one point in time.
// Message is rendered at scheduling time and never changes afterwards.
type Execution struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        string          `json:"org_id"`
	RuleID       uuid.UUID       `json:"rule_id"`
	TargetID     string          `json:"target_id"`
	TargetKind   TargetKind      `json:"target_kind"`
	SubjectID    string          `json:"subject_id,omitempty"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Reference    Reference       `json:"reference"`
	Message      string          `json:"message"`
	Status       ExecutionStatus `json:"status"`
	LastError    string          `json:"last_error,omitempty"`
	DedupeKey    string          `json:"-"`
	ClaimedBy    string          `json:"claimed_by,omitempty"`
	ClaimToken   uuid.UUID       `json:"-"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// dedupeKey identifies a schedule so retried events do not double-book it.
func dedupeKey(ruleID uuid.UUID, targetID, subjectID string, scheduledFor time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", ruleID, targetID, subjectID, scheduledFor.UTC().Format(time.RFC3339Nano))
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	RuleID *uuid.UUID
	Status *ExecutionStatus
	Limit  int
}

// RuleStats holds the per-rule counts shown on operator dashboards.
// In-flight executions are counted as pending.
type RuleStats struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Active   bool      `json:"active"`
	Pending  int64     `json:"pending"`
	Sent     int64     `json:"sent"`
	Failed   int64     `json:"failed"`
}

// Event is a domain event raised after a committed write.
type Event struct {
	ID         string     `json:"id,omitempty"`
	OrgID      string     `json:"org_id"`
	Trigger    Trigger    `json:"trigger"`
	TargetKind TargetKind `json:"target_kind"`
	TargetID   string     `json:"target_id"`
	// SubjectID optionally names the record the event is about, such as an appointment.
	SubjectID        string            `json:"subject_id,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at,omitempty"`
	AppointmentStart *time.Time        `json:"appointment_start,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
	// SupersedesPending fails still-pending executions for SubjectID before matching.
	SupersedesPending bool `json:"supersedes_pending,omitempty"`
}

// Validate checks the fields the processor relies on.
func (e Event) Validate() error {
	if strings.TrimSpace(e.OrgID) == "" {
		return fmt.Errorf("%w: org id required", ErrInvalidEvent)
	}
	if !e.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidEvent, e.Trigger)
	}
	if !e.TargetKind.Valid() {
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidEvent, e.TargetKind)
	}
	if strings.TrimSpace(e.TargetID) == "" {
		return fmt.Errorf("%w: target id required", ErrInvalidEvent)
	}
	return nil
}

// ReferenceFor resolves the instant a rule with the given source counts from.
func (e Event) ReferenceFor(source ReferenceSource) (Reference, error) {
	switch source {
	case ReferenceAppointmentStart:
		if e.AppointmentStart == nil || e.AppointmentStart.IsZero() {
			return Reference{}, ErrMissingReference
		}
		return Reference{Source: source, At: *e.AppointmentStart}, nil
	case ReferenceEventTime, "":
		return Reference{Source: ReferenceEventTime, At: e.OccurredAt}, nil
	default:
		return Reference{}, fmt.Errorf("%w: unknown reference source %q", ErrMissingReference, source)
	}
}

// TargetProfile is what the resolver knows about a lead or patient.
type TargetProfile struct {
	ID          string     `json:"id"`
	Kind        TargetKind `json:"kind"`
	DisplayName string     `json:"display_name"`
	Contact     Contact    `json:"contact"`
}

// Contact is a delivery address plus the channel it belongs to.
type Contact struct {
	Address string  `json:"address"`
	Channel Channel `json:"channel"`
}

// OutboundMessage is handed to the message sender.
type OutboundMessage struct {
	OrgID       string
	ExecutionID uuid.UUID
	Channel     Channel
	To          string
	Subject     string
	Body        string
}
