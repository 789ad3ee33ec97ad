package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TargetResolver looks up leads and patients owned by the CRUD layer.
type TargetResolver interface {
	// ResolveTarget returns ErrTargetNotFound when the entity is missing or deleted.
	ResolveTarget(ctx context.Context, orgID string, kind TargetKind, targetID string) (*TargetProfile, error)
	OrganizationName(ctx context.Context, orgID string) (string, error)
}

// MessageSender delivers a rendered follow-up. Implementations report
// success or failure only; provider responses are not interpreted here.
type MessageSender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// DeliveryAttempt is the audit record of one dispatch outcome.
type DeliveryAttempt struct {
	ExecutionID uuid.UUID
	OrgID       string
	RuleID      uuid.UUID
	TargetID    string
	Channel     Channel
	Address     string
	Status      ExecutionStatus
	Reason      string
	AttemptedAt time.Time
}

// DeliveryAuditor records dispatch outcomes outside the execution table.
type DeliveryAuditor interface {
	RecordAttempt(ctx context.Context, attempt DeliveryAttempt) error
}
