package automation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RuleStore persists automation rules. Every call is scoped to a tenant.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, orgID string, id uuid.UUID) (*Rule, error)
	ListRules(ctx context.Context, orgID string) ([]Rule, error)
	ListActiveRules(ctx context.Context, orgID string, trigger Trigger, kind TargetKind) ([]Rule, error)
	// DeactivateRule marks the rule inactive and fails its still-pending
	// executions in one transaction, returning how many were failed.
	DeactivateRule(ctx context.Context, orgID string, id uuid.UUID, at time.Time) (int64, error)
	// DeleteRule removes a rule without history. Rules with executions
	// return ErrRuleHasExecutions.
	DeleteRule(ctx context.Context, orgID string, id uuid.UUID) error
}

// Claim identifies one dispatcher cycle's hold on executions.
type Claim struct {
	WorkerID string
	Token    uuid.UUID
	At       time.Time
}

// ReclaimResult counts stale claims handled by ReleaseStale.
type ReclaimResult struct {
	Requeued int64
	Failed   int64
}

// ExecutionStore persists pending executions and their transitions.
type ExecutionStore interface {
	// CreateExecution inserts a pending execution. It returns false when a
	// pending, processing or sent execution with the same dedupe key already
	// exists for the tenant. Failed executions do not block a new one.
	CreateExecution(ctx context.Context, exec *Execution) (bool, error)
	// ClaimDue atomically moves up to limit due pending executions to
	// processing under the given claim, oldest first.
	ClaimDue(ctx context.Context, asOf time.Time, limit int, claim Claim) ([]Execution, error)
	// ReleaseStale returns executions claimed before cutoff to pending, or
	// fails them when their rule has been deactivated meanwhile.
	ReleaseStale(ctx context.Context, cutoff, at time.Time) (ReclaimResult, error)
	// ReleaseClaim returns a claimed execution to pending without recording
	// a delivery attempt.
	ReleaseClaim(ctx context.Context, id uuid.UUID, token uuid.UUID, at time.Time) error
	MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, token uuid.UUID, reason string, at time.Time) error
	// FailPendingForSubject fails still-pending executions about a subject record.
	FailPendingForSubject(ctx context.Context, orgID, subjectID, reason string, at time.Time) (int64, error)
	ListExecutions(ctx context.Context, orgID string, filter ExecutionFilter) ([]Execution, error)
	StatsByRule(ctx context.Context, orgID string) ([]RuleStats, error)
}

// Store is the combined persistence surface.
type Store interface {
	RuleStore
	ExecutionStore
}
