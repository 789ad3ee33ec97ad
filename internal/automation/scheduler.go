package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-automation/internal/messaging/templates"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

var automationTracer = otel.Tracer("clinic.internal.automation")

// Scheduler turns a matched rule into a durable pending execution.
type Scheduler struct {
	executions ExecutionStore
	targets    TargetResolver
	renderer   templates.Renderer
	logger     *logging.Logger
	now        func() time.Time
	attempts   int
	backoff    time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(executions ExecutionStore, targets TargetResolver, logger *logging.Logger) *Scheduler {
	if executions == nil {
		panic("automation: execution store required")
	}
	if targets == nil {
		panic("automation: target resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		executions: executions,
		targets:    targets,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		attempts:   3,
		backoff:    100 * time.Millisecond,
	}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// WithWriteRetry configures how often a failed durable write is attempted.
func (s *Scheduler) WithWriteRetry(attempts int, backoff time.Duration) *Scheduler {
	if attempts > 0 {
		s.attempts = attempts
	}
	if backoff >= 0 {
		s.backoff = backoff
	}
	return s
}

// ScheduleInput contains what is needed to schedule one rule for one target.
type ScheduleInput struct {
	Rule      Rule
	OrgID     string
	TargetID  string
	SubjectID string
	Reference Reference
	Variables map[string]string
}

// ScheduleResult describes a scheduled execution.
type ScheduleResult struct {
	Execution *Execution
	// Duplicate is true when an identical schedule already existed.
	Duplicate bool
}

// Schedule computes the delivery time, renders the message once and stores
// a pending execution. A missing target returns ErrTargetNotFound; a failed
// write returns *SchedulingError.
func (s *Scheduler) Schedule(ctx context.Context, in ScheduleInput) (*ScheduleResult, error) {
	ctx, span := automationTracer.Start(ctx, "automation.schedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.org_id", in.OrgID),
		attribute.String("clinic.rule_id", in.Rule.ID.String()),
		attribute.String("clinic.target_id", in.TargetID),
	)

	if in.OrgID == "" || in.Rule.OrgID != in.OrgID {
		return nil, ErrRuleNotFound
	}

	ref := in.Reference
	if ref.Source == "" {
		ref.Source = ReferenceEventTime
	}
	if ref.At.IsZero() {
		if ref.Source != ReferenceEventTime {
			return nil, ErrMissingReference
		}
		ref.At = s.now()
	}
	scheduledFor := ScheduledFor(ref.At, in.Rule.DelayDays)

	target, err := s.targets.ResolveTarget(ctx, in.OrgID, in.Rule.TargetKind, in.TargetID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("automation: resolve target %s: %w", in.TargetID, err)
	}
	orgName, err := s.targets.OrganizationName(ctx, in.OrgID)
	if err != nil {
		// {clinica} renders empty.
		s.logger.Warn("automation: organization name unavailable", "org_id", in.OrgID, "error", err)
	}

	vars := templates.Merge(templates.StandardVariables(target.DisplayName, orgName), in.Variables)
	exec := &Execution{
		OrgID:        in.OrgID,
		RuleID:       in.Rule.ID,
		TargetID:     in.TargetID,
		TargetKind:   in.Rule.TargetKind,
		SubjectID:    in.SubjectID,
		ScheduledFor: scheduledFor,
		Reference:    ref,
		Message:      s.renderer.Render(in.Rule.MessageTemplate, vars),
		Status:       StatusPending,
		CreatedAt:    s.now(),
	}
	exec.DedupeKey = dedupeKey(exec.RuleID, exec.TargetID, exec.SubjectID, exec.ScheduledFor)

	created, err := s.persist(ctx, exec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if !created {
		s.logger.Info("automation: execution already scheduled",
			"org_id", in.OrgID, "rule_id", in.Rule.ID, "target_id", in.TargetID,
			"scheduled_for", scheduledFor.Format(time.RFC3339),
		)
		return &ScheduleResult{Execution: exec, Duplicate: true}, nil
	}

	s.logger.Info("automation: execution scheduled",
		"org_id", in.OrgID, "rule_id", in.Rule.ID, "execution_id", exec.ID,
		"target_id", in.TargetID, "scheduled_for", scheduledFor.Format(time.RFC3339),
		"reference", string(ref.Source),
	)
	return &ScheduleResult{Execution: exec}, nil
}

func (s *Scheduler) persist(ctx context.Context, exec *Execution) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		created, err := s.executions.CreateExecution(ctx, exec)
		if err == nil {
			return created, nil
		}
		lastErr = err
		s.logger.Warn("automation: execution write failed",
			"org_id", exec.OrgID, "rule_id", exec.RuleID, "attempt", attempt, "error", err,
		)
		if attempt == s.attempts || errors.Is(err, context.Canceled) {
			return false, &SchedulingError{RuleID: exec.RuleID, TargetID: exec.TargetID, Attempts: attempt, Err: lastErr}
		}
		select {
		case <-ctx.Done():
			return false, &SchedulingError{RuleID: exec.RuleID, TargetID: exec.TargetID, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return false, &SchedulingError{RuleID: exec.RuleID, TargetID: exec.TargetID, Attempts: s.attempts, Err: lastErr}
}

// ScheduledFor offsets ref by whole calendar days in ref's location.
func ScheduledFor(ref time.Time, delayDays int) time.Time {
	return ref.AddDate(0, 0, delayDays)
}
