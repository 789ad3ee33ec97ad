package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/internal/observability/metrics"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Skip records a rule that was not scheduled for a benign reason.
type Skip struct {
	RuleID uuid.UUID `json:"rule_id"`
	Reason string    `json:"reason"`
}

// Report is the non-fatal outcome of processing one event. Callers inspect
// it for visibility; it never signals that the originating write failed.
type Report struct {
	EventID    string      `json:"event_id,omitempty"`
	Trigger    Trigger     `json:"trigger"`
	Matched    int         `json:"matched"`
	Scheduled  []uuid.UUID `json:"scheduled"`
	Duplicates int         `json:"duplicates"`
	Superseded int64       `json:"superseded"`
	Skipped    []Skip      `json:"skipped,omitempty"`
	Errors     []error     `json:"-"`
}

// OK reports whether every matched rule was handled without error.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// ErrorMessages renders Errors for JSON responses and logs.
func (r Report) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// EventProcessor is the entry point domain events are handed to after a
// committed write. It matches rules and schedules each one independently.
type EventProcessor struct {
	matcher    *RuleMatcher
	scheduler  *Scheduler
	executions ExecutionStore
	metrics    *metrics.AutomationMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// NewEventProcessor wires a processor.
func NewEventProcessor(matcher *RuleMatcher, scheduler *Scheduler, executions ExecutionStore, m *metrics.AutomationMetrics, logger *logging.Logger) *EventProcessor {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventProcessor{
		matcher:    matcher,
		scheduler:  scheduler,
		executions: executions,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source used for event time defaults.
func (p *EventProcessor) WithClock(now func() time.Time) *EventProcessor {
	if now != nil {
		p.now = now
	}
	return p
}

// Handle processes one event. Problems land in the report and the log.
func (p *EventProcessor) Handle(ctx context.Context, evt Event) Report {
	report := Report{EventID: evt.ID, Trigger: evt.Trigger, Scheduled: []uuid.UUID{}}
	log := p.logger.WithOrg(evt.OrgID)

	if err := evt.Validate(); err != nil {
		report.Errors = append(report.Errors, err)
		log.Warn("automation: invalid event", "trigger", string(evt.Trigger), "error", err)
		return report
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.now()
	}

	if evt.SupersedesPending && evt.SubjectID != "" && p.executions != nil {
		n, err := p.executions.FailPendingForSubject(ctx, evt.OrgID, evt.SubjectID, ReasonSuperseded, p.now())
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("automation: supersede pending: %w", err))
			log.Error("automation: supersede pending failed", "subject_id", evt.SubjectID, "error", err)
		} else {
			report.Superseded = n
		}
	}

	rules, err := p.matcher.Match(ctx, evt.OrgID, evt.Trigger, evt.TargetKind)
	if err != nil {
		report.Errors = append(report.Errors, err)
		p.metrics.ObserveScheduled(string(evt.Trigger), "error")
		log.Error("automation: rule matching failed", "trigger", string(evt.Trigger), "error", err)
		return report
	}
	report.Matched = len(rules)

	for _, rule := range rules {
		p.scheduleOne(ctx, evt, rule, &report, log)
	}
	return report
}

func (p *EventProcessor) scheduleOne(ctx context.Context, evt Event, rule Rule, report *Report, log *logging.Logger) {
	trigger := string(evt.Trigger)
	ref, err := evt.ReferenceFor(rule.ReferenceSource)
	if err != nil {
		report.Skipped = append(report.Skipped, Skip{RuleID: rule.ID, Reason: err.Error()})
		p.metrics.ObserveScheduled(trigger, "skipped")
		log.Warn("automation: rule skipped", "rule_id", rule.ID, "target_id", evt.TargetID, "error", err)
		return
	}

	res, err := p.scheduler.Schedule(ctx, ScheduleInput{
		Rule:      rule,
		OrgID:     evt.OrgID,
		TargetID:  evt.TargetID,
		SubjectID: evt.SubjectID,
		Reference: ref,
		Variables: evt.Variables,
	})
	switch {
	case errors.Is(err, ErrTargetNotFound):
		report.Skipped = append(report.Skipped, Skip{RuleID: rule.ID, Reason: ErrTargetNotFound.Error()})
		p.metrics.ObserveScheduled(trigger, "skipped")
		log.Warn("automation: target not found, rule skipped", "rule_id", rule.ID, "target_id", evt.TargetID)
	case err != nil:
		report.Errors = append(report.Errors, err)
		p.metrics.ObserveScheduled(trigger, "error")
		log.Error("automation: scheduling failed", "rule_id", rule.ID, "target_id", evt.TargetID, "error", err)
	case res.Duplicate:
		report.Duplicates++
		p.metrics.ObserveScheduled(trigger, "duplicate")
	default:
		report.Scheduled = append(report.Scheduled, res.Execution.ID)
		p.metrics.ObserveScheduled(trigger, "scheduled")
	}
}
