package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// RuleInput carries operator-editable rule fields.
type RuleInput struct {
	Name            string          `json:"name"`
	Trigger         Trigger         `json:"trigger"`
	TargetKind      TargetKind      `json:"target_kind"`
	DelayDays       int             `json:"delay_days"`
	ReferenceSource ReferenceSource `json:"reference_source,omitempty"`
	MessageTemplate string          `json:"message_template"`
}

// DeactivationResult reports the side effect of deactivating a rule.
type DeactivationResult struct {
	Rule             *Rule `json:"rule"`
	FailedExecutions int64 `json:"failed_executions"`
}

// DeleteResult reports whether a rule was removed or only deactivated.
type DeleteResult struct {
	Deleted          bool  `json:"deleted"`
	Deactivated      bool  `json:"deactivated"`
	FailedExecutions int64 `json:"failed_executions"`
}

// RuleService is the operator-facing administration and query surface.
type RuleService struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
}

// NewRuleService creates a rule administration service.
func NewRuleService(store Store, logger *logging.Logger) *RuleService {
	if store == nil {
		panic("automation: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RuleService{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source.
func (s *RuleService) WithClock(now func() time.Time) *RuleService {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateRule validates and stores a new active rule.
func (s *RuleService) CreateRule(ctx context.Context, orgID string, in RuleInput) (*Rule, error) {
	rule := &Rule{OrgID: orgID, Active: true, CreatedAt: s.now()}
	applyInput(rule, in)
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.Info("automation: rule created", "org_id", orgID, "rule_id", rule.ID, "trigger", string(rule.Trigger))
	return rule, nil
}

// UpdateRule edits a rule. Already scheduled executions keep their message.
func (s *RuleService) UpdateRule(ctx context.Context, orgID string, id uuid.UUID, in RuleInput) (*Rule, error) {
	rule, err := s.store.GetRule(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	applyInput(rule, in)
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.logger.Info("automation: rule updated", "org_id", orgID, "rule_id", id)
	return rule, nil
}

// GetRule loads one rule.
func (s *RuleService) GetRule(ctx context.Context, orgID string, id uuid.UUID) (*Rule, error) {
	return s.store.GetRule(ctx, orgID, id)
}

// ListRules returns the tenant's rules.
func (s *RuleService) ListRules(ctx context.Context, orgID string) ([]Rule, error) {
	return s.store.ListRules(ctx, orgID)
}

// DeactivateRule turns a rule off and fails its still-pending executions.
// Sent and failed executions are left untouched.
func (s *RuleService) DeactivateRule(ctx context.Context, orgID string, id uuid.UUID) (*DeactivationResult, error) {
	failed, err := s.store.DeactivateRule(ctx, orgID, id, s.now())
	if err != nil {
		return nil, err
	}
	rule, err := s.store.GetRule(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("automation: rule deactivated", "org_id", orgID, "rule_id", id, "failed_executions", failed)
	return &DeactivationResult{Rule: rule, FailedExecutions: failed}, nil
}

// DeleteRule removes a rule without history and deactivates one with history.
func (s *RuleService) DeleteRule(ctx context.Context, orgID string, id uuid.UUID) (*DeleteResult, error) {
	err := s.store.DeleteRule(ctx, orgID, id)
	if err == nil {
		s.logger.Info("automation: rule deleted", "org_id", orgID, "rule_id", id)
		return &DeleteResult{Deleted: true}, nil
	}
	if !errors.Is(err, ErrRuleHasExecutions) {
		return nil, err
	}
	res, err := s.DeactivateRule(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Deactivated: true, FailedExecutions: res.FailedExecutions}, nil
}

// Stats returns pending, sent and failed counts per rule.
func (s *RuleService) Stats(ctx context.Context, orgID string) ([]RuleStats, error) {
	stats, err := s.store.StatsByRule(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("automation: stats: %w", err)
	}
	return stats, nil
}

// Executions lists a tenant's executions for operator review.
func (s *RuleService) Executions(ctx context.Context, orgID string, f ExecutionFilter) ([]Execution, error) {
	if f.RuleID != nil {
		if _, err := s.store.GetRule(ctx, orgID, *f.RuleID); err != nil {
			return nil, err
		}
	}
	return s.store.ListExecutions(ctx, orgID, f)
}

func applyInput(rule *Rule, in RuleInput) {
	rule.Name = strings.TrimSpace(in.Name)
	rule.Trigger = Trigger(strings.ToUpper(strings.TrimSpace(string(in.Trigger))))
	rule.TargetKind = TargetKind(strings.ToUpper(strings.TrimSpace(string(in.TargetKind))))
	rule.DelayDays = in.DelayDays
	rule.MessageTemplate = in.MessageTemplate
	rule.ReferenceSource = in.ReferenceSource
	if rule.ReferenceSource == "" {
		rule.ReferenceSource = DefaultReferenceSource(rule.Trigger)
	}
}
