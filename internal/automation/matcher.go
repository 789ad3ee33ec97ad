package automation

import (
	"context"
	"fmt"
)

// RuleMatcher finds the active rules an event fires.
type RuleMatcher struct {
	rules RuleStore
}

// NewRuleMatcher creates a matcher backed by the rule store.
func NewRuleMatcher(rules RuleStore) *RuleMatcher {
	return &RuleMatcher{rules: rules}
}

// Match returns every active rule of the tenant with exactly this trigger and target kind.
func (m *RuleMatcher) Match(ctx context.Context, orgID string, trigger Trigger, kind TargetKind) ([]Rule, error) {
	rules, err := m.rules.ListActiveRules(ctx, orgID, trigger, kind)
	if err != nil {
		return nil, fmt.Errorf("automation: match rules: %w", err)
	}
	out := rules[:0]
	for _, r := range rules {
		if r.Active && r.OrgID == orgID && r.Trigger == trigger && r.TargetKind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
