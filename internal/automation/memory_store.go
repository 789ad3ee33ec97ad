package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for development and tests.
// All transitions happen under one mutex, so claims are atomic.
type MemoryStore struct {
	mu         sync.Mutex
	rules      map[uuid.UUID]Rule
	executions map[uuid.UUID]Execution
	dedupe     map[string]uuid.UUID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:      make(map[uuid.UUID]Rule),
		executions: make(map[uuid.UUID]Execution),
		dedupe:     make(map[string]uuid.UUID),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateRule(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	m.rules[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRule(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[r.ID]
	if !ok || existing.OrgID != r.OrgID {
		return ErrRuleNotFound
	}
	existing.Name = r.Name
	existing.Trigger = r.Trigger
	existing.TargetKind = r.TargetKind
	existing.DelayDays = r.DelayDays
	existing.ReferenceSource = r.ReferenceSource
	existing.MessageTemplate = r.MessageTemplate
	existing.UpdatedAt = time.Now().UTC()
	m.rules[r.ID] = existing
	*r = existing
	return nil
}

func (m *MemoryStore) GetRule(_ context.Context, orgID string, id uuid.UUID) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.OrgID != orgID {
		return nil, ErrRuleNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRules(_ context.Context, orgID string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Rule
	for _, r := range m.rules {
		if r.OrgID == orgID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListActiveRules(_ context.Context, orgID string, trigger Trigger, kind TargetKind) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Rule
	for _, r := range m.rules {
		if r.OrgID == orgID && r.Active && r.Trigger == trigger && r.TargetKind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeactivateRule(_ context.Context, orgID string, id uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.OrgID != orgID {
		return 0, ErrRuleNotFound
	}
	r.Active = false
	if r.DeactivatedAt == nil {
		r.DeactivatedAt = &at
	}
	r.UpdatedAt = at
	m.rules[id] = r

	var failed int64
	for execID, e := range m.executions {
		if e.OrgID == orgID && e.RuleID == id && e.Status == StatusPending {
			m.executions[execID] = failExecution(e, ReasonRuleDeactivated, at)
			failed++
		}
	}
	return failed, nil
}

func (m *MemoryStore) DeleteRule(_ context.Context, orgID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok || r.OrgID != orgID {
		return ErrRuleNotFound
	}
	for _, e := range m.executions {
		if e.RuleID == id {
			return ErrRuleHasExecutions
		}
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryStore) CreateExecution(_ context.Context, e *Execution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.DedupeKey == "" {
		e.DedupeKey = dedupeKey(e.RuleID, e.TargetID, e.SubjectID, e.ScheduledFor)
	}
	key := e.OrgID + "|" + e.DedupeKey
	if id, dup := m.dedupe[key]; dup && m.executions[id].Status != StatusFailed {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = StatusPending
	}
	m.executions[e.ID] = *e
	m.dedupe[key] = e.ID
	return true, nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, asOf time.Time, limit int, claim Claim) ([]Execution, error) {
	if limit < 1 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Execution
	for _, e := range m.executions {
		if e.Status == StatusPending && !e.ScheduledFor.After(asOf) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		claimedAt := claim.At
		due[i].Status = StatusProcessing
		due[i].ClaimedBy = claim.WorkerID
		due[i].ClaimToken = claim.Token
		due[i].ClaimedAt = &claimedAt
		due[i].UpdatedAt = claim.At
		m.executions[due[i].ID] = due[i]
	}
	return due, nil
}

func (m *MemoryStore) ReleaseStale(_ context.Context, cutoff, at time.Time) (ReclaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res ReclaimResult
	for id, e := range m.executions {
		if e.Status != StatusProcessing || e.ClaimedAt == nil || !e.ClaimedAt.Before(cutoff) {
			continue
		}
		if r, ok := m.rules[e.RuleID]; ok && !r.Active {
			m.executions[id] = failExecution(e, ReasonRuleDeactivated, at)
			res.Failed++
			continue
		}
		e.Status = StatusPending
		e.ClaimedBy = ""
		e.ClaimToken = uuid.Nil
		e.ClaimedAt = nil
		e.UpdatedAt = at
		m.executions[id] = e
		res.Requeued++
	}
	return res, nil
}

func (m *MemoryStore) ReleaseClaim(_ context.Context, id uuid.UUID, token uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.Status != StatusProcessing || e.ClaimToken != token {
		return ErrClaimLost
	}
	e.Status = StatusPending
	e.ClaimedBy = ""
	e.ClaimToken = uuid.Nil
	e.ClaimedAt = nil
	e.UpdatedAt = at
	m.executions[id] = e
	return nil
}

func (m *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, token uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.Status != StatusProcessing || e.ClaimToken != token {
		return ErrClaimLost
	}
	e.Status = StatusSent
	e.SentAt = &at
	e.LastError = ""
	e.ClaimToken = uuid.Nil
	e.UpdatedAt = at
	m.executions[id] = e
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, token uuid.UUID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok || e.Status != StatusProcessing || e.ClaimToken != token {
		return ErrClaimLost
	}
	m.executions[id] = failExecution(e, reason, at)
	return nil
}

func (m *MemoryStore) FailPendingForSubject(_ context.Context, orgID, subjectID, reason string, at time.Time) (int64, error) {
	if subjectID == "" {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.executions {
		if e.OrgID == orgID && e.SubjectID == subjectID && e.Status == StatusPending {
			m.executions[id] = failExecution(e, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, orgID string, f ExecutionFilter) ([]Execution, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Execution
	for _, e := range m.executions {
		if e.OrgID != orgID {
			continue
		}
		if f.RuleID != nil && e.RuleID != *f.RuleID {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.After(out[j].ScheduledFor) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) StatsByRule(_ context.Context, orgID string) ([]RuleStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRule := make(map[uuid.UUID]*RuleStats)
	var out []*RuleStats
	for _, r := range m.rules {
		if r.OrgID != orgID {
			continue
		}
		st := &RuleStats{RuleID: r.ID, RuleName: r.Name, Active: r.Active}
		byRule[r.ID] = st
		out = append(out, st)
	}
	for _, e := range m.executions {
		st, ok := byRule[e.RuleID]
		if !ok || e.OrgID != orgID {
			continue
		}
		switch e.Status {
		case StatusPending, StatusProcessing:
			st.Pending++
		case StatusSent:
			st.Sent++
		case StatusFailed:
			st.Failed++
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleName < out[j].RuleName })
	result := make([]RuleStats, 0, len(out))
	for _, st := range out {
		result = append(result, *st)
	}
	return result, nil
}

// Execution returns a copy of one execution, for tests and debugging.
func (m *MemoryStore) Execution(id uuid.UUID) (Execution, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	return e, ok
}

func failExecution(e Execution, reason string, at time.Time) Execution {
	e.Status = StatusFailed
	e.LastError = reason
	e.FailedAt = &at
	e.ClaimToken = uuid.Nil
	e.UpdatedAt = at
	return e
}
