package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeResolver struct {
	mu       sync.Mutex
	profiles map[string]TargetProfile
	orgNames map[string]string
	calls    int
	err      error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{profiles: map[string]TargetProfile{}, orgNames: map[string]string{}}
}

func (f *fakeResolver) add(orgID string, p TargetProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[orgID+"|"+string(p.Kind)+"|"+p.ID] = p
}

func (f *fakeResolver) remove(orgID string, kind TargetKind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.profiles, orgID+"|"+string(kind)+"|"+id)
}

func (f *fakeResolver) ResolveTarget(_ context.Context, orgID string, kind TargetKind, id string) (*TargetProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[orgID+"|"+string(kind)+"|"+id]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return &p, nil
}

func (f *fakeResolver) OrganizationName(_ context.Context, orgID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.orgNames[orgID]
	if !ok {
		return "", errors.New("organization not found")
	}
	return name, nil
}

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []OutboundMessage
	hook func(ctx context.Context)
}

func (f *fakeSender) Send(ctx context.Context, msg OutboundMessage) error {
	if f.hook != nil {
		f.hook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeAuditor struct {
	mu       sync.Mutex
	attempts []DeliveryAttempt
}

func (f *fakeAuditor) RecordAttempt(_ context.Context, a DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, a)
	return nil
}

// flakyExecutions fails the first n CreateExecution calls.
type flakyExecutions struct {
	*MemoryStore
	failures int
	calls    int
}

func (f *flakyExecutions) CreateExecution(ctx context.Context, e *Execution) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.CreateExecution(ctx, e)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustRule(store *MemoryStore, orgID string, trigger Trigger, kind TargetKind, delay int, tmpl string) Rule {
	r := Rule{
		ID:              uuid.New(),
		OrgID:           orgID,
		Name:            string(trigger),
		Trigger:         trigger,
		TargetKind:      kind,
		DelayDays:       delay,
		ReferenceSource: DefaultReferenceSource(trigger),
		MessageTemplate: tmpl,
		Active:          true,
	}
	if err := store.CreateRule(context.Background(), &r); err != nil {
		panic(err)
	}
	return r
}
