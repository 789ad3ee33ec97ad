package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(store *MemoryStore, resolver *fakeResolver, now time.Time) *EventProcessor {
	scheduler := newTestScheduler(store, resolver, now)
	return NewEventProcessor(NewRuleMatcher(store), scheduler, store, nil, nil).WithClock(fixedClock(now))
}

func TestRuleMatcher_ExactTriggerAndKind(t *testing.T) {
	store := NewMemoryStore()
	want := mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 0, "a")
	mustRule(store, testOrg, TriggerLeadCreated, TargetPatient, 0, "b")
	mustRule(store, testOrg, TriggerLeadStatusChanged, TargetLead, 0, "c")
	mustRule(store, "org-2", TriggerLeadCreated, TargetLead, 0, "d")
	inactive := mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 0, "e")
	_, err := store.DeactivateRule(context.Background(), testOrg, inactive.ID, time.Now())
	require.NoError(t, err)

	rules, err := NewRuleMatcher(store).Match(context.Background(), testOrg, TriggerLeadCreated, TargetLead)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, want.ID, rules[0].ID)
}

func TestEventProcessor_EachRuleUsesItsOwnReference(t *testing.T) {
	store := NewMemoryStore()
	resolver := newFakeResolver()
	seedPatient(resolver)
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	start := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	confirm := mustRule(store, testOrg, TriggerAppointmentScheduled, TargetPatient, 0, "Confirmado")
	reminder := Rule{
		OrgID: testOrg, Name: "Véspera", Trigger: TriggerAppointmentScheduled, TargetKind: TargetPatient,
		DelayDays: -1, ReferenceSource: ReferenceAppointmentStart, MessageTemplate: "Amanhã", Active: true,
	}
	require.NoError(t, store.CreateRule(context.Background(), &reminder))

	report := newTestProcessor(store, resolver, now).Handle(context.Background(), Event{
		OrgID: testOrg, Trigger: TriggerAppointmentScheduled, TargetKind: TargetPatient,
		TargetID: "patient-1", SubjectID: "appt-1", AppointmentStart: &start,
	})
	require.True(t, report.OK(), report.ErrorMessages())
	assert.Equal(t, 2, report.Matched)
	require.Len(t, report.Scheduled, 2)

	byRule := map[string]time.Time{}
	execs, err := store.ListExecutions(context.Background(), testOrg, ExecutionFilter{})
	require.NoError(t, err)
	for _, e := range execs {
		byRule[e.RuleID.String()] = e.ScheduledFor
	}
	assert.Equal(t, now, byRule[confirm.ID.String()])
	assert.Equal(t, time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC), byRule[reminder.ID.String()])
}

func TestEventProcessor_SkipsMissingTargetWithoutFailing(t *testing.T) {
	store := NewMemoryStore()
	resolver := newFakeResolver()
	mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 0, "x")

	report := newTestProcessor(store, resolver, time.Now()).Handle(context.Background(), Event{
		OrgID: testOrg, Trigger: TriggerLeadCreated, TargetKind: TargetLead, TargetID: "deleted-lead",
	})
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.Matched)
	assert.Empty(t, report.Scheduled)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, ErrTargetNotFound.Error(), report.Skipped[0].Reason)
}

func TestEventProcessor_SkipsRuleWhoseReferenceIsMissing(t *testing.T) {
	store := NewMemoryStore()
	resolver := newFakeResolver()
	seedPatient(resolver)
	mustRule(store, testOrg, TriggerAppointmentReminder, TargetPatient, -1, "x")

	report := newTestProcessor(store, resolver, time.Now()).Handle(context.Background(), Event{
		OrgID: testOrg, Trigger: TriggerAppointmentReminder, TargetKind: TargetPatient, TargetID: "patient-1",
	})
	assert.True(t, report.OK())
	require.Len(t, report.Skipped, 1)
	assert.Contains(t, report.Skipped[0].Reason, "missing reference")
}

func TestEventProcessor_ReportsSchedulingErrorsWithoutPanicking(t *testing.T) {
	mem := NewMemoryStore()
	resolver := newFakeResolver()
	seedPatient(resolver)
	mustRule(mem, testOrg, TriggerPatientCreated, TargetPatient, 0, "x")
	flaky := &flakyExecutions{MemoryStore: mem, failures: 100}
	scheduler := newTestScheduler(flaky, resolver, time.Now())
	p := NewEventProcessor(NewRuleMatcher(mem), scheduler, mem, nil, nil)

	report := p.Handle(context.Background(), Event{
		OrgID: testOrg, Trigger: TriggerPatientCreated, TargetKind: TargetPatient, TargetID: "patient-1",
	})
	assert.False(t, report.OK())
	require.Len(t, report.Errors, 1)
	var schedErr *SchedulingError
	assert.ErrorAs(t, report.Errors[0], &schedErr)
}

func TestEventProcessor_InvalidEventIsReported(t *testing.T) {
	store := NewMemoryStore()
	report := newTestProcessor(store, newFakeResolver(), time.Now()).Handle(context.Background(), Event{OrgID: testOrg})
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Errors[0], ErrInvalidEvent)
}

func TestEventProcessor_SupersedesPendingForSubject(t *testing.T) {
	store := NewMemoryStore()
	resolver := newFakeResolver()
	seedPatient(resolver)
	now := time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)
	reminder := mustRule(store, testOrg, TriggerAppointmentReminder, TargetPatient, -1, "Amanhã")
	mustRule(store, testOrg, TriggerAppointmentCancelled, TargetPatient, 0, "Cancelado")
	p := newTestProcessor(store, resolver, now)

	start := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	first := p.Handle(context.Background(), Event{
		OrgID: testOrg, Trigger: TriggerAppointmentReminder, TargetKind: TargetPatient,
		TargetID: "patient-1", SubjectID: "appt-1", AppointmentStart: &start,
	})
	require.Len(t, first.Scheduled, 1)

	cancelled := p.Handle(context.Background(), Event{
		OrgID: testOrg, Trigger: TriggerAppointmentCancelled, TargetKind: TargetPatient,
		TargetID: "patient-1", SubjectID: "appt-1", SupersedesPending: true,
	})
	assert.Equal(t, int64(1), cancelled.Superseded)
	require.Len(t, cancelled.Scheduled, 1)

	old, ok := store.Execution(first.Scheduled[0])
	require.True(t, ok)
	assert.Equal(t, StatusFailed, old.Status)
	assert.Equal(t, ReasonSuperseded, old.LastError)
	assert.Equal(t, reminder.ID, old.RuleID)

	fresh, ok := store.Execution(cancelled.Scheduled[0])
	require.True(t, ok)
	assert.Equal(t, StatusPending, fresh.Status)
}
