package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleService_CreateDefaultsReferenceSource(t *testing.T) {
	svc := NewRuleService(NewMemoryStore(), nil)
	rule, err := svc.CreateRule(context.Background(), testOrg, RuleInput{
		Name: "Lembrete véspera", Trigger: "appointment_reminder", TargetKind: "patient",
		DelayDays: -1, MessageTemplate: "Oi {nome}",
	})
	require.NoError(t, err)
	assert.True(t, rule.Active)
	assert.Equal(t, TriggerAppointmentReminder, rule.Trigger)
	assert.Equal(t, ReferenceAppointmentStart, rule.ReferenceSource)

	_, err = svc.CreateRule(context.Background(), testOrg, RuleInput{Name: "bad", Trigger: "NOPE", TargetKind: TargetLead, MessageTemplate: "x"})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRuleService_UpdateKeepsScheduledMessages(t *testing.T) {
	store := NewMemoryStore()
	svc := NewRuleService(store, nil)
	rule := mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 1, "Versão antiga")
	exec := seedExecution(t, store, rule, "lead-1", time.Now())

	updated, err := svc.UpdateRule(context.Background(), testOrg, rule.ID, RuleInput{
		Name: "Renomeada", Trigger: TriggerLeadCreated, TargetKind: TargetLead, DelayDays: 2, MessageTemplate: "Versão nova",
	})
	require.NoError(t, err)
	assert.Equal(t, "Versão nova", updated.MessageTemplate)

	got, _ := store.Execution(exec.ID)
	assert.Equal(t, exec.Message, got.Message)

	_, err = svc.UpdateRule(context.Background(), "org-2", rule.ID, RuleInput{Name: "x", Trigger: TriggerLeadCreated, TargetKind: TargetLead, MessageTemplate: "x"})
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleService_DeactivateFailsOnlyPending(t *testing.T) {
	store := NewMemoryStore()
	resolver := newFakeResolver()
	seedPatient(resolver)
	svc := NewRuleService(store, nil)
	rule := mustRule(store, testOrg, TriggerPatientCreated, TargetPatient, 0, "x")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	delivered := seedExecution(t, store, rule, "patient-1", now.Add(-time.Hour))
	_, err := NewDispatcher(store, resolver, &fakeSender{}, nil).WithClock(fixedClock(now)).RunOnce(context.Background())
	require.NoError(t, err)

	p1 := seedExecution(t, store, rule, "patient-1", now.Add(24*time.Hour))
	p2 := seedExecution(t, store, rule, "patient-1", now.Add(48*time.Hour))

	res, err := svc.DeactivateRule(context.Background(), testOrg, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.FailedExecutions)
	assert.False(t, res.Rule.Active)
	assert.NotNil(t, res.Rule.DeactivatedAt)

	for _, id := range []uuid.UUID{p1.ID, p2.ID} {
		got, _ := store.Execution(id)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, ReasonRuleDeactivated, got.LastError)
	}
	got, _ := store.Execution(delivered.ID)
	assert.Equal(t, StatusSent, got.Status)

	stats, err := svc.Stats(context.Background(), testOrg)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, RuleStats{RuleID: rule.ID, RuleName: rule.Name, Active: false, Pending: 0, Sent: 1, Failed: 2}, stats[0])
}

func TestRuleService_DeleteWithoutHistoryRemovesRule(t *testing.T) {
	store := NewMemoryStore()
	svc := NewRuleService(store, nil)
	rule := mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 0, "x")

	res, err := svc.DeleteRule(context.Background(), testOrg, rule.ID)
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	_, err = svc.GetRule(context.Background(), testOrg, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleService_DeleteWithHistoryDeactivates(t *testing.T) {
	store := NewMemoryStore()
	svc := NewRuleService(store, nil)
	rule := mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 0, "x")
	seedExecution(t, store, rule, "lead-1", time.Now().Add(time.Hour))

	res, err := svc.DeleteRule(context.Background(), testOrg, rule.ID)
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.True(t, res.Deactivated)
	assert.Equal(t, int64(1), res.FailedExecutions)

	kept, err := svc.GetRule(context.Background(), testOrg, rule.ID)
	require.NoError(t, err)
	assert.False(t, kept.Active)
}

func TestRuleService_TenantIsolation(t *testing.T) {
	store := NewMemoryStore()
	svc := NewRuleService(store, nil)
	rule := mustRule(store, testOrg, TriggerLeadCreated, TargetLead, 0, "x")
	seedExecution(t, store, rule, "lead-1", time.Now())

	_, err := svc.DeactivateRule(context.Background(), "org-2", rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)

	rules, err := svc.ListRules(context.Background(), "org-2")
	require.NoError(t, err)
	assert.Empty(t, rules)

	_, err = svc.Executions(context.Background(), "org-2", ExecutionFilter{RuleID: &rule.ID})
	assert.ErrorIs(t, err, ErrRuleNotFound)

	stats, err := svc.Stats(context.Background(), "org-2")
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestEndToEnd_AppointmentReminder(t *testing.T) {
	start := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		sendErr   error
		want      ExecutionStatus
		wantError string
	}{
		{name: "sender succeeds", want: StatusSent},
		{name: "sender fails", sendErr: assertErr("provider unavailable"), want: StatusFailed, wantError: "provider unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore()
			resolver := newFakeResolver()
			seedPatient(resolver)
			clock := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
			now := func() time.Time { return clock }

			svc := NewRuleService(store, nil).WithClock(now)
			_, err := svc.CreateRule(context.Background(), testOrg, RuleInput{
				Name: "Véspera", Trigger: TriggerAppointmentReminder, TargetKind: TargetPatient,
				DelayDays: -1, MessageTemplate: "{primeiro_nome}, sua consulta é amanhã às 15h.",
			})
			require.NoError(t, err)

			scheduler := NewScheduler(store, resolver, nil).WithClock(now)
			processor := NewEventProcessor(NewRuleMatcher(store), scheduler, store, nil, nil).WithClock(now)
			report := processor.Handle(context.Background(), Event{
				OrgID: testOrg, Trigger: TriggerAppointmentReminder, TargetKind: TargetPatient,
				TargetID: "patient-1", SubjectID: "appt-9", AppointmentStart: &start,
			})
			require.True(t, report.OK())
			require.Len(t, report.Scheduled, 1)

			pending, _ := store.Execution(report.Scheduled[0])
			assert.Equal(t, StatusPending, pending.Status)
			assert.Equal(t, time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC), pending.ScheduledFor)
			assert.Equal(t, "Ana, sua consulta é amanhã às 15h.", pending.Message)

			sender := &fakeSender{err: tc.sendErr}
			dispatcher := NewDispatcher(store, resolver, sender, nil).WithClock(func() time.Time { return clock })

			res, err := dispatcher.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Zero(t, res.Claimed, "not due yet")

			clock = time.Date(2024, 5, 31, 15, 0, 1, 0, time.UTC)
			res, err = dispatcher.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Claimed)

			done, _ := store.Execution(report.Scheduled[0])
			assert.Equal(t, tc.want, done.Status)
			assert.Equal(t, tc.wantError, done.LastError)
			assert.Equal(t, pending.Message, done.Message)
		})
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
