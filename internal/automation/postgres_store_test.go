package automation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

var executionColumnNames = []string{
	"id", "org_id", "rule_id", "target_id", "target_kind", "subject_id", "scheduled_for",
	"reference_source", "reference_at", "message", "status", "last_error", "claimed_by",
	"claimed_at", "sent_at", "failed_at", "created_at", "updated_at",
}

func TestPostgresStore_CreateExecutionDedupes(t *testing.T) {
	store, mock := newMockStore(t)
	ruleID := uuid.New()
	at := time.Date(2024, 5, 31, 15, 0, 0, 0, time.UTC)
	exec := &Execution{
		OrgID: testOrg, RuleID: ruleID, TargetID: "patient-1", TargetKind: TargetPatient,
		SubjectID: "appt-1", ScheduledFor: at, Message: "Oi",
		Reference: Reference{Source: ReferenceAppointmentStart, At: at.AddDate(0, 0, 1)},
	}
	key := dedupeKey(ruleID, "patient-1", "appt-1", at)

	mock.ExpectExec(`INSERT INTO automation_executions .* ON CONFLICT \(org_id, dedupe_key\) WHERE status <> 'failed' DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), testOrg, ruleID, "patient-1", "PATIENT", "appt-1", at,
			"appointment_start", at.AddDate(0, 0, 1), "Oi", "pending", key, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	created, err := store.CreateExecution(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, exec.ID)

	dup := *exec
	dup.ID = uuid.Nil
	mock.ExpectExec("INSERT INTO automation_executions").
		WithArgs(pgxmock.AnyArg(), testOrg, ruleID, "patient-1", "PATIENT", "appt-1", at,
			"appointment_start", at.AddDate(0, 0, 1), "Oi", "pending", key, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	created, err = store.CreateExecution(context.Background(), &dup)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimDueReturnsClaimedRows(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	claim := Claim{WorkerID: "worker-1", Token: uuid.New(), At: now}
	ruleID := uuid.New()
	first, second := uuid.New(), uuid.New()

	rows := pgxmock.NewRows(executionColumnNames).
		AddRow(second, testOrg, ruleID, "patient-1", "PATIENT", "", now.Add(-time.Minute),
			"event_time", now.Add(-time.Minute), "b", "processing", "", "worker-1",
			nil, nil, nil, now, now).
		AddRow(first, testOrg, ruleID, "patient-2", "PATIENT", "", now.Add(-time.Hour),
			"event_time", now.Add(-time.Hour), "a", "processing", "", "worker-1",
			nil, nil, nil, now, now)
	mock.ExpectQuery("WITH due AS").
		WithArgs(now, 2, "worker-1", claim.Token, now).
		WillReturnRows(rows)

	execs, err := store.ClaimDue(context.Background(), now, 2, claim)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, first, execs[0].ID)
	assert.Equal(t, second, execs[1].ID)
	for _, e := range execs {
		assert.Equal(t, claim.Token, e.ClaimToken)
		assert.Equal(t, StatusProcessing, e.Status)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSentRequiresClaim(t *testing.T) {
	store, mock := newMockStore(t)
	id, token := uuid.New(), uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE automation_executions").
		WithArgs(at, id, token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkSent(context.Background(), id, token, at))

	mock.ExpectExec("UPDATE automation_executions").
		WithArgs(at, id, token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.MarkSent(context.Background(), id, token, at), ErrClaimLost)

	mock.ExpectExec("UPDATE automation_executions").
		WithArgs("twilio send failed: status 500", at, id, token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.MarkFailed(context.Background(), id, token, "twilio send failed: status 500", at), ErrClaimLost)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseClaimRequiresClaim(t *testing.T) {
	store, mock := newMockStore(t)
	id, token := uuid.New(), uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE automation_executions\s+SET status = 'pending'`).
		WithArgs(at, id, token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.ReleaseClaim(context.Background(), id, token, at))

	mock.ExpectExec(`UPDATE automation_executions\s+SET status = 'pending'`).
		WithArgs(at, id, token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.ReleaseClaim(context.Background(), id, token, at), ErrClaimLost)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateRuleFailsPendingInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE automation_rules").WithArgs(testOrg, id, at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE automation_executions").WithArgs(testOrg, id, at, ReasonRuleDeactivated).WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	failed, err := store.DeactivateRule(context.Background(), testOrg, id, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateUnknownRule(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE automation_rules").WithArgs(testOrg, id, at).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := store.DeactivateRule(context.Background(), testOrg, id, at)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteRuleWithHistory(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM automation_rules").WithArgs(testOrg, id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testOrg, id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	assert.ErrorIs(t, store.DeleteRule(context.Background(), testOrg, id), ErrRuleHasExecutions)

	mock.ExpectExec("DELETE FROM automation_rules").WithArgs(testOrg, id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testOrg, id).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	assert.ErrorIs(t, store.DeleteRule(context.Background(), testOrg, id), ErrRuleNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveRules(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM automation_rules").
		WithArgs(testOrg, "APPOINTMENT_REMINDER", "PATIENT").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "org_id", "name", "trigger", "target_kind", "delay_days", "reference_source",
			"message_template", "active", "created_at", "updated_at", "deactivated_at",
		}).AddRow(id, testOrg, "Véspera", "APPOINTMENT_REMINDER", "PATIENT", -1, "appointment_start",
			"Oi {nome}", true, now, now, nil))

	rules, err := store.ListActiveRules(context.Background(), testOrg, TriggerAppointmentReminder, TargetPatient)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, ReferenceAppointmentStart, rules[0].ReferenceSource)
	assert.Equal(t, -1, rules[0].DelayDays)
	assert.Nil(t, rules[0].DeactivatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StatsByRule(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT").WithArgs(testOrg).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "active", "pending", "sent", "failed"}).
			AddRow(id, "Véspera", false, int64(0), int64(1), int64(2)))

	stats, err := store.StatsByRule(context.Background(), testOrg)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, RuleStats{RuleID: id, RuleName: "Véspera", Active: false, Pending: 0, Sent: 1, Failed: 2}, stats[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseStale(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2024, 6, 1, 11, 30, 0, 0, time.UTC)
	at := cutoff.Add(30 * time.Minute)

	mock.ExpectExec("UPDATE automation_executions e").WithArgs(cutoff, at, ReasonRuleDeactivated).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE automation_executions").WithArgs(cutoff, at).WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	res, err := store.ReleaseStale(context.Background(), cutoff, at)
	require.NoError(t, err)
	assert.Equal(t, ReclaimResult{Requeued: 3, Failed: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}
