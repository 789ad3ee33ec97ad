package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists rules and executions in Postgres.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a Postgres-backed automation store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const ruleColumns = `id, org_id, name, trigger, target_kind, delay_days, reference_source, message_template, active, created_at, updated_at, deactivated_at`

const executionColumns = `id, org_id, rule_id, target_id, target_kind, subject_id, scheduled_for, reference_source, reference_at, message, status, last_error, claimed_by, claimed_at, sent_at, failed_at, created_at, updated_at`

// CreateRule inserts a new rule.
func (s *PostgresStore) CreateRule(ctx context.Context, r *Rule) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = r.CreatedAt

	_, err := s.db.Exec(ctx, `
		INSERT INTO automation_rules (id, org_id, name, trigger, target_kind, delay_days, reference_source, message_template, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.OrgID, r.Name, string(r.Trigger), string(r.TargetKind), r.DelayDays,
		string(r.ReferenceSource), r.MessageTemplate, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("automation: create rule: %w", err)
	}
	return nil
}

// UpdateRule rewrites the editable fields of a rule. Activity is not touched.
func (s *PostgresStore) UpdateRule(ctx context.Context, r *Rule) error {
	r.UpdatedAt = time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_rules
		SET name = $3, trigger = $4, target_kind = $5, delay_days = $6, reference_source = $7, message_template = $8, updated_at = $9
		WHERE org_id = $1 AND id = $2`,
		r.OrgID, r.ID, r.Name, string(r.Trigger), string(r.TargetKind), r.DelayDays,
		string(r.ReferenceSource), r.MessageTemplate, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("automation: update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// GetRule loads one rule for a tenant.
func (s *PostgresStore) GetRule(ctx context.Context, orgID string, id uuid.UUID) (*Rule, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE org_id = $1 AND id = $2`, orgID, id)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("automation: get rule: %w", err)
	}
	return r, nil
}

// ListRules returns all rules of a tenant, newest first.
func (s *PostgresStore) ListRules(ctx context.Context, orgID string) ([]Rule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("automation: list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListActiveRules returns the tenant's active rules with an exact trigger and target kind match.
func (s *PostgresStore) ListActiveRules(ctx context.Context, orgID string, trigger Trigger, kind TargetKind) ([]Rule, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM automation_rules
		WHERE org_id = $1 AND trigger = $2 AND target_kind = $3 AND active = TRUE
		ORDER BY created_at ASC`, orgID, string(trigger), string(kind))
	if err != nil {
		return nil, fmt.Errorf("automation: list active rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// DeactivateRule turns the rule off and fails its pending executions atomically.
func (s *PostgresStore) DeactivateRule(ctx context.Context, orgID string, id uuid.UUID, at time.Time) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("automation: deactivate rule: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE automation_rules
		SET active = FALSE, deactivated_at = COALESCE(deactivated_at, $3), updated_at = $3
		WHERE org_id = $1 AND id = $2`, orgID, id, at)
	if err != nil {
		return 0, fmt.Errorf("automation: deactivate rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrRuleNotFound
	}

	tag, err = tx.Exec(ctx, `
		UPDATE automation_executions
		SET status = 'failed', last_error = $4, failed_at = $3, updated_at = $3
		WHERE org_id = $1 AND rule_id = $2 AND status = 'pending'`, orgID, id, at, ReasonRuleDeactivated)
	if err != nil {
		return 0, fmt.Errorf("automation: fail pending executions: %w", err)
	}
	failed := tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("automation: deactivate rule: commit: %w", err)
	}
	return failed, nil
}

// DeleteRule hard-deletes a rule that never produced executions.
func (s *PostgresStore) DeleteRule(ctx context.Context, orgID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM automation_rules r
		WHERE r.org_id = $1 AND r.id = $2
		  AND NOT EXISTS (SELECT 1 FROM automation_executions e WHERE e.rule_id = r.id)`, orgID, id)
	if err != nil {
		return fmt.Errorf("automation: delete rule: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM automation_rules WHERE org_id = $1 AND id = $2)`, orgID, id).Scan(&exists); err != nil {
		return fmt.Errorf("automation: delete rule: %w", err)
	}
	if exists {
		return ErrRuleHasExecutions
	}
	return ErrRuleNotFound
}

// CreateExecution inserts a pending execution, skipping duplicates of live or
// sent executions by dedupe key.
func (s *PostgresStore) CreateExecution(ctx context.Context, e *Execution) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.DedupeKey == "" {
		e.DedupeKey = dedupeKey(e.RuleID, e.TargetID, e.SubjectID, e.ScheduledFor)
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO automation_executions (id, org_id, rule_id, target_id, target_kind, subject_id, scheduled_for, reference_source, reference_at, message, status, dedupe_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (org_id, dedupe_key) WHERE status <> 'failed' DO NOTHING`,
		e.ID, e.OrgID, e.RuleID, e.TargetID, string(e.TargetKind), e.SubjectID, e.ScheduledFor,
		string(e.Reference.Source), e.Reference.At, e.Message, string(e.Status), e.DedupeKey,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("automation: create execution: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimDue moves due pending executions to processing in a single statement.
// Rows locked by a concurrent claimer are skipped.
func (s *PostgresStore) ClaimDue(ctx context.Context, asOf time.Time, limit int, claim Claim) ([]Execution, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		WITH due AS (
			SELECT id
			FROM automation_executions
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY scheduled_for ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE automation_executions x
		SET status = 'processing', claimed_by = $3, claim_token = $4, claimed_at = $5, updated_at = $5
		FROM due
		WHERE x.id = due.id
		RETURNING x.`+strings.ReplaceAll(executionColumns, ", ", ", x."),
		asOf, limit, claim.WorkerID, claim.Token, claim.At)
	if err != nil {
		return nil, fmt.Errorf("automation: claim due: %w", err)
	}
	defer rows.Close()

	execs, err := scanExecutions(rows)
	if err != nil {
		return nil, err
	}
	for i := range execs {
		execs[i].ClaimToken = claim.Token
	}
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].ScheduledFor.Before(execs[j].ScheduledFor)
	})
	return execs, nil
}

// ReleaseStale handles claims older than cutoff.
func (s *PostgresStore) ReleaseStale(ctx context.Context, cutoff, at time.Time) (ReclaimResult, error) {
	var res ReclaimResult
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_executions e
		SET status = 'failed', last_error = $3, failed_at = $2, updated_at = $2, claim_token = NULL
		FROM automation_rules r
		WHERE r.id = e.rule_id AND e.status = 'processing' AND e.claimed_at < $1 AND r.active = FALSE`,
		cutoff, at, ReasonRuleDeactivated)
	if err != nil {
		return res, fmt.Errorf("automation: release stale: %w", err)
	}
	res.Failed = tag.RowsAffected()

	tag, err = s.db.Exec(ctx, `
		UPDATE automation_executions
		SET status = 'pending', claimed_by = '', claim_token = NULL, claimed_at = NULL, updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1`, cutoff, at)
	if err != nil {
		return res, fmt.Errorf("automation: release stale: %w", err)
	}
	res.Requeued = tag.RowsAffected()
	return res, nil
}

// ReleaseClaim puts a claimed execution back to pending.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, id uuid.UUID, token uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_executions
		SET status = 'pending', claimed_by = '', claim_token = NULL, claimed_at = NULL, updated_at = $1
		WHERE id = $2 AND status = 'processing' AND claim_token = $3`, at, id, token)
	if err != nil {
		return fmt.Errorf("automation: release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// MarkSent records a successful delivery for the holder of the claim.
func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, token uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_executions
		SET status = 'sent', sent_at = $1, updated_at = $1, last_error = '', claim_token = NULL
		WHERE id = $2 AND status = 'processing' AND claim_token = $3`, at, id, token)
	if err != nil {
		return fmt.Errorf("automation: mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// MarkFailed records a terminal failure for the holder of the claim.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, token uuid.UUID, reason string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_executions
		SET status = 'failed', last_error = $1, failed_at = $2, updated_at = $2, claim_token = NULL
		WHERE id = $3 AND status = 'processing' AND claim_token = $4`, reason, at, id, token)
	if err != nil {
		return fmt.Errorf("automation: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// FailPendingForSubject cancels future delivery of follow-ups about one record.
func (s *PostgresStore) FailPendingForSubject(ctx context.Context, orgID, subjectID, reason string, at time.Time) (int64, error) {
	if subjectID == "" {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE automation_executions
		SET status = 'failed', last_error = $3, failed_at = $4, updated_at = $4
		WHERE org_id = $1 AND subject_id = $2 AND status = 'pending'`, orgID, subjectID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("automation: fail pending for subject: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListExecutions returns a tenant's executions, most recently scheduled first.
func (s *PostgresStore) ListExecutions(ctx context.Context, orgID string, f ExecutionFilter) ([]Execution, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + executionColumns + ` FROM automation_executions WHERE org_id = $1`
	args := []any{orgID}
	if f.RuleID != nil {
		args = append(args, *f.RuleID)
		query += fmt.Sprintf(" AND rule_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY scheduled_for DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("automation: list executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// StatsByRule aggregates execution counts for each of the tenant's rules.
func (s *PostgresStore) StatsByRule(ctx context.Context, orgID string) ([]RuleStats, error) {
	rows, err := s.db.Query(ctx, `
		SELECT
			r.id, r.name, r.active,
			COUNT(e.id) FILTER (WHERE e.status IN ('pending', 'processing')) AS pending,
			COUNT(e.id) FILTER (WHERE e.status = 'sent') AS sent,
			COUNT(e.id) FILTER (WHERE e.status = 'failed') AS failed
		FROM automation_rules r
		LEFT JOIN automation_executions e ON e.rule_id = r.id AND e.org_id = r.org_id
		WHERE r.org_id = $1
		GROUP BY r.id, r.name, r.active
		ORDER BY r.name ASC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("automation: stats: %w", err)
	}
	defer rows.Close()

	var out []RuleStats
	for rows.Next() {
		var st RuleStats
		if err := rows.Scan(&st.RuleID, &st.RuleName, &st.Active, &st.Pending, &st.Sent, &st.Failed); err != nil {
			return nil, fmt.Errorf("automation: scan stats: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation: stats rows: %w", err)
	}
	return out, nil
}

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var trigger, kind, source string
	if err := row.Scan(
		&r.ID, &r.OrgID, &r.Name, &trigger, &kind, &r.DelayDays, &source,
		&r.MessageTemplate, &r.Active, &r.CreatedAt, &r.UpdatedAt, &r.DeactivatedAt,
	); err != nil {
		return nil, err
	}
	r.Trigger = Trigger(trigger)
	r.TargetKind = TargetKind(kind)
	r.ReferenceSource = ReferenceSource(source)
	return &r, nil
}

func scanRules(rows pgx.Rows) ([]Rule, error) {
	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("automation: scan rule: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation: rule rows: %w", err)
	}
	return out, nil
}

func scanExecutions(rows pgx.Rows) ([]Execution, error) {
	var out []Execution
	for rows.Next() {
		var e Execution
		var kind, source, status string
		if err := rows.Scan(
			&e.ID, &e.OrgID, &e.RuleID, &e.TargetID, &kind, &e.SubjectID, &e.ScheduledFor,
			&source, &e.Reference.At, &e.Message, &status, &e.LastError, &e.ClaimedBy,
			&e.ClaimedAt, &e.SentAt, &e.FailedAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("automation: scan execution: %w", err)
		}
		e.TargetKind = TargetKind(kind)
		e.Reference.Source = ReferenceSource(source)
		e.Status = ExecutionStatus(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation: execution rows: %w", err)
	}
	return out, nil
}
