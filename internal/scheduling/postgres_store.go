package scheduling

import (
	"context"
	"errors"
	"fmt"
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

// PostgresStore stores appointments in Postgres.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a Postgres-backed appointment store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const appointmentColumns = `id, org_id, professional_id, patient_id, starts_at, ends_at, status, created_at, updated_at`

// Create books a new appointment if the slot is free.
func (s *PostgresStore) Create(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now().UTC()
	appt.CreatedAt, appt.UpdatedAt = now, now
	appt.Status = StatusScheduled
	return s.book(ctx, appt, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, org_id, professional_id, patient_id, starts_at, ends_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			appt.ID, appt.OrgID, appt.ProfessionalID, appt.PatientID, appt.StartsAt, appt.EndsAt,
			string(appt.Status), appt.CreatedAt, appt.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("scheduling: insert appointment: %w", err)
		}
		return nil
	})
}

// Reschedule moves a scheduled appointment if the new slot is free.
func (s *PostgresStore) Reschedule(ctx context.Context, appt *Appointment) error {
	appt.UpdatedAt = time.Now().UTC()
	return s.book(ctx, appt, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET professional_id = $3, starts_at = $4, ends_at = $5, updated_at = $6
			WHERE org_id = $1 AND id = $2 AND status = 'scheduled'
			RETURNING `+appointmentColumns,
			appt.OrgID, appt.ID, appt.ProfessionalID, appt.StartsAt, appt.EndsAt, appt.UpdatedAt,
		)
		updated, err := scanAppointment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		if err != nil {
			return fmt.Errorf("scheduling: update appointment: %w", err)
		}
		*appt = *updated
		return nil
	})
}

// book serialises writers on (tenant, professional) with a transaction-scoped
// advisory lock, then checks for overlap before running write.
func (s *PostgresStore) book(ctx context.Context, appt *Appointment, write func(pgx.Tx) error) error {
	candidate := appt.Interval()
	if err := candidate.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey(appt.OrgID, appt.ProfessionalID)); err != nil {
		return fmt.Errorf("scheduling: lock professional: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, professional_id, starts_at, ends_at, status
		FROM appointments
		WHERE org_id = $1 AND professional_id = $2 AND status <> 'cancelled'
		  AND starts_at < $4 AND ends_at > $3`,
		appt.OrgID, appt.ProfessionalID, appt.StartsAt, appt.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("scheduling: load overlapping: %w", err)
	}
	existing, err := scanIntervals(rows)
	if err != nil {
		return err
	}

	if err := Check(candidate, existing); err != nil {
		return err
	}
	if err := write(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scheduling: commit: %w", err)
	}
	return nil
}

// Get loads one appointment.
func (s *PostgresStore) Get(ctx context.Context, orgID string, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE org_id = $1 AND id = $2`, orgID, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get appointment: %w", err)
	}
	return appt, nil
}

// Transition closes a scheduled appointment.
func (s *PostgresStore) Transition(ctx context.Context, orgID string, id uuid.UUID, to Status, at time.Time) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = $4
		WHERE org_id = $1 AND id = $2 AND status = 'scheduled'
		RETURNING `+appointmentColumns, orgID, id, string(to), at)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: transition appointment: %w", err)
	}
	return appt, nil
}

// ListForProfessional returns non-cancelled appointments overlapping [from, to).
func (s *PostgresStore) ListForProfessional(ctx context.Context, orgID, professionalID string, from, to time.Time) ([]Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE org_id = $1 AND professional_id = $2 AND status <> 'cancelled'
		  AND starts_at < $4 AND ends_at > $3
		ORDER BY starts_at ASC`, orgID, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan appointment: %w", err)
		}
		out = append(out, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: appointment rows: %w", err)
	}
	return out, nil
}

func lockKey(orgID, professionalID string) string {
	return "appointments:" + orgID + ":" + professionalID
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	if err := row.Scan(&a.ID, &a.OrgID, &a.ProfessionalID, &a.PatientID, &a.StartsAt, &a.EndsAt, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}

func scanIntervals(rows pgx.Rows) ([]Interval, error) {
	defer rows.Close()
	var out []Interval
	for rows.Next() {
		var id uuid.UUID
		var iv Interval
		var status string
		if err := rows.Scan(&id, &iv.ResourceID, &iv.Start, &iv.End, &status); err != nil {
			return nil, fmt.Errorf("scheduling: scan interval: %w", err)
		}
		iv.ID = id.String()
		iv.Cancelled = Status(status) == StatusCancelled
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scheduling: interval rows: %w", err)
	}
	return out, nil
}
