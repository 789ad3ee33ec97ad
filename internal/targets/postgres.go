// Package targets resolves leads and patients into contactable profiles.
package targets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-automation/internal/automation"
)

// DB is the subset of pgx used for lookups.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresResolver reads leads, patients and organizations owned by the CRUD layer.
type PostgresResolver struct {
	db DB
}

// NewPostgresResolver creates a resolver backed by Postgres.
func NewPostgresResolver(db DB) *PostgresResolver {
	if db == nil {
		panic("targets: db required")
	}
	return &PostgresResolver{db: db}
}

var _ automation.TargetResolver = (*PostgresResolver)(nil)

// ResolveTarget returns automation.ErrTargetNotFound for missing or soft-deleted rows.
func (r *PostgresResolver) ResolveTarget(ctx context.Context, orgID string, kind automation.TargetKind, targetID string) (*automation.TargetProfile, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT name, phone, email, preferred_channel
		FROM ` + table + `
		WHERE org_id = $1 AND id::text = $2 AND deleted_at IS NULL
	`
	var name, phone, email, preferred string
	err = r.db.QueryRow(ctx, query, orgID, targetID).Scan(&name, &phone, &email, &preferred)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, automation.ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("targets: load %s: %w", table, err)
	}
	return &automation.TargetProfile{
		ID:          targetID,
		Kind:        kind,
		DisplayName: strings.TrimSpace(name),
		Contact:     PickContact(phone, email, automation.Channel(preferred)),
	}, nil
}

// OrganizationName returns the clinic's display name.
func (r *PostgresResolver) OrganizationName(ctx context.Context, orgID string) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT name FROM organizations WHERE id::text = $1`, orgID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("targets: organization %s not found", orgID)
	}
	if err != nil {
		return "", fmt.Errorf("targets: load organization: %w", err)
	}
	return strings.TrimSpace(name), nil
}

// PickContact chooses the address for the preferred channel, falling back to
// whichever address exists. Both empty yields an empty contact.
func PickContact(phone, email string, preferred automation.Channel) automation.Contact {
	phone = strings.TrimSpace(phone)
	email = strings.TrimSpace(email)
	switch {
	case preferred == automation.ChannelEmail && email != "":
		return automation.Contact{Address: email, Channel: automation.ChannelEmail}
	case preferred == automation.ChannelWhatsApp && phone != "":
		return automation.Contact{Address: phone, Channel: automation.ChannelWhatsApp}
	case phone != "":
		return automation.Contact{Address: phone, Channel: automation.ChannelSMS}
	case email != "":
		return automation.Contact{Address: email, Channel: automation.ChannelEmail}
	}
	return automation.Contact{}
}

func tableFor(kind automation.TargetKind) (string, error) {
	switch kind {
	case automation.TargetLead:
		return "leads", nil
	case automation.TargetPatient:
		return "patients", nil
	}
	return "", fmt.Errorf("targets: unknown target kind %q: %w", kind, automation.ErrTargetNotFound)
}
