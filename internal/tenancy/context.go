package tenancy

import (
	"context"
	"errors"
	"strings"
)

type ctxKey string

const orgKey ctxKey = "clinic.org_id"

// ErrMissingOrgID is returned when a tenant-scoped call carries no org id.
var ErrMissingOrgID = errors.New("tenancy: missing org id")

// WithOrgID stores the org id in context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, strings.TrimSpace(orgID))
}

// OrgIDFromContext extracts the org id if present.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(orgKey)
	if val == nil {
		return "", false
	}
	orgID, ok := val.(string)
	return orgID, ok && orgID != ""
}

// RequireOrgID returns the org id or ErrMissingOrgID.
func RequireOrgID(ctx context.Context) (string, error) {
	orgID, ok := OrgIDFromContext(ctx)
	if !ok {
		return "", ErrMissingOrgID
	}
	return orgID, nil
}
