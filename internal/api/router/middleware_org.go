package router

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/wolfman30/clinic-automation/internal/tenancy"
)

const orgHeader = "X-Org-Id"

var orgIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// requireOrgID scopes every API request to the tenant named in X-Org-Id.
func requireOrgID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(orgHeader))
		switch {
		case orgID == "":
			http.Error(w, "missing X-Org-Id", http.StatusBadRequest)
			return
		case !orgIDPattern.MatchString(orgID):
			http.Error(w, "invalid X-Org-Id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithOrgID(r.Context(), orgID)))
	})
}
