package deliverylog

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/internal/tenancy"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// AttemptLister reads recorded attempts.
type AttemptLister interface {
	ListForExecution(ctx context.Context, orgID, executionID string) ([]Record, error)
}

// AttemptsHandler serves GET .../executions/{executionID}/attempts.
func AttemptsHandler(lister AttemptLister, logger *logging.Logger) http.HandlerFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := tenancy.OrgIDFromContext(r.Context())
		if !ok {
			http.Error(w, "missing org_id", http.StatusBadRequest)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "executionID"))
		if err != nil {
			http.Error(w, "invalid execution id", http.StatusBadRequest)
			return
		}
		records, err := lister.ListForExecution(r.Context(), orgID, id.String())
		if err != nil {
			logger.Error("deliverylog: list attempts failed", "org_id", orgID, "execution_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"attempts": records})
	}
}
