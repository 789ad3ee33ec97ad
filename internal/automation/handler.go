package automation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/internal/observability/metrics"
	"github.com/wolfman30/clinic-automation/internal/tenancy"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Handler exposes rule administration, execution queries and event ingestion.
type Handler struct {
	rules     *RuleService
	processor *EventProcessor
	metrics   *metrics.AutomationMetrics
	logger    *logging.Logger
}

// NewHandler creates an automation HTTP handler.
func NewHandler(rules *RuleService, processor *EventProcessor, m *metrics.AutomationMetrics, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{rules: rules, processor: processor, metrics: m, logger: logger}
}

// RegisterAdminRoutes mounts operator endpoints. Expects tenancy in context.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/rules", h.listRules)
	r.Post("/rules", h.createRule)
	r.Get("/rules/{ruleID}", h.getRule)
	r.Put("/rules/{ruleID}", h.updateRule)
	r.Delete("/rules/{ruleID}", h.deleteRule)
	r.Post("/rules/{ruleID}/deactivate", h.deactivateRule)
	r.Get("/rules/{ruleID}/executions", h.listExecutions)
	r.Get("/executions", h.listExecutions)
	r.Get("/stats", h.getStats)
}

// EventsHandler accepts domain events raised by the CRUD layer.
func (h *Handler) EventsHandler() http.HandlerFunc {
	return h.ingestEvent
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	rules, err := h.rules.ListRules(r.Context(), orgID)
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}
	if rules == nil {
		rules = []Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	var in RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.CreateRule(r.Context(), orgID, in)
	if err != nil {
		h.fail(w, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := ruleParams(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.GetRule(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := ruleParams(w, r)
	if !ok {
		return
	}
	var in RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.UpdateRule(r.Context(), orgID, id, in)
	if err != nil {
		h.fail(w, "update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := ruleParams(w, r)
	if !ok {
		return
	}
	res, err := h.rules.DeactivateRule(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "deactivate rule", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := ruleParams(w, r)
	if !ok {
		return
	}
	res, err := h.rules.DeleteRule(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "delete rule", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	var f ExecutionFilter
	if raw := chi.URLParam(r, "ruleID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid rule id", http.StatusBadRequest)
			return
		}
		f.RuleID = &id
	}
	if s := r.URL.Query().Get("status"); s != "" {
		st := ExecutionStatus(s)
		f.Status = &st
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			f.Limit = n
		}
	}
	execs, err := h.rules.Executions(r.Context(), orgID, f)
	if err != nil {
		h.fail(w, "list executions", err)
		return
	}
	if execs == nil {
		execs = []Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs, "count": len(execs)})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	stats, err := h.rules.Stats(r.Context(), orgID)
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	if stats == nil {
		stats = []RuleStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": stats})
}

type reportResponse struct {
	Report
	Errors []string `json:"errors,omitempty"`
}

func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	var evt Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		h.metrics.ObserveEvent("http", "rejected")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if evt.OrgID != "" && evt.OrgID != orgID {
		h.metrics.ObserveEvent("http", "rejected")
		http.Error(w, "org mismatch", http.StatusForbidden)
		return
	}
	evt.OrgID = orgID
	if err := evt.Validate(); err != nil {
		h.metrics.ObserveEvent("http", "rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report := h.processor.Handle(r.Context(), evt)
	h.metrics.ObserveEvent("http", "accepted")
	writeJSON(w, http.StatusAccepted, reportResponse{Report: report, Errors: report.ErrorMessages()})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		http.Error(w, "rule not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("automation handler: "+op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func ruleParams(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	return orgID, id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
