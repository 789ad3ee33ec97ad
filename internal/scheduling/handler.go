package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/internal/tenancy"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// Handler exposes appointment booking over HTTP.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates an appointment HTTP handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the appointment endpoints. Expects tenancy in context.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.book)
	r.Get("/", h.agenda)
	r.Get("/{appointmentID}", h.get)
	r.Put("/{appointmentID}", h.reschedule)
	r.Post("/{appointmentID}/cancel", h.cancel)
	r.Post("/{appointmentID}/complete", h.complete)
	r.Post("/{appointmentID}/no-show", h.noShow)
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	var in BookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	appt, err := h.service.Book(r.Context(), orgID, in)
	if err != nil {
		h.fail(w, "book appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := appointmentParams(w, r)
	if !ok {
		return
	}
	var in RescheduleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	appt, err := h.service.Reschedule(r.Context(), orgID, id, in)
	if err != nil {
		h.fail(w, "reschedule appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, id, ok := appointmentParams(w, r)
	if !ok {
		return
	}
	appt, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) agenda(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	professionalID := q.Get("professional_id")
	if professionalID == "" {
		http.Error(w, "professional_id required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	appts, err := h.service.Agenda(r.Context(), orgID, professionalID, from, to)
	if err != nil {
		h.fail(w, "list agenda", err)
		return
	}
	if appts == nil {
		appts = []Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel appointment", h.service.Cancel)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete appointment", h.service.Complete)
}

func (h *Handler) noShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "mark no-show", h.service.MarkNoShow)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string, uuid.UUID) (*Appointment, error)) {
	orgID, id, ok := appointmentParams(w, r)
	if !ok {
		return
	}
	appt, err := fn(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		ids := make([]string, 0, len(conflict.With))
		for _, iv := range conflict.With {
			ids = append(ids, iv.ID)
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "time conflict",
			"conflicts_with": ids,
		})
	case errors.Is(err, ErrConflict):
		http.Error(w, "time conflict", http.StatusConflict)
	case errors.Is(err, ErrInvalidInterval), errors.Is(err, ErrInvalidAppointment):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrAppointmentNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	default:
		h.logger.Error("appointment request failed", "op", op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func appointmentParams(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org_id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return "", uuid.Nil, false
	}
	return orgID, id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
