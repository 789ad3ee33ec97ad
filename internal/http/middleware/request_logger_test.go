package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/clinic-automation/internal/tenancy"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

func TestRequestLoggerWritesStatusAndOrg(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	handler := chimw.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req = req.WithContext(tenancy.WithOrgID(req.Context(), "org-9"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	out := buf.String()
	assert.Contains(t, out, "request completed")
	assert.Contains(t, out, "409")
	assert.Contains(t, out, "org-9")
	assert.Contains(t, out, "/api/v1/appointments")
	assert.Contains(t, out, "request_id")
}

func TestRequestLoggerErrorsAtServerFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Contains(t, buf.String(), "ERROR")
}
