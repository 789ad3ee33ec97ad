package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	cases := []struct {
		name        string
		allowed     []string
		origin      string
		preflight   bool
		wantOrigin  string
		wantStatus  int
		wantHandler bool
	}{
		{name: "listed origin", allowed: []string{"https://painel.clinica.com.br"}, origin: "https://painel.clinica.com.br", wantOrigin: "https://painel.clinica.com.br", wantStatus: http.StatusOK, wantHandler: true},
		{name: "trailing slash in config", allowed: []string{"https://painel.clinica.com.br/"}, origin: "https://painel.clinica.com.br", wantOrigin: "https://painel.clinica.com.br", wantStatus: http.StatusOK, wantHandler: true},
		{name: "unknown origin", allowed: []string{"https://painel.clinica.com.br"}, origin: "https://evil.example", wantStatus: http.StatusOK, wantHandler: true},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://any.example", wantOrigin: "https://any.example", wantStatus: http.StatusOK, wantHandler: true},
		{name: "no origin header", allowed: []string{"*"}, wantStatus: http.StatusOK, wantHandler: true},
		{name: "preflight", allowed: []string{"https://painel.clinica.com.br"}, origin: "https://painel.clinica.com.br", preflight: true, wantOrigin: "https://painel.clinica.com.br", wantStatus: http.StatusNoContent},
		{name: "preflight from unknown origin reaches router", allowed: []string{"https://painel.clinica.com.br"}, origin: "https://evil.example", preflight: true, wantStatus: http.StatusOK, wantHandler: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			handler := CORS(tc.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
			method := http.MethodGet
			if tc.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/api/v1/automation/rules", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantHandler, called)
			assert.Equal(t, tc.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tc.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Org-Id")
				assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
			}
		})
	}
}
