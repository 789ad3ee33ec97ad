package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/internal/deliverylog"
	httpmiddleware "github.com/wolfman30/clinic-automation/internal/http/middleware"
	"github.com/wolfman30/clinic-automation/internal/scheduling"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// ReadinessCheck reports whether a backing dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	AutomationHandler  *automation.Handler
	SchedulingHandler  *scheduling.Handler
	AttemptLister      deliverylog.AttemptLister
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	ReadinessChecks    map[string]ReadinessCheck

	// Per-tenant budget for event ingestion. Zero disables the limit.
	EventsRatePerSecond float64
	EventsBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		public.Get("/ready", readiness(cfg.ReadinessChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api/v1", func(tenant chi.Router) {
		tenant.Use(requireOrgID)

		if cfg.SchedulingHandler != nil {
			tenant.Route("/appointments", cfg.SchedulingHandler.RegisterRoutes)
		}

		if cfg.AutomationHandler == nil {
			return
		}
		tenant.Route("/automation", func(auto chi.Router) {
			var events chi.Router = auto
			if cfg.EventsRatePerSecond > 0 {
				events = auto.With(httpmiddleware.RateLimit(cfg.EventsRatePerSecond, cfg.EventsBurst))
			}
			events.Post("/events", cfg.AutomationHandler.EventsHandler())

			auto.Group(func(admin chi.Router) {
				if cfg.AdminAuthSecret != "" {
					admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
				}
				cfg.AutomationHandler.RegisterAdminRoutes(admin)
				if cfg.AttemptLister != nil {
					admin.Get("/executions/{executionID}/attempts", deliverylog.AttemptsHandler(cfg.AttemptLister, cfg.Logger))
				}
			})
		})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readiness(checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, results)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
