/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for an admin frontend

ROUTE GROUPS:
  /api/banks/*       Bank configuration and manual payouts
  /api/defaults/*    Global defaults and override policy
  /api/accounts/*    Account lifecycle and money movement
  /api/owners/*      Presence and notifications
  /api/payouts/*     Run history and schedule
  /api/scenarios/*   Demo scenarios
  /metrics           Prometheus metrics
  /healthz           Liveness

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	origins  []string
	gatherer prometheus.Gatherer
}

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins ...string) RouterOption {
	return func(c *routerConfig) { c.origins = origins }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) RouterOption {
	return func(c *routerConfig) { c.gatherer = g }
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts ...RouterOption) *chi.Mux {
	cfg := routerConfig{
		origins:  []string{"http://localhost:5173", "http://localhost:8080"},
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/banks", func(r chi.Router) {
			r.Get("/", h.ListBanks)
			r.Post("/", h.CreateBank)
			r.Get("/{id}", h.GetBank)
			r.Delete("/{id}", h.DeleteBank)
			r.Get("/{id}/export", h.ExportBank)
			r.Get("/{id}/fields", h.ListFields)
			r.Put("/{id}/fields/{field}", h.SetField)
			r.Post("/{id}/payouts", h.RunPayout)
		})

		r.Route("/defaults", func(r chi.Router) {
			r.Get("/", h.ListDefaults)
			r.Put("/{field}", h.UpdateDefault)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.OpenAccount)
			r.Get("/{id}", h.GetAccount)
			r.Delete("/{id}", h.CloseAccount)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Post("/{id}/deposits", h.Deposit)
			r.Post("/{id}/withdrawals", h.Withdraw)
			r.Post("/{id}/adjustments", h.Adjust)
			r.Put("/{id}/stage", h.SetStage)
			r.Put("/{id}/delay", h.SetDelay)
		})

		r.Route("/owners", func(r chi.Router) {
			r.Get("/online", h.ListOnline)
			r.Get("/{id}/presence", h.GetPresence)
			r.Put("/{id}/presence", h.MarkOnline)
			r.Delete("/{id}/presence", h.MarkOffline)
			r.Get("/{id}/notifications", h.ListNotifications)
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/runs", h.ListRuns)
			r.Get("/schedule", h.GetSchedule)
			r.Get("/schedule/verify", h.VerifySchedule)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
