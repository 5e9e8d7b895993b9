/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This is
  the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the portal frontend
  5. Identity:   Verified caller headers -> auth.Context

SEE ALSO:
  - handlers.go: handler implementations
  - middleware.go: identity and scheduler auth
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the router-level knobs.
type RouterConfig struct {
	// SchedulerSecret authenticates daily-job triggers. Empty disables the
	// trigger endpoint.
	SchedulerSecret string
}

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", headerUserID, headerUserRole},
		AllowCredentials: true,
	}))
	r.Use(Identity)

	r.Route("/api", func(r chi.Router) {
		r.Route("/bills", func(r chi.Router) {
			r.Post("/", h.CreateBill)
			r.Get("/{id}", h.GetBill)
			r.Put("/{id}", h.UpdateBill)
			r.Get("/{id}/slips", h.ListSlips)
			r.Post("/{id}/slips", h.SubmitSlip)
		})

		r.Route("/slips", func(r chi.Router) {
			r.Post("/{id}/approve", h.ApproveSlip)
			r.Post("/{id}/reject", h.RejectSlip)
		})

		r.Route("/contracts", func(r chi.Router) {
			r.Get("/{id}/bills", h.ListContractBills)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Post("/{id}/read", h.MarkNotificationRead)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.With(RequireScheduler(cfg.SchedulerSecret)).Post("/daily", h.TriggerDailyJob)
		})
	})

	return r
}
