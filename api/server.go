/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, also keys the request's auth context
  2. RealIP:     Client address from proxy headers
  3. RequestLogger: Structured request log and latency histogram
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the front-end

ROUTE GROUPS:
  /healthz              Liveness
  /metrics              Prometheus scrape endpoint
  /api/auth/*           Login and logout (public)
  /api/session          Identity resolution (public, 401 when none)
  /api/*                Authenticated, each route gated by one role action
  /api/scenarios/*      Demo scenarios (only with EnableDemo)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Authenticate and RequireAction
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

	"github.com/hospiverse/clinic-engine/access"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

type RouterOptions struct {
	AllowedOrigins []string
	EnableDemo     bool
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: true,
	}))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)
		r.Get("/session", h.Session)

		if opts.EnableDemo {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(h.Authenticate)

			// Reception
			r.With(h.RequireAction(access.BookAppointment)).Get("/doctors", h.ListDoctors)
			r.With(h.RequireAction(access.BookAppointment)).Get("/appointments", h.ListAppointments)
			r.With(h.RequireAction(access.BookAppointment)).Post("/appointments", h.BookAppointment)
			r.With(h.RequireAction(access.CancelAppointment)).Post("/appointments/{id}/cancel", h.CancelAppointment)
			r.With(h.RequireAction(access.SettleBill)).Get("/appointments/{id}/bill", h.GetBill)
			r.With(h.RequireAction(access.SettleBill)).Post("/appointments/{id}/settle", h.SettleBill)

			// Doctor
			r.With(h.RequireAction(access.RunConsultation)).Get("/doctor/appointments", h.DoctorAppointments)
			r.With(h.RequireAction(access.RunConsultation)).Get("/items", h.ListItems)
			r.With(h.RequireAction(access.RunConsultation)).Post("/appointments/{id}/consultation", h.CompleteConsultation)

			// HR
			r.Route("/staff", func(r chi.Router) {
				r.Use(h.RequireAction(access.ManageStaff))
				r.Get("/", h.ListStaff)
				r.Get("/failures", h.ListStaffFailures)
				r.Post("/", h.CreateStaff)
				r.Patch("/{id}", h.UpdateStaff)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
