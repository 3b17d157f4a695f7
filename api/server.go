/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the front desk UI

ROUTE GROUPS:
  /api/prices/*      Product and service price history
  /api/employees/*   Staff postings
  /api/branches/*    Branch staff lists
  /api/invoices/*    Invoice composition and reads
  /api/customers/*   Customer invoice lists
  /api/scenarios/*   Demo scenarios
  /metrics           Prometheus scrape endpoint (if enabled)

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
)

// RouterOptions are the deployment-specific parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	MetricsPath    string // empty disables /metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", HeaderEmployeeID, HeaderRole},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.MetricsPath != "" && h.Metrics != nil {
		r.Handle(opts.MetricsPath, h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Price routes
		r.Route("/prices/{kind}/{id}", func(r chi.Router) {
			r.Get("/", h.GetPrice)
			r.Post("/", h.SetPrice)
			r.Get("/history", h.GetPriceHistory)
			r.Get("/resolve", h.ResolvePrice)
		})

		// Staffing routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/assignments", h.GetAssignments)
			r.Post("/assignments", h.Assign)
			r.Post("/terminate", h.Terminate)
			r.Get("/branch", h.GetBranch)
			r.Get("/active", h.GetActive)
		})
		r.Get("/branches/{id}/staff", h.GetBranchStaff)

		// Invoice routes
		r.Post("/invoices", h.ComposeInvoice)
		r.Get("/invoices/{id}", h.GetInvoice)
		r.Get("/customers/{id}/invoices", h.ListCustomerInvoices)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
