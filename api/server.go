/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/customers/*      Customer reference data and debt balances
  /api/debts/*          and the seven other ledgered kinds
  /api/stats/*          Daily/monthly aggregates
  /api/periods/*        Editable-window inspection
  /api/admin/*          Operator actions (closing sweep)

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

	"github.com/clinicware/backoffice/domain"
	"github.com/clinicware/backoffice/ledger"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", actorHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/debt-balance", h.GetDebtBalance)
		})

		// Ledgered record routes: one resource per kind, identical shape.
		mountKind(r, "/debts", h, domain.KindDebt, h.CreateDebt)
		mountKind(r, "/debt-incurrences", h, domain.KindDebtIncurrence, h.CreateDebtIncurrence)
		mountKind(r, "/debt-payments", h, domain.KindDebtPayment, h.CreateDebtPayment)
		mountKind(r, "/consultations", h, domain.KindConsultation, h.CreateConsultation)
		mountKind(r, "/expenses", h, domain.KindExpense, h.CreateExpense)
		mountKind(r, "/orders", h, domain.KindOrder, h.CreateOrder)
		mountKind(r, "/treatments", h, domain.KindTreatment, h.CreateTreatment)
		mountKind(r, "/supplies", h, domain.KindSupply, h.CreateSupply)

		// Aggregate routes
		r.Route("/stats", func(r chi.Router) {
			r.Get("/daily/{date}", h.GetDailyStat)
			r.Get("/monthly/{year}/{month}", h.GetMonthlyStat)
			r.Get("/earliest-month", h.GetEarliestMonth)
		})

		// Period routes
		r.Get("/periods/window", h.GetPeriodWindow)

		// Admin routes
		r.Post("/admin/close-periods", h.ClosePeriods)
	})

	return r
}

// mountKind wires the shared CRUD shape for one ledgered kind. Only the
// create handler differs per kind (each decodes its own request type).
func mountKind(r chi.Router, pattern string, h *Handler, kind ledger.EntityKind, create http.HandlerFunc) {
	r.Route(pattern, func(r chi.Router) {
		r.Get("/", h.listRecords(kind))
		r.Post("/", create)
		r.Get("/{id}", h.getRecord(kind))
		r.Put("/{id}", h.updateRecord(kind))
		r.Delete("/{id}", h.deleteRecord(kind))
		r.Get("/{id}/history", h.recordHistory(kind))
	})
}
