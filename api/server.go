/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:    Unique ID per request for tracing
  2. RealIP
  3. AccessLog:    zerolog line + HTTP histogram
  4. Recoverer:    Panic recovery (500 instead of crash)
  5. CORS:         Cross-origin requests for the front desk UI
  /v1 only:
  6. Authenticate: Identity headers (401)
  7. LimitWrites:  Per-actor write rate limit (429)
  8. RequireRole:  Per route group (403)

ROUTE GROUPS:
  /v1/availability/*            Availability ledger
  /v1/room-types, /v1/rooms     Room registry
  /v1/seasons, /v1/special-periods
  /v1/rates/*                   Quotes, plans, overrides
  /v1/bookings/*                Booking coordinator
  /v1/corporate/companies/*     Company registry
  /v1/corporate/credit/*        Credit journal, monitoring, limit requests
  /v1/corporate/security/*      Hash-chain verification and audit
  /v1/scenarios/*               Demo data (dev only)
  /healthz                      Liveness, unauthenticated

ROLES:
  guest   availability, quotes, bookings
  staff   reads, credit postings, booking changes
  manager inventory opening, seasons, plans, companies, approvals
  admin   room blocks, company deactivation, limit decisions, audits

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Identity, roles, rate limiting
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/hotel-core/core"
)

type RouterOptions struct {
	// RateRPS and Burst bound writes per actor; zero disables the limiter.
	RateRPS float64
	Burst   int

	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(h.Log))
	r.Use(middleware.Recoverer)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderActor, HeaderRole, HeaderHotel},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(h.LimitWrites(opts.RateRPS, opts.Burst))

		staff := h.RequireRole(RoleStaff)
		manager := h.RequireRole(RoleManager)
		admin := h.RequireRole(RoleAdmin)

		// Availability routes
		r.Route("/availability", func(r chi.Router) {
			r.Get("/", h.CheckAvailability)
			r.With(manager).Post("/open", h.OpenInventory)
			r.With(admin).Post("/block", h.BlockRooms)
			r.With(admin).Post("/unblock", h.UnblockRooms)
			r.With(staff).Get("/occupancy", h.Occupancy)
			r.With(staff).Get("/summary", h.InventorySummary)
			r.With(staff).Get("/overbooking", h.DetectOverbooking)
		})

		// Room registry
		r.With(staff).Get("/room-types", h.ListRoomTypes)
		r.With(manager).Post("/room-types", h.SaveRoomType)
		r.With(staff).Get("/rooms", h.ListRooms)
		r.With(manager).Post("/rooms", h.SaveRoom)

		// Season routes
		r.Route("/seasons", func(r chi.Router) {
			r.Use(staff)
			r.Get("/", h.ListSeasons)
			r.With(manager).Post("/", h.SaveSeason)
			r.With(manager).Delete("/{id}", h.DeleteSeason)
		})
		r.Route("/special-periods", func(r chi.Router) {
			r.Use(staff)
			r.Get("/", h.ListSpecialPeriods)
			r.With(manager).Post("/", h.SaveSpecialPeriod)
			r.With(manager).Delete("/{id}", h.DeleteSpecialPeriod)
		})

		// Rate routes
		r.Route("/rates", func(r chi.Router) {
			r.Post("/best", h.BestRate)
			r.Get("/all", h.AllRates)
			r.With(staff).Get("/plans", h.ListPlans)
			r.With(manager).Post("/plans", h.SavePlan)
			r.With(staff).Get("/overrides", h.ListOverrides)
			r.With(manager).Post("/overrides", h.SaveOverride)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Group(func(r chi.Router) {
				r.Use(staff)
				r.Get("/{id}", h.GetBooking)
				r.Post("/{id}/cancel", h.CancelBooking)
				r.Post("/{id}/modify", h.ModifyBooking)
				r.Patch("/{id}/status", h.UpdateBookingStatus)
			})
		})

		// Corporate routes
		r.Route("/corporate", func(r chi.Router) {
			r.Use(staff)

			r.Route("/companies", func(r chi.Router) {
				r.Get("/", h.ListCompanies)
				r.With(manager).Post("/", h.CreateCompany)
				r.Get("/{id}", h.GetCompany)
				r.With(manager).Patch("/{id}", h.UpdateCompany)
				r.With(admin).Delete("/{id}", h.DeactivateCompany)
				r.With(manager).Patch("/{id}/toggle-status", h.ToggleCompanyStatus)
			})

			r.Route("/credit", func(r chi.Router) {
				r.Get("/transactions", h.ListTransactions)
				r.Post("/transactions", h.PostTransaction)
				r.With(manager).Patch("/transactions/{id}/approve", h.ApproveTransaction)
				r.With(manager).Patch("/transactions/{id}/reject", h.RejectTransaction)
				r.With(manager).Patch("/transactions/{id}/cancel", h.CancelTransaction)
				r.Get("/summary/{companyId}", h.CreditSummary)
				r.Get("/overdue", h.OverdueTransactions)
				r.Get("/monthly-report", h.MonthlyReport)
				r.With(manager).Get("/monitor", h.MonitorCredit)
				r.Get("/low-credit", h.LowCreditCompanies)
				r.Post("/validate", h.ValidateCredit)
				r.Post("/process-booking", h.ProcessBookingCredit)
				r.Get("/limit-requests", h.ListLimitRequests)
				r.Post("/request-limit-increase", h.RequestLimitIncrease)
				r.With(admin).Post("/process-limit-request", h.ProcessLimitRequest)
			})

			r.Route("/security", func(r chi.Router) {
				r.With(manager).Get("/verify-transaction/{id}", h.VerifyTransaction)
				r.With(admin).Post("/daily-audit", h.DailyAudit)
			})
		})

		// Scenario routes
		if h.Env == "dev" {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(admin)
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Kind: string(core.KindNotFound), Message: "no route for " + r.Method + " " + r.URL.Path})
	})

	return r
}
