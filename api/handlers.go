/*
handlers.go - HTTP API handlers for the booking core

PURPOSE:
  Exposes availability, pricing, bookings and corporate credit over REST.
  Handlers parse and validate the request, call one service and serialize
  the result. No business rule lives here.

ENDPOINTS:
  See server.go for the route table. Handlers are grouped by file:
    handlers_inventory.go: availability, rooms, seasons
    handlers_rates.go:     quotes, rate plans, overrides
    handlers_bookings.go:  booking coordinator
    handlers_corporate.go: companies, credit journal, monitoring, audit

ARCHITECTURE:
  Handler holds every service, built once by NewHandler over one TxStore:
  - Inventory (inventory.Ledger)
  - Seasons (season.Registry)
  - Rates (pricing.Engine) and Quotes (cached when a cache is configured)
  - Companies, Credit, Monitor (corporate)
  - Bookings (booking.Coordinator)

REQUEST FLOW:
  1. Identity and role checked by middleware
  2. Body decoded and validated (validator/v10)
  3. Hotel scope resolved against the identity
  4. Service call
  5. Result or typed error written as JSON

ERROR HANDLING:
  Errors are returned as {kind, message, details} with the status of their
  kind:
  - 400: Validation and the other user-visible domain kinds
  - 401/403: Missing identity / insufficient role or foreign hotel
  - 404: NotFound
  - 409: ConcurrencyConflict, IntegrityViolation (managers and admins)
  - 429: Write rate limit
  - 500: InternalError, and IntegrityViolation for everyone else

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Identity, rate limiting, access log
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/booking"
	"github.com/warp/hotel-core/cache"
	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/inventory"
	"github.com/warp/hotel-core/pricing"
	"github.com/warp/hotel-core/season"
)

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Quoter prices stays; satisfied by pricing.Engine and pricing.CachedQuoter.
type Quoter interface {
	BestRate(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
	AllRates(ctx context.Context, req pricing.QuoteRequest) (pricing.RateList, error)
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the services NewHandler builds. Zero values fall back to
// the service defaults.
type Options struct {
	Env   string
	Clock core.Clock
	Log   zerolog.Logger

	// Cache enables quote caching when non-nil.
	Cache       cache.Cache
	CacheTTLSec int

	Retry                core.RetryPolicy
	CoordinatorTimeout   time.Duration
	BaseRateFallback     bool
	LowCreditThreshold   decimal.Decimal
	NearLimitUtilization decimal.Decimal
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     core.TxStore
	Inventory *inventory.Ledger
	Seasons   *season.Registry
	Rates     *pricing.Engine
	Quotes    Quoter
	Companies *corporate.Registry
	Credit    *corporate.CreditLedger
	Monitor   *corporate.Monitor
	Bookings  *booking.Coordinator

	Env   string
	Clock core.Clock
	Log   zerolog.Logger

	validate *validator.Validate
}

// NewHandler wires every service over store.
func NewHandler(store core.TxStore, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.Backoff == 0 {
		opts.Retry = core.DefaultRetryPolicy
	}
	log := opts.Log

	seasons := season.NewRegistry(store)
	seasons.Clock, seasons.Log = opts.Clock, log.With().Str("component", "season").Logger()

	inv := inventory.NewLedger(store)
	inv.Clock, inv.Retry, inv.Blackout = opts.Clock, opts.Retry, seasons
	inv.Log = log.With().Str("component", "inventory").Logger()

	engine := pricing.NewEngine(store, seasons, inv)
	engine.Clock, engine.BaseRateFallback = opts.Clock, opts.BaseRateFallback
	engine.Log = log.With().Str("component", "pricing").Logger()

	var quotes Quoter = engine
	if opts.Cache != nil {
		cached := pricing.NewCachedQuoter(engine, opts.Cache, opts.CacheTTLSec)
		cached.Log = engine.Log
		inv.OnChange(cached.OnInventoryChange)
		seasons.OnChange(cached.OnSeasonChange)
		quotes = cached
	}

	companies := corporate.NewRegistry(store)
	companies.Clock, companies.Retry = opts.Clock, opts.Retry
	companies.Log = log.With().Str("component", "companies").Logger()

	credit := corporate.NewCreditLedger(store)
	credit.Clock, credit.Retry = opts.Clock, opts.Retry
	credit.Log = log.With().Str("component", "credit").Logger()

	monitor := corporate.NewMonitor(companies, credit)
	monitor.Clock = opts.Clock
	monitor.Log = log.With().Str("component", "monitor").Logger()
	if !opts.LowCreditThreshold.IsZero() {
		monitor.LowCreditThreshold = opts.LowCreditThreshold
	}
	if !opts.NearLimitUtilization.IsZero() {
		monitor.NearLimitUtilization = opts.NearLimitUtilization
	}

	coordinator := booking.NewCoordinator(store, inv, credit, quotes, seasons)
	coordinator.Clock, coordinator.Retry = opts.Clock, opts.Retry
	coordinator.Log = log.With().Str("component", "booking").Logger()
	if opts.CoordinatorTimeout > 0 {
		coordinator.Timeout = opts.CoordinatorTimeout
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		Store:     store,
		Inventory: inv,
		Seasons:   seasons,
		Rates:     engine,
		Quotes:    quotes,
		Companies: companies,
		Credit:    credit,
		Monitor:   monitor,
		Bookings:  coordinator,
		Env:       opts.Env,
		Clock:     opts.Clock,
		Log:       log,
		validate:  v,
	}
}

// Health reports liveness and, when the store supports it, reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return core.Validationf("invalid JSON body: %v", err)
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("%s failed the %q rule", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s failed the %q rule (%s)", fe.Field(), fe.Tag(), fe.Param())
		}
		return core.Validationf("%s", msg).With("field", fe.Field())
	}
	return err
}

// hotel resolves the hotel a request acts on. Only admins may act on a
// hotel other than their own.
func (h *Handler) hotel(r *http.Request, requested string) (core.HotelID, error) {
	id := identityFrom(r.Context())
	if requested == "" || core.HotelID(requested) == id.HotelID {
		return id.HotelID, nil
	}
	if id.Role != RoleAdmin {
		return "", fmt.Errorf("%w: hotel %s is outside your scope", errForbidden, requested)
	}
	return core.HotelID(requested), nil
}

// owns checks that an entity loaded by id belongs to the caller's hotel.
func (h *Handler) owns(r *http.Request, hotel core.HotelID) error {
	_, err := h.hotel(r, string(hotel))
	return err
}

func queryDate(r *http.Request, key string) (calendar.Date, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return calendar.Date{}, nil
	}
	d, err := calendar.Parse(v)
	if err != nil {
		return calendar.Date{}, core.Validationf("%s: %v", key, err).With("field", key)
	}
	return d, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.Validationf("%s must be an integer", key).With("field", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// statusOf maps an error kind to its HTTP status.
func statusOf(kind core.Kind) int {
	switch kind {
	case core.KindValidation, core.KindNoInventoryDefined, core.KindInsufficientInventory,
		core.KindSeasonalRestriction, core.KindNoRatePlanApplicable, core.KindInsufficientCredit,
		core.KindCompanyInactive, core.KindStateTransition:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindConcurrencyConflict, core.KindIntegrityViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the typed error body. Internal faults are logged and
// never echoed; integrity findings are only shown to managers and admins.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errUnauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Kind: "Unauthorized", Message: err.Error()})
		return
	case errors.Is(err, errForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Kind: "Forbidden", Message: err.Error()})
		return
	}

	kind := core.KindOf(err)
	status := statusOf(kind)
	resp := ErrorResponse{Kind: string(kind), Message: err.Error(), Details: core.DetailsOf(err)}
	var ce *core.Error
	if errors.As(err, &ce) {
		resp.Message = ce.Message
	}

	if kind == core.KindIntegrityViolation && !identityFrom(r.Context()).Role.AtLeast(RoleManager) {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).
			Str("kind", string(kind)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		resp = ErrorResponse{Kind: string(core.KindInternal), Message: "internal error"}
	}
	writeJSON(w, status, resp)
}
