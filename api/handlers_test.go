/*
handlers_test.go - HTTP tests for the /v1 surface

Tests for:
- Identity headers, role guards and hotel scoping
- Request validation and the error body
- Booking create / read / cancel through the router
- Corporate credit checks and postings
- Integrity findings hidden from low roles
- Write rate limiting
- Scenario loading and the audit scheduler
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/store/memory"
)

const testHotel = core.HotelID("H1")

var (
	testNow   = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	testToday = calendar.FromTime(testNow)
)

type testServer struct {
	store  *memory.Store
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T, env string, opts RouterOptions) testServer {
	t.Helper()
	store := memory.New()
	h := NewHandler(store, Options{Env: env, Clock: core.FixedClock{At: testNow}, Log: zerolog.Nop()})
	return testServer{store: store, h: h, router: NewRouter(h, opts)}
}

type caller struct {
	actor string
	role  string
	hotel core.HotelID
}

func as(role string) caller { return caller{actor: role + "-1", role: role, hotel: testHotel} }

func (s testServer) do(t *testing.T, c caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.actor != "" {
		req.Header.Set(HeaderActor, c.actor)
	}
	if c.role != "" {
		req.Header.Set(HeaderRole, c.role)
	}
	if c.hotel != "" {
		req.Header.Set(HeaderHotel, string(c.hotel))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// IDENTITY AND SCOPE
// =============================================================================

func TestAuthenticate_MissingHeaders(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	// WHEN no identity is sent
	rec := s.do(t, caller{}, http.MethodGet, "/v1/availability/", nil)

	// THEN
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeAs[ErrorResponse](t, rec).Kind)
}

func TestAuthenticate_UnknownRole(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, caller{actor: "u1", role: "owner", hotel: testHotel}, http.MethodGet, "/v1/room-types", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_RejectsLowerRole(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	// GIVEN a guest
	// WHEN opening inventory, a manager operation
	rec := s.do(t, as("guest"), http.MethodPost, "/v1/availability/open", OpenInventoryRequest{RoomTypeID: "DBL"})

	// THEN
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", decodeAs[ErrorResponse](t, rec).Kind)
}

func TestHotelScope_OnlyAdminsCrossHotels(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, as("manager"), http.MethodGet, "/v1/room-types?hotelId=H2", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, as("admin"), http.MethodGet, "/v1/room-types?hotelId=H2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_NoIdentityNeeded(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, caller{}, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute_JSONNotFound(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, caller{}, http.MethodGet, "/nowhere", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(core.KindNotFound), decodeAs[ErrorResponse](t, rec).Kind)
}

// =============================================================================
// VALIDATION AND ERRORS
// =============================================================================

func TestCreateBooking_ValidationNamesField(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	// WHEN the room type is missing
	rec := s.do(t, as("guest"), http.MethodPost, "/v1/bookings", map[string]any{"roomsCount": 1, "guests": 1})

	// THEN
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, string(core.KindValidation), resp.Kind)
	assert.Equal(t, "roomTypeId", resp.Details["field"])
}

func TestCreateBooking_MalformedJSON(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", bytes.NewBufferString("{not json"))
	req.Header.Set(HeaderActor, "g1")
	req.Header.Set(HeaderRole, "guest")
	req.Header.Set(HeaderHotel, string(testHotel))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(core.KindValidation), decodeAs[ErrorResponse](t, rec).Kind)
}

func TestGetBooking_NotFound(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, as("staff"), http.MethodGet, "/v1/bookings/booking-missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(core.KindNotFound), decodeAs[ErrorResponse](t, rec).Kind)
}

func TestWriteError_IntegrityViolationHiddenFromStaff(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	finding := core.Errorf(core.KindIntegrityViolation, "transaction txn-1 failed verification: hash mismatch")

	cases := []struct {
		role Role
		code int
		kind core.Kind
	}{
		{RoleStaff, http.StatusInternalServerError, core.KindInternal},
		{RoleManager, http.StatusConflict, core.KindIntegrityViolation},
		{RoleAdmin, http.StatusConflict, core.KindIntegrityViolation},
	}
	for _, tc := range cases {
		t.Run(tc.role.String(), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/corporate/security/verify-transaction/txn-1", nil)
			req = req.WithContext(withIdentity(req.Context(), Identity{ActorID: "u1", Role: tc.role, HotelID: testHotel}))
			rec := httptest.NewRecorder()

			s.h.writeError(rec, req, finding)

			assert.Equal(t, tc.code, rec.Code)
			resp := decodeAs[ErrorResponse](t, rec)
			assert.Equal(t, string(tc.kind), resp.Kind)
			if tc.kind == core.KindInternal {
				assert.Equal(t, "internal error", resp.Message)
			}
		})
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestBookingFlow_CreateGetCancel(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	// GIVEN the city hotel demo data
	rec := s.do(t, as("admin"), http.MethodPost, "/v1/scenarios/load", LoadScenarioRequest{ScenarioID: "city-hotel"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN a guest books two nights in a double
	rec = s.do(t, as("guest"), http.MethodPost, "/v1/bookings", map[string]any{
		"roomTypeId": "DBL",
		"checkIn":    testToday.AddDays(5).String(),
		"checkOut":   testToday.AddDays(7).String(),
		"roomsCount": 1,
		"guests":     2,
	})

	// THEN the booking is confirmed and priced
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[map[string]any](t, rec)
	id, _ := created["bookingId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, string(core.BookingConfirmed), created["status"])
	total, ok := created["totalAmount"].(float64)
	require.True(t, ok, "totalAmount is a JSON number")
	assert.Positive(t, total)

	// AND staff can read it back
	rec = s.do(t, as("staff"), http.MethodGet, "/v1/bookings/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "guest-1", decodeAs[core.BookingRef](t, rec).CreatedBy)

	// AND another hotel's staff cannot
	other := caller{actor: "staff-2", role: "staff", hotel: "H2"}
	rec = s.do(t, other, http.MethodGet, "/v1/bookings/"+id, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN staff cancels without a body
	rec = s.do(t, as("staff"), http.MethodPost, "/v1/bookings/"+id+"/cancel", nil)

	// THEN the room goes back to the ledger
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decodeAs[map[string]any](t, rec)
	assert.EqualValues(t, 1, cancelled["releasedRooms"])

	ref, err := s.h.Bookings.Get(context.Background(), core.BookingID(id))
	require.NoError(t, err)
	assert.Equal(t, core.BookingCancelled, ref.Status)
}

func TestCreateBooking_PastCheckInRejected(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	rec := s.do(t, as("admin"), http.MethodPost, "/v1/scenarios/load", LoadScenarioRequest{ScenarioID: "city-hotel"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, as("guest"), http.MethodPost, "/v1/bookings", map[string]any{
		"roomTypeId": "DBL",
		"checkIn":    testToday.AddDays(-2).String(),
		"checkOut":   testToday.AddDays(1).String(),
		"roomsCount": 1,
		"guests":     1,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, string(core.KindValidation), resp.Kind)
	assert.Equal(t, "checkIn", resp.Details["field"])
}

// =============================================================================
// CORPORATE CREDIT
// =============================================================================

func TestCorporateCredit_ValidateThenProcess(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	// GIVEN a company with a 10000 limit
	rec := s.do(t, as("manager"), http.MethodPost, "/v1/corporate/companies", map[string]any{
		"name":        "Acme Travels",
		"email":       "travel@acme.example",
		"gstNumber":   "27AAPFU0939F1ZV",
		"creditLimit": 10000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	company := decodeAs[core.Company](t, rec)
	assert.True(t, company.AvailableCredit.Equal(decimal.NewFromInt(10000)))

	// WHEN checking a 20000 booking
	rec = s.do(t, as("staff"), http.MethodPost, "/v1/corporate/credit/validate", ValidateCreditRequest{
		CompanyID: string(company.ID), Amount: decimal.NewFromInt(20000),
	})

	// THEN the check fails without writing
	require.Equal(t, http.StatusOK, rec.Code)
	check := decodeAs[corporate.CreditCheck](t, rec)
	assert.False(t, check.Valid)
	assert.True(t, check.Shortfall.Equal(decimal.NewFromInt(10000)))

	// WHEN posting it anyway
	rec = s.do(t, as("staff"), http.MethodPost, "/v1/corporate/credit/process-booking", ProcessBookingRequest{
		CompanyID: string(company.ID), BookingID: "B-1", Amount: decimal.NewFromInt(20000),
	})

	// THEN
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(core.KindInsufficientCredit), decodeAs[ErrorResponse](t, rec).Kind)

	// WHEN posting an amount that fits
	rec = s.do(t, as("staff"), http.MethodPost, "/v1/corporate/credit/process-booking", ProcessBookingRequest{
		CompanyID: string(company.ID), BookingID: "B-2", Amount: decimal.NewFromInt(4000),
	})

	// THEN the debit is processed and chained
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decodeAs[core.CreditTransaction](t, rec)
	assert.Equal(t, core.StatusProcessed, tx.Status)
	assert.NotEmpty(t, tx.IntegrityHash)

	got, err := s.h.Companies.Get(context.Background(), company.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableCredit.Equal(decimal.NewFromInt(6000)))
}

func TestCreateCompany_InvalidEmail(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, as("manager"), http.MethodPost, "/v1/corporate/companies", map[string]any{
		"name":      "Acme Travels",
		"email":     "not-an-email",
		"gstNumber": "27AAPFU0939F1ZV",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email", decodeAs[ErrorResponse](t, rec).Details["field"])
}

func TestVerifyTransaction_ForgedEntry(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	ctx := context.Background()

	// GIVEN a processed debit and a forged entry inserted behind the ledger
	c, err := s.h.Companies.Create(ctx, core.Company{
		HotelID: testHotel, Name: "Acme", GSTNumber: "27AAPFU0939F1ZV", CreditLimit: decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	genuine, err := s.h.Credit.Post(ctx, corporate.PostRequest{
		CompanyID: c.ID, Type: core.TxDebit, Amount: decimal.NewFromInt(1000), CreatedBy: "staff-1",
	})
	require.NoError(t, err)
	forged := genuine
	forged.ID = "txn-forged"
	forged.ChainSeq = genuine.ChainSeq + 1
	forged.PrevHash = genuine.IntegrityHash
	forged.Amount = decimal.NewFromInt(1)
	require.NoError(t, s.store.Credit().InsertTransaction(ctx, forged))

	// WHEN a manager verifies both
	ok := s.do(t, as("manager"), http.MethodGet, "/v1/corporate/security/verify-transaction/"+string(genuine.ID), nil)
	bad := s.do(t, as("manager"), http.MethodGet, "/v1/corporate/security/verify-transaction/txn-forged", nil)

	// THEN
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	assert.True(t, decodeAs[corporate.Verification](t, ok).Valid)
	require.Equal(t, http.StatusConflict, bad.Code)
	assert.Equal(t, string(core.KindIntegrityViolation), decodeAs[ErrorResponse](t, bad).Kind)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestLimitWrites_PerActor(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{RateRPS: 0.001, Burst: 1})
	body := map[string]any{"roomsCount": 1, "guests": 1}

	// GIVEN one write already spent
	first := s.do(t, as("guest"), http.MethodPost, "/v1/bookings", body)
	assert.Equal(t, http.StatusBadRequest, first.Code)

	// WHEN the same actor writes again
	second := s.do(t, as("guest"), http.MethodPost, "/v1/bookings", body)

	// THEN
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, "RateLimited", decodeAs[ErrorResponse](t, second).Kind)

	// AND reads and other actors are unaffected
	assert.Equal(t, http.StatusOK, s.do(t, as("staff"), http.MethodGet, "/v1/room-types", nil).Code)
	other := caller{actor: "guest-2", role: "guest", hotel: testHotel}
	assert.Equal(t, http.StatusBadRequest, s.do(t, other, http.MethodPost, "/v1/bookings", body).Code)
}

// =============================================================================
// SCENARIOS AND AUDIT
// =============================================================================

func TestScenarios_DevOnly(t *testing.T) {
	s := newTestServer(t, "production", RouterOptions{})

	rec := s.do(t, as("admin"), http.MethodGet, "/v1/scenarios", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadScenario_UnknownID(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	rec := s.do(t, as("admin"), http.MethodPost, "/v1/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadScenario_Idempotent(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})

	// WHEN the corporate scenario is loaded twice
	for i := 0; i < 2; i++ {
		rec := s.do(t, as("admin"), http.MethodPost, "/v1/scenarios/load", LoadScenarioRequest{ScenarioID: "corporate-account"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// THEN the same two companies exist
	rec := s.do(t, as("staff"), http.MethodGet, "/v1/corporate/companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]core.Company](t, rec), 2)

	// AND Globex carries one seeded debit
	txs, err := s.h.Credit.List(context.Background(), core.CreditFilter{CompanyID: core.CompanyID(scoped(testHotel, "GLOBEX"))})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	// AND the room types were upserted, not duplicated
	types, err := s.h.Inventory.ListRoomTypes(context.Background(), testHotel)
	require.NoError(t, err)
	assert.Len(t, types, 2)
}

func TestFestivalScenario_BlocksStay(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	rec := s.do(t, as("admin"), http.MethodPost, "/v1/scenarios/load", LoadScenarioRequest{ScenarioID: "festival-blackout"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN a stay overlaps the festival
	rec = s.do(t, as("guest"), http.MethodPost, "/v1/bookings", map[string]any{
		"roomTypeId": "DBL",
		"checkIn":    testToday.AddDays(13).String(),
		"checkOut":   testToday.AddDays(16).String(),
		"roomsCount": 1,
		"guests":     1,
	})

	// THEN
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(core.KindSeasonalRestriction), decodeAs[ErrorResponse](t, rec).Kind)
}

func TestAuditScheduler_RunOnce(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	ctx := context.Background()
	require.NoError(t, s.h.loadCorporateScenario(ctx, testHotel, "admin-1"))

	sched := NewAuditScheduler(s.h.Monitor, s.store, zerolog.Nop())
	assert.True(t, sched.LastRun().IsZero())

	// WHEN
	reports := sched.RunOnce(ctx)

	// THEN the hotel is discovered from its companies and verifies clean
	require.Len(t, reports, 1)
	assert.Equal(t, testHotel, reports[0].HotelID)
	assert.Equal(t, 1, reports[0].Verified)
	assert.Zero(t, reports[0].Invalid)
	assert.False(t, sched.LastRun().IsZero())
}

func TestAuditScheduler_RunStopsOnCancel(t *testing.T) {
	s := newTestServer(t, "dev", RouterOptions{})
	sched := NewAuditScheduler(s.h.Monitor, s.store, zerolog.Nop())
	sched.Hotels = []core.HotelID{testHotel}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
