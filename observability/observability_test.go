package observability_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hotel-core/observability"
)

func TestNewLogger_Level(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, observability.NewLogger("prod", "warn").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, observability.NewLogger("dev", "").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, observability.NewLogger("prod", "chatty").GetLevel())
}

func TestMetricsHandler_ExposesDomainCounters(t *testing.T) {
	// GIVEN: A registry with one compensation observed
	reg := observability.InitRegistry()
	before := testutil.ToFloat64(observability.Compensations.WithLabelValues("InsufficientCredit"))
	observability.ObserveCompensation("InsufficientCredit")
	observability.ObserveHTTP("/v1/bookings", http.MethodPost, http.StatusCreated, 15*time.Millisecond)

	// WHEN: Scraping
	srv := httptest.NewServer(observability.MetricsHandler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	// THEN: The counters are exported under the hotel namespace
	assert.Equal(t, before+1, testutil.ToFloat64(observability.Compensations.WithLabelValues("InsufficientCredit")))
	assert.Contains(t, string(body), "hotel_compensations_total")
	assert.Contains(t, string(body), `hotel_http_requests_total{method="POST",route="/v1/bookings",status="201"}`)
}
