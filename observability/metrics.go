package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotel"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del|error
	)
	Bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Coordinator outcomes by operation and error kind."},
		[]string{"op", "outcome"},
	)
	Compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "compensations_total", Help: "Compensating releases issued by the coordinator."},
		[]string{"cause"},
	)
	ConcurrencyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "concurrency_retries_total", Help: "Units of work rerun after a lost version check."},
		[]string{"component"},
	)
	CreditPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "credit_postings_total", Help: "Credit transactions by type and resulting status."},
		[]string{"type", "status"},
	)
	IntegrityViolations = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "integrity_violations_total", Help: "Transactions whose stored hash did not verify."},
	)
	AuditRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "audit_duration_seconds",
			Help:    "Daily integrity audit duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"hotel"},
	)
)

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, CacheEvents, Bookings, Compensations,
		ConcurrencyRetries, CreditPostings, IntegrityViolations, AuditRuns)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del|error
	CacheEvents.WithLabelValues(cache, event).Inc()
}

// ObserveBooking counts a coordinator call; outcome is "ok" or an error kind.
func ObserveBooking(op, outcome string) {
	Bookings.WithLabelValues(op, outcome).Inc()
}

func ObserveCompensation(cause string) {
	Compensations.WithLabelValues(cause).Inc()
}

func ObserveRetry(component string) {
	ConcurrencyRetries.WithLabelValues(component).Inc()
}

func ObserveCreditPosting(txType, status string) {
	CreditPostings.WithLabelValues(txType, status).Inc()
}

func ObserveIntegrityViolations(n int) {
	IntegrityViolations.Add(float64(n))
}

func ObserveAudit(hotel string, dur time.Duration) {
	AuditRuns.WithLabelValues(hotel).Observe(dur.Seconds())
}
