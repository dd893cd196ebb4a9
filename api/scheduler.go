/*
scheduler.go - Automated credit journal audit

PURPOSE:
  Periodically re-verifies the hash chain of every corporate credit journal
  and records the outcome, so tampering is noticed without anyone calling
  the daily-audit endpoint.

DESIGN:
  - Runs in the caller's goroutine (Run blocks until ctx is done), which
    lets cmd/server manage it as one oklog/run actor
  - Audits once on start, then every Interval
  - Hotels come from configuration; an empty list audits every hotel that
    has at least one company
  - Hotels are audited one after another; a failure is logged and the
    next hotel still runs
  - Findings are logged at error level and counted by the
    integrity_violations metric inside the ledger

CONFIGURATION:
  - Interval: audit.interval (default 24h)
  - Hotels:   audit.hotels

USAGE:
  s := NewAuditScheduler(handler.Monitor, store, log)
  s.Interval = cfg.Audit.Interval
  err := s.Run(ctx)

SEE ALSO:
  - handlers_corporate.go: DailyAudit endpoint (manual audit)
  - corporate/integrity.go: Audit
*/
package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/observability"
)

// AuditScheduler runs the credit journal audit on a fixed interval.
type AuditScheduler struct {
	Monitor  *corporate.Monitor
	Store    core.Store
	Interval time.Duration
	Hotels   []core.HotelID
	Log      zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// NewAuditScheduler creates a scheduler with a daily interval.
func NewAuditScheduler(monitor *corporate.Monitor, store core.Store, log zerolog.Logger) *AuditScheduler {
	return &AuditScheduler{
		Monitor:  monitor,
		Store:    store,
		Interval: 24 * time.Hour,
		Log:      log.With().Str("component", "audit_scheduler").Logger(),
	}
}

// Run audits immediately and then on every tick until ctx is cancelled.
func (s *AuditScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Log.Info().Dur("interval", s.Interval).Msg("started")
	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.Log.Info().Msg("stopped")
			return nil
		}
	}
}

// RunOnce audits every configured hotel and returns the reports in hotel
// order. Overlapping calls are serialized.
func (s *AuditScheduler) RunOnce(ctx context.Context) []corporate.AuditReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	hotels, err := s.hotels(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("listing hotels")
		return nil
	}

	var reports []corporate.AuditReport
	for _, hotel := range hotels {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		report, err := s.Monitor.RunDailyAudit(ctx, hotel)
		observability.ObserveAudit(string(hotel), time.Since(start))
		if err != nil {
			s.Log.Error().Err(err).Str("hotel", string(hotel)).Msg("audit failed")
			continue
		}
		ev := s.Log.Info()
		if report.Invalid > 0 {
			ev = s.Log.Error()
		}
		ev.Str("hotel", string(hotel)).
			Int("verified", report.Verified).
			Int("invalid", report.Invalid).
			Dur("duration", time.Since(start)).
			Msg("audit completed")
		reports = append(reports, report)
	}
	s.lastRun = time.Now()
	return reports
}

// LastRun reports when the last audit pass finished.
func (s *AuditScheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *AuditScheduler) hotels(ctx context.Context) ([]core.HotelID, error) {
	if len(s.Hotels) > 0 {
		return s.Hotels, nil
	}
	companies, err := s.Store.Companies().ListCompanies(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[core.HotelID]bool)
	var out []core.HotelID
	for _, c := range companies {
		if !seen[c.HotelID] {
			seen[c.HotelID] = true
			out = append(out, c.HotelID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
