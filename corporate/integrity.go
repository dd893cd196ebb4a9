package corporate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/observability"
)

// =============================================================================
// HASH CHAIN - Per-company, over processed transactions
// =============================================================================

// Hash is SHA-256 over companyId|amount|type|balance|transactionDate|prevHash
// with amounts fixed to two places and the date in RFC 3339 UTC.
func Hash(t core.CreditTransaction) string {
	payload := strings.Join([]string{
		string(t.CompanyID),
		t.Amount.StringFixed(2),
		string(t.Type),
		t.Balance.StringFixed(2),
		t.TransactionDate.UTC().Format(time.RFC3339Nano),
		t.PrevHash,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

type Verification struct {
	TransactionID core.TransactionID `json:"transactionId"`
	Valid         bool               `json:"valid"`
	StoredHash    string             `json:"storedHash"`
	ComputedHash  string             `json:"computedHash"`
	LinkValid     bool               `json:"linkValid"`
	Problem       string             `json:"problem,omitempty"`
}

// Verify recomputes the hash of a processed transaction and checks its
// link to the predecessor. Findings are reported, never repaired.
func (l *CreditLedger) Verify(ctx context.Context, id core.TransactionID) (Verification, error) {
	t, err := l.Get(ctx, id)
	if err != nil {
		return Verification{}, err
	}
	if t.Status != core.StatusProcessed {
		return Verification{}, core.Validationf("transaction %s is %s; only processed transactions are chained", id, t.Status)
	}
	chain, err := l.chain(ctx, core.CreditFilter{CompanyID: t.CompanyID})
	if err != nil {
		return Verification{}, err
	}
	var prev *core.CreditTransaction
	for _, c := range chain[t.CompanyID] {
		if c.ChainSeq == t.ChainSeq-1 {
			prev = &c
			break
		}
	}
	v := verify(t, prev)
	if !v.Valid {
		l.reportViolation(t, v.Problem)
		return v, core.Errorf(core.KindIntegrityViolation, "transaction %s failed verification: %s", id, v.Problem).
			With("transactionId", id).With("companyId", t.CompanyID)
	}
	return v, nil
}

func verify(t core.CreditTransaction, prev *core.CreditTransaction) Verification {
	v := Verification{TransactionID: t.ID, StoredHash: t.IntegrityHash, ComputedHash: Hash(t), LinkValid: true}
	switch {
	case t.ChainSeq > 1 && prev == nil:
		v.LinkValid, v.Problem = false, fmt.Sprintf("predecessor #%d missing", t.ChainSeq-1)
	case prev != nil && prev.IntegrityHash != t.PrevHash:
		v.LinkValid, v.Problem = false, "prevHash does not match predecessor"
	case t.ChainSeq == 1 && t.PrevHash != "":
		v.LinkValid, v.Problem = false, "first link carries a prevHash"
	}
	if v.ComputedHash != v.StoredHash {
		v.Problem = "hash mismatch"
	}
	v.Valid = v.LinkValid && v.ComputedHash == v.StoredHash
	return v
}

// chain loads processed transactions grouped by company in chain order.
func (l *CreditLedger) chain(ctx context.Context, f core.CreditFilter) (map[core.CompanyID][]core.CreditTransaction, error) {
	f.Statuses = []core.TransactionStatus{core.StatusProcessed}
	txs, err := l.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing processed transactions: %w", err)
	}
	out := make(map[core.CompanyID][]core.CreditTransaction)
	for _, t := range txs {
		out[t.CompanyID] = append(out[t.CompanyID], t)
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].ChainSeq < list[j].ChainSeq })
	}
	return out, nil
}

func (l *CreditLedger) reportViolation(t core.CreditTransaction, problem string) {
	l.Log.Error().
		Str("hotel", string(t.HotelID)).
		Str("company", string(t.CompanyID)).
		Str("transaction", string(t.ID)).
		Int64("chainSeq", t.ChainSeq).
		Str("storedHash", t.IntegrityHash).
		Str("computedHash", Hash(t)).
		Str("problem", problem).
		Msg("credit journal integrity violation")
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditFinding struct {
	TransactionID core.TransactionID `json:"transactionId"`
	CompanyID     core.CompanyID     `json:"companyId"`
	ChainSeq      int64              `json:"chainSeq"`
	Problem       string             `json:"problem"`
}

type AuditReport struct {
	HotelID  core.HotelID   `json:"hotelId"`
	At       time.Time      `json:"auditedAt"`
	Verified int            `json:"verified"`
	Invalid  int            `json:"invalid"`
	Details  []AuditFinding `json:"details"`
}

// Audit verifies every processed transaction of the hotel.
func (l *CreditLedger) Audit(ctx context.Context, hotel core.HotelID) (AuditReport, error) {
	started := time.Now()
	chains, err := l.chain(ctx, core.CreditFilter{HotelID: hotel})
	if err != nil {
		return AuditReport{}, err
	}
	rep := AuditReport{HotelID: hotel, At: l.Clock.Now(), Details: []AuditFinding{}}
	companies := make([]core.CompanyID, 0, len(chains))
	for id := range chains {
		companies = append(companies, id)
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i] < companies[j] })

	for _, id := range companies {
		var prev *core.CreditTransaction
		for i, t := range chains[id] {
			v := verify(t, prev)
			if v.Valid {
				rep.Verified++
			} else {
				rep.Invalid++
				rep.Details = append(rep.Details, AuditFinding{TransactionID: t.ID, CompanyID: id, ChainSeq: t.ChainSeq, Problem: v.Problem})
				l.reportViolation(t, v.Problem)
			}
			prev = &chains[id][i]
		}
	}
	observability.ObserveIntegrityViolations(rep.Invalid)
	observability.ObserveAudit(string(hotel), time.Since(started))
	l.Log.Info().Str("hotel", string(hotel)).Int("verified", rep.Verified).Int("invalid", rep.Invalid).Msg("credit journal audited")
	return rep, nil
}
