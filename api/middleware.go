/*
middleware.go - Identity, authorization, rate limiting and access logging

IDENTITY:
  Every /v1 request carries its caller in three headers:
    X-Actor-ID   who is acting (recorded as createdBy / processor)
    X-Role       guest | staff | manager | admin
    X-Hotel-ID   the hotel the caller belongs to
  A missing header or an unknown role is rejected with 401. Tokens are
  verified upstream; this layer only trusts what the gateway forwards.

ROLES:
  Roles are ordered guest < staff < manager < admin. RequireRole(min)
  rejects lower roles with 403.

RATE LIMITING:
  Writes (POST, PATCH, PUT, DELETE) are limited per actor with a token
  bucket (golang.org/x/time/rate). Reads are not limited.

ACCESS LOG:
  One zerolog line per request with route pattern, status, duration and
  chi's request id. The same observation feeds the HTTP histogram.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/observability"
)

const (
	HeaderActor = "X-Actor-ID"
	HeaderRole  = "X-Role"
	HeaderHotel = "X-Hotel-ID"
)

type Role int

const (
	RoleGuest Role = iota + 1
	RoleStaff
	RoleManager
	RoleAdmin
)

var roleNames = map[string]Role{
	"guest":   RoleGuest,
	"staff":   RoleStaff,
	"manager": RoleManager,
	"admin":   RoleAdmin,
}

func (r Role) String() string {
	for name, role := range roleNames {
		if role == r {
			return name
		}
	}
	return "none"
}

func (r Role) AtLeast(min Role) bool { return r >= min }

// Identity is the authenticated caller.
type Identity struct {
	ActorID string
	Role    Role
	HotelID core.HotelID
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// Authenticate resolves the caller from the identity headers.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(HeaderActor)
		hotel := r.Header.Get(HeaderHotel)
		role, ok := roleNames[r.Header.Get(HeaderRole)]
		switch {
		case actor == "" || hotel == "":
			h.writeError(w, r, fmt.Errorf("%w: %s and %s are required", errUnauthorized, HeaderActor, HeaderHotel))
			return
		case !ok:
			h.writeError(w, r, fmt.Errorf("%w: unknown role %q", errUnauthorized, r.Header.Get(HeaderRole)))
			return
		}
		ctx := withIdentity(r.Context(), Identity{ActorID: actor, Role: role, HotelID: core.HotelID(hotel)})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers below min.
func (h *Handler) RequireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := identityFrom(r.Context()); !id.Role.AtLeast(min) {
				h.writeError(w, r, fmt.Errorf("%w: requires %s, caller is %s", errForbidden, min, id.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// writeLimiter keeps one token bucket per actor.
type writeLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newWriteLimiter(rps float64, burst int) *writeLimiter {
	return &writeLimiter{rps: rate.Limit(rps), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *writeLimiter) allow(actor string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[actor]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[actor] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// LimitWrites must run after Authenticate.
func (h *Handler) LimitWrites(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newWriteLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isWrite(r.Method) && !l.allow(identityFrom(r.Context()).ActorID) {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Kind: "RateLimited", Message: "too many write requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// ACCESS LOG
// =============================================================================

// AccessLog logs one line per request and records the HTTP histogram.
func AccessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				route := chi.RouteContext(r.Context()).RoutePattern()
				if route == "" {
					route = "unmatched"
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				dur := time.Since(start)
				observability.ObserveHTTP(route, r.Method, status, dur)

				ev := log.Info()
				if status >= http.StatusInternalServerError {
					ev = log.Warn()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("route", route).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", dur).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
