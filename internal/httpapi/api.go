// Package httpapi exposes the session lifecycle over cookie-carrying HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	accountdomain "storefront-auth/internal/account/domain"
	auditdomain "storefront-auth/internal/audit/domain"
	"storefront-auth/internal/auth"
	"storefront-auth/internal/obs"
	"storefront-auth/internal/passreset"
	"storefront-auth/internal/security"
	sessiondomain "storefront-auth/internal/session/domain"
)

// AccountReader is the read access /me needs beyond the token claims.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
}

// SessionReader backs the device-session listing endpoint.
type SessionReader interface {
	ListActiveByAccount(ctx context.Context, accountID string, channel sessiondomain.Channel) ([]*sessiondomain.Session, error)
}

// AuditReader backs the admin audit-trail endpoint.
type AuditReader interface {
	ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*auditdomain.AuthEvent, error)
}

// API is the HTTP surface. One instance serves both channels; the route
// prefix decides which channel a request belongs to.
type API struct {
	auth         *auth.Service
	reset        *passreset.Service
	accounts     AccountReader
	sessions     SessionReader
	audit        AuditReader
	db           *sql.DB
	metrics      *obs.Metrics
	log          *zap.Logger
	cookieDomain string
	cookieSecure bool
	limiter      *ipLimiter
}

// Options carries the transport knobs.
type Options struct {
	CookieDomain       string
	CookieSecure       bool
	RateLimitPerSecond int
	RateLimitBurst     int
}

// New returns the API wired to its services. db is only pinged by /healthz
// and may be nil in tests.
func New(authSvc *auth.Service, resetSvc *passreset.Service, accounts AccountReader, sessions SessionReader, auditTrail AuditReader, db *sql.DB, metrics *obs.Metrics, log *zap.Logger, opts Options) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		auth:         authSvc,
		reset:        resetSvc,
		accounts:     accounts,
		sessions:     sessions,
		audit:        auditTrail,
		db:           db,
		metrics:      metrics,
		log:          log,
		cookieDomain: opts.CookieDomain,
		cookieSecure: opts.CookieSecure,
		limiter:      newIPLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst),
	}
}

// Router builds the full route table with middleware applied.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	register := func(pattern, route string, h http.HandlerFunc, limited bool) {
		var handler http.Handler = h
		if limited {
			handler = a.rateLimit(handler)
		}
		mux.Handle(pattern, a.metrics.Instrument(route, handler))
	}

	for _, ch := range []sessiondomain.Channel{sessiondomain.ChannelCustomer, sessiondomain.ChannelAdmin} {
		ch := ch
		base := "/v1/auth"
		if ch == sessiondomain.ChannelAdmin {
			base = "/v1/admin/auth"
		}
		register("POST "+base+"/login", base+"/login", func(w http.ResponseWriter, r *http.Request) { a.handleLogin(w, r, ch) }, true)
		register("POST "+base+"/refresh", base+"/refresh", func(w http.ResponseWriter, r *http.Request) { a.handleRefresh(w, r, ch) }, false)
		register("POST "+base+"/logout", base+"/logout", func(w http.ResponseWriter, r *http.Request) { a.handleLogout(w, r, ch) }, false)
		register("POST "+base+"/logout-all", base+"/logout-all", func(w http.ResponseWriter, r *http.Request) { a.handleLogoutAll(w, r, ch) }, false)
		mux.Handle("GET "+base+"/me", a.metrics.Instrument(base+"/me",
			a.authenticated(ch, http.HandlerFunc(a.handleMe))))
		mux.Handle("GET "+base+"/sessions", a.metrics.Instrument(base+"/sessions",
			a.authenticated(ch, http.HandlerFunc(a.handleSessions))))
	}

	mux.Handle("GET /v1/admin/auth/audit", a.metrics.Instrument("/v1/admin/auth/audit",
		a.authenticated(sessiondomain.ChannelAdmin, http.HandlerFunc(a.handleAudit))))

	register("POST /v1/auth/password-reset/request", "/v1/auth/password-reset/request", a.handleResetRequest, true)
	register("POST /v1/auth/password-reset/validate", "/v1/auth/password-reset/validate", a.handleResetValidate, true)
	register("POST /v1/auth/password-reset/complete", "/v1/auth/password-reset/complete", a.handleResetComplete, true)

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.Handle("GET /metrics", a.metrics.Handler())

	return a.requestLog(securityHeaders(mux))
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeAuthError maps service errors to responses. Everything
// credential-adjacent collapses to one generic message; the precise cause
// only reaches the audit trail and logs.
func (a *API) writeAuthError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":               "account temporarily locked",
			"retry_after_seconds": int(locked.Remaining.Seconds()) + 1,
		})
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account temporarily locked")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	case errors.Is(err, auth.ErrRevokedSession),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionInactive),
		errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrDeviceMismatch),
		errors.Is(err, security.ErrTokenMalformed),
		errors.Is(err, security.ErrTokenSignature),
		errors.Is(err, security.ErrTokenExpired),
		errors.Is(err, security.ErrTokenWrongClass),
		errors.Is(err, security.ErrTokenWrongChannel):
		writeError(w, http.StatusUnauthorized, "authentication required")
	default:
		a.log.Error("unhandled auth error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer. The deployment fronts this service with a trusted proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
