// Package obs holds the Prometheus instrumentation surface.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metric set. A nil *Metrics is a valid no-op
// recorder, so wiring stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	loginAttempts  *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	logouts        *prometheus.CounterVec
	resetRequests  prometheus.Counter
	janitorPurged  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds and registers the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_refreshes_total",
			Help: "Refresh attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Logouts by channel and scope (device or account).",
		}, []string{"channel", "scope"}),
		resetRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_password_reset_requests_total",
			Help: "Password reset requests accepted.",
		}),
		janitorPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_janitor_purged_rows_total",
			Help: "Rows removed by the janitor, by table.",
		}, []string{"table"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.loginAttempts, m.tokenRefreshes, m.logouts, m.resetRequests,
		m.janitorPurged, m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Login records one login attempt.
func (m *Metrics) Login(channel, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(channel, outcome).Inc()
}

// Refresh records one refresh attempt.
func (m *Metrics) Refresh(channel, outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(channel, outcome).Inc()
}

// Logout records one logout; scope is "device" or "account".
func (m *Metrics) Logout(channel, scope string) {
	if m == nil {
		return
	}
	m.logouts.WithLabelValues(channel, scope).Inc()
}

// ResetRequest records one accepted password-reset request.
func (m *Metrics) ResetRequest() {
	if m == nil {
		return
	}
	m.resetRequests.Inc()
}

// JanitorPurged records rows removed from the named table.
func (m *Metrics) JanitorPurged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.janitorPurged.WithLabelValues(table).Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps next with request counting and latency observation. The
// route label is the caller-supplied pattern, not the raw URL, so cardinality
// stays bounded.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
