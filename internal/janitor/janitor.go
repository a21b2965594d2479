// Package janitor compacts expired and retired rows on a timer.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storefront-auth/internal/obs"
)

// SessionCompactor covers the session-store sweep operations.
type SessionCompactor interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockoutCompactor purges stale failed-attempt rows.
type LockoutCompactor interface {
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResetCompactor purges consumed and expired reset tokens.
type ResetCompactor interface {
	PurgeDead(ctx context.Context, now time.Time) (int64, error)
}

// RevocationCompactor purges registry entries past the token horizon.
type RevocationCompactor interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor sweeps the four stores. Rows never need the janitor for
// correctness: sessions, locks, reset tokens and revocations all expire
// lazily on read. The sweep only keeps table sizes bounded.
type Janitor struct {
	sessions    SessionCompactor
	lockouts    LockoutCompactor
	resets      ResetCompactor
	revocations RevocationCompactor

	interval time.Duration
	// retention is how long deactivated session rows stay queryable as an
	// audit trail before being purged.
	retention time.Duration
	// tokenHorizon is the refresh-token lifetime; a revocation entry older
	// than that matches no live token and can go.
	tokenHorizon time.Duration

	metrics *obs.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// New returns a Janitor with the given sweep policy.
func New(
	sessions SessionCompactor,
	lockouts LockoutCompactor,
	resets ResetCompactor,
	revocations RevocationCompactor,
	interval, retention, tokenHorizon time.Duration,
	metrics *obs.Metrics,
	log *zap.Logger,
) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{
		sessions:     sessions,
		lockouts:     lockouts,
		resets:       resets,
		revocations:  revocations,
		interval:     interval,
		retention:    retention,
		tokenHorizon: tokenHorizon,
		metrics:      metrics,
		log:          log,
		now:          time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (j *Janitor) WithClock(fn func() time.Time) *Janitor {
	if fn != nil {
		j.now = fn
	}
	return j
}

// Run sweeps once per interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one compaction pass. Each store is swept independently; a
// failure in one does not stop the others.
func (j *Janitor) Sweep(ctx context.Context) {
	now := j.now().UTC()

	if n, err := j.sessions.DeactivateExpired(ctx, now); err != nil {
		j.log.Warn("deactivating expired sessions failed", zap.Error(err))
	} else {
		j.metrics.JanitorPurged("sessions_expired", n)
		j.logSwept("expired sessions deactivated", n)
	}
	if n, err := j.sessions.PurgeInactiveBefore(ctx, now.Add(-j.retention)); err != nil {
		j.log.Warn("purging retired sessions failed", zap.Error(err))
	} else {
		j.metrics.JanitorPurged("sessions", n)
		j.logSwept("retired sessions purged", n)
	}
	if n, err := j.lockouts.PurgeStale(ctx, now.Add(-j.tokenHorizon)); err != nil {
		j.log.Warn("purging stale lockouts failed", zap.Error(err))
	} else {
		j.metrics.JanitorPurged("login_attempts", n)
		j.logSwept("stale lockout rows purged", n)
	}
	if n, err := j.resets.PurgeDead(ctx, now); err != nil {
		j.log.Warn("purging dead reset tokens failed", zap.Error(err))
	} else {
		j.metrics.JanitorPurged("password_reset_tokens", n)
		j.logSwept("dead reset tokens purged", n)
	}
	if n, err := j.revocations.PurgeBefore(ctx, now.Add(-j.tokenHorizon)); err != nil {
		j.log.Warn("purging old revocations failed", zap.Error(err))
	} else {
		j.metrics.JanitorPurged("revocations", n)
		j.logSwept("old revocation entries purged", n)
	}
}

func (j *Janitor) logSwept(msg string, n int64) {
	if n > 0 {
		j.log.Info(msg, zap.Int64("rows", n))
	}
}
