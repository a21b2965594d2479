// Package lockout gates authentication attempts with persistent per-(identifier,
// origin) failure counters.
package lockout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"storefront-auth/internal/lockout/domain"
	"storefront-auth/internal/lockout/repository"
)

// Status is the tracker's answer for one (identifier, origin) pair.
type Status struct {
	Locked    bool
	Attempts  int
	Remaining time.Duration // until the lock lifts; zero when not locked
}

// Tracker decides whether authentication attempts are permitted. It fails
// open: when the backing store is unreachable the attempt is allowed and the
// failure is only logged. Availability wins over lockout strictness here; the
// credential check itself still stands between the caller and a session.
type Tracker struct {
	repo        repository.Repository
	maxAttempts int
	lockFor     time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewTracker returns a Tracker with the given policy.
func NewTracker(repo repository.Repository, maxAttempts int, lockFor time.Duration, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		repo:        repo,
		maxAttempts: maxAttempts,
		lockFor:     lockFor,
		log:         log,
		now:         time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (t *Tracker) WithClock(fn func() time.Time) *Tracker {
	if fn != nil {
		t.now = fn
	}
	return t
}

// Check reports whether the pair is currently locked. A lock whose deadline
// has passed is reset to zero in place (lazy expiry); no background sweep is
// needed for correctness.
func (t *Tracker) Check(ctx context.Context, identifier, origin string) Status {
	rec, err := t.repo.Get(ctx, identifier, origin)
	if err != nil {
		t.log.Warn("lockout check failed open", zap.String("identifier", identifier), zap.Error(err))
		return Status{}
	}
	if rec == nil {
		return Status{}
	}
	now := t.now().UTC()
	if rec.Locked(now) {
		return Status{Locked: true, Attempts: rec.AttemptCount, Remaining: rec.LockedUntil.Sub(now)}
	}
	if rec.LockedUntil != nil {
		// Lock has lapsed: zero the counter so the next failure starts fresh.
		rec.AttemptCount = 0
		rec.LockedUntil = nil
		rec.LastAttemptAt = now
		if err := t.repo.Upsert(ctx, rec); err != nil {
			t.log.Warn("lockout lazy reset failed", zap.String("identifier", identifier), zap.Error(err))
		}
	}
	return Status{Attempts: rec.AttemptCount}
}

// RecordFailure increments the counter and applies a lock once the attempt
// threshold is reached. Best-effort: storage errors are logged, not returned.
func (t *Tracker) RecordFailure(ctx context.Context, identifier, origin string) Status {
	now := t.now().UTC()
	rec, err := t.repo.Get(ctx, identifier, origin)
	if err != nil {
		t.log.Warn("lockout record failed open", zap.String("identifier", identifier), zap.Error(err))
		return Status{}
	}
	if rec == nil {
		rec = &domain.Record{Identifier: identifier, OriginAddress: origin}
	}
	if rec.LockedUntil != nil && !rec.Locked(now) {
		rec.AttemptCount = 0
		rec.LockedUntil = nil
	}
	rec.AttemptCount++
	rec.LastAttemptAt = now
	if rec.AttemptCount >= t.maxAttempts {
		until := now.Add(t.lockFor)
		rec.LockedUntil = &until
	}
	if err := t.repo.Upsert(ctx, rec); err != nil {
		t.log.Warn("lockout record write failed", zap.String("identifier", identifier), zap.Error(err))
		return Status{Attempts: rec.AttemptCount}
	}
	st := Status{Attempts: rec.AttemptCount}
	if rec.Locked(now) {
		st.Locked = true
		st.Remaining = rec.LockedUntil.Sub(now)
	}
	return st
}

// Reset clears the pair's record after a successful authentication.
func (t *Tracker) Reset(ctx context.Context, identifier, origin string) {
	if err := t.repo.Delete(ctx, identifier, origin); err != nil {
		t.log.Warn("lockout reset failed", zap.String("identifier", identifier), zap.Error(err))
	}
}
