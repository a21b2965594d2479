package auth

import (
	"errors"
	"time"
)

// Sentinel errors for the session lifecycle. The HTTP layer collapses the
// credential-adjacent ones to a single generic response; the audit trail
// keeps the precise cause.
var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// password, deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the brute-force lock is in effect.
	ErrAccountLocked = errors.New("account temporarily locked")
	// ErrRevokedSession means the token's anchor or account has a registry entry.
	ErrRevokedSession = errors.New("session revoked")
	// ErrSessionNotFound means the anchor resolves to no row.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive means the row exists but was already deactivated.
	ErrSessionInactive = errors.New("session inactive")
	// ErrSessionExpired means the row passed its expiry before the refresh.
	ErrSessionExpired = errors.New("session expired")
	// ErrDeviceMismatch means the refresh came from a device other than the
	// one the session was created for.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrStorageUnavailable wraps backing-store failures on paths that must
	// fail closed.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// LockedError carries the remaining lock duration alongside ErrAccountLocked.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string { return ErrAccountLocked.Error() }

// Unwrap lets errors.Is(err, ErrAccountLocked) match.
func (e *LockedError) Unwrap() error { return ErrAccountLocked }
