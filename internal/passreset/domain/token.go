package domain

import "time"

// Token is a single-use password-reset token row. Only the SHA-256 hash of
// the token secret is stored; the raw secret travels once, in the reset mail.
// At most one unconsumed, unexpired token exists per account: issuing a new
// one deletes all prior tokens for that account.
type Token struct {
	ID         string
	AccountID  string
	SecretHash string
	ExpiresAt  time.Time
	Consumed   bool
	CreatedAt  time.Time
}

// Expired reports whether the token has passed its expiry at the given instant.
func (t *Token) Expired(at time.Time) bool {
	return at.After(t.ExpiresAt)
}
