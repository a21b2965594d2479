package domain

import "time"

// AuthEvent is one row in the auth audit trail.
type AuthEvent struct {
	ID            string
	AccountID     string // empty for failures against unknown identifiers
	Channel       string
	Action        string // e.g. login_success, login_failure, lockout, refresh, logout, logout_all, reset_request, reset_complete
	OriginAddress string
	Metadata      string
	CreatedAt     time.Time
}
