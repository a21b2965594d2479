package domain

import "time"

// Channel is the transport class a session was created through. Customer and
// admin sessions live in disjoint namespaces: a logout or revocation in one
// never touches the other.
type Channel string

const (
	ChannelCustomer Channel = "customer"
	ChannelAdmin    Channel = "admin"
)

// Session is one authenticated (account, device) pair. The anchor correlates
// an access/refresh token pair to exactly this row. Rows are deactivated, not
// deleted, on logout; they remain as an audit trail until purged.
type Session struct {
	Anchor          string
	AccountID       string
	Channel         Channel
	DeviceID        string
	DeviceMetadata  string
	OriginAddress   string
	ClientSignature string // user agent
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastActivityAt  time.Time
	IsActive        bool
}

// Expired reports whether the session row has passed its expiry at the given instant.
func (s *Session) Expired(at time.Time) bool {
	return at.After(s.ExpiresAt)
}
