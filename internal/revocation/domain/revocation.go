package domain

import (
	"time"

	sessiondomain "storefront-auth/internal/session/domain"
)

// Entry is a denylist row. Either SessionAnchor is set (one session revoked)
// or AccountID+Channel are set (every session of the account on that channel
// revoked, regardless of the anchors issued so far). A matching entry makes an
// otherwise-valid token pair unusable until a new session is created.
type Entry struct {
	ID            string
	SessionAnchor string                // empty for account-wide entries
	AccountID     string                // empty for single-session entries
	Channel       sessiondomain.Channel // set with AccountID
	Reason        string
	CreatedAt     time.Time
}
