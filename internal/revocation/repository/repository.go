package repository

import (
	"context"
	"time"

	"storefront-auth/internal/revocation/domain"
	sessiondomain "storefront-auth/internal/session/domain"
)

// Repository defines persistence for the revocation registry.
type Repository interface {
	Add(ctx context.Context, e *domain.Entry) error
	// IsRevoked reports whether the given anchor, or the account as a whole on
	// the given channel, has a registry entry covering a token issued at
	// issuedAt. Account-wide entries match only tokens issued before the entry
	// was written, so a session opened after a global logout is unaffected.
	IsRevoked(ctx context.Context, anchor, accountID string, channel sessiondomain.Channel, issuedAt time.Time) (bool, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
