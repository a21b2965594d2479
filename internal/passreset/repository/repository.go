package repository

import (
	"context"
	"time"

	"storefront-auth/internal/passreset/domain"
)

// Repository defines persistence for password-reset tokens.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Token, error)
	// Replace deletes every prior token for the account and inserts t, atomically.
	Replace(ctx context.Context, t *domain.Token) error
	MarkConsumed(ctx context.Context, id string) error
	// CompleteReset writes the account's new password hash and consumes the
	// token in one transaction. A crash rolls both back together.
	CompleteReset(ctx context.Context, tokenID, accountID, passwordHash string) error
	PurgeDead(ctx context.Context, now time.Time) (int64, error)
}
