package repository

import (
	"context"
	"time"

	"storefront-auth/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByAnchor(ctx context.Context, anchor string) (*domain.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string, channel domain.Channel) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Deactivate(ctx context.Context, anchor string) error
	DeactivateByDevice(ctx context.Context, accountID string, channel domain.Channel, deviceID string) error
	DeactivateAllByAccount(ctx context.Context, accountID string, channel domain.Channel) error
	Touch(ctx context.Context, anchor string, lastActivityAt, expiresAt time.Time) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
