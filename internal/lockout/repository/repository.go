package repository

import (
	"context"
	"time"

	"storefront-auth/internal/lockout/domain"
)

// Repository defines persistence for failed-attempt records.
type Repository interface {
	Get(ctx context.Context, identifier, origin string) (*domain.Record, error)
	Upsert(ctx context.Context, r *domain.Record) error
	Delete(ctx context.Context, identifier, origin string) error
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}
