package repository

import (
	"context"

	"storefront-auth/internal/audit/domain"
)

// Repository defines persistence for auth audit events.
type Repository interface {
	Create(ctx context.Context, e *domain.AuthEvent) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuthEvent, error)
}
