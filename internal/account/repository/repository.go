package repository

import (
	"context"

	"storefront-auth/internal/account/domain"
)

// Repository defines read access to the credential store.
type Repository interface {
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
}
