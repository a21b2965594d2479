package repository

import (
	"context"
	"database/sql"

	"storefront-auth/internal/audit/domain"
)

// PostgresRepository persists auth audit events.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts one audit row.
func (r *PostgresRepository) Create(ctx context.Context, e *domain.AuthEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_audit_log (id, account_id, channel, action, origin_address, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.AccountID, e.Channel, e.Action, e.OriginAddress, e.Metadata, e.CreatedAt)
	return err
}

// ListByAccount returns audit events for the account, newest first.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuthEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, channel, action, origin_address, metadata, created_at
		 FROM auth_audit_log WHERE account_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuthEvent
	for rows.Next() {
		var e domain.AuthEvent
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Channel, &e.Action, &e.OriginAddress, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
