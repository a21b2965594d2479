package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront-auth/internal/session/domain"
)

const sessionColumns = `anchor, account_id, channel, device_id, device_metadata,
	origin_address, client_signature, created_at, expires_at, last_activity_at, is_active`

// PostgresRepository persists sessions in the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByAnchor returns the session for anchor, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByAnchor(ctx context.Context, anchor string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE anchor = $1`, anchor)
	var s domain.Session
	err := row.Scan(&s.Anchor, &s.AccountID, &s.Channel, &s.DeviceID, &s.DeviceMetadata,
		&s.OriginAddress, &s.ClientSignature, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt, &s.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListActiveByAccount returns all active sessions for the account on the given channel.
func (r *PostgresRepository) ListActiveByAccount(ctx context.Context, accountID string, channel domain.Channel) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id = $1 AND channel = $2 AND is_active
		 ORDER BY created_at ASC`, accountID, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.Anchor, &s.AccountID, &s.Channel, &s.DeviceID, &s.DeviceMetadata,
			&s.OriginAddress, &s.ClientSignature, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have Anchor set and be active.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.Anchor, s.AccountID, s.Channel, s.DeviceID, s.DeviceMetadata,
		s.OriginAddress, s.ClientSignature, s.CreatedAt, s.ExpiresAt, s.LastActivityAt, s.IsActive)
	return err
}

// Deactivate marks the session for anchor inactive. Deactivating an already
// inactive or missing session is not an error.
func (r *PostgresRepository) Deactivate(ctx context.Context, anchor string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE anchor = $1`, anchor)
	return err
}

// DeactivateByDevice marks any active session for (account, channel, device)
// inactive. Called before creating a replacement session for the same device.
func (r *PostgresRepository) DeactivateByDevice(ctx context.Context, accountID string, channel domain.Channel, deviceID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE
		 WHERE account_id = $1 AND channel = $2 AND device_id = $3 AND is_active`,
		accountID, channel, deviceID)
	return err
}

// DeactivateAllByAccount marks every active session for the account on the
// given channel inactive. Sessions on the other channel are untouched.
func (r *PostgresRepository) DeactivateAllByAccount(ctx context.Context, accountID string, channel domain.Channel) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE
		 WHERE account_id = $1 AND channel = $2 AND is_active`,
		accountID, channel)
	return err
}

// Touch updates activity and expiry on refresh. A single UPDATE, so concurrent
// refreshes of the same session are safe; both writes are commutative.
func (r *PostgresRepository) Touch(ctx context.Context, anchor string, lastActivityAt, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $2, expires_at = $3 WHERE anchor = $1`,
		anchor, lastActivityAt, expiresAt)
	return err
}

// DeactivateExpired marks every active session past its expiry inactive and
// returns the number of rows affected.
func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = FALSE WHERE is_active AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeInactiveBefore deletes inactive sessions whose expiry predates cutoff.
// The retention window is an operational concern; correctness never depends on it.
func (r *PostgresRepository) PurgeInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE NOT is_active AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
