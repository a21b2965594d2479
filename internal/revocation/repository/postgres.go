package repository

import (
	"context"
	"database/sql"
	"time"

	"storefront-auth/internal/revocation/domain"
	sessiondomain "storefront-auth/internal/session/domain"
)

// PostgresRepository persists revocation entries.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a revocation repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Add inserts a registry entry. Anchor entries and account-wide entries use
// the same table; exactly one of the two shapes must be populated.
func (r *PostgresRepository) Add(ctx context.Context, e *domain.Entry) error {
	anchor := sql.NullString{String: e.SessionAnchor, Valid: e.SessionAnchor != ""}
	account := sql.NullString{String: e.AccountID, Valid: e.AccountID != ""}
	channel := sql.NullString{String: string(e.Channel), Valid: e.Channel != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revocations (id, session_anchor, account_id, channel, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, anchor, account, channel, e.Reason, e.CreatedAt)
	return err
}

// IsRevoked reports whether anchor, or the whole account on channel, is
// denylisted for a token issued at issuedAt. Account-wide entries only match
// tokens issued strictly before they were written, so sessions opened after a
// global logout are unaffected.
func (r *PostgresRepository) IsRevoked(ctx context.Context, anchor, accountID string, channel sessiondomain.Channel, issuedAt time.Time) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM revocations
			WHERE session_anchor = $1
			   OR (account_id = $2 AND channel = $3 AND created_at > $4)
		 )`, anchor, accountID, channel, issuedAt).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// PurgeBefore deletes entries older than cutoff. Safe once every token that an
// entry could match has passed its natural refresh expiry.
func (r *PostgresRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM revocations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
