package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront-auth/internal/passreset/domain"
)

// PostgresRepository persists reset tokens in password_reset_tokens.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a reset-token repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the token row for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, secret_hash, expires_at, consumed, created_at
		 FROM password_reset_tokens WHERE id = $1`, id)
	var t domain.Token
	err := row.Scan(&t.ID, &t.AccountID, &t.SecretHash, &t.ExpiresAt, &t.Consumed, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Replace deletes all prior tokens for the account and inserts t in one
// transaction, keeping the at-most-one-live-token invariant.
func (r *PostgresRepository) Replace(ctx context.Context, t *domain.Token) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE account_id = $1`, t.AccountID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, account_id, secret_hash, expires_at, consumed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.AccountID, t.SecretHash, t.ExpiresAt, t.Consumed, t.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkConsumed sets consumed on the token row.
func (r *PostgresRepository) MarkConsumed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET consumed = TRUE WHERE id = $1`, id)
	return err
}

// CompleteReset updates the account password and consumes the token in one
// transaction. The password write goes first; if consuming fails the whole
// transaction rolls back, so the token is never burned without the new
// password landing.
func (r *PostgresRepository) CompleteReset(ctx context.Context, tokenID, accountID, passwordHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`,
		accountID, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("complete reset: account %s not found", accountID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE password_reset_tokens SET consumed = TRUE WHERE id = $1`, tokenID); err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeDead deletes consumed and expired tokens.
func (r *PostgresRepository) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE consumed OR expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
