package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"storefront-auth/internal/lockout/domain"
)

// PostgresRepository persists failed-attempt records in login_attempts.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a lockout repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the record for (identifier, origin), or nil if none exists.
func (r *PostgresRepository) Get(ctx context.Context, identifier, origin string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT identifier, origin_address, attempt_count, locked_until, last_attempt_at
		 FROM login_attempts WHERE identifier = $1 AND origin_address = $2`,
		identifier, origin)
	var (
		rec    domain.Record
		locked sql.NullTime
	)
	err := row.Scan(&rec.Identifier, &rec.OriginAddress, &rec.AttemptCount, &locked, &rec.LastAttemptAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if locked.Valid {
		rec.LockedUntil = &locked.Time
	}
	return &rec, nil
}

// Upsert writes the record, inserting on first failure and overwriting
// counter state afterwards.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.Record) error {
	locked := sql.NullTime{}
	if rec.LockedUntil != nil {
		locked = sql.NullTime{Time: *rec.LockedUntil, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO login_attempts (identifier, origin_address, attempt_count, locked_until, last_attempt_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (identifier, origin_address)
		 DO UPDATE SET attempt_count = $3, locked_until = $4, last_attempt_at = $5`,
		rec.Identifier, rec.OriginAddress, rec.AttemptCount, locked, rec.LastAttemptAt)
	return err
}

// Delete clears the record. Missing rows are not an error.
func (r *PostgresRepository) Delete(ctx context.Context, identifier, origin string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE identifier = $1 AND origin_address = $2`,
		identifier, origin)
	return err
}

// PurgeStale deletes records whose last attempt predates cutoff and whose lock
// has passed. Storage hygiene only; correctness relies on lazy expiry on read.
func (r *PostgresRepository) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM login_attempts
		 WHERE last_attempt_at < $1 AND (locked_until IS NULL OR locked_until < $1)`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
