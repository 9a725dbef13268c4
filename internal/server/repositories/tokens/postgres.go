package tokens

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/accountd/internal/common"
	"github.com/dmitrijs2005/accountd/internal/dbx"
	"github.com/dmitrijs2005/accountd/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// hashToken returns the hex sha256 digest stored in place of the raw token.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Create inserts a new refresh record. The expiry is computed from the
// database clock, not the application clock.
func (r *PostgresRepository) Create(ctx context.Context, userID string, rawToken string, validity time.Duration) (*models.Token, error) {
	query := `
		INSERT INTO tokens (user_id, token_hash, token_type, expires_at)
		VALUES ($1, $2, 'refresh', now() + make_interval(secs => $3))
		RETURNING id, created_at, expires_at
	`
	token := &models.Token{
		UserID:    userID,
		TokenHash: hashToken(rawToken),
		TokenType: "refresh",
	}
	err := r.db.QueryRowContext(ctx, query, userID, token.TokenHash, validity.Seconds()).
		Scan(&token.ID, &token.CreatedAt, &token.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// same raw token inserted twice; only possible when two
			// rotations race on the same record
			return nil, common.ErrTokenReuse
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

// Find returns the record for the raw token plus the database's now(),
// so the caller compares expiry against the transaction-time clock.
func (r *PostgresRepository) Find(ctx context.Context, rawToken string) (*models.Token, time.Time, error) {
	query := `
		SELECT id, user_id, token_hash, token_type, created_at, expires_at, revoked_at, now()
		FROM tokens
		WHERE token_hash = $1
	`
	token := &models.Token{}
	var dbNow time.Time
	err := r.db.QueryRowContext(ctx, query, hashToken(rawToken)).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.TokenType,
		&token.CreatedAt, &token.ExpiresAt, &token.RevokedAt, &dbNow,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, common.ErrorNotFound
		}
		return nil, time.Time{}, fmt.Errorf("db error: %w", err)
	}
	return token, dbNow, nil
}

// Revoke marks the record revoked iff it has not been revoked before.
// Revocation is monotonic: revoked_at is never cleared or overwritten.
func (r *PostgresRepository) Revoke(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE tokens
		SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

// RevokeAllForUser revokes every active record for the user.
func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE tokens
		SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// DeleteStale purges expired records immediately and revoked records once
// the retention window has passed.
func (r *PostgresRepository) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM tokens
		WHERE expires_at < now()
		   OR revoked_at < now() - make_interval(secs => $1)
	`
	res, err := r.db.ExecContext(ctx, query, retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
