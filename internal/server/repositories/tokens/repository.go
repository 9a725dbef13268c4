// Package tokens declares the repository contract for refresh-token records,
// the source of truth for token validity.
package tokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/accountd/internal/server/models"
)

// Repository defines operations over persisted refresh-token records. Raw
// tokens are hashed inside the repository; callers never see or pass digests.
//
// Implementations are bound to a dbx.DBTX, so the same repository code runs
// against the pool or inside a transaction the caller drives.
type Repository interface {
	// Create hashes rawToken and inserts a record for userID expiring at
	// now()+validity, where now() is the database clock.
	Create(ctx context.Context, userID string, rawToken string, validity time.Duration) (*models.Token, error)

	// Find hashes rawToken and returns the matching record together with the
	// database's current time, so expiry comparisons use the store clock.
	// Returns common.ErrorNotFound when the hash is unknown.
	Find(ctx context.Context, rawToken string) (*models.Token, time.Time, error)

	// Revoke sets revoked_at on the record iff it is still unset. Reports
	// whether this call performed the revocation; revoking an already-revoked
	// record is a no-op, not an error.
	Revoke(ctx context.Context, id string) (bool, error)

	// RevokeAllForUser revokes every active record owned by userID and
	// returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteStale removes records whose expiry has passed or whose
	// revocation is older than the retention window. Returns the number of
	// rows deleted.
	DeleteStale(ctx context.Context, retention time.Duration) (int64, error)
}
