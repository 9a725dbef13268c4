package models

import "time"

// Token is a persisted refresh-token record. Only the sha256 digest of the
// raw token is stored. RevokedAt is nil while the record is still usable;
// once set it is never cleared.
type Token struct {
	ID        string
	UserID    string
	TokenHash string
	TokenType string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}
