package models

import "time"

// User is an account row. PasswordHash never leaves the service layer;
// ProfilePictureURL is derived (signed) and never persisted.
type User struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	ProfilePictureKey string
	ProfilePictureURL string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
