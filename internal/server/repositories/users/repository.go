// Package users provides the PostgreSQL-backed user directory consumed by
// the authentication and account-management services.
package users

import (
	"context"

	"github.com/dmitrijs2005/accountd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	// UpdateProfilePicture stores the object key of the uploaded picture.
	// Reports whether a user row was updated.
	UpdateProfilePicture(ctx context.Context, id string, key string) (bool, error)
}
