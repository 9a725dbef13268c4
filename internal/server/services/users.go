package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/accountd/internal/common"
	"github.com/dmitrijs2005/accountd/internal/logging"
	"github.com/dmitrijs2005/accountd/internal/server/models"
	"github.com/dmitrijs2005/accountd/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// BlobStore is the storage capability UserService consumes; satisfied by
// *StorageService.
type BlobStore interface {
	Upload(ctx context.Context, body []byte, contentType string) (string, error)
	SignedGetURL(ctx context.Context, key string) (string, error)
}

// UserService implements account management: registration, profile reads,
// and profile-picture updates.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	storage     BlobStore
	logger      logging.Logger
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, storage BlobStore, logger logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		storage:     storage,
		logger:      logger.With("module", "user_service"),
	}
}

// Register creates a new account. The password is hashed before it reaches
// the repository; duplicate emails surface as ErrEmailExists.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{Name: name, Email: email, PasswordHash: string(hash)}

	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrEmailExists) {
			return nil, common.ErrEmailExists
		}
		return nil, common.ErrStoreUnavailable
	}

	u.PasswordHash = ""
	return u, nil
}

// GetByID returns the public profile. When a profile picture is stored, the
// response carries a signed URL; a signing failure degrades to the bare key
// rather than failing the whole read.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, common.ErrStoreUnavailable
	}

	user.PasswordHash = ""

	if user.ProfilePictureKey != "" {
		url, err := s.storage.SignedGetURL(ctx, user.ProfilePictureKey)
		if err != nil {
			s.logger.Error(ctx, "signing profile picture url failed", "user_id", user.ID, "error", err.Error())
			user.ProfilePictureURL = user.ProfilePictureKey
		} else {
			user.ProfilePictureURL = url
		}
	}

	return user, nil
}

// List returns all public profiles. Picture URLs are not signed here; the
// single-profile endpoints do that.
func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	repo := s.repomanager.Users(s.db)

	list, err := repo.List(ctx)
	if err != nil {
		return nil, common.ErrStoreUnavailable
	}
	return list, nil
}

// SetProfilePicture uploads the picture and records its object key on the
// user row. Returns the stored key.
func (s *UserService) SetProfilePicture(ctx context.Context, userID string, body []byte, contentType string) (string, error) {
	key, err := s.storage.Upload(ctx, body, contentType)
	if err != nil {
		s.logger.Error(ctx, "profile picture upload failed", "user_id", userID, "error", err.Error())
		return "", common.ErrorInternal
	}

	repo := s.repomanager.Users(s.db)
	ok, err := repo.UpdateProfilePicture(ctx, userID, key)
	if err != nil {
		return "", common.ErrStoreUnavailable
	}
	if !ok {
		return "", common.ErrorNotFound
	}
	return key, nil
}
