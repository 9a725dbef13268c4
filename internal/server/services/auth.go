// Package services contains server-side business logic. This file implements
// AuthService: credential verification, token-pair issuance, and the
// rotate-on-refresh protocol over the token store.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/accountd/internal/common"
	"github.com/dmitrijs2005/accountd/internal/dbx"
	"github.com/dmitrijs2005/accountd/internal/logging"
	"github.com/dmitrijs2005/accountd/internal/server/auth"
	"github.com/dmitrijs2005/accountd/internal/server/config"
	"github.com/dmitrijs2005/accountd/internal/server/models"
	"github.com/dmitrijs2005/accountd/internal/server/repositories/repomanager"
	"golang.org/x/crypto/bcrypt"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// dummyPasswordHash is compared against when the email is unknown, so a
// login against a missing account costs about as much as one against a
// real account.
var dummyPasswordHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// AuthService provides authentication operations:
//   - Login: verify credentials and mint a token pair
//   - Refresh: rotate the refresh token atomically and mint a new pair
//   - Logout: revoke a single refresh token
type AuthService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	logger                       logging.Logger
	accessTokenSecret            []byte
	refreshTokenSecret           []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	revokeOnReuse                bool
}

// NewAuthService constructs an AuthService using repositories and server config.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *AuthService {
	return &AuthService{
		db:                           db,
		repomanager:                  m,
		logger:                       logger.With("module", "auth_service"),
		accessTokenSecret:            []byte(cfg.AccessTokenSecret),
		refreshTokenSecret:           []byte(cfg.RefreshTokenSecret),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		revokeOnReuse:                cfg.RevokeOnReuse,
	}
}

// Login verifies the email/password pair and, on success, returns the public
// profile and a fresh token pair. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// burn comparable time before reporting failure
			_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return nil, nil, common.ErrInvalidCredentials
		}
		return nil, nil, common.ErrStoreUnavailable
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, common.ErrInvalidCredentials
	}

	pair, err := s.generateTokenPair(ctx, user, s.db)
	if err != nil {
		s.logger.Error(ctx, "minting token pair failed", "user_id", user.ID, "error", err.Error())
		return nil, nil, common.ErrStoreUnavailable
	}

	user.PasswordHash = ""
	return user, pair, nil
}

// Refresh validates a refresh token and rotates it: the old record is
// revoked and the new one inserted inside a single transaction, so no
// instant exists where both are usable. Presenting an already-rotated or
// revoked token yields ErrTokenReuse and, when configured, revokes every
// token of the owner.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.User, *TokenPair, error) {
	if _, err := auth.GetIdentityFromToken(refreshToken, s.refreshTokenSecret); err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, nil, common.ErrTokenExpired
		}
		return nil, nil, common.ErrInvalidToken
	}

	repo := s.repomanager.Tokens(s.db)

	record, dbNow, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrInvalidToken
		}
		return nil, nil, common.ErrStoreUnavailable
	}

	if record.RevokedAt != nil {
		s.handleReuse(ctx, record)
		return nil, nil, common.ErrTokenReuse
	}

	// expiry is exclusive: a record expiring exactly now is already dead
	if !record.ExpiresAt.After(dbNow) {
		return nil, nil, common.ErrTokenExpired
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrInvalidToken
		}
		return nil, nil, common.ErrStoreUnavailable
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repoTx := s.repomanager.Tokens(tx)

		revoked, err := repoTx.Revoke(ctx, record.ID)
		if err != nil {
			return err
		}
		if !revoked {
			// a concurrent refresh rotated this record first
			return common.ErrTokenReuse
		}

		var genErr error
		pair, genErr = s.generateTokenPair(ctx, user, tx)
		return genErr
	}); err != nil {
		return nil, nil, s.mapRotationError(ctx, err)
	}

	user.PasswordHash = ""
	return user, pair, nil
}

// Logout revokes a single refresh token; no successor is issued. Unknown and
// already-revoked tokens report ErrorNotFound, so a second logout with the
// same token fails.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	repo := s.repomanager.Tokens(s.db)

	record, _, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrStoreUnavailable
	}
	if record.RevokedAt != nil {
		return common.ErrorNotFound
	}

	revoked, err := repo.Revoke(ctx, record.ID)
	if err != nil {
		return common.ErrStoreUnavailable
	}
	if !revoked {
		return common.ErrorNotFound
	}
	return nil
}

// RevokeAll revokes every refresh token owned by userID.
func (s *AuthService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.Tokens(s.db).RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, common.ErrStoreUnavailable
	}
	return n, nil
}

// VerifyAccessToken checks a bearer credential and returns the embedded
// identity. Stateless: no store lookup happens here.
func (s *AuthService) VerifyAccessToken(tokenString string) (*auth.Identity, error) {
	return auth.GetIdentityFromToken(tokenString, s.accessTokenSecret)
}

// --- helpers below ---

func (s *AuthService) handleReuse(ctx context.Context, record *models.Token) {
	s.logger.Warn(ctx, "refresh token reuse detected", "token_id", record.ID, "user_id", record.UserID)
	if !s.revokeOnReuse {
		return
	}
	n, err := s.repomanager.Tokens(s.db).RevokeAllForUser(ctx, record.UserID)
	if err != nil {
		s.logger.Error(ctx, "revoking user tokens after reuse failed", "user_id", record.UserID, "error", err.Error())
		return
	}
	s.logger.Info(ctx, "revoked all tokens after reuse", "user_id", record.UserID, "revoked", n)
}

// mapRotationError keeps sentinel errors and folds everything else (driver
// failures, rollback causes) into ErrStoreUnavailable.
func (s *AuthService) mapRotationError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrTokenReuse):
		return common.ErrTokenReuse
	case errors.Is(err, common.ErrorInternal):
		return common.ErrorInternal
	default:
		s.logger.Error(ctx, "rotation failed", "error", err.Error())
		return common.ErrStoreUnavailable
	}
}

func (s *AuthService) identityOf(user *models.User) auth.Identity {
	return auth.Identity{ID: user.ID, Name: user.Name, Email: user.Email}
}

func (s *AuthService) generateTokenPair(ctx context.Context, user *models.User, db dbx.DBTX) (*TokenPair, error) {
	identity := s.identityOf(user)

	access, err := auth.GenerateToken(identity, s.accessTokenSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := auth.GenerateToken(identity, s.refreshTokenSecret, s.refreshTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}

	repo := s.repomanager.Tokens(db)
	if _, err := repo.Create(ctx, user.ID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
