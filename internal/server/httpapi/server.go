// Package httpapi exposes the REST surface of accountd: authentication
// endpoints, account management, and profile-picture handling.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dmitrijs2005/accountd/internal/logging"
	intauth "github.com/dmitrijs2005/accountd/internal/server/auth"
	"github.com/dmitrijs2005/accountd/internal/server/config"
	"github.com/dmitrijs2005/accountd/internal/server/models"
	"github.com/dmitrijs2005/accountd/internal/server/services"
)

// AuthProvider is the slice of AuthService the HTTP layer consumes.
type AuthProvider interface {
	Login(ctx context.Context, email, password string) (*models.User, *services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.User, *services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
	VerifyAccessToken(tokenString string) (*intauth.Identity, error)
}

// UserProvider is the slice of UserService the HTTP layer consumes.
type UserProvider interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	SetProfilePicture(ctx context.Context, userID string, body []byte, contentType string) (string, error)
}

type Server struct {
	address        string
	auth           AuthProvider
	users          UserProvider
	logger         logging.Logger
	loginRateLimit float64
}

func NewServer(cfg *config.Config, auth AuthProvider, users UserProvider, logger logging.Logger) *Server {
	return &Server{
		address:        cfg.EndpointAddrHTTP,
		auth:           auth,
		users:          users,
		logger:         logger.With("module", "http_server"),
		loginRateLimit: cfg.LoginRateLimit,
	}
}

// Run starts the HTTP server and blocks until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	e := s.buildEcho()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown failed", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "starting HTTP server", "address", s.address)

	if err := e.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// key rate limiting on the peer address, not forwarding headers
	e.IPExtractor = echo.ExtractIPDirect()
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)

	bearer := BearerAuth(s.auth.VerifyAccessToken)

	a := e.Group("/auth")
	a.POST("/login", s.handleLogin, RateLimitByIP(s.loginRateLimit))
	a.POST("/refresh", s.handleRefresh)
	a.POST("/logout", s.handleLogout)
	a.POST("/logout-all", s.handleLogoutAll, bearer)
	a.GET("/me", s.handleMe, bearer)

	u := e.Group("/users")
	u.POST("", s.handleCreateUser)
	u.GET("", s.handleListUsers)
	u.GET("/:id", s.handleGetUser)
	u.POST("/:id/profile-picture", s.handleSetProfilePicture, bearer)

	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "OK"})
}
