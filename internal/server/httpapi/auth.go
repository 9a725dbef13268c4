package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/accountd/internal/common"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	User         *userResponse `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid request body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "email and password are required"})
	}

	ctx := c.Request().Context()

	user, pair, err := s.auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}

	s.logger.Info(ctx, "user logged in", "user_id", user.ID)

	return c.JSON(http.StatusOK, tokenPairResponse{
		User:         toUserResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid request body"})
	}
	if req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "refresh token is required"})
	}

	user, pair, err := s.auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, tokenPairResponse{
		User:         toUserResponse(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleLogout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid request body"})
	}
	if req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "refresh token is required"})
	}

	if err := s.auth.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"message": "token not found or already revoked"})
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "logged out successfully"})
}

func (s *Server) handleLogoutAll(c echo.Context) error {
	identity, ok := identityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "no token provided"})
	}

	ctx := c.Request().Context()

	n, err := s.auth.RevokeAll(ctx, identity.ID)
	if err != nil {
		return writeError(c, err)
	}

	s.logger.Info(ctx, "user logged out everywhere", "user_id", identity.ID, "revoked", n)

	return c.JSON(http.StatusOK, echo.Map{"message": "logged out from all devices successfully", "revoked": n})
}

func (s *Server) handleMe(c echo.Context) error {
	identity, ok := identityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "no token provided"})
	}

	user, err := s.users.GetByID(c.Request().Context(), identity.ID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, toUserResponse(user))
}
