package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/accountd/internal/common"
)

// writeError maps service errors onto HTTP responses. Anything not covered
// by a sentinel becomes an opaque 500; internals never leak to clients.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid email or password"})
	case errors.Is(err, common.ErrTokenReuse):
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "refresh token has been revoked"})
	case errors.Is(err, common.ErrTokenExpired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "refresh token has expired"})
	case errors.Is(err, common.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid refresh token"})
	case errors.Is(err, common.ErrorNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"message": "not found"})
	case errors.Is(err, common.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"message": "email already registered"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal server error"})
	}
}
