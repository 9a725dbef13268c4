package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/accountd/internal/server/models"
)

// maxUploadSize caps profile-picture uploads at 3 MiB.
const maxUploadSize = 3 << 20

var allowedUploadTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type userResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toUserResponse(u *models.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:                u.ID,
		Name:              u.Name,
		Email:             u.Email,
		ProfilePictureURL: u.ProfilePictureURL,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func (s *Server) handleCreateUser(c echo.Context) error {
	name := c.FormValue("name")
	email := c.FormValue("email")
	password := c.FormValue("password")
	if name == "" || email == "" || password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "name, email and password are required"})
	}

	picture, contentType, err := readUpload(c, "profilePicture", false)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()

	user, err := s.users.Register(ctx, name, email, password)
	if err != nil {
		return writeError(c, err)
	}

	if picture != nil {
		if _, err := s.users.SetProfilePicture(ctx, user.ID, picture, contentType); err != nil {
			// the account exists; report it without the picture
			s.logger.Error(ctx, "storing picture for new user failed", "user_id", user.ID, "error", err.Error())
		}
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)

	return c.JSON(http.StatusCreated, toUserResponse(user))
}

func (s *Server) handleListUsers(c echo.Context) error {
	list, err := s.users.List(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}

	out := make([]*userResponse, 0, len(list))
	for _, u := range list {
		out = append(out, toUserResponse(u))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetUser(c echo.Context) error {
	user, err := s.users.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}

func (s *Server) handleSetProfilePicture(c echo.Context) error {
	identity, ok := identityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "no token provided"})
	}

	id := c.Param("id")
	if id != identity.ID {
		return c.JSON(http.StatusForbidden, echo.Map{"message": "cannot modify another user"})
	}

	picture, contentType, err := readUpload(c, "profilePicture", true)
	if err != nil {
		return err
	}

	key, err := s.users.SetProfilePicture(c.Request().Context(), id, picture, contentType)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"profile_picture_key": key})
}

// readUpload pulls a file out of the multipart form and enforces the type
// allowlist and size cap. A missing file is only an error when required.
func readUpload(c echo.Context, field string, required bool) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if required {
			return nil, "", echo.NewHTTPError(http.StatusBadRequest, "profile picture file is required")
		}
		return nil, "", nil
	}

	contentType := fh.Header.Get("Content-Type")
	if !allowedUploadTypes[contentType] {
		return nil, "", echo.NewHTTPError(http.StatusUnsupportedMediaType, "unsupported file type")
	}
	if fh.Size > maxUploadSize {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds the 3MB limit")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if len(body) > maxUploadSize {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds the 3MB limit")
	}

	return body, contentType, nil
}
