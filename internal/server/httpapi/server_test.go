package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/accountd/internal/common"
	"github.com/dmitrijs2005/accountd/internal/logging"
	intauth "github.com/dmitrijs2005/accountd/internal/server/auth"
	"github.com/dmitrijs2005/accountd/internal/server/config"
	"github.com/dmitrijs2005/accountd/internal/server/models"
	"github.com/dmitrijs2005/accountd/internal/server/services"
)

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) With(...any) logging.Logger            { return nopLogger{} }

type stubAuth struct {
	user      *models.User
	pair      *services.TokenPair
	err       error
	logoutErr error
	revoked   int64
	identity  *intauth.Identity
	verifyErr error

	lastRefreshToken string
	lastEmail        string
}

func (a *stubAuth) Login(ctx context.Context, email, password string) (*models.User, *services.TokenPair, error) {
	a.lastEmail = email
	if a.err != nil {
		return nil, nil, a.err
	}
	return a.user, a.pair, nil
}

func (a *stubAuth) Refresh(ctx context.Context, refreshToken string) (*models.User, *services.TokenPair, error) {
	a.lastRefreshToken = refreshToken
	if a.err != nil {
		return nil, nil, a.err
	}
	return a.user, a.pair, nil
}

func (a *stubAuth) Logout(ctx context.Context, refreshToken string) error {
	a.lastRefreshToken = refreshToken
	return a.logoutErr
}

func (a *stubAuth) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return a.revoked, a.err
}

func (a *stubAuth) VerifyAccessToken(tokenString string) (*intauth.Identity, error) {
	if a.verifyErr != nil {
		return nil, a.verifyErr
	}
	return a.identity, nil
}

type stubUsers struct {
	user    *models.User
	list    []*models.User
	err     error
	key     string
	pickErr error

	registeredEmail string
	pictureUserID   string
	pictureType     string
}

func (u *stubUsers) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	u.registeredEmail = email
	if u.err != nil {
		return nil, u.err
	}
	return u.user, nil
}

func (u *stubUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	return u.user, nil
}

func (u *stubUsers) List(ctx context.Context) ([]*models.User, error) {
	if u.err != nil {
		return nil, u.err
	}
	return u.list, nil
}

func (u *stubUsers) SetProfilePicture(ctx context.Context, userID string, body []byte, contentType string) (string, error) {
	u.pictureUserID = userID
	u.pictureType = contentType
	if u.pickErr != nil {
		return "", u.pickErr
	}
	return u.key, nil
}

func testUser() *models.User {
	return &models.User{ID: "u1", Name: "Alice", Email: "a@x.com", CreatedAt: time.Now(), UpdatedAt: time.Now()}
}

func newTestEcho(auth *stubAuth, users *stubUsers) *echo.Echo {
	cfg := &config.Config{EndpointAddrHTTP: ":0", LoginRateLimit: 1000}
	return NewServer(cfg, auth, users, nopLogger{}).buildEcho()
}

func doJSON(e *echo.Echo, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{})
	rec := doJSON(e, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoginEndpoint(t *testing.T) {
	auth := &stubAuth{user: testUser(), pair: &services.TokenPair{AccessToken: "at", RefreshToken: "rt"}}
	e := newTestEcho(auth, &stubUsers{})

	rec := doJSON(e, http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"p1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["accessToken"] != "at" || body["refreshToken"] != "rt" {
		t.Fatalf("unexpected token payload: %v", body)
	}
	user, ok := body["user"].(map[string]any)
	if !ok || user["id"] != "u1" {
		t.Fatalf("unexpected user payload: %v", body["user"])
	}
	if _, leaked := user["password_hash"]; leaked {
		t.Fatalf("password hash leaked: %v", user)
	}
}

func TestLoginEndpoint_MissingFields(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{})
	rec := doJSON(e, http.MethodPost, "/auth/login", `{"email":"a@x.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLoginEndpoint_InvalidCredentials(t *testing.T) {
	e := newTestEcho(&stubAuth{err: common.ErrInvalidCredentials}, &stubUsers{})
	rec := doJSON(e, http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"bad"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if decodeBody(t, rec)["message"] != "invalid email or password" {
		t.Fatalf("unexpected message: %s", rec.Body.String())
	}
}

func TestLoginEndpoint_RateLimited(t *testing.T) {
	cfg := &config.Config{EndpointAddrHTTP: ":0", LoginRateLimit: 2}
	auth := &stubAuth{err: common.ErrInvalidCredentials}
	e := NewServer(cfg, auth, &stubUsers{}, nopLogger{}).buildEcho()

	var last int
	for i := 0; i < 3; i++ {
		rec := doJSON(e, http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"bad"}`, nil)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", last)
	}
}

func TestLoginEndpoint_RateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := &config.Config{EndpointAddrHTTP: ":0", LoginRateLimit: 2}
	auth := &stubAuth{err: common.ErrInvalidCredentials}
	e := NewServer(cfg, auth, &stubUsers{}, nopLogger{}).buildEcho()

	var last int
	for i := 0; i < 3; i++ {
		header := map[string]string{"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i)}
		rec := doJSON(e, http.MethodPost, "/auth/login", `{"email":"a@x.com","password":"bad"}`, header)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 regardless of X-Forwarded-For, got %d", last)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	auth := &stubAuth{user: testUser(), pair: &services.TokenPair{AccessToken: "at2", RefreshToken: "rt2"}}
	e := newTestEcho(auth, &stubUsers{})

	rec := doJSON(e, http.MethodPost, "/auth/refresh", `{"refreshToken":"rt1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if auth.lastRefreshToken != "rt1" {
		t.Fatalf("token not passed through: %q", auth.lastRefreshToken)
	}
	if decodeBody(t, rec)["refreshToken"] != "rt2" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestRefreshEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"reuse", common.ErrTokenReuse, http.StatusUnauthorized, "refresh token has been revoked"},
		{"expired", common.ErrTokenExpired, http.StatusUnauthorized, "refresh token has expired"},
		{"invalid", common.ErrInvalidToken, http.StatusUnauthorized, "invalid refresh token"},
		{"store down", common.ErrStoreUnavailable, http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEcho(&stubAuth{err: tt.err}, &stubUsers{})
			rec := doJSON(e, http.MethodPost, "/auth/refresh", `{"refreshToken":"x"}`, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if decodeBody(t, rec)["message"] != tt.message {
				t.Fatalf("unexpected message: %s", rec.Body.String())
			}
		})
	}
}

func TestRefreshEndpoint_MissingToken(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{})
	rec := doJSON(e, http.MethodPost, "/auth/refresh", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{})
	rec := doJSON(e, http.MethodPost, "/auth/logout", `{"refreshToken":"rt1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLogoutEndpoint_AlreadyRevoked(t *testing.T) {
	e := newTestEcho(&stubAuth{logoutErr: common.ErrorNotFound}, &stubUsers{})
	rec := doJSON(e, http.MethodPost, "/auth/logout", `{"refreshToken":"rt1"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if decodeBody(t, rec)["message"] != "token not found or already revoked" {
		t.Fatalf("unexpected message: %s", rec.Body.String())
	}
}

func TestLogoutAllEndpoint(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}, revoked: 3}
	e := newTestEcho(auth, &stubUsers{})

	rec := doJSON(e, http.MethodPost, "/auth/logout-all", "", map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["revoked"] != float64(3) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{})
	rec := doJSON(e, http.MethodGet, "/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if decodeBody(t, rec)["message"] != "no token provided" {
		t.Fatalf("unexpected message: %s", rec.Body.String())
	}
}

func TestBearerAuth_ExpiredVsInvalid(t *testing.T) {
	expired := newTestEcho(&stubAuth{verifyErr: common.ErrTokenExpired}, &stubUsers{})
	rec := doJSON(expired, http.MethodGet, "/auth/me", "", map[string]string{"Authorization": "Bearer x"})
	if rec.Code != http.StatusUnauthorized || decodeBody(t, rec)["message"] != "token has expired" {
		t.Fatalf("expired: got %d %s", rec.Code, rec.Body.String())
	}

	invalid := newTestEcho(&stubAuth{verifyErr: common.ErrInvalidToken}, &stubUsers{})
	rec = doJSON(invalid, http.MethodGet, "/auth/me", "", map[string]string{"Authorization": "Bearer x"})
	if rec.Code != http.StatusUnauthorized || decodeBody(t, rec)["message"] != "invalid token" {
		t.Fatalf("invalid: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMeEndpoint(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	users := &stubUsers{user: testUser()}
	e := newTestEcho(auth, users)

	rec := doJSON(e, http.MethodGet, "/auth/me", "", map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["id"] != "u1" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

// --- users ---

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName, fileType string, fileBody []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if fileField != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+fileName+`"`)
		h.Set("Content-Type", fileType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := part.Write(fileBody); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func doMultipart(e *echo.Echo, method, path string, body *bytes.Buffer, contentType string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, contentType)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateUserEndpoint(t *testing.T) {
	users := &stubUsers{user: testUser()}
	e := newTestEcho(&stubAuth{}, users)

	body, ct := multipartBody(t, map[string]string{"name": "Alice", "email": "a@x.com", "password": "p1"}, "", "", "", nil)
	rec := doMultipart(e, http.MethodPost, "/users", body, ct, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if users.registeredEmail != "a@x.com" {
		t.Fatalf("registration did not reach the service")
	}
}

func TestCreateUserEndpoint_WithPicture(t *testing.T) {
	users := &stubUsers{user: testUser(), key: "avatars/k"}
	e := newTestEcho(&stubAuth{}, users)

	body, ct := multipartBody(t,
		map[string]string{"name": "Alice", "email": "a@x.com", "password": "p1"},
		"profilePicture", "me.png", "image/png", []byte{0x89, 0x50})
	rec := doMultipart(e, http.MethodPost, "/users", body, ct, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if users.pictureUserID != "u1" || users.pictureType != "image/png" {
		t.Fatalf("picture not stored: %q %q", users.pictureUserID, users.pictureType)
	}
}

func TestCreateUserEndpoint_DuplicateEmail(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{err: common.ErrEmailExists})

	body, ct := multipartBody(t, map[string]string{"name": "Alice", "email": "a@x.com", "password": "p1"}, "", "", "", nil)
	rec := doMultipart(e, http.MethodPost, "/users", body, ct, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestCreateUserEndpoint_MissingFields(t *testing.T) {
	e := newTestEcho(&stubAuth{}, &stubUsers{})
	body, ct := multipartBody(t, map[string]string{"name": "Alice"}, "", "", "", nil)
	rec := doMultipart(e, http.MethodPost, "/users", body, ct, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListUsersEndpoint(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	users := &stubUsers{list: []*models.User{testUser()}}
	e := newTestEcho(auth, users)

	rec := doJSON(e, http.MethodGet, "/users", "", map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestGetUserEndpoint_NotFound(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	e := newTestEcho(auth, &stubUsers{err: common.ErrorNotFound})

	rec := doJSON(e, http.MethodGet, "/users/ghost", "", map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSetProfilePictureEndpoint(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	users := &stubUsers{key: "avatars/k"}
	e := newTestEcho(auth, users)

	body, ct := multipartBody(t, nil, "profilePicture", "me.jpg", "image/jpeg", []byte{0xFF, 0xD8})
	rec := doMultipart(e, http.MethodPost, "/users/u1/profile-picture", body, ct,
		map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["profile_picture_key"] != "avatars/k" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSetProfilePictureEndpoint_OtherUser(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	e := newTestEcho(auth, &stubUsers{})

	body, ct := multipartBody(t, nil, "profilePicture", "me.jpg", "image/jpeg", []byte{0xFF})
	rec := doMultipart(e, http.MethodPost, "/users/u2/profile-picture", body, ct,
		map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestSetProfilePictureEndpoint_MissingFile(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	e := newTestEcho(auth, &stubUsers{})

	body, ct := multipartBody(t, map[string]string{"unrelated": "x"}, "", "", "", nil)
	rec := doMultipart(e, http.MethodPost, "/users/u1/profile-picture", body, ct,
		map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSetProfilePictureEndpoint_UnsupportedType(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	e := newTestEcho(auth, &stubUsers{})

	body, ct := multipartBody(t, nil, "profilePicture", "evil.sh", "application/x-sh", []byte("#!/bin/sh"))
	rec := doMultipart(e, http.MethodPost, "/users/u1/profile-picture", body, ct,
		map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestSetProfilePictureEndpoint_TooLarge(t *testing.T) {
	auth := &stubAuth{identity: &intauth.Identity{ID: "u1"}}
	e := newTestEcho(auth, &stubUsers{})

	big := bytes.Repeat([]byte{0xAB}, maxUploadSize+1)
	body, ct := multipartBody(t, nil, "profilePicture", "huge.png", "image/png", big)
	rec := doMultipart(e, http.MethodPost, "/users/u1/profile-picture", body, ct,
		map[string]string{"Authorization": "Bearer at"})
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
