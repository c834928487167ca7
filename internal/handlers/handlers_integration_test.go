package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"authbox/internal/apperrors"
	"authbox/internal/handlers"
	"authbox/internal/middleware"
	"authbox/internal/models"
	"authbox/internal/repositories"
	"authbox/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// envelope mirrors the wire contract for decoding in assertions.
type envelope struct {
	Success bool `json:"success"`
	Data    struct {
		Message string `json:"message"`
		User    struct {
			ID        string `json:"id"`
			Username  string `json:"username"`
			Email     string `json:"email"`
			CreatedAt string `json:"createdAt"`
		} `json:"user"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// setupApp boots a fiber app over an in-memory SQLite database with the full
// middleware chain, mirroring the production wiring in main.
func setupApp(t *testing.T, limits handlers.RateLimits) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	userRepo := repositories.NewGORMUserRepository(db)
	tokenService := services.NewTokenService("test_jwt_secret")
	authService := services.NewAuthService(userRepo, tokenService, nil)
	authHandler := handlers.NewAuthHandler(authService, limits, false)

	app := fiber.New(fiber.Config{
		ErrorHandler: apperrors.ErrorHandler,
	})
	api := app.Group("/api")
	authHandler.RegisterRoutes(api, middleware.AuthRequired(tokenService, userRepo))
	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "message": "Server is running"})
	})

	return app, db
}

// generousLimits keeps the rate limiter out of the way for tests that are not
// about it.
func generousLimits() handlers.RateLimits {
	return handlers.RateLimits{
		LoginMax:       1000,
		LoginWindow:    time.Minute,
		RegisterMax:    1000,
		RegisterWindow: time.Minute,
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body interface{}, cookies ...*http.Cookie) (*http.Response, []byte, envelope) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return resp, raw, env
}

func registerUser(t *testing.T, app *fiber.App, username, email, password string) envelope {
	t.Helper()
	resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/register", fiber.Map{
		"username": username,
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return env
}

func loginUser(t *testing.T, app *fiber.App, email, password string) *http.Cookie {
	t.Helper()
	resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/login", fiber.Map{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	cookie := sessionCookie(resp)
	require.NotNil(t, cookie, "login must set the session cookie")
	return cookie
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == middleware.SessionCookie {
			return cookie
		}
	}
	return nil
}

func TestRegister(t *testing.T) {
	app, _ := setupApp(t, generousLimits())

	resp, raw, env := doRequest(t, app, http.MethodPost, "/api/auth/register", fiber.Map{
		"username": "alice",
		"email":    "Alice@Example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, "User registered successfully", env.Data.Message)
	assert.Equal(t, "alice", env.Data.User.Username)
	assert.Equal(t, "alice@example.com", env.Data.User.Email)
	assert.NotEmpty(t, env.Data.User.ID)
	assert.NotContains(t, string(raw), "password", "response must never carry the password")
}

func TestRegister_Validation(t *testing.T) {
	app, _ := setupApp(t, generousLimits())

	cases := []fiber.Map{
		{"username": "al", "email": "alice@example.com", "password": "password123"},  // too short
		{"username": "al ice", "email": "alice@example.com", "password": "secret1"},  // bad characters
		{"username": "alice", "email": "not-an-email", "password": "password123"},    // bad email
		{"username": "alice", "email": "alice@example.com", "password": "short"},     // short password
		{"email": "alice@example.com", "password": "password123"},                    // missing username
	}
	for _, body := range cases {
		resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/register", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.False(t, env.Success)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	app, _ := setupApp(t, generousLimits())
	registerUser(t, app, "alice", "alice@example.com", "password123")

	for i := 0; i < 2; i++ {
		resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/register", fiber.Map{
			"username": fmt.Sprintf("different%d", i),
			"email":    "alice@example.com",
			"password": "password123",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "DUPLICATE_ERROR", env.Error.Code)
		assert.Contains(t, env.Error.Message, "Email")
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	app, _ := setupApp(t, generousLimits())
	registerUser(t, app, "alice", "alice@example.com", "password123")

	resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/register", fiber.Map{
		"username": "alice",
		"email":    "different@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Message, "Username")
}

func TestLoginAndMe(t *testing.T) {
	app, _ := setupApp(t, generousLimits())
	registerUser(t, app, "alice", "alice@example.com", "password123")

	cookie := loginUser(t, app, "alice@example.com", "password123")
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.InDelta(t, int(services.TokenTTL.Seconds()), cookie.MaxAge, 5)

	resp, _, env := doRequest(t, app, http.MethodGet, "/api/auth/me", nil, cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", env.Data.User.Username)
	assert.Equal(t, "alice@example.com", env.Data.User.Email)
	assert.NotEmpty(t, env.Data.User.CreatedAt, "/me includes the creation time")
}

func TestLogin_InvalidCredentialsIndistinguishable(t *testing.T) {
	app, _ := setupApp(t, generousLimits())
	registerUser(t, app, "alice", "alice@example.com", "password123")

	respWrong, rawWrong, envWrong := doRequest(t, app, http.MethodPost, "/api/auth/login", fiber.Map{
		"email":    "alice@example.com",
		"password": "wrongpassword",
	})
	respUnknown, rawUnknown, _ := doRequest(t, app, http.MethodPost, "/api/auth/login", fiber.Map{
		"email":    "ghost@example.com",
		"password": "password123",
	})

	assert.Equal(t, http.StatusUnauthorized, respWrong.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, respUnknown.StatusCode)
	assert.Equal(t, "INVALID_CREDENTIALS", envWrong.Error.Code)
	assert.Equal(t, string(rawWrong), string(rawUnknown),
		"wrong password and unknown email must be indistinguishable")
	assert.Nil(t, sessionCookie(respWrong))
}

func TestProtectedRoutes_TokenStates(t *testing.T) {
	app, db := setupApp(t, generousLimits())
	registerUser(t, app, "alice", "alice@example.com", "password123")
	cookie := loginUser(t, app, "alice@example.com", "password123")

	for _, path := range []string{"/api/auth/me", "/api/auth/verify"} {
		// No cookie at all.
		resp, _, env := doRequest(t, app, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "NO_TOKEN", env.Error.Code)

		// Tampered cookie.
		tampered := &http.Cookie{Name: middleware.SessionCookie, Value: cookie.Value + "x"}
		resp, _, env = doRequest(t, app, http.MethodGet, path, nil, tampered)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "INVALID_TOKEN", env.Error.Code)
	}

	// Valid token whose user row no longer exists.
	require.NoError(t, db.Where("email = ?", "alice@example.com").Delete(&models.User{}).Error)
	resp, _, env := doRequest(t, app, http.MethodGet, "/api/auth/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "USER_NOT_FOUND", env.Error.Code)
}

func TestVerify_Idempotent(t *testing.T) {
	app, _ := setupApp(t, generousLimits())
	registerUser(t, app, "alice", "alice@example.com", "password123")
	cookie := loginUser(t, app, "alice@example.com", "password123")

	var previous envelope
	for i := 0; i < 3; i++ {
		resp, _, env := doRequest(t, app, http.MethodGet, "/api/auth/verify", nil, cookie)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Token is valid", env.Data.Message)
		if i > 0 {
			assert.Equal(t, previous.Data.User, env.Data.User)
		}
		previous = env
	}
}

func TestLogout_Idempotent(t *testing.T) {
	app, _ := setupApp(t, generousLimits())

	// No session at all still succeeds and clears the cookie.
	resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	assert.Equal(t, "Logout successful", env.Data.Message)

	cleared := sessionCookie(resp)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.MaxAge < 0 || cleared.Expires.Before(time.Now()))

	// With a live session the token cookie is cleared the same way.
	registerUser(t, app, "alice", "alice@example.com", "password123")
	cookie := loginUser(t, app, "alice@example.com", "password123")
	resp, _, env = doRequest(t, app, http.MethodPost, "/api/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)
	require.NotNil(t, sessionCookie(resp))
	assert.Empty(t, sessionCookie(resp).Value)
}

func TestLogin_RateLimit(t *testing.T) {
	app, _ := setupApp(t, handlers.RateLimits{
		LoginMax:       5,
		LoginWindow:    15 * time.Minute,
		RegisterMax:    1000,
		RegisterWindow: time.Minute,
	})
	registerUser(t, app, "alice", "alice@example.com", "password123")

	body := fiber.Map{"email": "alice@example.com", "password": "wrongpassword"}
	for i := 0; i < 5; i++ {
		resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	}

	resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.Contains(t, env.Error.Message, "Too many login attempts")
}

func TestRegister_RateLimit(t *testing.T) {
	app, _ := setupApp(t, handlers.RateLimits{
		LoginMax:       1000,
		LoginWindow:    time.Minute,
		RegisterMax:    3,
		RegisterWindow: time.Hour,
	})

	for i := 0; i < 3; i++ {
		registerUser(t, app, fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@example.com", i), "password123")
	}

	resp, _, env := doRequest(t, app, http.MethodPost, "/api/auth/register", fiber.Map{
		"username": "user4",
		"email":    "user4@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.Contains(t, env.Error.Message, "Too many registration attempts")
}

func TestHealth(t *testing.T) {
	app, _ := setupApp(t, generousLimits())

	resp, raw, _ := doRequest(t, app, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "Server is running")
}
