package handlers

import (
	"regexp"
	"strings"
	"time"

	"authbox/internal/apperrors"
	"authbox/internal/middleware"
	"authbox/internal/models"
	"authbox/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// RateLimits configures the per-client attempt quotas on the credential
// routes. Counters are in-memory and per process.
type RateLimits struct {
	LoginMax       int
	LoginWindow    time.Duration
	RegisterMax    int
	RegisterWindow time.Duration
}

// DefaultRateLimits returns the production quotas.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		LoginMax:       5,
		LoginWindow:    15 * time.Minute,
		RegisterMax:    3,
		RegisterWindow: 60 * time.Minute,
	}
}

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	authService   *services.AuthService
	validate      *validator.Validate
	limits        RateLimits
	secureCookies bool
}

// NewAuthHandler creates a new AuthHandler. secureCookies should be true in
// production so the session cookie is only sent over HTTPS.
func NewAuthHandler(authService *services.AuthService, limits RateLimits, secureCookies bool) *AuthHandler {
	validate := validator.New()
	// alphanumeric/underscore usernames only
	_ = validate.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})

	return &AuthHandler{
		authService:   authService,
		validate:      validate,
		limits:        limits,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers the authentication routes. authRequired guards the
// session routes; the credential routes sit behind their rate limiters.
func (h *AuthHandler) RegisterRoutes(router fiber.Router, authRequired fiber.Handler) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/register",
		rateLimit(h.limits.RegisterMax, h.limits.RegisterWindow,
			"Too many registration attempts, please try again later"),
		h.HandleRegister)
	authRoutes.Post("/login",
		rateLimit(h.limits.LoginMax, h.limits.LoginWindow,
			"Too many login attempts, please try again later"),
		h.HandleLogin)
	// Logout clears the cookie unconditionally and is idempotent, so it is
	// not behind the auth middleware.
	authRoutes.Post("/logout", h.HandleLogout)
	authRoutes.Get("/verify", authRequired, h.HandleVerify)
	authRoutes.Get("/me", authRequired, h.HandleMe)
}

// rateLimit builds a per-client-IP window counter that rejects before the
// handler (and therefore the store) is ever reached.
func rateLimit(max int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return apperrors.RateLimited(message)
		},
	})
}

// RegisterRequest represents the request body for registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=100,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleRegister handles new user registration.
func (h *AuthHandler) HandleRegister(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return apperrors.Validation(validationMessage(err))
	}

	user, err := h.authService.Register(c.UserContext(), req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"message": "User registered successfully",
			"user":    publicUser(user),
		},
	})
}

// HandleLogin handles user login and sets the session cookie.
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return apperrors.Validation(validationMessage(err))
	}

	user, token, err := h.authService.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(services.TokenTTL.Seconds()),
		HTTPOnly: true,
		Secure:   h.secureCookies,
		SameSite: fiber.CookieSameSiteStrictMode,
	})

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"message": "Login successful",
			"user":    publicUser(user),
		},
	})
}

// HandleLogout clears the session cookie. It always succeeds; the token
// itself stays valid until expiry since no revocation list exists.
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   h.secureCookies,
		SameSite: fiber.CookieSameSiteStrictMode,
	})

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"message": "Logout successful",
		},
	})
}

// HandleVerify confirms the session is valid and returns the identity, for
// clients refreshing their local session cache.
func (h *AuthHandler) HandleVerify(c *fiber.Ctx) error {
	user := middleware.UserFromContext(c)
	if user == nil {
		return apperrors.AuthError(nil)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"message": "Token is valid",
			"user":    publicUser(user),
		},
	})
}

// HandleMe returns the current user including the creation time.
func (h *AuthHandler) HandleMe(c *fiber.Ctx) error {
	user := middleware.UserFromContext(c)
	if user == nil {
		return apperrors.AuthError(nil)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"user": fiber.Map{
				"id":        user.ID,
				"username":  user.Username,
				"email":     user.Email,
				"createdAt": user.CreatedAt,
			},
		},
	})
}

func publicUser(user *models.User) fiber.Map {
	return fiber.Map{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	}
}

// validationMessage flattens validator errors into one client-facing line.
func validationMessage(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return "Validation failed"
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, e.Field()+" is required")
		case "email":
			messages = append(messages, e.Field()+" must be a valid email address")
		case "min":
			messages = append(messages, e.Field()+" must be at least "+e.Param()+" characters")
		case "max":
			messages = append(messages, e.Field()+" must be at most "+e.Param()+" characters")
		case "username":
			messages = append(messages, e.Field()+" may only contain letters, numbers, and underscores")
		default:
			messages = append(messages, e.Field()+" is invalid")
		}
	}
	return strings.Join(messages, ", ")
}
