package middleware

import (
	"authbox/internal/apperrors"
	"authbox/internal/models"
	"authbox/internal/repositories"
	"authbox/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "token"

const userLocal = "user"

// AuthRequired is a fiber middleware that verifies the session cookie,
// resolves it to a user record, and attaches the user to the request context.
// Verification failures are not distinguished to the client: malformed,
// tampered, and expired tokens all produce the same 401.
func AuthRequired(tokens *services.TokenService, users repositories.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(SessionCookie)
		if token == "" {
			return apperrors.NoToken()
		}

		claims, err := tokens.Verify(token)
		if err != nil {
			return apperrors.InvalidToken()
		}

		user, err := users.FindByID(c.UserContext(), claims.UserID, false)
		if err != nil {
			return apperrors.AuthError(err)
		}
		if user == nil {
			// Token outlived its account.
			return apperrors.UserNotFound()
		}

		c.Locals(userLocal, user)
		return c.Next()
	}
}

// UserFromContext returns the user attached by AuthRequired, or nil when the
// route is not behind the middleware.
func UserFromContext(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocal).(*models.User)
	return user
}
