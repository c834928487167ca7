package repositories

import (
	"context"

	"authbox/internal/models"
)

// UserRepository defines the interface for user data access.
// Find methods return (nil, nil) when no record matches, so callers can
// distinguish absence from a store failure. includeHash controls whether the
// password column is selected; it must only be requested for credential checks.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string, includeHash bool) (*models.User, error)
	FindByID(ctx context.Context, id string, includeHash bool) (*models.User, error)
}
