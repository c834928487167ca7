package repositories

import (
	"context"
	"errors"
	"fmt"

	"authbox/internal/apperrors"
	"authbox/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// publicColumns is the default read projection; the password hash is only
// selected when a caller explicitly asks for it.
var publicColumns = []string{"id", "username", "email", "created_at"}

// GORMUserRepository is a GORM implementation of UserRepository.
type GORMUserRepository struct {
	db *gorm.DB
}

// NewGORMUserRepository creates a new instance of GORMUserRepository.
func NewGORMUserRepository(db *gorm.DB) *GORMUserRepository {
	return &GORMUserRepository{
		db: db,
	}
}

// Create persists a new user. The unique indexes on username and email are
// the authoritative guard against concurrent duplicate registrations: a
// violation is reported as a duplicate error naming the colliding field,
// with email taking precedence when both collide.
func (r *GORMUserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.duplicateField(ctx, user)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// duplicateField decides which unique constraint was violated. The driver
// error no longer names the index once translated, so we look the values up.
func (r *GORMUserRepository) duplicateField(ctx context.Context, user *models.User) error {
	existing, err := r.FindByEmail(ctx, user.Email, false)
	if err == nil && existing != nil {
		return apperrors.Duplicate("email", "Email already exists")
	}
	return apperrors.Duplicate("username", "Username already exists")
}

// FindByEmailOrUsername retrieves a user matching either value, used as the
// uniqueness pre-check before registration.
func (r *GORMUserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select(publicColumns).
		Where("email = ? OR username = ?", email, username).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up user by email or username: %w", err)
	}
	return &user, nil
}

// FindByEmail retrieves a user by email.
func (r *GORMUserRepository) FindByEmail(ctx context.Context, email string, includeHash bool) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select(r.columns(includeHash)).
		First(&user, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}

// FindByID retrieves a user by ID.
func (r *GORMUserRepository) FindByID(ctx context.Context, id string, includeHash bool) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Select(r.columns(includeHash)).
		First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID %s: %w", id, err)
	}
	return &user, nil
}

func (r *GORMUserRepository) columns(includeHash bool) []string {
	if includeHash {
		return append(append([]string{}, publicColumns...), "password")
	}
	return publicColumns
}
