package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"authbox/internal/apperrors"
	"authbox/internal/models"
	"authbox/internal/repositories"

	"golang.org/x/crypto/bcrypt"
)

// EventPublisher publishes authentication events to the message broker.
// A nil publisher disables event publishing.
type EventPublisher interface {
	PublishAuthEvent(event string, payload map[string]interface{}) error
}

// AuthService handles business logic for registration and login.
type AuthService struct {
	userRepo repositories.UserRepository
	tokens   *TokenService
	events   EventPublisher
}

// NewAuthService creates a new AuthService.
func NewAuthService(userRepo repositories.UserRepository, tokens *TokenService, events EventPublisher) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		tokens:   tokens,
		events:   events,
	}
}

// Register creates a new user with a hashed password. A collision on email or
// username is reported via the repository's duplicate error; the pre-check
// here gives the common case a friendly message, with email taking precedence
// when both fields collide, but the store's unique indexes remain the
// race-proof guarantee.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)

	existing, err := s.userRepo.FindByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		if existing.Email == email {
			return nil, apperrors.Duplicate("email", "Email already registered")
		}
		return nil, apperrors.Duplicate("username", "Username already taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username: username,
		Email:    email,
		Password: string(hashedPassword),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.publish("user.registered", map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
		"email":    user.Email,
	})

	return user, nil
}

// Login authenticates a user by email and password and issues a session
// token. An unknown email and a wrong password are indistinguishable to the
// caller so login failures reveal nothing about which emails are registered.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	email = NormalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email, true)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !user.ComparePassword(password) {
		return nil, "", apperrors.InvalidCredentials()
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}

	s.publish("user.login", map[string]interface{}{
		"user_id": user.ID,
		"email":   user.Email,
	})

	return user, token, nil
}

// publish sends an auth event when a publisher is configured. Broker
// failures are logged and never fail the request.
func (s *AuthService) publish(event string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAuthEvent(event, payload); err != nil {
		log.Printf("Failed to publish %s event: %v", event, err)
	}
}

// NormalizeEmail lower-cases and trims an email address before any store
// access, so lookups and uniqueness checks are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
