// Package apperrors defines the closed set of error conditions the API can
// report and maps each one to the wire envelope {success:false, error:{message, code}}.
package apperrors

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
)

// Kind enumerates every failure condition the handlers and middleware can raise.
type Kind int

const (
	KindValidation Kind = iota
	KindDuplicate
	KindInvalidCredentials
	KindNoToken
	KindInvalidToken
	KindTokenExpired
	KindUserNotFound
	KindRateLimited
	KindAuthError
	KindInternal
)

// Error is the tagged error type carried from handlers to the normalizer.
type Error struct {
	Kind    Kind
	Message string
	Field   string // colliding field for KindDuplicate
	Err     error  // underlying cause, logged server-side only
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the machine-readable error code for the wire envelope.
func (e *Error) Code() string {
	switch e.Kind {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindDuplicate:
		return "DUPLICATE_ERROR"
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindNoToken:
		return "NO_TOKEN"
	case KindInvalidToken:
		return "INVALID_TOKEN"
	case KindTokenExpired:
		return "TOKEN_EXPIRED"
	case KindUserNotFound:
		return "USER_NOT_FOUND"
	case KindRateLimited:
		return "RATE_LIMIT_EXCEEDED"
	case KindAuthError:
		return "AUTH_ERROR"
	default:
		return "SERVER_ERROR"
	}
}

// StatusCode returns the HTTP status for the condition.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindDuplicate:
		return fiber.StatusBadRequest
	case KindInvalidCredentials, KindNoToken, KindInvalidToken, KindTokenExpired, KindUserNotFound:
		return fiber.StatusUnauthorized
	case KindRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Duplicate(field, message string) *Error {
	return &Error{Kind: KindDuplicate, Field: field, Message: message}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "Invalid email or password"}
}

func NoToken() *Error {
	return &Error{Kind: KindNoToken, Message: "Authentication required. Please log in."}
}

func InvalidToken() *Error {
	return &Error{Kind: KindInvalidToken, Message: "Invalid or expired token. Please log in again."}
}

func TokenExpired() *Error {
	return &Error{Kind: KindTokenExpired, Message: "Token expired"}
}

func UserNotFound() *Error {
	return &Error{Kind: KindUserNotFound, Message: "User not found."}
}

func RateLimited(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

func AuthError(err error) *Error {
	return &Error{Kind: KindAuthError, Message: "Authentication error", Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// Envelope builds the error body sent to clients.
func Envelope(message, code string) fiber.Map {
	return fiber.Map{
		"success": false,
		"error": fiber.Map{
			"message": message,
			"code":    code,
		},
	}
}

// ErrorHandler is the fiber error handler that normalizes every error raised
// by a handler or middleware into the envelope. Internal causes are logged
// here and never included in the response body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.StatusCode() >= fiber.StatusInternalServerError {
			log.Printf("Error: %v", appErr)
		}
		return c.Status(appErr.StatusCode()).JSON(Envelope(appErr.Message, appErr.Code()))
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(Envelope(fiberErr.Message, "SERVER_ERROR"))
	}

	log.Printf("Error: %v", err)
	return c.Status(fiber.StatusInternalServerError).
		JSON(Envelope("Internal server error", "SERVER_ERROR"))
}
