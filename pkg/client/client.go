// Package client is a Go client for the authentication API. A Session keeps
// the server's cookie and a local cache of the logged-in identity, refreshed
// through the verify endpoint, so callers can gate actions on Authenticated()
// without a round-trip.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"
)

// User is the identity returned by the API.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// APIError is an error envelope returned by the server.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type envelope struct {
	Success bool      `json:"success"`
	Data    *dataBody `json:"data"`
	Error   *APIError `json:"error"`
}

type dataBody struct {
	Message string `json:"message"`
	User    *User  `json:"user"`
}

// Session is a stateful client for one logged-in identity. Safe for
// concurrent use.
type Session struct {
	baseURL string
	http    *http.Client

	mu     sync.RWMutex
	user   *User
	authed bool
}

// NewSession creates a session against the given base URL, e.g.
// "http://localhost:8080". The session cookie is held in an in-memory jar.
func NewSession(baseURL string) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Register creates a new account. It does not log the session in.
func (s *Session) Register(ctx context.Context, username, email, password string) (*User, error) {
	body, err := s.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return body.User, nil
}

// Login authenticates and caches the returned identity. The session cookie
// set by the server is stored in the jar for subsequent calls.
func (s *Session) Login(ctx context.Context, email, password string) (*User, error) {
	body, err := s.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		s.setUser(nil)
		return nil, err
	}
	s.setUser(body.User)
	return body.User, nil
}

// Logout clears the server cookie and the local cache. The cache is cleared
// even when the request fails.
func (s *Session) Logout(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodPost, "/api/auth/logout", nil)
	s.setUser(nil)
	return err
}

// Refresh revalidates the session against the verify endpoint and updates
// the cache. A rejected or missing session clears the cache and returns
// (nil, nil); only transport failures return an error.
func (s *Session) Refresh(ctx context.Context) (*User, error) {
	body, err := s.do(ctx, http.MethodGet, "/api/auth/verify", nil)
	if err != nil {
		s.setUser(nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, nil
		}
		return nil, err
	}
	s.setUser(body.User)
	return body.User, nil
}

// Me fetches the current user including the creation time. Does not touch
// the cache beyond what the server returns.
func (s *Session) Me(ctx context.Context) (*User, error) {
	body, err := s.do(ctx, http.MethodGet, "/api/auth/me", nil)
	if err != nil {
		return nil, err
	}
	return body.User, nil
}

// CurrentUser returns the cached identity, or nil when not logged in.
func (s *Session) CurrentUser() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Authenticated reports whether the cache holds a logged-in identity.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authed
}

func (s *Session) setUser(user *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.authed = user != nil
}

func (s *Session) do(ctx context.Context, method, path string, payload interface{}) (*dataBody, error) {
	reqBody := bytes.NewBuffer(nil)
	if payload != nil {
		if err := json.NewEncoder(reqBody).Encode(payload); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.Success {
		if env.Error != nil {
			return nil, env.Error
		}
		return nil, fmt.Errorf("request rejected with status %d", resp.StatusCode)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("response is missing data")
	}
	return env.Data, nil
}
