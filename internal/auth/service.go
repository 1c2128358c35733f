package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/collarlink/relay-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// TokenStore is the session-token contract the service needs. Satisfied by
// core.MemoryTokenStore and the Redis-backed store.
type TokenStore interface {
	Issue(ctx context.Context, userID string) (string, error)
	Verify(ctx context.Context, token string) (string, bool)
}

// Service provides authentication operations: credential checks against the
// user store, session tokens, and hardware credential verification.
type Service struct {
	users   store.UserStore
	tokens  TokenStore
	devices *DeviceVerifier
}

// NewService creates a new authentication service. devices may be nil when
// hardware connections are disabled.
func NewService(users store.UserStore, tokens TokenStore, devices *DeviceVerifier) *Service {
	return &Service{
		users:   users,
		tokens:  tokens,
		devices: devices,
	}
}

// Register creates a new user with a hashed password and returns the
// normalized user identity. It does not issue a token; registration never
// implies login.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", ErrInvalidPassword
	}

	if existing, err := s.users.GetUserByUsername(ctx, username); err == nil && existing != nil {
		return "", ErrUserExists
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hashed)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	return user.Username, nil
}

// Login validates credentials and mints a session token. No state changes on
// failure.
func (s *Service) Login(ctx context.Context, username, password string) (string, string, error) {
	username = strings.TrimSpace(username)

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", "", ErrInvalidCredentials
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(ctx, user.Username)
	if err != nil {
		return "", "", fmt.Errorf("issue token: %w", err)
	}

	return user.Username, token, nil
}

// VerifyToken resolves a session token to its user identity.
func (s *Service) VerifyToken(ctx context.Context, token string) (string, bool) {
	return s.tokens.Verify(ctx, token)
}

// VerifyDevice validates a signed hardware credential.
func (s *Service) VerifyDevice(ctx context.Context, credential string) (string, error) {
	if s.devices == nil {
		return "", errors.New("device auth disabled")
	}
	return s.devices.Verify(ctx, credential)
}
