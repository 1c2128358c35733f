package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// TokenStore issues, verifies, and revokes opaque session tokens. Verify is
// read-only: repeated verification of the same token is idempotent.
type TokenStore interface {
	// Issue mints a token bound to userID. Any prior token for the same
	// user is revoked: one active session token per user.
	Issue(ctx context.Context, userID string) (string, error)

	// Verify returns the bound user identity for a token that is still
	// present and unexpired.
	Verify(ctx context.Context, token string) (string, bool)

	// Revoke removes the token. Verify must fail for it afterwards.
	Revoke(ctx context.Context, token string) error
}

// NewToken returns 32 hex characters from a cryptographically secure source.
// Session tokens must not be derivable from the user identity.
func NewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type tokenRecord struct {
	userID    string
	expiresAt time.Time
}

// MemoryTokenStore is the in-process TokenStore used by default. A Redis
// backend with the same contract lives in store/redis for deployments that
// share sessions across restarts.
type MemoryTokenStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]tokenRecord
	byUser map[string]string
}

// NewMemoryTokenStore builds an empty store. Tokens expire after ttl.
func NewMemoryTokenStore(ttl time.Duration) *MemoryTokenStore {
	return &MemoryTokenStore{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]tokenRecord),
		byUser: make(map[string]string),
	}
}

// Issue mints a fresh token for userID, revoking the user's prior token.
func (s *MemoryTokenStore) Issue(_ context.Context, userID string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byUser[userID]; ok {
		delete(s.tokens, old)
	}
	s.tokens[token] = tokenRecord{userID: userID, expiresAt: s.now().Add(s.ttl)}
	s.byUser[userID] = token
	return token, nil
}

// Verify looks the token up without mutating state. Expired entries fail
// verification immediately; they are physically removed on the next Issue or
// Revoke for that user.
func (s *MemoryTokenStore) Verify(_ context.Context, token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok || s.now().After(rec.expiresAt) {
		return "", false
	}
	return rec.userID, true
}

// Revoke removes the token if present.
func (s *MemoryTokenStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return nil
	}
	delete(s.tokens, token)
	if s.byUser[rec.userID] == token {
		delete(s.byUser, rec.userID)
	}
	return nil
}
