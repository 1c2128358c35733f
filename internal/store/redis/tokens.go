// Package redis provides a Redis-backed session token store for deployments
// that want sessions to survive a relay restart or to be shared by replicas.
// The contract is identical to core.MemoryTokenStore.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/collarlink/relay-server/internal/core"
)

const (
	tokenKeyPrefix = "collar:token:"
	userKeyPrefix  = "collar:user:"
)

// TokenStore implements core.TokenStore over Redis. Token->user and
// user->token keys are kept in lockstep so issuing revokes the user's prior
// session.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore connects to Redis at addr and verifies the connection.
func NewTokenStore(ctx context.Context, addr string, ttl time.Duration) (*TokenStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &TokenStore{client: client, ttl: ttl}, nil
}

// Issue mints a fresh token for userID, revoking the user's prior token.
func (s *TokenStore) Issue(ctx context.Context, userID string) (string, error) {
	token, err := core.NewToken()
	if err != nil {
		return "", err
	}

	old, err := s.client.Get(ctx, userKeyPrefix+userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("get prior token: %w", err)
	}

	pipe := s.client.TxPipeline()
	if old != "" {
		pipe.Del(ctx, tokenKeyPrefix+old)
	}
	pipe.Set(ctx, tokenKeyPrefix+token, userID, s.ttl)
	pipe.Set(ctx, userKeyPrefix+userID, token, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Verify resolves a token to its user identity. Expiry is handled by Redis.
func (s *TokenStore) Verify(ctx context.Context, token string) (string, bool) {
	userID, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		return "", false
	}
	return userID, true
}

// Revoke removes the token and its user mapping.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	userID, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, tokenKeyPrefix+token)
	pipe.Del(ctx, userKeyPrefix+userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (s *TokenStore) Close() error {
	return s.client.Close()
}
