package core

import (
	"context"
	"testing"
	"time"
)

func TestTokenIssueVerifyRevoke(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore(time.Hour)

	token, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32 hex chars, got %q", token)
	}

	user, ok := store.Verify(ctx, token)
	if !ok || user != "alice" {
		t.Fatalf("verify after issue: got %q ok=%v", user, ok)
	}

	// Verify is read-only, so it must keep succeeding.
	if _, ok := store.Verify(ctx, token); !ok {
		t.Fatalf("repeated verify must be idempotent")
	}

	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := store.Verify(ctx, token); ok {
		t.Fatalf("revoked token must never verify again")
	}
}

func TestTokenExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore(time.Minute)

	now := time.Now()
	store.now = func() time.Time { return now }

	token, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, ok := store.Verify(ctx, token); !ok {
		t.Fatalf("token expired early")
	}

	now = now.Add(2 * time.Second)
	if _, ok := store.Verify(ctx, token); ok {
		t.Fatalf("expired token must not verify")
	}
}

func TestIssueRevokesPriorToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore(time.Hour)

	first, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	second, err := store.Issue(ctx, "alice")
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}
	if first == second {
		t.Fatalf("tokens must be unpredictable, got identical values")
	}

	if _, ok := store.Verify(ctx, first); ok {
		t.Fatalf("prior token must be revoked on re-issue")
	}
	if user, ok := store.Verify(ctx, second); !ok || user != "alice" {
		t.Fatalf("newest token must verify, got %q ok=%v", user, ok)
	}
}

func TestTokensDifferAcrossUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore(time.Hour)

	seen := make(map[string]bool)
	for _, user := range []string{"alice", "bob", "carol"} {
		token, err := store.Issue(ctx, user)
		if err != nil {
			t.Fatalf("issue for %s: %v", user, err)
		}
		if seen[token] {
			t.Fatalf("duplicate token issued")
		}
		seen[token] = true
	}
}
