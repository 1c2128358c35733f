package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/proto"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// fakeSender records everything sent through it.
type fakeSender struct {
	mu       sync.Mutex
	payloads [][]byte
	closes   int
	sendErr  error
}

func (s *fakeSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSender) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}

// lastEnvelope decodes the most recent payload sent through the sender.
func (s *fakeSender) lastEnvelope(t *testing.T) *proto.Envelope {
	t.Helper()

	payloads := s.sent()
	if len(payloads) == 0 {
		t.Fatalf("no payloads sent")
	}
	var env proto.Envelope
	if err := json.Unmarshal(payloads[len(payloads)-1], &env); err != nil {
		t.Fatalf("decode sent payload: %v", err)
	}
	return &env
}

func errorCode(t *testing.T, env *proto.Envelope) string {
	t.Helper()

	if env.Type != proto.TypeError {
		t.Fatalf("expected error envelope, got %q", env.Type)
	}
	var body proto.ErrorBody
	if err := json.Unmarshal([]byte(env.Data), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Code
}

func newTestConn(handle string) (*Conn, *fakeSender) {
	sender := &fakeSender{}
	return NewConn(handle, sender), sender
}

// stubAuth is a canned AuthService for router and hub tests.
type stubAuth struct {
	users        map[string]string // username -> password
	tokens       map[string]string // token -> username
	devices      map[string]bool
	loginErr     error
	panicOnLogin bool
}

func newStubAuth() *stubAuth {
	return &stubAuth{
		users:   map[string]string{"alice": "secret", "bob": "hunter2"},
		tokens:  map[string]string{},
		devices: map[string]bool{"collar-1": true},
	}
}

func (a *stubAuth) Login(_ context.Context, username, password string) (string, string, error) {
	if a.panicOnLogin {
		panic("stub login panic")
	}
	if a.loginErr != nil {
		return "", "", a.loginErr
	}
	if a.users[username] != password {
		return "", "", errors.New("invalid credentials")
	}
	token := "tok-" + username
	a.tokens[token] = username
	return username, token, nil
}

func (a *stubAuth) Register(_ context.Context, username, _ string) (string, error) {
	if _, ok := a.users[username]; ok {
		return "", auth.ErrUserExists
	}
	a.users[username] = "set"
	return username, nil
}

func (a *stubAuth) VerifyToken(_ context.Context, token string) (string, bool) {
	user, ok := a.tokens[token]
	return user, ok
}

func (a *stubAuth) VerifyDevice(_ context.Context, credential string) (string, error) {
	if a.devices[credential] {
		return credential, nil
	}
	return "", errors.New("unknown device")
}
