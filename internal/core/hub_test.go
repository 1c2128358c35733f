package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/collarlink/relay-server/internal/proto"
)

func newTestHub(t *testing.T) (*Hub, *Registry, *stubAuth) {
	t.Helper()

	reg := NewRegistry(testLogger())
	authSvc := newStubAuth()
	router := NewRouter(authSvc, reg, nil, testLogger())
	monitor := NewMonitor(reg, 30*time.Second, 0, testLogger())
	return NewHub(reg, router, monitor, testLogger()), reg, authSvc
}

func connect(t *testing.T, hub *Hub, handle string) (*Conn, *fakeSender) {
	t.Helper()

	sender := &fakeSender{}
	conn, err := hub.OnConnect(handle, sender)
	if err != nil {
		t.Fatalf("connect %s: %v", handle, err)
	}
	return conn, sender
}

func sendEnvelope(t *testing.T, hub *Hub, conn *Conn, env *proto.Envelope) {
	t.Helper()

	payload, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hub.OnMessage(context.Background(), conn, payload)
}

func TestHubLoginAndTelemetryFlow(t *testing.T) {
	hub, reg, _ := newTestHub(t)

	appA, senderA := connect(t, hub, "app-a")
	appB, senderB := connect(t, hub, "app-b")
	hw, hwSender := connect(t, hub, "hw")

	sendEnvelope(t, hub, appA, proto.New(proto.TypeLogin, `{"u":"alice","p":"secret"}`))
	sendEnvelope(t, hub, appB, proto.New(proto.TypeLogin, `{"u":"bob","p":"hunter2"}`))
	sendEnvelope(t, hub, hw, proto.New(proto.TypeDevice, "collar-1"))

	if reg.Len() != 3 {
		t.Fatalf("expected 3 registered connections, got %d", reg.Len())
	}
	if env := senderA.lastEnvelope(t); env.Type != proto.TypeLogin || env.Data == "" {
		t.Fatalf("login reply must carry the token, got %+v", env)
	}

	// Hardware telemetry reaches both apps unchanged, and hardware gets no reply.
	hwSent := len(hwSender.sent())
	sendEnvelope(t, hub, hw, proto.New(proto.TypeGPS, `{"lat":1,"lon":2}`))

	for name, sender := range map[string]*fakeSender{"a": senderA, "b": senderB} {
		env := sender.lastEnvelope(t)
		if env.Type != proto.TypeGPS || env.Data != `{"lat":1,"lon":2}` {
			t.Fatalf("app %s: expected unmodified gps envelope, got %+v", name, env)
		}
	}
	if len(hwSender.sent()) != hwSent {
		t.Fatalf("hardware must not receive a gps reply")
	}
}

func TestHubControlReachesHardware(t *testing.T) {
	hub, _, authSvc := newTestHub(t)

	app, _ := connect(t, hub, "app-1")
	hw, hwSender := connect(t, hub, "hw")

	sendEnvelope(t, hub, app, proto.New(proto.TypeLogin, `{"u":"alice","p":"secret"}`))
	sendEnvelope(t, hub, hw, proto.New(proto.TypeDevice, "collar-1"))

	token := ""
	for tok, user := range authSvc.tokens {
		if user == "alice" {
			token = tok
		}
	}

	env := proto.New(proto.TypeControl, "LAND")
	env.Token = token
	sendEnvelope(t, hub, app, env)

	got := hwSender.lastEnvelope(t)
	if got.Type != proto.TypeControl || got.Data != "LAND" {
		t.Fatalf("hardware must receive the control envelope, got %+v", got)
	}
}

func TestHubControlDroppedWithoutHardware(t *testing.T) {
	hub, _, authSvc := newTestHub(t)

	app, sender := connect(t, hub, "app-1")
	sendEnvelope(t, hub, app, proto.New(proto.TypeLogin, `{"u":"alice","p":"secret"}`))
	sent := len(sender.sent())

	token := ""
	for tok := range authSvc.tokens {
		token = tok
	}
	env := proto.New(proto.TypeControl, "LAND")
	env.Token = token
	sendEnvelope(t, hub, app, env)

	// Fire-and-forget: no reply, nothing relayed, connection stays up.
	if len(sender.sent()) != sent {
		t.Fatalf("control with absent hardware must produce no reply")
	}
	sendEnvelope(t, hub, app, proto.New(proto.TypeHeartbeat, ""))
	if env := sender.lastEnvelope(t); env.Type != proto.TypeHeartbeat {
		t.Fatalf("connection must keep working")
	}
}

func TestHubPanicConfinedToMessage(t *testing.T) {
	hub, _, authSvc := newTestHub(t)
	authSvc.panicOnLogin = true

	conn, sender := connect(t, hub, "app-1")
	sendEnvelope(t, hub, conn, proto.New(proto.TypeLogin, `{"u":"alice","p":"secret"}`))

	env := sender.lastEnvelope(t)
	if env.Type != proto.TypeError {
		t.Fatalf("panic must convert to an error reply, got %+v", env)
	}
	var body proto.ErrorBody
	if err := json.Unmarshal([]byte(env.Data), &body); err != nil || body.Code != proto.CodeInternalFailure {
		t.Fatalf("expected internal_failure, got %q", env.Data)
	}

	// The connection survives.
	authSvc.panicOnLogin = false
	sendEnvelope(t, hub, conn, proto.New(proto.TypeHeartbeat, ""))
	if env := sender.lastEnvelope(t); env.Type != proto.TypeHeartbeat {
		t.Fatalf("connection must survive a handler panic")
	}
}

func TestHubCloseRemovesEverywhere(t *testing.T) {
	hub, reg, _ := newTestHub(t)

	conn, _ := connect(t, hub, "app-1")
	sendEnvelope(t, hub, conn, proto.New(proto.TypeLogin, `{"u":"alice","p":"secret"}`))

	hub.OnClose("app-1")

	if reg.IsRegistered("app-1") {
		t.Fatalf("closed connection must leave the registry")
	}
}

func TestHubShutdown(t *testing.T) {
	hub, reg, _ := newTestHub(t)

	appConn, appSender := connect(t, hub, "app-1")
	sendEnvelope(t, hub, appConn, proto.New(proto.TypeLogin, `{"u":"alice","p":"secret"}`))
	_, idleSender := connect(t, hub, "idle")

	hub.Shutdown()

	if reg.Len() != 0 {
		t.Fatalf("no connection may remain registered after shutdown")
	}
	if appSender.closeCount() == 0 || idleSender.closeCount() == 0 {
		t.Fatalf("shutdown must close identified and unidentified connections alike")
	}

	if _, err := hub.OnConnect("late", &fakeSender{}); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("connections after shutdown must be rejected, got %v", err)
	}

	// Second shutdown is a no-op.
	hub.Shutdown()
}

func TestHubRunStopsOnCancel(t *testing.T) {
	hub, _, _ := newTestHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("hub did not stop after context cancellation")
	}
}
