package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/config"
	"github.com/collarlink/relay-server/internal/core"
	"github.com/collarlink/relay-server/internal/log"
	"github.com/collarlink/relay-server/internal/proto"
	"github.com/collarlink/relay-server/internal/store/sqlite"
)

const testDeviceSecret = "test-secret-change-me"

type testEnv struct {
	ts    *httptest.Server
	wsURL string
	store *sqlite.SQLiteStore
}

// startTestServer stands up the full stack on an in-memory database: one
// provisioned device ("collar-1") and one user (alice/password123).
func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := log.Nop()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if _, err := st.CreateDevice(ctx, "collar-1", "test collar"); err != nil {
		t.Fatalf("provision device: %v", err)
	}

	tokens := core.NewMemoryTokenStore(time.Hour)
	devices := auth.NewDeviceVerifier([]byte(testDeviceSecret), "collar-relay", st)
	authSvc := auth.NewService(st, tokens, devices)

	if _, err := authSvc.Register(ctx, "alice", "password123"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	registry := core.NewRegistry(logger)
	router := core.NewRouter(authSvc, registry, st, logger)
	monitor := core.NewMonitor(registry, time.Minute, 0, logger)
	hub := core.NewHub(registry, router, monitor, logger)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	cfg := config.Default()
	cfg.Addr = ":0"
	server := NewServer(hub, authSvc, st, cfg, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		hubCancel()
		<-hubDone
	})

	return &testEnv{
		ts:    ts,
		wsURL: strings.Replace(ts.URL, "http", "ws", 1) + "/ws",
		store: st,
	}
}

func dialWS(t *testing.T, ctx context.Context, env *testEnv) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, env.wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn, env *proto.Envelope) {
	t.Helper()

	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write %s envelope: %v", env.Type, err)
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.Envelope {
	t.Helper()

	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return &env
}

func wsLogin(t *testing.T, ctx context.Context, conn *websocket.Conn, username, password string) string {
	t.Helper()

	creds, _ := json.Marshal(map[string]string{"username": username, "password": password})
	sendEnvelope(t, ctx, conn, proto.New(proto.TypeLogin, string(creds)))

	reply := readEnvelope(t, ctx, conn)
	if reply.Type != proto.TypeLogin {
		t.Fatalf("expected login reply, got %+v", reply)
	}
	return reply.Data
}

func wsIdentifyHardware(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()

	credential, err := auth.MintDeviceToken([]byte(testDeviceSecret), "collar-relay", "collar-1", 0)
	if err != nil {
		t.Fatalf("mint device token: %v", err)
	}
	sendEnvelope(t, ctx, conn, proto.New(proto.TypeDevice, credential))

	reply := readEnvelope(t, ctx, conn)
	if reply.Type != proto.TypeDevice {
		t.Fatalf("expected device ack, got %+v", reply)
	}
}
