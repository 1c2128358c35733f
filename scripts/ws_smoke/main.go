// Command ws_smoke exercises a running relay end to end: register, login over
// the socket, heartbeat, then a control message. It exits zero when every
// reply arrives.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/collarlink/relay-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "smoketester", "username to register and log in with")
	pass := flag.String("pass", "smoke-pass", "password")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	creds, err := json.Marshal(map[string]string{"username": *user, "password": *pass})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	send := func(env *proto.Envelope) error {
		if err := wsjson.Write(ctx, conn, env); err != nil {
			return fmt.Errorf("send %s: %w", env.Type, err)
		}
		return nil
	}
	recv := func(want string) (*proto.Envelope, error) {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		fmt.Printf("<- type=%s data=%q\n", env.Type, env.Data)
		if env.Type != want {
			return nil, fmt.Errorf("expected %s reply, got %s", want, env.Type)
		}
		return &env, nil
	}

	// Registration may collide with a previous run; a duplicate_user error
	// is fine, login is the real check.
	if err := send(proto.New(proto.TypeRegister, string(creds))); err != nil {
		return err
	}
	var regReply proto.Envelope
	if err := wsjson.Read(ctx, conn, &regReply); err != nil {
		return fmt.Errorf("read register reply: %w", err)
	}
	fmt.Printf("<- type=%s data=%q\n", regReply.Type, regReply.Data)

	if err := send(proto.New(proto.TypeLogin, string(creds))); err != nil {
		return err
	}
	loginReply, err := recv(proto.TypeLogin)
	if err != nil {
		return err
	}
	token := loginReply.Data

	if err := send(proto.New(proto.TypeHeartbeat, "")); err != nil {
		return err
	}
	if _, err := recv(proto.TypeHeartbeat); err != nil {
		return err
	}

	// Without hardware connected the relay drops this with a warning and no
	// reply, which is the expected fire-and-forget behavior.
	control := proto.New(proto.TypeControl, "PING")
	control.Token = token
	if err := send(control); err != nil {
		return err
	}

	fmt.Println("smoke test passed")
	return nil
}
