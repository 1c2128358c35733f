package http

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/core"
)

var errSenderClosed = errors.New("sender closed")

// wsSender is the per-connection outbound path handed to the core. Send only
// enqueues: a peer that stops reading fills its own queue and starts losing
// frames without ever blocking the hub or other connections.
type wsSender struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newWSSender(queueSize int) *wsSender {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &wsSender{
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
	}
}

func (s *wsSender) Send(payload []byte) error {
	select {
	case <-s.done:
		return errSenderClosed
	default:
	}
	select {
	case s.queue <- payload:
		return nil
	default:
		return core.ErrSendQueueFull
	}
}

func (s *wsSender) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// WSHandler upgrades HTTP connections and bridges them to the hub.
type WSHandler struct {
	hub       *core.Hub
	queueSize int
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, queueSize int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, queueSize: queueSize, log: logger}
}

// Handle is the gin endpoint for /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sender := newWSSender(h.queueSize)
	client, err := h.hub.OnConnect(uuid.NewString(), sender)
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.hub.OnClose(client.Handle)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, sender)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errSenderClosed) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn", client.Handle).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		h.hub.OnMessage(ctx, client, payload)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sender *wsSender) error {
	for {
		select {
		case payload := <-sender.queue:
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		case <-sender.done:
			return errSenderClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
