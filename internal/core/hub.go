package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/proto"
)

// Hub binds transport lifecycle events to the registry, router, and monitor.
// It tracks every live connection including unidentified ones, which exist
// only here until their first login or device message promotes them into the
// registry.
type Hub struct {
	registry *Registry
	router   *Router
	monitor  *Monitor
	log      *zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// NewHub wires the hub together.
func NewHub(registry *Registry, router *Router, monitor *Monitor, logger *zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		router:   router,
		monitor:  monitor,
		log:      logger,
		conns:    make(map[string]*Conn),
	}
}

// Run drives the health monitor and performs shutdown when the context is
// cancelled. Call in its own goroutine; it returns once shutdown completes.
// The transport must stop accepting before the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.monitor.Run(ctx)
	h.Shutdown()
}

// OnConnect records a new transport session. The connection starts
// unidentified and is not in the registry yet.
func (h *Hub) OnConnect(handle string, sender Sender) (*Conn, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	conn := NewConn(handle, sender)
	h.conns[handle] = conn
	h.mu.Unlock()

	h.log.Debug().Str("conn", handle).Msg("connection opened")
	return conn, nil
}

// OnMessage routes one inbound payload and executes its outcome. Any failure,
// including a panic in a handler, is confined to this message: the sender
// gets an error envelope and the connection stays open.
func (h *Hub) OnMessage(ctx context.Context, conn *Conn, payload []byte) {
	conn.Touch()

	outcome := h.safeRoute(ctx, conn, payload)

	switch {
	case outcome.Reply != nil:
		if err := conn.Send(outcome.Reply); err != nil {
			h.log.Warn().Err(err).Str("conn", conn.Handle).Msg("reply delivery failed")
		}
	case outcome.Broadcast != nil:
		h.registry.BroadcastToApps(outcome.Broadcast)
	case outcome.Relay != nil:
		if err := h.registry.SendToHardware(outcome.Relay); err != nil {
			if errors.Is(err, ErrHardwareUnavailable) {
				// Fire-and-forget: relays are dropped, not queued, when
				// no hardware is connected.
				h.log.Warn().Str("conn", conn.Handle).Str("type", outcome.Relay.Type).Msg("relay dropped, hardware unavailable")
			} else {
				h.log.Warn().Err(err).Str("conn", conn.Handle).Msg("relay delivery failed")
			}
		}
	}
}

// safeRoute is the fault boundary around message dispatch.
func (h *Hub) safeRoute(ctx context.Context, conn *Conn, payload []byte) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Str("conn", conn.Handle).Msg("handler panic")
			outcome = reply(proto.NewError(proto.CodeInternalFailure, "internal failure"))
		}
	}()
	return h.router.Route(ctx, conn, payload)
}

// OnClose removes a closed or failed connection everywhere it is tracked.
func (h *Hub) OnClose(handle string) {
	h.mu.Lock()
	delete(h.conns, handle)
	h.mu.Unlock()

	h.registry.Unregister(handle)
	h.log.Debug().Str("conn", handle).Msg("connection closed")
}

// Shutdown closes every live connection and clears the registry. New
// connections are rejected from the first moment; safe to call twice.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	h.registry.CloseAll()
	for _, c := range conns {
		_ = c.Close()
	}
	h.log.Info().Int("connections", len(conns)).Msg("hub shut down")
}
