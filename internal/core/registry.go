package core

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/proto"
)

// Registry tracks live identified connections: many app clients keyed by user
// identity plus at most one hardware slot. Every connection in the registry
// has a role; unidentified connections live only in the Hub.
//
// All mutations happen under one mutex so readers always observe a complete
// add, replace, or remove. Delivery itself happens outside the lock against a
// snapshot, and Sender.Send only enqueues, so a slow peer cannot stall the
// registry or the other connections.
type Registry struct {
	log *zerolog.Logger

	mu       sync.Mutex
	apps     map[string]*Conn
	hardware *Conn
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	return &Registry{
		log:  logger,
		apps: make(map[string]*Conn),
	}
}

// RegisterApp installs or replaces the app connection for userID. A prior
// connection for the same user is closed: last writer wins, one session per
// user. Replacement is logged, it is not an error. A connection that was
// already registered under another identity is moved, never duplicated: one
// connection occupies at most one slot.
func (r *Registry) RegisterApp(userID string, c *Conn) {
	c.identify(RoleApp, userID)

	r.mu.Lock()
	r.evictHandleLocked(c.Handle)
	prior := r.apps[userID]
	r.apps[userID] = c
	r.mu.Unlock()

	if prior != nil && prior != c {
		_ = prior.Close()
		r.log.Info().
			Str("user", userID).
			Str("old_conn", prior.Handle).
			Str("new_conn", c.Handle).
			Msg("app session replaced")
	} else {
		r.log.Info().Str("user", userID).Str("conn", c.Handle).Msg("app registered")
	}
}

// RegisterHardware installs the sole hardware slot, evicting and closing any
// prior occupant. deviceID is the provisioned identity the device presented.
func (r *Registry) RegisterHardware(deviceID string, c *Conn) {
	c.identify(RoleHardware, deviceID)

	r.mu.Lock()
	r.evictHandleLocked(c.Handle)
	prior := r.hardware
	r.hardware = c
	r.mu.Unlock()

	if prior != nil && prior != c {
		_ = prior.Close()
		r.log.Info().
			Str("old_conn", prior.Handle).
			Str("new_conn", c.Handle).
			Msg("hardware session replaced")
	} else {
		r.log.Info().Str("conn", c.Handle).Msg("hardware registered")
	}
}

// Unregister removes the connection wherever it is found. Close events race
// with eviction and replacement, so a miss is a no-op, not an error. The
// transport handle is not closed here; callers own that.
func (r *Registry) Unregister(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictHandleLocked(handle)
}

// evictHandleLocked removes the handle from every slot it occupies. Caller
// holds the mutex.
func (r *Registry) evictHandleLocked(handle string) {
	for userID, c := range r.apps {
		if c.Handle == handle {
			delete(r.apps, userID)
		}
	}
	if r.hardware != nil && r.hardware.Handle == handle {
		r.hardware = nil
	}
}

// IsRegistered reports whether the handle is present in the registry.
func (r *Registry) IsRegistered(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.apps {
		if c.Handle == handle {
			return true
		}
	}
	return r.hardware != nil && r.hardware.Handle == handle
}

// IsHardware reports whether the handle is the registered hardware connection.
func (r *Registry) IsHardware(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hardware != nil && r.hardware.Handle == handle
}

// AppFor returns the user identity registered for the handle, if any.
func (r *Registry) AppFor(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, c := range r.apps {
		if c.Handle == handle {
			return userID, true
		}
	}
	return "", false
}

// BroadcastToApps delivers the envelope to every registered app connection.
// Per-connection failures are logged and do not abort delivery to the rest.
func (r *Registry) BroadcastToApps(env *proto.Envelope) {
	payload, err := env.Encode()
	if err != nil {
		r.log.Error().Err(err).Str("type", env.Type).Msg("encode broadcast envelope")
		return
	}

	r.mu.Lock()
	targets := make([]*Conn, 0, len(r.apps))
	for _, c := range r.apps {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if err := c.sender.Send(payload); err != nil {
			r.log.Warn().Err(err).
				Str("conn", c.Handle).
				Str("user", c.UserID()).
				Str("type", env.Type).
				Msg("broadcast delivery failed")
		}
	}
}

// SendToHardware delivers to the hardware connection. When the slot is empty
// it returns ErrHardwareUnavailable; relays are not queued for a future
// hardware connection.
func (r *Registry) SendToHardware(env *proto.Envelope) error {
	r.mu.Lock()
	hw := r.hardware
	r.mu.Unlock()

	if hw == nil {
		return ErrHardwareUnavailable
	}
	return hw.Send(env)
}

// Snapshot returns all registered connections at this instant. The health
// monitor acts on the snapshot so it never holds the lock across a sweep.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Conn, 0, len(r.apps)+1)
	for _, c := range r.apps {
		conns = append(conns, c)
	}
	if r.hardware != nil {
		conns = append(conns, r.hardware)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.apps)
	if r.hardware != nil {
		n++
	}
	return n
}

// CloseAll closes and removes every registered connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.apps)+1)
	for _, c := range r.apps {
		conns = append(conns, c)
	}
	if r.hardware != nil {
		conns = append(conns, r.hardware)
	}
	r.apps = make(map[string]*Conn)
	r.hardware = nil
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
