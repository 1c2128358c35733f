package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/collarlink/relay-server/internal/proto"
)

// Role classifies a connection once its first identifying message succeeds.
type Role int

const (
	// RoleUnidentified is the state between transport accept and the first
	// successful login or device message. Unidentified connections are
	// tracked by the Hub only, never by the Registry.
	RoleUnidentified Role = iota
	// RoleApp is an authenticated mobile client session.
	RoleApp
	// RoleHardware is the single collar device session.
	RoleHardware
)

func (r Role) String() string {
	switch r {
	case RoleApp:
		return "app"
	case RoleHardware:
		return "hardware"
	default:
		return "unidentified"
	}
}

// Sender is the transport-owned outbound path for one connection. Send must
// only enqueue and return immediately; a slow peer must never stall the
// caller. Close must be safe to call more than once.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Conn is the core's view of one live transport session. The transport owns
// the socket; the core holds only the handle and the Sender.
type Conn struct {
	Handle string

	sender     Sender
	lastActive atomic.Int64 // unix nanos

	mu     sync.Mutex
	role   Role
	userID string
}

// NewConn wraps a freshly accepted transport session. The connection starts
// unidentified and counts the accept itself as activity.
func NewConn(handle string, sender Sender) *Conn {
	c := &Conn{Handle: handle, sender: sender}
	c.Touch()
	return c
}

// Touch records activity now. Called for every inbound message.
func (c *Conn) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent inbound activity.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Role returns the connection's current role.
func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// UserID returns the identity established at registration: the username for
// an app session, the device id for the hardware session, empty otherwise.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) identify(role Role, userID string) {
	c.mu.Lock()
	c.role = role
	c.userID = userID
	c.mu.Unlock()
}

// Send serializes the envelope and enqueues it on the transport.
func (c *Conn) Send(env *proto.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return c.sender.Send(payload)
}

// Close releases the transport session.
func (c *Conn) Close() error {
	return c.sender.Close()
}
