package core

import "errors"

var (
	// ErrHardwareUnavailable is returned when a relay targets the hardware
	// slot and nothing occupies it. Callers log and drop, they do not reply.
	ErrHardwareUnavailable = errors.New("hardware connection unavailable")
	// ErrSendQueueFull is returned by a Sender whose outbound queue is at
	// capacity. The frame is dropped; the connection stays up.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrHubClosed is returned when a connection arrives after shutdown began.
	ErrHubClosed = errors.New("hub closed")
)
