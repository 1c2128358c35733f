package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")
)

// User represents a registered app account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Device represents a provisioned collar. Devices are created out of band
// with the device-token CLI command; the relay only ever reads them.
type Device struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// TelemetryRecord is one persisted telemetry sample from a device.
type TelemetryRecord struct {
	ID         int64
	DeviceID   string
	Kind       string
	Payload    string
	ReceivedAt time.Time
}

// UserStore handles user credential persistence.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrDuplicate if the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByUsername retrieves a user. Returns ErrNotFound when absent.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// DeviceStore handles provisioned device records.
type DeviceStore interface {
	// CreateDevice provisions a device ID.
	CreateDevice(ctx context.Context, id, name string) (*Device, error)

	// GetDevice retrieves a device. Returns ErrNotFound when absent.
	GetDevice(ctx context.Context, id string) (*Device, error)
}

// TelemetryStore persists telemetry samples relayed from hardware.
type TelemetryStore interface {
	// RecordTelemetry appends one sample.
	RecordTelemetry(ctx context.Context, deviceID, kind, payload string) error

	// ListTelemetry returns the most recent samples for a device, newest first.
	ListTelemetry(ctx context.Context, deviceID string, limit int) ([]*TelemetryRecord, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	DeviceStore
	TelemetryStore

	// Close closes the underlying database connection.
	Close() error
}
