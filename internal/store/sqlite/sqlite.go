package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/collarlink/relay-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS devices (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS telemetry (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_telemetry_device ON telemetry(device_id, received_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the database and runs a setup function. Tests use it to
// apply a custom schema against ":memory:".
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts a new user row.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `INSERT INTO users (username, password_hash) VALUES (?, ?)`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.getUserByID(ctx, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) getUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ==== DeviceStore implementation ====

// CreateDevice provisions a device ID.
func (s *SQLiteStore) CreateDevice(ctx context.Context, id, name string) (*store.Device, error) {
	query := `INSERT INTO devices (id, name) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, name); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("insert device: %w", err)
	}
	return s.GetDevice(ctx, id)
}

// GetDevice retrieves a provisioned device.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*store.Device, error) {
	query := `SELECT id, name, created_at FROM devices WHERE id = ?`

	var d store.Device
	err := s.db.QueryRowContext(ctx, query, id).Scan(&d.ID, &d.Name, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return &d, nil
}

// ==== TelemetryStore implementation ====

// RecordTelemetry appends one telemetry sample.
func (s *SQLiteStore) RecordTelemetry(ctx context.Context, deviceID, kind, payload string) error {
	query := `INSERT INTO telemetry (device_id, kind, payload) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, deviceID, kind, payload); err != nil {
		return fmt.Errorf("insert telemetry: %w", err)
	}
	return nil
}

// ListTelemetry returns the most recent samples for a device, newest first.
func (s *SQLiteStore) ListTelemetry(ctx context.Context, deviceID string, limit int) ([]*store.TelemetryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, device_id, kind, payload, received_at
		FROM telemetry
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	var records []*store.TelemetryRecord
	for rows.Next() {
		var rec store.TelemetryRecord
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Kind, &rec.Payload, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan telemetry: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
