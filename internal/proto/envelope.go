package proto

import (
	"encoding/json"
	"errors"
	"time"
)

// Envelope is the wire unit exchanged over every connection. Data is opaque
// to the relay: handlers that need structure parse it themselves, relayed
// envelopes are forwarded byte-for-byte.
type Envelope struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Token     string `json:"token,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Recognized envelope types. Anything else is acknowledged generically.
const (
	TypeLogin     = "login"
	TypeRegister  = "register"
	TypeHeartbeat = "heartbeat"
	TypeDevice    = "device"
	TypeGPS       = "gps"
	TypeVideo     = "video"
	TypeControl   = "control"
	TypeError     = "error" // server-originated only
)

// Protocol-visible error codes carried in error envelopes.
const (
	CodeMalformedEnvelope    = "malformed_envelope"
	CodeAuthenticationFailed = "authentication_failed"
	CodeAuthorizationDenied  = "authorization_denied"
	CodeDuplicateUser        = "duplicate_user"
	CodeHardwareUnavailable  = "hardware_unavailable"
	CodeInternalFailure      = "internal_failure"
)

// ErrMissingType reports an envelope that decoded but carries no type field.
var ErrMissingType = errors.New("envelope missing type")

// Decode parses a raw payload into an Envelope and validates required fields.
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// Encode serializes an envelope for transport delivery.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// New builds an envelope stamped with the current time.
func New(msgType, data string) *Envelope {
	return &Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ErrorBody is the JSON structure carried in an error envelope's data field.
type ErrorBody struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewError builds a server-originated error envelope.
func NewError(code, msg string) *Envelope {
	body, _ := json.Marshal(ErrorBody{Code: code, Msg: msg})
	return New(TypeError, string(body))
}

// Credentials is the data payload of login and register envelopes. Clients in
// the field send both the long and the short key forms, so both are accepted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	U        string `json:"u"`
	P        string `json:"p"`
}

// ParseCredentials decodes a credentials payload and normalizes key aliases.
func ParseCredentials(data string) (username, password string, err error) {
	var c Credentials
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return "", "", err
	}
	username, password = c.Username, c.Password
	if username == "" {
		username = c.U
	}
	if password == "" {
		password = c.P
	}
	return username, password, nil
}
