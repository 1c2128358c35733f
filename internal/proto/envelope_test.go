package proto

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeValidEnvelope(t *testing.T) {
	env, err := Decode([]byte(`{"type":"gps","data":"payload","timestamp":1700000000000}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "gps" || env.Data != "payload" || env.Timestamp != 1700000000000 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not-json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"data":"x","timestamp":1}`)); !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestNewStampsTimestamp(t *testing.T) {
	env := New("heartbeat", "pong")
	if env.Timestamp == 0 {
		t.Fatalf("expected timestamp set")
	}
}

func TestNewErrorCarriesCode(t *testing.T) {
	env := NewError(CodeAuthorizationDenied, "nope")
	if env.Type != TypeError {
		t.Fatalf("expected error type, got %q", env.Type)
	}

	var body ErrorBody
	if err := json.Unmarshal([]byte(env.Data), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != CodeAuthorizationDenied || body.Msg != "nope" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		user    string
		pass    string
		wantErr bool
	}{
		{name: "long keys", data: `{"username":"alice","password":"secret"}`, user: "alice", pass: "secret"},
		{name: "short keys", data: `{"u":"alice","p":"secret"}`, user: "alice", pass: "secret"},
		{name: "long keys win", data: `{"username":"alice","u":"bob","password":"a","p":"b"}`, user: "alice", pass: "a"},
		{name: "garbage", data: "nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, pass, err := ParseCredentials(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if user != tt.user || pass != tt.pass {
				t.Fatalf("got %q/%q, want %q/%q", user, pass, tt.user, tt.pass)
			}
		})
	}
}

func TestTokenOmittedWhenEmpty(t *testing.T) {
	payload, err := New("gps", "x").Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["token"]; ok {
		t.Fatalf("empty token must be omitted from the wire")
	}
}
