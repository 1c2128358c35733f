package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/proto"
)

// AuthService is the slice of the auth layer the router needs. Keeping it an
// interface lets router tests run against a stub instead of a database.
type AuthService interface {
	// Login validates credentials and mints a session token. Returns the
	// normalized user identity and the token.
	Login(ctx context.Context, username, password string) (userID, token string, err error)

	// Register creates a user account. It does not log the user in.
	Register(ctx context.Context, username, password string) (userID string, err error)

	// VerifyToken resolves a session token to its user identity.
	VerifyToken(ctx context.Context, token string) (userID string, ok bool)

	// VerifyDevice validates a signed hardware credential.
	VerifyDevice(ctx context.Context, credential string) (deviceID string, err error)
}

// TelemetryRecorder persists inbound telemetry samples. Recording is
// best-effort: failures are logged, never surfaced to the device.
type TelemetryRecorder interface {
	RecordTelemetry(ctx context.Context, deviceID, kind, payload string) error
}

// Outcome is the single logical result of routing one inbound message: a
// direct reply to the sender, a broadcast to all apps, a relay to hardware,
// or nothing. At most one field is set.
type Outcome struct {
	Reply     *proto.Envelope
	Broadcast *proto.Envelope
	Relay     *proto.Envelope
}

func reply(env *proto.Envelope) Outcome { return Outcome{Reply: env} }

// Router decodes envelopes and dispatches them by type. Each message is
// handled independently; a failure is converted into an error reply and
// never terminates the connection.
type Router struct {
	auth      AuthService
	registry  *Registry
	telemetry TelemetryRecorder
	log       *zerolog.Logger
}

// NewRouter builds a router. telemetry may be nil to disable persistence.
func NewRouter(authSvc AuthService, registry *Registry, telemetry TelemetryRecorder, logger *zerolog.Logger) *Router {
	return &Router{
		auth:      authSvc,
		registry:  registry,
		telemetry: telemetry,
		log:       logger,
	}
}

// Route handles one raw inbound payload from conn and returns its outcome.
func (r *Router) Route(ctx context.Context, conn *Conn, payload []byte) Outcome {
	env, err := proto.Decode(payload)
	if err != nil {
		r.log.Debug().Err(err).Str("conn", conn.Handle).Msg("malformed envelope")
		return reply(proto.NewError(proto.CodeMalformedEnvelope, "cannot decode envelope"))
	}

	switch env.Type {
	case proto.TypeLogin:
		return r.handleLogin(ctx, conn, env)
	case proto.TypeRegister:
		return r.handleRegister(ctx, env)
	case proto.TypeHeartbeat:
		conn.Touch()
		return reply(proto.New(proto.TypeHeartbeat, "pong"))
	case proto.TypeDevice:
		return r.handleDevice(ctx, conn, env)
	case proto.TypeGPS, proto.TypeVideo:
		return r.handleTelemetry(ctx, conn, env)
	case proto.TypeControl:
		return r.handleControl(ctx, conn, env)
	default:
		// Unrecognized types are acknowledged, never rejected, so newer
		// clients can talk to older servers without losing the connection.
		return reply(proto.New(env.Type, "ack"))
	}
}

func (r *Router) handleLogin(ctx context.Context, conn *Conn, env *proto.Envelope) Outcome {
	username, password, err := proto.ParseCredentials(env.Data)
	if err != nil {
		return reply(proto.NewError(proto.CodeMalformedEnvelope, "cannot decode credentials"))
	}

	userID, token, err := r.auth.Login(ctx, username, password)
	if err != nil {
		r.log.Info().Str("conn", conn.Handle).Str("user", username).Msg("login rejected")
		return reply(proto.NewError(proto.CodeAuthenticationFailed, "invalid credentials"))
	}

	r.registry.RegisterApp(userID, conn)
	return reply(proto.New(proto.TypeLogin, token))
}

func (r *Router) handleRegister(ctx context.Context, env *proto.Envelope) Outcome {
	username, password, err := proto.ParseCredentials(env.Data)
	if err != nil {
		return reply(proto.NewError(proto.CodeMalformedEnvelope, "cannot decode credentials"))
	}

	if _, err := r.auth.Register(ctx, username, password); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return reply(proto.NewError(proto.CodeDuplicateUser, "user already exists"))
		}
		return reply(proto.NewError(proto.CodeAuthenticationFailed, err.Error()))
	}
	return reply(proto.New(proto.TypeRegister, "ok"))
}

func (r *Router) handleDevice(ctx context.Context, conn *Conn, env *proto.Envelope) Outcome {
	deviceID, err := r.auth.VerifyDevice(ctx, env.Data)
	if err != nil {
		r.log.Warn().Err(err).Str("conn", conn.Handle).Msg("device credential rejected")
		return reply(proto.NewError(proto.CodeAuthenticationFailed, "invalid device credential"))
	}

	r.registry.RegisterHardware(deviceID, conn)
	return reply(proto.New(proto.TypeDevice, "ok"))
}

func (r *Router) handleTelemetry(ctx context.Context, conn *Conn, env *proto.Envelope) Outcome {
	if !r.registry.IsHardware(conn.Handle) {
		return reply(proto.NewError(proto.CodeAuthorizationDenied, "telemetry accepted from hardware only"))
	}

	if env.Type == proto.TypeGPS && r.telemetry != nil {
		if err := r.telemetry.RecordTelemetry(ctx, conn.UserID(), env.Type, env.Data); err != nil {
			r.log.Warn().Err(err).Msg("telemetry record failed")
		}
	}

	// Relayed unmodified: same type, same payload, sender's timestamp.
	return Outcome{Broadcast: env}
}

func (r *Router) handleControl(ctx context.Context, conn *Conn, env *proto.Envelope) Outcome {
	userID, ok := r.registry.AppFor(conn.Handle)
	if !ok {
		return reply(proto.NewError(proto.CodeAuthorizationDenied, "control requires an authenticated app session"))
	}
	if env.Token == "" {
		return reply(proto.NewError(proto.CodeAuthorizationDenied, "control requires a session token"))
	}
	tokenUser, ok := r.auth.VerifyToken(ctx, env.Token)
	if !ok || tokenUser != userID {
		return reply(proto.NewError(proto.CodeAuthorizationDenied, "invalid session token"))
	}

	return Outcome{Relay: env}
}
