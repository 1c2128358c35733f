package app

import (
	"context"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/config"
	"github.com/collarlink/relay-server/internal/core"
	"github.com/collarlink/relay-server/internal/store"
	redisstore "github.com/collarlink/relay-server/internal/store/redis"
	"github.com/collarlink/relay-server/internal/store/sqlite"
	transporthttp "github.com/collarlink/relay-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	hub             *core.Hub
	store           store.Store
	tokenCloser     io.Closer
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var (
		tokens      core.TokenStore
		tokenCloser io.Closer
	)
	switch cfg.TokenBackend {
	case config.TokenBackendRedis:
		rts, err := redisstore.NewTokenStore(context.Background(), cfg.RedisAddr, cfg.TokenTTL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init redis token store: %w", err)
		}
		tokens = rts
		tokenCloser = rts
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("redis token store initialized")
	default:
		tokens = core.NewMemoryTokenStore(cfg.TokenTTL)
	}

	if cfg.DeviceSecret == "" {
		logger.Warn().Msg("device_secret is empty; hardware credentials are not secure")
	}
	devices := auth.NewDeviceVerifier([]byte(cfg.DeviceSecret), cfg.DeviceIssuer, st)
	authSvc := auth.NewService(st, tokens, devices)

	registry := core.NewRegistry(logger)
	router := core.NewRouter(authSvc, registry, st, logger)
	monitor := core.NewMonitor(registry, cfg.HealthInterval, 0, logger)
	hub := core.NewHub(registry, router, monitor, logger)

	server := transporthttp.NewServer(hub, authSvc, st, *cfg, logger)

	return &App{
		server:          server,
		hub:             hub,
		store:           st,
		tokenCloser:     tokenCloser,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// error. Shutdown order: stop accepting, stop the monitor, close every
// connection, then release storage.
func (a *App) Run(ctx context.Context) error {
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()

	hubDone := make(chan struct{})
	go func() {
		a.hub.Run(hubCtx)
		close(hubDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		hubCancel()
		<-hubDone
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		shutdownErr := a.server.Shutdown(shutdownCtx)

		hubCancel()
		<-hubDone
		a.cleanup()
		if shutdownErr != nil {
			return shutdownErr
		}
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.tokenCloser != nil {
		if err := a.tokenCloser.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close token store")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
