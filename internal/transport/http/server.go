package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/config"
	"github.com/collarlink/relay-server/internal/core"
	"github.com/collarlink/relay-server/internal/store"
)

// NewServer builds the HTTP server: health probe, REST auth API, and the
// WebSocket relay endpoint.
func NewServer(hub *core.Hub, authSvc *auth.Service, telemetry store.TelemetryStore, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := NewAPI(authSvc, telemetry, logger)
	apiGroup := r.Group("/api", LoggerMiddleware(logger))
	apiGroup.POST("/register", api.Register)
	apiGroup.POST("/login", api.Login)
	apiGroup.GET("/telemetry/:device_id", AuthMiddleware(authSvc, logger), api.Telemetry)

	ws := NewWSHandler(hub, cfg.SendQueueSize, logger)
	r.GET("/ws", ws.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
