package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/collarlink/relay-server/internal/auth"
	"github.com/collarlink/relay-server/internal/store"
)

// maxTelemetryLimit caps how many samples one list request may return.
const maxTelemetryLimit = 1000

// ErrorResponse is the JSON error body for REST endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// API serves the REST endpoints that mirror the socket's auth handlers, so
// app clients can obtain a token before opening the message connection.
type API struct {
	auth      *auth.Service
	telemetry store.TelemetryStore
	log       *zerolog.Logger
}

// NewAPI builds the REST handler set.
func NewAPI(authSvc *auth.Service, telemetry store.TelemetryStore, logger *zerolog.Logger) *API {
	return &API{auth: authSvc, telemetry: telemetry, log: logger}
}

// Register handles POST /api/register.
func (a *API) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username and password are required"})
		return
	}

	userID, err := a.auth.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case err != nil:
		a.log.Error().Err(err).Msg("register failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	default:
		c.JSON(http.StatusCreated, gin.H{"user_id": userID})
	}
}

// Login handles POST /api/login.
func (a *API) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username and password are required"})
		return
	}

	userID, token, err := a.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		a.log.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "token": token})
}

// Telemetry handles GET /api/telemetry/:device_id. Requires a session token.
func (a *API) Telemetry(c *gin.Context) {
	if a.telemetry == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "telemetry persistence disabled"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		if parsed > maxTelemetryLimit {
			parsed = maxTelemetryLimit
		}
		limit = parsed
	}

	records, err := a.telemetry.ListTelemetry(c.Request.Context(), c.Param("device_id"), limit)
	if err != nil {
		a.log.Error().Err(err).Msg("list telemetry failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	type sample struct {
		Kind       string `json:"kind"`
		Payload    string `json:"payload"`
		ReceivedAt int64  `json:"received_at"`
	}
	out := make([]sample, 0, len(records))
	for _, rec := range records {
		out = append(out, sample{
			Kind:       rec.Kind,
			Payload:    rec.Payload,
			ReceivedAt: rec.ReceivedAt.UnixMilli(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"samples": out})
}
