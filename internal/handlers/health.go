package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandler serves the liveness probe. It never checks the message bus.
type HealthHandler struct {
	logger *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(log *slog.Logger) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{logger: log.With(slog.String("handler", "health"))}
}

// Register mounts GET and HEAD /api/health on the Echo instance.
func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/api/health", h.Health)
	e.HEAD("/api/health", h.HealthHead)
}

type healthResponse struct {
	OK bool `json:"ok"`
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Success 200 {object} healthResponse
// @Router /api/health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{OK: true})
}

// HealthHead returns 200 No Content for load balancer checks.
func (h *HealthHandler) HealthHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
