package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the Prometheus registry.
type MetricsHandler struct {
	path    string
	handler http.Handler
}

// NewMetricsHandler serves gatherer on path.
func NewMetricsHandler(path string, gatherer prometheus.Gatherer) *MetricsHandler {
	return &MetricsHandler{
		path:    path,
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}

// Register mounts GET <path>.
func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET(h.path, echo.WrapHandler(h.handler))
}
