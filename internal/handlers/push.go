package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/memohai/assetrelay/internal/notify"
)

// PushOptions throttles /api/push per client IP. A zero RateLimit disables throttling.
type PushOptions struct {
	RateLimit float64
	Burst     int
}

// PushHandler publishes asset update notifications on request.
type PushHandler struct {
	service *notify.Service
	opts    PushOptions
	logger  *slog.Logger
}

// NewPushHandler creates a PushHandler.
func NewPushHandler(log *slog.Logger, service *notify.Service, opts PushOptions) *PushHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PushHandler{
		service: service,
		opts:    opts,
		logger:  log.With(slog.String("handler", "push")),
	}
}

// Register mounts POST /api/push.
func (h *PushHandler) Register(e *echo.Echo) {
	var mw []echo.MiddlewareFunc
	if h.opts.RateLimit > 0 {
		burst := h.opts.Burst
		if burst < 1 {
			burst = 1
		}
		mw = append(mw, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(h.opts.RateLimit),
				Burst:     burst,
				ExpiresIn: pushLimiterExpiry,
			}),
		}))
	}
	e.POST("/api/push", h.Push, mw...)
}

const (
	pushLimiterExpiry = 3 * time.Minute
	maxPushBodyBytes  = 100 << 10
)

// pushRequest keeps both fields loosely typed: a non-string url is a client
// error while a non-string slot is simply dropped.
type pushRequest struct {
	URL  any `json:"url"`
	Slot any `json:"slot"`
}

type pushResponse struct {
	OK      bool                `json:"ok"`
	Topic   string              `json:"topic"`
	Payload notify.Notification `json:"payload"`
}

// Push godoc
// @Summary Notify devices of a new asset
// @Description Publishes {"type":"asset_update","url":...,"slot"?} to the configured topic at QoS 1. No retry on failure.
// @Tags push
// @Accept json
// @Produce json
// @Param payload body pushRequest true "url must start with http:// or https://; slot is A or B"
// @Success 200 {object} pushResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 413 {object} server.ErrorResponse
// @Failure 429 {object} server.ErrorResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /api/push [post]
func (h *PushHandler) Push(c echo.Context) error {
	if h.service == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "push service not available")
	}

	var req pushRequest
	if isJSON(c.Request().Header.Get(echo.HeaderContentType)) {
		body := http.MaxBytesReader(c.Response(), c.Request().Body, maxPushBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return echo.ErrStatusRequestEntityTooLarge
			}
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
		}
	}

	ctx := c.Request().Context()
	res, err := h.service.Notify(ctx, req.URL, req.Slot)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidURL) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		var pubErr *notify.PublishError
		if errors.As(err, &pubErr) {
			return echo.NewHTTPError(http.StatusInternalServerError, pubErr.Error()).SetInternal(pubErr.Err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, pushResponse{
		OK:      true,
		Topic:   res.Topic,
		Payload: res.Payload,
	})
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), echo.MIMEApplicationJSON)
}
