package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/assetrelay/internal/assets"
	"github.com/memohai/assetrelay/internal/logger"
	"github.com/memohai/assetrelay/internal/metrics"
	"github.com/memohai/assetrelay/internal/storage"
)

const (
	uploadField      = "file"
	assetCacheMaxAge = 365 * 24 * time.Hour
)

// AssetsOptions carries the deployment settings of the upload and static routes.
type AssetsOptions struct {
	// PublicBaseURL replaces scheme://host of returned URLs when set.
	PublicBaseURL string
	// MaxUploadBytes limits request bodies on upload; zero means no limit.
	MaxUploadBytes int64
}

// AssetsHandler accepts asset uploads and serves stored assets.
type AssetsHandler struct {
	service  *assets.Service
	observer metrics.Observer
	opts     AssetsOptions
	logger   *slog.Logger
}

// NewAssetsHandler creates an AssetsHandler. A nil observer disables metrics.
func NewAssetsHandler(log *slog.Logger, service *assets.Service, observer metrics.Observer, opts AssetsOptions) *AssetsHandler {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	return &AssetsHandler{
		service:  service,
		observer: observer,
		opts:     opts,
		logger:   log.With(slog.String("handler", "assets")),
	}
}

// Register mounts the upload endpoint and the static asset routes.
func (h *AssetsHandler) Register(e *echo.Echo) {
	var uploadMiddleware []echo.MiddlewareFunc
	if h.opts.MaxUploadBytes > 0 {
		uploadMiddleware = append(uploadMiddleware, limitBody(h.opts.MaxUploadBytes))
	}
	e.POST("/api/upload", h.Upload, uploadMiddleware...)
	e.GET(assets.RoutePrefix+"*", h.Serve)
	e.HEAD(assets.RoutePrefix+"*", h.Serve)
}

type uploadResponse struct {
	OK       bool   `json:"ok"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Upload godoc
// @Summary Upload an asset image
// @Description Stores the multipart field "file" as assets_A.bin or assets_B.bin, replacing any previous upload.
// @Tags assets
// @Accept multipart/form-data
// @Param file formData file true "assets_A.bin or assets_B.bin"
// @Success 200 {object} uploadResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 413 {object} server.ErrorResponse
// @Router /api/upload [post]
func (h *AssetsHandler) Upload(c echo.Context) error {
	fh, err := c.FormFile(uploadField)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.ErrStatusRequestEntityTooLarge
		}
		return echo.NewHTTPError(http.StatusBadRequest, "file required").SetInternal(err)
	}
	if _, err := assets.ParseFilename(fh.Filename); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer src.Close()

	ctx := c.Request().Context()
	asset, err := h.service.Store(ctx, fh.Filename, src)
	if err != nil {
		logger.FromContext(ctx).Error("store upload failed", slog.String("filename", fh.Filename), slog.Any("error", err))
		if errors.Is(err, assets.ErrInvalidFilename) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, uploadResponse{
		OK:       true,
		Filename: asset.Filename,
		URL:      h.publicURL(c, asset.Filename),
	})
}

// Serve godoc
// @Summary Download a stored asset
// @Description Serves raw bytes with a content ETag and a one-year max-age. Conditional and range requests are honoured.
// @Tags assets
// @Produce octet-stream
// @Param filename path string true "Stored file name"
// @Success 200 {file} binary
// @Success 304 "Not Modified"
// @Failure 404 {object} server.ErrorResponse
// @Router /assets/{filename} [get]
func (h *AssetsHandler) Serve(c echo.Context) error {
	name, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		h.observer.RecordServe(http.StatusNotFound)
		return echo.ErrNotFound
	}

	obj, err := h.service.Open(c.Request().Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.observer.RecordServe(http.StatusNotFound)
			return echo.ErrNotFound
		}
		h.observer.RecordServe(http.StatusInternalServerError)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer obj.File.Close()

	res := c.Response()
	header := res.Header()
	header.Set(echo.HeaderCacheControl, "public, max-age="+strconv.Itoa(int(assetCacheMaxAge.Seconds())))
	header.Set("ETag", obj.ETag)
	if ctype := mime.TypeByExtension(path.Ext(obj.Name)); ctype != "" {
		header.Set(echo.HeaderContentType, ctype)
	} else {
		header.Set(echo.HeaderContentType, echo.MIMEOctetStream)
	}
	http.ServeContent(res, c.Request(), obj.Name, obj.ModTime, obj.File)
	h.observer.RecordServe(res.Status)
	return nil
}

// limitBody rejects declared oversize bodies up front and caps the rest while reading.
func limitBody(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.ContentLength > limit {
				return echo.ErrStatusRequestEntityTooLarge
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}

func (h *AssetsHandler) publicURL(c echo.Context, filename string) string {
	base := h.opts.PublicBaseURL
	if base == "" {
		base = c.Scheme() + "://" + c.Request().Host
	}
	return base + assets.URLPath(filename)
}
