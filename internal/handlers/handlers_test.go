package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/assetrelay/internal/assets"
	"github.com/memohai/assetrelay/internal/metrics"
	"github.com/memohai/assetrelay/internal/notify"
	"github.com/memohai/assetrelay/internal/server"
	"github.com/memohai/assetrelay/internal/storage/localfs"
)

const testTopic = "xiaozhi/asset_update"

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	topics   []string
	payloads []string
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, string(payload))
	return nil
}

type testRelay struct {
	handler http.Handler
	dir     string
	pub     *fakePublisher
	reg     *prometheus.Registry
}

func newTestRelay(t *testing.T, opts AssetsOptions) *testRelay {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "public")

	provider, err := localfs.New(log, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	reg := prometheus.NewRegistry()
	observer, err := metrics.NewPrometheusObserver("", reg)
	require.NoError(t, err)

	pub := &fakePublisher{}
	assetSvc := assets.NewService(log, provider, observer)
	notifySvc := notify.NewService(log, pub, testTopic, 0, observer)

	srv := server.NewServer(log, ":0",
		NewHealthHandler(log),
		NewAssetsHandler(log, assetSvc, observer, opts),
		NewPushHandler(log, notifySvc, PushOptions{}),
		NewMetricsHandler("/metrics", reg),
	)
	return &testRelay{handler: srv.Handler(), dir: dir, pub: pub, reg: reg}
}

func (r *testRelay) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Host = "relay.local:8080"
	return req
}

func pushRequestOf(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/push", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	rec := relay.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = relay.do(httptest.NewRequest(http.MethodHead, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUploadThenDownload(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	content := []byte{0x00, 0x01, 0x02, 0xff}

	rec := relay.do(uploadRequest(t, "file", "assets_A.bin", content))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true,"filename":"assets_A.bin","url":"http://relay.local:8080/assets/assets_A.bin"}`, rec.Body.String())

	onDisk, err := os.ReadFile(filepath.Join(relay.dir, "assets_A.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, onDisk)

	rec = relay.do(httptest.NewRequest(http.MethodGet, "/assets/assets_A.bin", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestUploadKeepsLowercaseSlotName(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{PublicBaseURL: "https://cdn.example.com"})

	rec := relay.do(uploadRequest(t, "file", "assets_b.bin", []byte("lower")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "assets_b.bin", body["filename"])
	assert.Equal(t, "https://cdn.example.com/assets/assets_b.bin", body["url"])

	_, err := os.Stat(filepath.Join(relay.dir, "assets_b.bin"))
	assert.NoError(t, err)
}

func TestUploadRejectsBadFilename(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	for _, name := range []string{"assets_C.bin", "evil.bin", "assets_A.bin.exe", "x_assets_A.bin"} {
		rec := relay.do(uploadRequest(t, "file", name, []byte("payload")))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, assets.ErrInvalidFilename.Error(), body["error"])
	}

	entries, err := os.ReadDir(relay.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected uploads must not create files")
}

func TestUploadRequiresFile(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	rec := relay.do(uploadRequest(t, "file", "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"file required"}`, rec.Body.String())

	rec = relay.do(uploadRequest(t, "other", "assets_A.bin", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{MaxUploadBytes: 64})

	rec := relay.do(uploadRequest(t, "file", "assets_A.bin", bytes.Repeat([]byte("x"), 1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])

	_, err := os.Stat(filepath.Join(relay.dir, "assets_A.bin"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUploadOverwriteServesLatest(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	require.Equal(t, http.StatusOK, relay.do(uploadRequest(t, "file", "assets_B.bin", []byte("first"))).Code)
	first := relay.do(httptest.NewRequest(http.MethodGet, "/assets/assets_B.bin", nil))
	require.Equal(t, http.StatusOK, first.Code)

	require.Equal(t, http.StatusOK, relay.do(uploadRequest(t, "file", "assets_B.bin", []byte("second version"))).Code)
	second := relay.do(httptest.NewRequest(http.MethodGet, "/assets/assets_B.bin", nil))
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, "second version", second.Body.String())
	assert.NotEqual(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
}

func TestServeConditionalRequest(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	require.Equal(t, http.StatusOK, relay.do(uploadRequest(t, "file", "assets_A.bin", []byte("cached"))).Code)

	rec := relay.do(httptest.NewRequest(http.MethodGet, "/assets/assets_A.bin", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/assets/assets_A.bin", nil)
	req.Header.Set("If-None-Match", etag)
	rec = relay.do(req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestServeHead(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	require.Equal(t, http.StatusOK, relay.do(uploadRequest(t, "file", "assets_A.bin", []byte("head me"))).Code)

	rec := relay.do(httptest.NewRequest(http.MethodHead, "/assets/assets_A.bin", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestServeMissingAndNoFallThrough(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	require.NoError(t, os.WriteFile(filepath.Join(relay.dir, ".hidden"), []byte("secret"), 0o644))

	for _, target := range []string{
		"/assets/assets_A.bin",
		"/assets/",
		"/assets/.hidden",
		"/assets/..%2f..%2fetc%2fpasswd",
		"/assets/nested/dir",
	} {
		rec := relay.do(httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, false, decodeBody(t, rec)["ok"], target)
	}
}

func TestPushPublishesNotification(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	rec := relay.do(pushRequestOf(`{"url":"http://h/assets/assets_B.bin","slot":"B"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true,"topic":"xiaozhi/asset_update","payload":{"type":"asset_update","url":"http://h/assets/assets_B.bin","slot":"B"}}`, rec.Body.String())

	require.Len(t, relay.pub.payloads, 1)
	assert.Equal(t, testTopic, relay.pub.topics[0])
	assert.JSONEq(t, `{"type":"asset_update","url":"http://h/assets/assets_B.bin","slot":"B"}`, relay.pub.payloads[0])
}

func TestPushDropsUnknownSlot(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	for _, body := range []string{
		`{"url":"https://h/a.bin"}`,
		`{"url":"https://h/a.bin","slot":"C"}`,
		`{"url":"https://h/a.bin","slot":"a"}`,
		`{"url":"https://h/a.bin","slot":7}`,
	} {
		rec := relay.do(pushRequestOf(body))
		require.Equal(t, http.StatusOK, rec.Code, body)
		payload := decodeBody(t, rec)["payload"].(map[string]any)
		_, hasSlot := payload["slot"]
		assert.False(t, hasSlot, body)
	}
	assert.Len(t, relay.pub.payloads, 4)
}

func TestPushRejectsInvalidURL(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	for _, body := range []string{
		`{}`,
		`{"url":""}`,
		`{"url":"ftp://h/a.bin"}`,
		`{"url":42}`,
		`{"url":"http://"}`,
	} {
		rec := relay.do(pushRequestOf(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"ok":false,"error":"invalid url"}`, rec.Body.String(), body)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/push", strings.NewReader(`url=http://h/a.bin`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := relay.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, relay.pub.payloads)
}

func TestPushMalformedJSON(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	rec := relay.do(pushRequestOf(`{"url":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"invalid request body"}`, rec.Body.String())
}

func TestPushTransportFailure(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	relay.pub.err = errors.New("not connected to broker")

	rec := relay.do(pushRequestOf(`{"url":"http://h/assets/assets_A.bin","slot":"A"}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"not connected to broker"}`, rec.Body.String())
}

func TestHealthIgnoresBrokerState(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	relay.pub.err = notify.ErrNotConnected

	rec := relay.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	rec := relay.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestMetricsEndpoint(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})
	require.Equal(t, http.StatusOK, relay.do(uploadRequest(t, "file", "assets_A.bin", []byte("m"))).Code)
	relay.do(httptest.NewRequest(http.MethodGet, "/assets/missing.bin", nil))

	rec := relay.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `asset_relay_uploads_total{slot="A"} 1`)
	assert.Contains(t, body, `asset_relay_asset_requests_total{status="404"} 1`)
}

func TestPushRateLimit(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := &fakePublisher{}
	srv := server.NewServer(log, ":0",
		NewPushHandler(log, notify.NewService(log, pub, testTopic, 0, nil), PushOptions{RateLimit: 0.001, Burst: 1}),
	)

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, pushRequestOf(`{"url":"http://h/a.bin"}`))
		return rec
	}
	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])
	assert.Len(t, pub.payloads, 1)
}

func TestPushRejectsOversizedBody(t *testing.T) {
	relay := newTestRelay(t, AssetsOptions{})

	padding := strings.Repeat("x", maxPushBodyBytes)
	rec := relay.do(pushRequestOf(`{"url":"http://h/a.bin","pad":"` + padding + `"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])
	assert.Empty(t, relay.pub.payloads)

	rec = relay.do(pushRequestOf(`{"url":"http://h/a.bin","pad":"` + strings.Repeat("x", 1024) + `"}`))
	assert.Equal(t, http.StatusOK, rec.Code)
}
