// Package client talks to a running relay over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/memohai/assetrelay/internal/version"
)

// DefaultTimeout bounds each request when the caller supplies no http.Client.
const DefaultTimeout = 5 * time.Minute

// APIError is a non-2xx reply from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// UploadResult mirrors the upload response.
type UploadResult struct {
	OK       bool   `json:"ok"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Notification mirrors the published payload.
type Notification struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Slot string `json:"slot,omitempty"`
}

// PushResult mirrors the push response.
type PushResult struct {
	OK      bool         `json:"ok"`
	Topic   string       `json:"topic"`
	Payload Notification `json:"payload"`
}

// Client calls the relay HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Upload sends the file at path under its base name.
func (c *Client) Upload(ctx context.Context, path string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, err
	}
	defer f.Close()
	return c.UploadReader(ctx, filepath.Base(path), f)
}

// UploadReader streams r as the multipart field "file" named filename.
func (c *Client) UploadReader(ctx context.Context, filename string, r io.Reader) (UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/upload", pr)
	if err != nil {
		_ = pr.Close()
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.do(req, &out); err != nil {
		return UploadResult{}, err
	}
	return out, nil
}

type pushRequest struct {
	URL  string `json:"url"`
	Slot string `json:"slot,omitempty"`
}

// Push asks the relay to notify devices of url. An empty slot is omitted.
func (c *Client) Push(ctx context.Context, url, slot string) (PushResult, error) {
	body, err := json.Marshal(pushRequest{URL: url, Slot: slot})
	if err != nil {
		return PushResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/push", bytes.NewReader(body))
	if err != nil {
		return PushResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out PushResult
	if err := c.do(req, &out); err != nil {
		return PushResult{}, err
	}
	return out, nil
}

// Health reports whether the relay answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.do(req, &out); err != nil {
		return err
	}
	if !out.OK {
		return errors.New("relay reported not ok")
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
			payload.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
