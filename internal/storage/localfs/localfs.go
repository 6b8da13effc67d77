// Package localfs implements storage.Provider on a local directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/memohai/assetrelay/internal/storage"
)

const tempPrefix = ".upload-"

var _ storage.Provider = (*Provider)(nil)

// Provider stores objects as files under a single root directory.
// All access goes through os.Root so keys cannot escape the directory.
type Provider struct {
	dir    string
	root   *os.Root
	logger *slog.Logger
}

// New creates dir if needed and opens it as the storage root.
func New(log *slog.Logger, dir string) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open storage directory: %w", err)
	}
	return &Provider{
		dir:    abs,
		root:   root,
		logger: log.With(slog.String("storage", "localfs")),
	}, nil
}

// Dir returns the absolute root directory.
func (p *Provider) Dir() string {
	return p.dir
}

// Put writes reader to a hidden temp file next to key and renames it into
// place. Concurrent writers to the same key race; the last rename wins.
func (p *Provider) Put(ctx context.Context, key string, reader io.Reader) (int64, error) {
	if !validKey(key) {
		return 0, fmt.Errorf("invalid storage key %q", key)
	}
	if reader == nil {
		return 0, errors.New("reader is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := path.Dir(key)
	if dir != "." {
		if err := p.root.MkdirAll(filepath.FromSlash(dir), 0o755); err != nil {
			return 0, fmt.Errorf("create parent directory: %w", err)
		}
	}

	tempName := filepath.FromSlash(path.Join(dir, tempPrefix+uuid.NewString()+".tmp"))
	f, err := p.root.OpenFile(tempName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = p.root.Remove(tempName)
		}
	}()

	written, err := io.Copy(f, &ctxReader{ctx: ctx, r: reader})
	if err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", key, err)
	}
	if err := p.root.Rename(tempName, filepath.FromSlash(key)); err != nil {
		return 0, fmt.Errorf("replace %s: %w", key, err)
	}
	committed = true

	p.logger.Debug("object stored", slog.String("key", key), slog.Int64("bytes", written))
	return written, nil
}

// Open returns the regular file stored at key. Missing files, directories,
// hidden names, and keys outside the root all report storage.ErrNotFound.
func (p *Provider) Open(ctx context.Context, key string) (storage.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, storage.ErrNotFound
	}
	f, err := p.root.Open(filepath.FromSlash(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// escapes and symlink loops are reported as path errors by os.Root
			p.logger.Debug("open rejected", slog.String("key", key), slog.Any("error", err))
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, storage.ErrNotFound
	}
	return f, nil
}

// AccessPath returns the absolute filesystem path for key.
func (p *Provider) AccessPath(key string) string {
	return filepath.Join(p.dir, filepath.FromSlash(key))
}

// Close releases the root directory handle.
func (p *Provider) Close() error {
	return p.root.Close()
}

func validKey(key string) bool {
	if key == "" || key == "." || !fs.ValidPath(key) {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if strings.HasPrefix(segment, ".") {
			return false
		}
	}
	return true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
