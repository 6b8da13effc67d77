// Package assets stores slot-named asset images and opens them for serving.
package assets

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/memohai/assetrelay/internal/metrics"
	"github.com/memohai/assetrelay/internal/storage"
)

const etagCacheSize = 256

// ErrProviderUnavailable is returned when the service has no storage backend.
var ErrProviderUnavailable = errors.New("asset storage not configured")

type etagEntry struct {
	size    int64
	modTime time.Time
	tag     string
}

// Service persists uploads into the public directory and resolves them for
// the static file route. It holds no asset state besides a memo of entity tags.
type Service struct {
	provider storage.Provider
	observer metrics.Observer
	etags    *lru.Cache[string, etagEntry]
	// writes counts completed Puts; a tag hashed across a write is not memoized.
	writes atomic.Uint64
	logger *slog.Logger
}

// NewService creates an asset service over provider. A nil observer disables metrics.
func NewService(log *slog.Logger, provider storage.Provider, observer metrics.Observer) *Service {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	etags, err := lru.New[string, etagEntry](etagCacheSize)
	if err != nil {
		panic(err) // only fails for non-positive sizes
	}
	return &Service{
		provider: provider,
		observer: observer,
		etags:    etags,
		logger:   log.With(slog.String("service", "assets")),
	}
}

// Store validates filename and writes reader over any previous asset of the
// same name. Invalid names are rejected before storage is touched.
func (s *Service) Store(ctx context.Context, filename string, reader io.Reader) (Asset, error) {
	if s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	slot, err := ParseFilename(filename)
	if err != nil {
		return Asset{}, err
	}
	if reader == nil {
		return Asset{}, fmt.Errorf("reader is required")
	}

	start := time.Now()
	hasher := blake3.New()
	written, err := s.provider.Put(ctx, filename, io.TeeReader(reader, hasher))
	s.writes.Add(1)
	s.etags.Remove(filename)
	s.observer.RecordUpload(string(slot), time.Since(start), written, err)
	if err != nil {
		return Asset{}, fmt.Errorf("store asset: %w", err)
	}

	asset := Asset{
		Filename:  filename,
		Slot:      slot,
		SizeBytes: written,
		Digest:    hex.EncodeToString(hasher.Sum(nil)),
	}
	s.logger.Info("asset stored",
		slog.String("filename", asset.Filename),
		slog.String("slot", string(asset.Slot)),
		slog.Int64("bytes", asset.SizeBytes),
		slog.String("digest", asset.Digest),
		slog.String("path", s.provider.AccessPath(filename)),
	)
	return asset, nil
}

// Open resolves name for serving. Absent names return storage.ErrNotFound.
func (s *Service) Open(ctx context.Context, name string) (Object, error) {
	if s.provider == nil {
		return Object{}, ErrProviderUnavailable
	}
	gen := s.writes.Load()
	f, err := s.provider.Open(ctx, name)
	if err != nil {
		return Object{}, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Object{}, fmt.Errorf("stat asset: %w", err)
	}
	tag, err := s.entityTag(name, f, info.Size(), info.ModTime(), gen)
	if err != nil {
		_ = f.Close()
		return Object{}, err
	}
	return Object{
		File:    f,
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		ETag:    tag,
	}, nil
}

// entityTag returns the quoted content digest of f, reusing the memo while
// size and mtime are unchanged. Store drops the memo for the name it writes,
// so identical size and mtime after an overwrite still rehash. f is rewound
// before returning.
func (s *Service) entityTag(name string, f storage.File, size int64, modTime time.Time, gen uint64) (string, error) {
	if cached, ok := s.etags.Get(name); ok && cached.size == size && cached.modTime.Equal(modTime) {
		return cached.tag, nil
	}
	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hash asset: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind asset: %w", err)
	}
	tag := `"` + hex.EncodeToString(hasher.Sum(nil)) + `"`
	if s.writes.Load() == gen {
		s.etags.Add(name, etagEntry{size: size, modTime: modTime, tag: tag})
	}
	return tag, nil
}
