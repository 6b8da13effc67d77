// Package storage defines the Provider interface for asset storage backends.
package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
)

// ErrNotFound is returned when a key does not name a servable object.
var ErrNotFound = errors.New("object not found")

// File is an opened object. *os.File satisfies it.
type File interface {
	io.ReadSeekCloser
	Stat() (fs.FileInfo, error)
}

// Provider abstracts asset storage operations.
type Provider interface {
	// Put writes data to storage under the given key, replacing any previous
	// object, and returns the number of bytes written.
	Put(ctx context.Context, key string, reader io.Reader) (int64, error)
	// Open returns the object stored at key or ErrNotFound.
	Open(ctx context.Context, key string) (File, error)
	// AccessPath returns where the object lives on the backend (e.g. a filesystem path).
	AccessPath(key string) string
}
