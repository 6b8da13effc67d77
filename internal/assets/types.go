package assets

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/memohai/assetrelay/internal/storage"
)

// Slot names one of the two interchangeable asset partitions on a device.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// RoutePrefix is the URL path under which stored assets are served.
const RoutePrefix = "/assets/"

var (
	// ErrInvalidFilename is returned for names other than assets_A.bin / assets_B.bin.
	ErrInvalidFilename = errors.New("invalid filename. Expect assets_A.bin or assets_B.bin")

	filenamePattern = regexp.MustCompile(`^assets_([ABab])\.bin$`)
)

// ParseFilename validates an upload name case-insensitively and returns its slot.
func ParseFilename(name string) (Slot, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", ErrInvalidFilename
	}
	return Slot(strings.ToUpper(m[1])), nil
}

// ParseSlot accepts exactly "A" or "B".
func ParseSlot(s string) (Slot, bool) {
	switch Slot(s) {
	case SlotA, SlotB:
		return Slot(s), true
	default:
		return "", false
	}
}

// URLPath returns the request path at which filename is served.
func URLPath(filename string) string {
	return RoutePrefix + filename
}

// Asset describes a stored upload.
type Asset struct {
	Filename  string `json:"filename"`
	Slot      Slot   `json:"slot"`
	SizeBytes int64  `json:"size_bytes"`
	// Digest is the hex BLAKE3 hash of the uploaded bytes.
	Digest string `json:"digest"`
}

// Object is an opened asset ready to be served. The caller closes File.
type Object struct {
	File    storage.File
	Name    string
	Size    int64
	ModTime time.Time
	ETag    string
}
