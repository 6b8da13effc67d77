package notify

import (
	"errors"
	"strings"

	"github.com/memohai/assetrelay/internal/assets"
)

// TypeAssetUpdate is the only notification type the relay emits.
const TypeAssetUpdate = "asset_update"

// ErrInvalidURL is returned when the url is not a string with an http(s) scheme.
var ErrInvalidURL = errors.New("invalid url")

// Notification is the message published to devices. Slot is omitted when empty.
type Notification struct {
	Type string      `json:"type"`
	URL  string      `json:"url"`
	Slot assets.Slot `json:"slot,omitempty"`
}

// NewAssetUpdate builds a notification from loosely typed request values.
// rawURL must be a string beginning with http:// or https://. rawSlot is kept
// only when it is exactly "A" or "B"; anything else is dropped silently.
func NewAssetUpdate(rawURL, rawSlot any) (Notification, error) {
	u, ok := rawURL.(string)
	if !ok || !hasHTTPScheme(u) {
		return Notification{}, ErrInvalidURL
	}
	n := Notification{Type: TypeAssetUpdate, URL: u}
	if s, ok := rawSlot.(string); ok {
		if slot, ok := assets.ParseSlot(s); ok {
			n.Slot = slot
		}
	}
	return n, nil
}

func hasHTTPScheme(u string) bool {
	lower := strings.ToLower(u)
	for _, prefix := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, prefix) && len(u) > len(prefix) {
			return true
		}
	}
	return false
}
