// Package browser loads a page and reports the network activity and
// script loading hints the analyzer needs.
package browser

import (
	"context"
	"strings"

	"github.com/khanhnv2901/vela/internal/domain/scan"
)

// Capturer loads pageURL and returns what it observed.
type Capturer interface {
	Capture(ctx context.Context, pageURL string) (*scan.Capture, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context, pageURL string) (*scan.Capture, error)

// Capture calls f.
func (f CapturerFunc) Capture(ctx context.Context, pageURL string) (*scan.Capture, error) {
	return f(ctx, pageURL)
}

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Vela/1.0"

var resourceTypes = map[string]scan.ResourceType{
	"document":   scan.ResourceDocument,
	"script":     scan.ResourceScript,
	"stylesheet": scan.ResourceStylesheet,
	"image":      scan.ResourceImage,
	"font":       scan.ResourceFont,
	"xhr":        scan.ResourceXHR,
	"fetch":      scan.ResourceFetch,
	"websocket":  scan.ResourceWebSocket,
}

// MapResourceType folds a browser resource type name onto scan.ResourceType.
// Unknown names map to "other".
func MapResourceType(name string) scan.ResourceType {
	if t, ok := resourceTypes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return scan.ResourceOther
}

// capturable reports whether a request URL is worth recording.
func capturable(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}
