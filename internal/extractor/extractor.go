// Package extractor defines the contract every extraction method implements
// and the helpers they share.
package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// Extractor is one strategy for turning a media URL into playable formats.
//
// Extract never panics and never returns a Go error: every failure is a
// media.Result with Success set to false. Implementations must honour ctx so
// that a timed-out attempt releases its HTTP requests and subprocesses.
type Extractor interface {
	// Name is unique across all extractors and keys the health checker
	Name() string
	// Supports is a cheap synchronous pre-filter
	Supports(rawURL string) bool
	// IsAvailable reports whether the method is configured to run at all
	IsAvailable(ctx context.Context) bool
	Extract(ctx context.Context, rawURL string, opts Options) media.Result
}

// Options carries per-request overrides
type Options struct {
	Cookies   string
	Headers   map[string]string
	UserAgent string
	// Timeout is a hint; the orchestrator enforces the real deadline through ctx
	Timeout time.Duration
}

// Base implements Name and Supports for extractors bound to one provider
type Base struct {
	name    string
	matcher provider.Matcher
}

// NewBase creates a Base. Supports delegates to the provider matcher, so an
// extractor never claims a URL outside its provider.
func NewBase(name string, matcher provider.Matcher) Base {
	return Base{name: name, matcher: matcher}
}

// Name returns the extractor name
func (b Base) Name() string { return b.name }

// Provider returns the provider the extractor belongs to
func (b Base) Provider() media.ProviderID { return b.matcher.Provider() }

// Supports reports whether the URL is a supported URL of this provider
func (b Base) Supports(rawURL string) bool {
	return b.matcher.CanHandle(rawURL) && b.matcher.Match(rawURL).Supported
}

// Detect returns the matcher's detection for the URL
func (b Base) Detect(rawURL string) provider.Detection {
	return b.matcher.Match(rawURL)
}

// CheckUnique returns an error if two extractors share a name
func CheckUnique(exts []Extractor) error {
	seen := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		if _, dup := seen[e.Name()]; dup {
			return fmt.Errorf("duplicate extractor name %q", e.Name())
		}
		seen[e.Name()] = struct{}{}
	}
	return nil
}
