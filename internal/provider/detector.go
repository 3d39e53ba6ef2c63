package provider

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mediafetch/backend/internal/media"
)

// maxURLLength bounds what the detector is willing to parse
const maxURLLength = 2048

// Detection is the result of classifying a raw URL
type Detection struct {
	Supported bool             `json:"supported"`
	Provider  media.ProviderID `json:"provider,omitempty"`
	MediaID   string           `json:"media_id,omitempty"`
	MediaType string           `json:"media_type,omitempty"` // e.g. "video", "short", "reel", "post"
	URL       string           `json:"url"`
	Canonical string           `json:"canonical_url,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// Matcher recognises the URLs of one provider
type Matcher interface {
	// Provider returns the provider this matcher recognises
	Provider() media.ProviderID

	// CanHandle returns true if the host belongs to this provider
	CanHandle(rawURL string) bool

	// Match checks the path shape and extracts the media id
	Match(rawURL string) Detection
}

// Detector classifies URLs into providers using registered matchers
type Detector struct {
	mu       sync.RWMutex
	matchers []Matcher
}

// NewDetector creates an empty detector
func NewDetector() *Detector {
	return &Detector{
		matchers: make([]Matcher, 0),
	}
}

// Register adds a matcher to the detector
func (d *Detector) Register(m Matcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matchers = append(d.matchers, m)
}

// Detect classifies a raw URL. It never panics: any input that is not a
// recognised media URL comes back with Supported set to false.
func (d *Detector) Detect(rawURL string) Detection {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return unsupported(rawURL, "empty URL")
	}
	if len(rawURL) > maxURLLength {
		return unsupported(rawURL, "URL too long")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, m := range d.matchers {
		if m.CanHandle(rawURL) {
			return m.Match(rawURL)
		}
	}

	return unsupported(rawURL, "unsupported URL format")
}

// Matcher returns the registered matcher for a provider
func (d *Detector) Matcher(id media.ProviderID) (Matcher, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, m := range d.matchers {
		if m.Provider() == id {
			return m, true
		}
	}
	return nil, false
}

// Providers returns the registered providers in registration order
func (d *Detector) Providers() []media.ProviderID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]media.ProviderID, 0, len(d.matchers))
	for _, m := range d.matchers {
		ids = append(ids, m.Provider())
	}
	return ids
}

// DefaultDetector creates a detector with every built-in matcher
func DefaultDetector() *Detector {
	d := NewDetector()
	d.Register(NewYouTubeMatcher())
	d.Register(NewInstagramMatcher())
	d.Register(NewTikTokMatcher())
	d.Register(NewTwitterMatcher())
	return d
}

func unsupported(rawURL, reason string) Detection {
	return Detection{
		Supported: false,
		URL:       rawURL,
		Reason:    reason,
	}
}

func rejected(id media.ProviderID, rawURL, reason string) Detection {
	return Detection{
		Supported: false,
		Provider:  id,
		URL:       rawURL,
		Reason:    reason,
	}
}

// parseURL parses a user supplied URL, assuming https when the scheme is
// missing, and returns the host without www./m./mobile. prefixes.
func parseURL(rawURL string) (*url.URL, string, bool) {
	rawURL = WithScheme(rawURL)
	if rawURL == "" {
		return nil, "", false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", false
	}
	if p := parsed.Port(); p != "" {
		if n, err := strconv.Atoi(p); err != nil || n < 1 || n > 65535 {
			return nil, "", false
		}
	}

	host := strings.ToLower(parsed.Hostname())
	for _, prefix := range []string{"www.", "m.", "mobile."} {
		host = strings.TrimPrefix(host, prefix)
	}
	if host == "" {
		return nil, "", false
	}
	return parsed, host, true
}

// WithScheme trims the URL and prefixes https:// when it has no scheme
func WithScheme(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.Contains(rawURL, "://") {
		return rawURL
	}
	return "https://" + rawURL
}

// pathSegments splits a URL path into its non-empty segments
func pathSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
