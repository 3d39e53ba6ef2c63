package extractor

import (
	"context"

	"github.com/mediafetch/backend/internal/media"
)

// CookieSource supplies the session cookies configured for a provider
type CookieSource interface {
	Cookies(ctx context.Context, provider media.ProviderID) string
}

// StaticCookies is a CookieSource backed by a fixed map
type StaticCookies map[media.ProviderID]string

// Cookies returns the cookie header for the provider
func (s StaticCookies) Cookies(_ context.Context, p media.ProviderID) string {
	return s[p]
}

// DiagnosticSink receives provider responses that could not be parsed
type DiagnosticSink interface {
	Snapshot(ctx context.Context, method string, body []byte)
}

// NopSink discards snapshots
type NopSink struct{}

// Snapshot does nothing
func (NopSink) Snapshot(context.Context, string, []byte) {}

// ResolveCookies prefers per-request cookies over configured ones
func ResolveCookies(ctx context.Context, src CookieSource, p media.ProviderID, opts Options) string {
	if opts.Cookies != "" {
		return opts.Cookies
	}
	if src == nil {
		return ""
	}
	return src.Cookies(ctx, p)
}

// RequestHeaders merges per-request headers and the user agent override on
// top of a method's own headers
func RequestHeaders(base map[string]string, opts Options) map[string]string {
	out := make(map[string]string, len(base)+len(opts.Headers)+1)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range opts.Headers {
		out[k] = v
	}
	if opts.UserAgent != "" {
		out["User-Agent"] = opts.UserAgent
	}
	return out
}
