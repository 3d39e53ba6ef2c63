// Package tiktok implements the TikTok extraction methods.
package tiktok

import (
	"net/url"
	"strings"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/ytdlp"
)

// Method names
const (
	MethodYtdlp = "tiktok-ytdlp"
	MethodHTML  = "tiktok-html"
	MethodAPI   = "tiktok-api"
)

const defaultTikwmURL = "https://www.tikwm.com/api/"

// Config wires the TikTok methods
type Config struct {
	// HTTP is used for the third-party API
	HTTP *httpclient.Client
	// BrowserHTTP presents a browser TLS fingerprint; TikTok blocks Go's
	BrowserHTTP *httpclient.Client
	Runner      ytdlp.Runner
	Ytdlp       *ytdlp.Config
	Cookies     extractor.CookieSource
	Sink        extractor.DiagnosticSink

	// Endpoint overrides, used by tests. PageBase replaces the scheme and
	// host of video page URLs.
	TikwmURL string
	PageBase string
}

func (c *Config) defaults() {
	if c.HTTP == nil {
		c.HTTP = httpclient.New(nil)
	}
	if c.BrowserHTTP == nil {
		c.BrowserHTTP = httpclient.New(&httpclient.Config{BrowserTLS: true})
	}
	if c.Sink == nil {
		c.Sink = extractor.NopSink{}
	}
	if c.TikwmURL == "" {
		c.TikwmURL = defaultTikwmURL
	}
}

// Extractors returns the TikTok methods in priority order
func Extractors(cfg Config) []extractor.Extractor {
	cfg.defaults()
	matcher := provider.NewTikTokMatcher()

	return []extractor.Extractor{
		ytdlp.NewExtractor(MethodYtdlp, matcher, cfg.Runner, cfg.Ytdlp,
			ytdlp.WithCookies(cfg.Cookies),
			ytdlp.WithCodecRank(media.PreferH264),
		),
		NewHTML(matcher, cfg),
		NewAPI(matcher, cfg),
	}
}

// videoCodec maps TikTok codec names onto the names used elsewhere
func videoCodec(codecType string) string {
	c := strings.ToLower(codecType)
	switch {
	case c == "", strings.HasPrefix(c, "h264"):
		return "avc1"
	case strings.HasPrefix(c, "h265"), strings.HasPrefix(c, "bytevc1"), strings.HasPrefix(c, "hevc"):
		return "hevc"
	default:
		return c
	}
}

// rebase points rawURL at base, keeping its path and query
func rebase(rawURL, base string) string {
	if base == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	b, err := url.Parse(base)
	if err != nil {
		return rawURL
	}
	u.Scheme, u.Host = b.Scheme, b.Host
	return u.String()
}
