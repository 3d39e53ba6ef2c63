// Package youtube implements the YouTube extraction methods.
package youtube

import (
	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/ytdlp"
)

// Method names
const (
	MethodYtdlp     = "youtube-ytdlp"
	MethodInnertube = "youtube-innertube"
	MethodLibrary   = "youtube-library"
	MethodHTML      = "youtube-html"
	MethodDataAPI   = "youtube-data-api"
)

const (
	defaultPlayerURL  = "https://www.youtube.com/youtubei/v1/player"
	defaultWatchURL   = "https://www.youtube.com/watch"
	defaultDataAPIURL = "https://www.googleapis.com/youtube/v3/videos"
)

// Config wires the YouTube methods
type Config struct {
	HTTP    *httpclient.Client
	Runner  ytdlp.Runner
	Ytdlp   *ytdlp.Config
	Cookies extractor.CookieSource
	Sink    extractor.DiagnosticSink
	// APIKey enables the Data API method
	APIKey string

	// Endpoint overrides, used by tests
	PlayerURL  string
	WatchURL   string
	DataAPIURL string
}

func (c *Config) defaults() {
	if c.HTTP == nil {
		c.HTTP = httpclient.New(nil)
	}
	if c.Sink == nil {
		c.Sink = extractor.NopSink{}
	}
	if c.PlayerURL == "" {
		c.PlayerURL = defaultPlayerURL
	}
	if c.WatchURL == "" {
		c.WatchURL = defaultWatchURL
	}
	if c.DataAPIURL == "" {
		c.DataAPIURL = defaultDataAPIURL
	}
}

// Extractors returns the YouTube methods in priority order
func Extractors(cfg Config) []extractor.Extractor {
	cfg.defaults()
	matcher := provider.NewYouTubeMatcher()

	return []extractor.Extractor{
		ytdlp.NewExtractor(MethodYtdlp, matcher, cfg.Runner, cfg.Ytdlp, ytdlp.WithCookies(cfg.Cookies)),
		NewInnertube(matcher, cfg),
		NewLibrary(matcher, cfg),
		NewHTML(matcher, cfg),
		NewDataAPI(matcher, cfg),
	}
}
