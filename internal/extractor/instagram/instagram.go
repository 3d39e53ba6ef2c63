// Package instagram implements the Instagram extraction methods.
package instagram

import (
	"math/big"
	"strings"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/ytdlp"
)

// Method names
const (
	MethodYtdlp   = "instagram-ytdlp"
	MethodGraphQL = "instagram-graphql"
	MethodAPI     = "instagram-api"
	MethodHTML    = "instagram-html"
	MethodBrowser = "instagram-browser"
)

const (
	defaultGraphQLURL = "https://www.instagram.com/graphql/query"
	defaultAPIURL     = "https://i.instagram.com/api/v1/media"
	defaultPageURL    = "https://www.instagram.com"

	// appID is the web client's application id, required on every API call
	appID = "936619743392459"
)

// Config wires the Instagram methods
type Config struct {
	HTTP    *httpclient.Client
	Runner  ytdlp.Runner
	Ytdlp   *ytdlp.Config
	Cookies extractor.CookieSource
	Sink    extractor.DiagnosticSink
	// ChromePath overrides the Chrome binary lookup for the browser method
	ChromePath string

	// Endpoint overrides, used by tests
	GraphQLURL string
	APIURL     string
	PageURL    string
}

func (c *Config) defaults() {
	if c.HTTP == nil {
		c.HTTP = httpclient.New(nil)
	}
	if c.Sink == nil {
		c.Sink = extractor.NopSink{}
	}
	if c.GraphQLURL == "" {
		c.GraphQLURL = defaultGraphQLURL
	}
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	if c.PageURL == "" {
		c.PageURL = defaultPageURL
	}
}

// Extractors returns the Instagram methods in priority order
func Extractors(cfg Config) []extractor.Extractor {
	cfg.defaults()
	matcher := provider.NewInstagramMatcher()

	return []extractor.Extractor{
		ytdlp.NewExtractor(MethodYtdlp, matcher, cfg.Runner, cfg.Ytdlp,
			ytdlp.WithCookies(cfg.Cookies),
			ytdlp.WithCodecRank(media.PreferH264),
		),
		NewGraphQL(matcher, cfg),
		NewAPI(matcher, cfg),
		NewHTML(matcher, cfg),
		NewBrowser(matcher, cfg),
	}
}

const shortcodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// mediaID decodes a shortcode into the numeric media id. Shortcodes of
// private posts carry a suffix after the first 11 characters.
func mediaID(shortcode string) (string, bool) {
	if len(shortcode) > 11 {
		shortcode = shortcode[:11]
	}
	id := new(big.Int)
	base := big.NewInt(64)
	for _, r := range shortcode {
		idx := strings.IndexRune(shortcodeAlphabet, r)
		if idx < 0 {
			return "", false
		}
		id.Mul(id, base)
		id.Add(id, big.NewInt(int64(idx)))
	}
	return id.String(), id.Sign() > 0
}

// cookieValue returns the value of one cookie from a Cookie header
func cookieValue(header, name string) string {
	for _, c := range parseCookies(header) {
		if c[0] == name {
			return c[1]
		}
	}
	return ""
}

// captionTitle uses the first caption line as a title
func captionTitle(caption string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(caption), "\n")
	return line
}
