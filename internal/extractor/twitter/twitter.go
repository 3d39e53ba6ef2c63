// Package twitter implements the Twitter/X extraction methods.
package twitter

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/ytdlp"
)

// Method names
const (
	MethodYtdlp       = "twitter-ytdlp"
	MethodSyndication = "twitter-syndication"
	MethodGraphQL     = "twitter-graphql"
	MethodHTML        = "twitter-html"
)

const (
	defaultSyndicationURL = "https://cdn.syndication.twimg.com/tweet-result"
	defaultAPIBase        = "https://api.x.com"
	defaultEmbedURL       = "https://platform.twitter.com/embed/Tweet.html"
	defaultQueryID        = "Xl5pC_lBk_gcO2ItU39DQw"
)

// DefaultDenylist filters promotional and preview assets out of scraped pages
var DefaultDenylist = []string{"/amplify_video_thumb/", "/ext_tw_video_thumb/", "/promoted_", "/ad_"}

// Config wires the Twitter methods
type Config struct {
	HTTP    *httpclient.Client
	Runner  ytdlp.Runner
	Ytdlp   *ytdlp.Config
	Cookies extractor.CookieSource
	Sink    extractor.DiagnosticSink
	// BearerToken enables the GraphQL method
	BearerToken string
	// QueryID is the TweetResultByRestId persisted query id
	QueryID string
	// Denylist holds URL fragments the scraper never returns
	Denylist []string

	// Endpoint overrides, used by tests
	SyndicationURL string
	APIBase        string
	EmbedURL       string
}

func (c *Config) defaults() {
	if c.HTTP == nil {
		c.HTTP = httpclient.New(nil)
	}
	if c.Sink == nil {
		c.Sink = extractor.NopSink{}
	}
	if c.QueryID == "" {
		c.QueryID = defaultQueryID
	}
	if c.Denylist == nil {
		c.Denylist = DefaultDenylist
	}
	if c.SyndicationURL == "" {
		c.SyndicationURL = defaultSyndicationURL
	}
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	if c.EmbedURL == "" {
		c.EmbedURL = defaultEmbedURL
	}
}

// Extractors returns the Twitter methods in priority order
func Extractors(cfg Config) []extractor.Extractor {
	cfg.defaults()
	matcher := provider.NewTwitterMatcher()

	return []extractor.Extractor{
		ytdlp.NewExtractor(MethodYtdlp, matcher, cfg.Runner, cfg.Ytdlp, ytdlp.WithCookies(cfg.Cookies)),
		NewSyndication(matcher, cfg),
		NewGraphQL(matcher, cfg),
		NewHTML(matcher, cfg),
	}
}

// variant is one rendition in a tweet's video_info
type variant struct {
	Bitrate     int    `json:"bitrate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

type mediaEntity struct {
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	VideoInfo     struct {
		DurationMillis int       `json:"duration_millis"`
		Variants       []variant `json:"variants"`
	} `json:"video_info"`
}

// variantFormats converts the mp4 variants of every video entity. HLS
// playlists are only kept when a tweet has no mp4 rendition.
func variantFormats(entities []mediaEntity) []media.Format {
	var mp4, hls []media.Format
	for i, ent := range entities {
		if ent.Type != "video" && ent.Type != "animated_gif" {
			continue
		}
		for _, v := range ent.VideoInfo.Variants {
			if v.URL == "" {
				continue
			}
			f := videoFormat(fmt.Sprintf("%d-%s", i+1, formatSuffix(v)), v.URL, v.Bitrate/1000)
			if ent.Type == "animated_gif" {
				f.AudioCodec = media.CodecNone
			}
			if v.ContentType == "application/x-mpegURL" {
				f.Ext = "m3u8"
				hls = append(hls, f)
				continue
			}
			mp4 = append(mp4, f)
		}
	}
	if len(mp4) > 0 {
		return mp4
	}
	return hls
}

func formatSuffix(v variant) string {
	if v.ContentType == "application/x-mpegURL" {
		return "hls"
	}
	return strconv.Itoa(v.Bitrate / 1000)
}

// videoFormat builds a format for a video.twimg.com URL; the path carries
// the dimensions, and GIF conversions under /tweet_video/ have no audio
func videoFormat(id, rawURL string, bitrate int) media.Format {
	w, h := extractor.DimensionsFromURL(rawURL)
	f := extractor.ProgressiveMP4(id, rawURL, w, h, bitrate)
	if strings.Contains(rawURL, "/tweet_video/") {
		f.AudioCodec = media.CodecNone
	}
	return f
}

func entityThumbnail(entities []mediaEntity) string {
	for _, e := range entities {
		if e.MediaURLHTTPS != "" {
			return e.MediaURLHTTPS
		}
	}
	return ""
}

func entityDuration(entities []mediaEntity) int {
	return lo.Max(lo.Map(entities, func(e mediaEntity, _ int) int { return e.VideoInfo.DurationMillis }))
}

var tcoLink = regexp.MustCompile(`\s*https://t\.co/\w+`)

// tweetTitle uses the tweet text without its trailing t.co links
func tweetTitle(text string) string {
	text = tcoLink.ReplaceAllString(text, "")
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}

// syndicationToken derives the token the embed widget sends:
// (id / 1e15 * pi) in base 36 with zeros and the point removed
func syndicationToken(id string) string {
	n, err := strconv.ParseFloat(id, 64)
	if err != nil {
		return ""
	}
	v := n / 1e15 * math.Pi

	intPart := math.Floor(v)
	frac := v - intPart
	s := strconv.FormatInt(int64(intPart), 36)
	var b strings.Builder
	b.WriteString(s)
	for i := 0; i < 11 && frac > 0; i++ {
		frac *= 36
		digit := int(math.Floor(frac))
		b.WriteString(strconv.FormatInt(int64(digit), 36))
		frac -= float64(digit)
	}
	return strings.ReplaceAll(b.String(), "0", "")
}

// isVideoAsset reports whether rawURL is a tweet video on the Twitter CDN
// and not on the denylist
func isVideoAsset(rawURL string, denylist []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != "video.twimg.com" {
		return false
	}
	allowed := strings.HasPrefix(u.Path, "/ext_tw_video/") ||
		strings.HasPrefix(u.Path, "/amplify_video/") ||
		strings.HasPrefix(u.Path, "/tweet_video/")
	if !allowed || !strings.HasSuffix(u.Path, ".mp4") {
		return false
	}
	for _, deny := range denylist {
		if deny != "" && strings.Contains(rawURL, deny) {
			return false
		}
	}
	return true
}
