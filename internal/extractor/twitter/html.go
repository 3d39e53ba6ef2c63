package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// HTML scrapes the embed page's __NEXT_DATA__ blob. Every string in the
// tweet is scanned for CDN video URLs, which are kept only when they pass
// the allowlist and miss the denylist.
type HTML struct {
	extractor.Base
	http     *httpclient.Client
	embedURL string
	denylist []string
	sink     extractor.DiagnosticSink
}

// NewHTML creates the embed page scraper
func NewHTML(matcher provider.Matcher, cfg Config) *HTML {
	cfg.defaults()
	return &HTML{
		Base:     extractor.NewBase(MethodHTML, matcher),
		http:     cfg.HTTP,
		embedURL: cfg.EmbedURL,
		denylist: cfg.Denylist,
		sink:     cfg.Sink,
	}
}

// IsAvailable is always true
func (e *HTML) IsAvailable(context.Context) bool { return true }

type nextData struct {
	Props struct {
		PageProps struct {
			Tweet json.RawMessage `json:"tweet"`
		} `json:"pageProps"`
	} `json:"props"`
}

type embedTweet struct {
	Text         string        `json:"text"`
	MediaDetails []mediaEntity `json:"mediaDetails"`
}

// Extract fetches the embed page for the tweet
func (e *HTML) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		resp, err := e.http.Do(ctx, httpclient.Request{
			URL:     e.embedURL,
			Query:   url.Values{"id": {det.MediaID}},
			Headers: extractor.RequestHeaders(nil, opts),
		})
		if err != nil {
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, media.NewError(media.CodeParseError, "unreadable embed page")
		}
		script := doc.Find("script#__NEXT_DATA__")
		if script.Length() == 0 {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "embed data not found")
		}

		var data nextData
		if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "malformed embed data")
		}
		raw := data.Props.PageProps.Tweet
		if len(raw) == 0 || string(raw) == "null" {
			return nil, media.NewError(media.CodeNotFound, "tweet not found")
		}

		var tweet embedTweet
		if err := json.Unmarshal(raw, &tweet); err != nil {
			return nil, media.NewError(media.CodeParseError, "malformed tweet data")
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, media.NewError(media.CodeParseError, "malformed tweet data")
		}

		info := &media.MediaInfo{
			Title:       tweetTitle(tweet.Text),
			Description: tweet.Text,
			Thumbnail:   entityThumbnail(tweet.MediaDetails),
			Duration:    time.Duration(entityDuration(tweet.MediaDetails)) * time.Millisecond,
		}

		var urls []string
		extractor.WalkStrings(generic, func(_, value string) {
			if isVideoAsset(value, e.denylist) {
				urls = append(urls, value)
			}
		})
		urls = lo.Uniq(urls)
		sort.Strings(urls)

		bitrates := variantBitrates(tweet.MediaDetails)
		for i, u := range urls {
			info.Formats = append(info.Formats, videoFormat(fmt.Sprintf("scraped-%d", i+1), u, bitrates[u]))
		}
		if len(info.Formats) == 0 {
			return nil, media.NewError(media.CodeNoMediaStreams, "tweet contains no video")
		}
		return extractor.Finish(info, media.ProviderTwitter, det.MediaID, media.PreferH264), nil
	})
}

// variantBitrates indexes known variant bitrates by URL
func variantBitrates(entities []mediaEntity) map[string]int {
	out := make(map[string]int)
	for _, ent := range entities {
		for _, v := range ent.VideoInfo.Variants {
			out[v.URL] = v.Bitrate / 1000
		}
	}
	return out
}
