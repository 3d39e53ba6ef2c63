package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

const playerMarker = "ytInitialPlayerResponse"

// HTML scrapes the player response embedded in the watch page
type HTML struct {
	extractor.Base
	http     *httpclient.Client
	watchURL string
	cookies  extractor.CookieSource
	sink     extractor.DiagnosticSink
}

// NewHTML creates the watch page scraper
func NewHTML(matcher provider.Matcher, cfg Config) *HTML {
	cfg.defaults()
	return &HTML{
		Base:     extractor.NewBase(MethodHTML, matcher),
		http:     cfg.HTTP,
		watchURL: cfg.WatchURL,
		cookies:  cfg.Cookies,
		sink:     cfg.Sink,
	}
}

// IsAvailable is always true
func (e *HTML) IsAvailable(context.Context) bool { return true }

// Extract fetches the watch page and parses ytInitialPlayerResponse
func (e *HTML) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		resp, err := e.http.Do(ctx, httpclient.Request{
			URL:     e.watchURL,
			Query:   url.Values{"v": {det.MediaID}, "hl": {"en"}, "has_verified": {"1"}},
			Headers: extractor.RequestHeaders(nil, opts),
			Cookies: extractor.ResolveCookies(ctx, e.cookies, media.ProviderYouTube, opts),
		})
		if err != nil {
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, media.NewError(media.CodeParseError, "unreadable watch page")
		}

		var raw []byte
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if !strings.Contains(text, playerMarker) {
				return true
			}
			if obj, ok := extractor.FindJSONObject(text, playerMarker); ok {
				raw = obj
				return false
			}
			return true
		})
		if raw == nil {
			if strings.Contains(string(resp.Body), "consent.youtube.com") {
				return nil, media.NewError(media.CodeSecurityChallenge, "YouTube served a consent interstitial")
			}
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "player response not found in page")
		}

		var player playerResponse
		if err := json.Unmarshal(raw, &player); err != nil {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "malformed player response")
		}
		if perr := player.playabilityError(); perr != nil {
			return nil, perr
		}

		info := player.toMediaInfo(det.MediaID)
		if player.VideoDetails.Title == "" {
			if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
				info.Title = media.NormalizeTitle(title, media.ProviderYouTube, det.MediaID)
			}
		}
		return info, nil
	})
}
