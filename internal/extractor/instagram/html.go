package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

var videoURLPattern = regexp.MustCompile(`"video_url"\s*:\s*("(?:[^"\\]|\\.)*")`)

// HTML scrapes the post page for Open Graph video tags and the video_url
// fields of embedded data
type HTML struct {
	extractor.Base
	http    *httpclient.Client
	pageURL string
	cookies extractor.CookieSource
	sink    extractor.DiagnosticSink
}

// NewHTML creates the page scraper
func NewHTML(matcher provider.Matcher, cfg Config) *HTML {
	cfg.defaults()
	return &HTML{
		Base:    extractor.NewBase(MethodHTML, matcher),
		http:    cfg.HTTP,
		pageURL: strings.TrimRight(cfg.PageURL, "/"),
		cookies: cfg.Cookies,
		sink:    cfg.Sink,
	}
}

// IsAvailable is always true
func (e *HTML) IsAvailable(context.Context) bool { return true }

// Extract fetches the post page
func (e *HTML) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		pageURL := fmt.Sprintf("%s/p/%s/", e.pageURL, det.MediaID)
		resp, err := e.http.Get(ctx, pageURL,
			extractor.RequestHeaders(nil, opts),
			extractor.ResolveCookies(ctx, e.cookies, media.ProviderInstagram, opts),
		)
		if err != nil {
			return nil, err
		}
		if strings.Contains(resp.FinalURL, "/accounts/login") {
			return nil, media.NewError(media.CodeAuthExpired, "Instagram redirected to login")
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			return nil, media.NewError(media.CodeParseError, "unreadable post page")
		}

		meta := func(property string) string {
			v, _ := doc.Find(fmt.Sprintf(`meta[property="%s"]`, property)).Attr("content")
			return strings.TrimSpace(v)
		}

		info := &media.MediaInfo{
			Title:       meta("og:title"),
			Description: meta("og:description"),
			Thumbnail:   meta("og:image"),
		}

		seen := make(map[string]struct{})
		add := func(id, videoURL string, width, height int) {
			if videoURL == "" {
				return
			}
			if _, dup := seen[videoURL]; dup {
				return
			}
			seen[videoURL] = struct{}{}
			info.Formats = append(info.Formats, extractor.ProgressiveMP4(id, videoURL, width, height, 0))
		}

		ogVideo := meta("og:video:secure_url")
		if ogVideo == "" {
			ogVideo = meta("og:video")
		}
		add("og", ogVideo, extractor.Atoi(meta("og:video:width")), extractor.Atoi(meta("og:video:height")))

		for i, m := range videoURLPattern.FindAllStringSubmatch(string(resp.Body), -1) {
			var u string
			if err := json.Unmarshal([]byte(m[1]), &u); err != nil {
				continue
			}
			add(fmt.Sprintf("embedded-%d", i+1), u, 0, 0)
		}

		if len(info.Formats) == 0 {
			if info.Title == "" && info.Thumbnail == "" {
				if doc.Find(`input[name="username"]`).Length() > 0 {
					return nil, media.NewError(media.CodeAuthExpired, "Instagram served a login page")
				}
				e.sink.Snapshot(ctx, e.Name(), resp.Body)
				return nil, media.NewError(media.CodeParseError, "no post data in page")
			}
			return nil, media.NewError(media.CodeNoMediaStreams, "post contains no video")
		}
		return extractor.Finish(info, media.ProviderInstagram, det.MediaID, media.PreferH264), nil
	})
}
