package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

const appUserAgent = "Instagram 275.0.0.27.98 Android (33/13; 420dpi; 1080x2400; samsung; SM-G991B; o1s; exynos2100; en_US; 458229237)"

// API calls the private mobile API. It only works with a logged-in session.
type API struct {
	extractor.Base
	http    *httpclient.Client
	baseURL string
	cookies extractor.CookieSource
	sink    extractor.DiagnosticSink
}

// NewAPI creates the private API method
func NewAPI(matcher provider.Matcher, cfg Config) *API {
	cfg.defaults()
	return &API{
		Base:    extractor.NewBase(MethodAPI, matcher),
		http:    cfg.HTTP,
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		cookies: cfg.Cookies,
		sink:    cfg.Sink,
	}
}

// IsAvailable reports whether a session cookie is configured
func (e *API) IsAvailable(ctx context.Context) bool {
	if e.cookies == nil {
		return false
	}
	return cookieValue(e.cookies.Cookies(ctx, media.ProviderInstagram), "sessionid") != ""
}

type mediaInfoResponse struct {
	Items []apiItem `json:"items"`
}

type apiItem struct {
	Code          string         `json:"code"`
	VideoDuration float64        `json:"video_duration"`
	VideoVersions []videoVersion `json:"video_versions"`
	Caption       *struct {
		Text string `json:"text"`
	} `json:"caption"`
	ImageVersions struct {
		Candidates []struct {
			URL string `json:"url"`
		} `json:"candidates"`
	} `json:"image_versions2"`
	CarouselMedia []apiItem `json:"carousel_media"`
}

type videoVersion struct {
	ID     string `json:"id"`
	Type   int    `json:"type"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// Extract fetches /media/{id}/info/
func (e *API) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		cookies := extractor.ResolveCookies(ctx, e.cookies, media.ProviderInstagram, opts)
		if cookieValue(cookies, "sessionid") == "" {
			return nil, media.NewError(media.CodeMissingCredentials, "Instagram session cookie not configured")
		}

		id, ok := mediaID(det.MediaID)
		if !ok {
			return nil, media.NewError(media.CodeInvalidURL, "invalid shortcode")
		}

		headers := map[string]string{
			"User-Agent":  appUserAgent,
			"Accept":      "application/json",
			"X-IG-App-ID": appID,
		}
		if csrf := cookieValue(cookies, "csrftoken"); csrf != "" {
			headers["X-CSRFToken"] = csrf
		}

		resp, err := e.http.Do(ctx, httpclient.Request{
			URL:     fmt.Sprintf("%s/%s/info/", e.baseURL, id),
			Headers: extractor.RequestHeaders(headers, opts),
			Cookies: cookies,
		})
		if err != nil {
			if resp != nil {
				if ierr := apiError(resp.Body); ierr != nil {
					return nil, ierr
				}
			}
			return nil, err
		}

		var out mediaInfoResponse
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "unexpected media info response")
		}
		if len(out.Items) == 0 {
			return nil, media.NewError(media.CodeNotFound, "post not found")
		}
		return out.Items[0].toMediaInfo(det.MediaID)
	})
}

func (it apiItem) toMediaInfo(shortcode string) (*media.MediaInfo, error) {
	info := &media.MediaInfo{
		Duration: time.Duration(it.VideoDuration * float64(time.Second)),
	}
	if it.Caption != nil {
		info.Description = it.Caption.Text
		info.Title = captionTitle(it.Caption.Text)
	}
	if c := it.ImageVersions.Candidates; len(c) > 0 {
		info.Thumbnail = c[0].URL
	}

	info.Formats = versionFormats("", it.VideoVersions)
	for i, child := range it.CarouselMedia {
		info.Formats = append(info.Formats, versionFormats(fmt.Sprintf("carousel-%d-", i+1), child.VideoVersions)...)
	}
	if len(info.Formats) == 0 {
		return nil, media.NewError(media.CodeNoMediaStreams, "post contains no video")
	}
	return extractor.Finish(info, media.ProviderInstagram, shortcode, media.PreferH264), nil
}

// versionFormats converts video_versions, dropping duplicate URLs the API
// lists under several type ids
func versionFormats(prefix string, versions []videoVersion) []media.Format {
	seen := make(map[string]struct{}, len(versions))
	out := make([]media.Format, 0, len(versions))
	for _, v := range versions {
		if v.URL == "" {
			continue
		}
		if _, dup := seen[v.URL]; dup {
			continue
		}
		seen[v.URL] = struct{}{}

		id := v.ID
		if id == "" {
			id = fmt.Sprintf("%d", v.Type)
		}
		out = append(out, extractor.ProgressiveMP4(prefix+id, v.URL, v.Width, v.Height, 0))
	}
	return out
}
