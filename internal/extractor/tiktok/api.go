package tiktok

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// API resolves videos through the tikwm.com public API
type API struct {
	extractor.Base
	http     *httpclient.Client
	endpoint string
}

// NewAPI creates the third-party API method
func NewAPI(matcher provider.Matcher, cfg Config) *API {
	cfg.defaults()
	return &API{
		Base:     extractor.NewBase(MethodAPI, matcher),
		http:     cfg.HTTP,
		endpoint: cfg.TikwmURL,
	}
}

// IsAvailable is always true
func (e *API) IsAvailable(context.Context) bool { return true }

type tikwmResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Duration  int    `json:"duration"`
		Cover     string `json:"cover"`
		Play      string `json:"play"`
		WmPlay    string `json:"wmplay"`
		HDPlay    string `json:"hdplay"`
		Size      int64  `json:"size"`
		WmSize    int64  `json:"wm_size"`
		HDSize    int64  `json:"hd_size"`
		Music     string `json:"music"`
		MusicInfo struct {
			Title string `json:"title"`
		} `json:"music_info"`
	} `json:"data"`
}

// Extract asks the API for the video's play addresses
func (e *API) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		var out tikwmResponse
		if _, err := e.http.GetJSON(ctx, httpclient.Request{
			URL:     e.endpoint,
			Query:   url.Values{"url": {det.Canonical}, "hd": {"1"}},
			Headers: extractor.RequestHeaders(nil, opts),
		}, &out); err != nil {
			return nil, err
		}

		if out.Code != 0 || out.Data == nil {
			msg := strings.ToLower(out.Msg)
			if strings.Contains(msg, "limit") {
				return nil, media.NewError(media.CodeQuotaExceeded, "TikTok API rate limit reached")
			}
			return nil, media.NewError(media.CodeNotFound, "video not found")
		}

		d := out.Data
		info := &media.MediaInfo{
			Title:     d.Title,
			Thumbnail: e.absolute(d.Cover),
			Duration:  time.Duration(d.Duration) * time.Second,
		}
		add := func(f media.Format, size int64) {
			if f.URL == "" {
				return
			}
			if size > 0 {
				f.FileSize = &size
			}
			info.Formats = append(info.Formats, f)
		}

		hd := extractor.ProgressiveMP4("hd", e.absolute(d.HDPlay), 0, 0, 0)
		hd.Quality = "hd"
		add(hd, d.HDSize)
		add(extractor.ProgressiveMP4("play", e.absolute(d.Play), 0, 0, 0), d.Size)
		wm := extractor.ProgressiveMP4("wmplay", e.absolute(d.WmPlay), 0, 0, 0)
		wm.Quality = "watermarked"
		add(wm, d.WmSize)
		add(extractor.AudioOnly("music", e.absolute(d.Music), "mp3", "mp3", 0), 0)

		return extractor.Finish(info, media.ProviderTikTok, det.MediaID, media.PreferH264), nil
	})
}

// absolute resolves the relative paths the API sometimes returns
func (e *API) absolute(ref string) string {
	if ref == "" {
		return ""
	}
	base, err := url.Parse(e.endpoint)
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
