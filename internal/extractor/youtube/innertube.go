package youtube

import (
	"context"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// The ANDROID client receives direct stream URLs without signature ciphers
const (
	androidClientName    = "ANDROID"
	androidClientVersion = "19.09.37"
	androidUserAgent     = "com.google.android.youtube/19.09.37 (Linux; U; Android 11) gzip"
)

// Innertube calls the internal player endpoint the mobile apps use
type Innertube struct {
	extractor.Base
	http      *httpclient.Client
	playerURL string
	cookies   extractor.CookieSource
}

// NewInnertube creates the innertube method
func NewInnertube(matcher provider.Matcher, cfg Config) *Innertube {
	cfg.defaults()
	return &Innertube{
		Base:      extractor.NewBase(MethodInnertube, matcher),
		http:      cfg.HTTP,
		playerURL: cfg.PlayerURL,
		cookies:   cfg.Cookies,
	}
}

// IsAvailable is always true; the endpoint needs no credentials
func (e *Innertube) IsAvailable(context.Context) bool { return true }

type innertubeRequest struct {
	Context struct {
		Client struct {
			ClientName        string `json:"clientName"`
			ClientVersion     string `json:"clientVersion"`
			AndroidSDKVersion int    `json:"androidSdkVersion"`
			HL                string `json:"hl"`
			GL                string `json:"gl"`
		} `json:"client"`
	} `json:"context"`
	VideoID        string `json:"videoId"`
	ContentCheckOK bool   `json:"contentCheckOk"`
	RacyCheckOK    bool   `json:"racyCheckOk"`
}

// Extract queries the player endpoint for the video
func (e *Innertube) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		var body innertubeRequest
		body.Context.Client.ClientName = androidClientName
		body.Context.Client.ClientVersion = androidClientVersion
		body.Context.Client.AndroidSDKVersion = 30
		body.Context.Client.HL = "en"
		body.Context.Client.GL = "US"
		body.VideoID = det.MediaID
		body.ContentCheckOK = true
		body.RacyCheckOK = true

		headers := extractor.RequestHeaders(map[string]string{
			"User-Agent":               androidUserAgent,
			"X-YouTube-Client-Name":    "3",
			"X-YouTube-Client-Version": androidClientVersion,
			"Origin":                   "https://www.youtube.com",
		}, opts)

		var player playerResponse
		_, err := e.http.PostJSON(ctx, httpclient.Request{
			URL:     e.playerURL,
			Headers: headers,
			Cookies: extractor.ResolveCookies(ctx, e.cookies, media.ProviderYouTube, opts),
		}, body, &player)
		if err != nil {
			return nil, err
		}

		if perr := player.playabilityError(); perr != nil {
			return nil, perr
		}
		return player.toMediaInfo(det.MediaID), nil
	})
}
