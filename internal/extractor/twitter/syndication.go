package twitter

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// Syndication reads the public tweet-result endpoint behind embedded tweets
type Syndication struct {
	extractor.Base
	http     *httpclient.Client
	endpoint string
}

// NewSyndication creates the syndication method
func NewSyndication(matcher provider.Matcher, cfg Config) *Syndication {
	cfg.defaults()
	return &Syndication{
		Base:     extractor.NewBase(MethodSyndication, matcher),
		http:     cfg.HTTP,
		endpoint: cfg.SyndicationURL,
	}
}

// IsAvailable is always true
func (e *Syndication) IsAvailable(context.Context) bool { return true }

type syndicationTweet struct {
	Typename     string        `json:"__typename"`
	Text         string        `json:"text"`
	MediaDetails []mediaEntity `json:"mediaDetails"`
	Tombstone    *tombstone    `json:"tombstone"`
	User struct {
		ScreenName string `json:"screen_name"`
	} `json:"user"`
}

// Extract fetches the tweet result
func (e *Syndication) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		var tweet syndicationTweet
		resp, err := e.http.GetJSON(ctx, httpclient.Request{
			URL: e.endpoint,
			Query: url.Values{
				"id":    {det.MediaID},
				"lang":  {"en"},
				"token": {syndicationToken(det.MediaID)},
			},
			Headers: extractor.RequestHeaders(nil, opts),
		}, &tweet)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusOK && len(bytes.TrimSpace(resp.Body)) == 0 {
				return nil, media.NewError(media.CodeNotFound, "tweet not found")
			}
			return nil, err
		}

		if tweet.Typename == "TweetTombstone" || tweet.Tombstone != nil {
			return nil, tombstoneError(tweet.Tombstone)
		}

		info := &media.MediaInfo{
			Title:       tweetTitle(tweet.Text),
			Description: tweet.Text,
			Thumbnail:   entityThumbnail(tweet.MediaDetails),
			Duration:    time.Duration(entityDuration(tweet.MediaDetails)) * time.Millisecond,
			Formats:     variantFormats(tweet.MediaDetails),
		}
		if len(info.Formats) == 0 {
			return nil, media.NewError(media.CodeNoMediaStreams, "tweet contains no video")
		}
		return extractor.Finish(info, media.ProviderTwitter, det.MediaID, media.PreferH264), nil
	})
}

type tombstone struct {
	Text struct {
		Text string `json:"text"`
	} `json:"text"`
}

func tombstoneError(t *tombstone) error {
	text := ""
	if t != nil {
		text = strings.ToLower(t.Text.Text)
	}
	switch {
	case strings.Contains(text, "protected") || strings.Contains(text, "limits who can view"):
		return media.NewError(media.CodePrivateContent, "tweet is protected")
	case strings.Contains(text, "age-restricted") || strings.Contains(text, "log in"):
		return media.NewError(media.CodeAuthExpired, "tweet requires a signed-in session")
	default:
		return media.NewError(media.CodeNotFound, "tweet unavailable")
	}
}
