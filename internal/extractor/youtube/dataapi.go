package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// DataAPI queries the official Data API v3. The API never exposes stream
// URLs, so a found video still ends as a METADATA_ONLY failure; its value is
// confirming existence and privacy when the other methods fail.
type DataAPI struct {
	extractor.Base
	http   *httpclient.Client
	apiURL string
	apiKey string
}

// NewDataAPI creates the Data API method
func NewDataAPI(matcher provider.Matcher, cfg Config) *DataAPI {
	cfg.defaults()
	return &DataAPI{
		Base:   extractor.NewBase(MethodDataAPI, matcher),
		http:   cfg.HTTP,
		apiURL: cfg.DataAPIURL,
		apiKey: cfg.APIKey,
	}
}

// IsAvailable reports whether an API key is configured
func (e *DataAPI) IsAvailable(context.Context) bool { return e.apiKey != "" }

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
		Status struct {
			PrivacyStatus string `json:"privacyStatus"`
		} `json:"status"`
	} `json:"items"`
}

type apiErrorResponse struct {
	Error struct {
		Errors []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// Extract looks the video up and reports what the API can tell
func (e *DataAPI) Extract(ctx context.Context, rawURL string, _ extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		if e.apiKey == "" {
			return nil, media.NewError(media.CodeMissingCredentials, "YouTube API key not configured")
		}
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		var out videosResponse
		resp, err := e.http.GetJSON(ctx, httpclient.Request{
			URL: e.apiURL,
			Query: url.Values{
				"part": {"snippet,status"},
				"id":   {det.MediaID},
				"key":  {e.apiKey},
			},
		}, &out)
		if err != nil {
			return nil, dataAPIError(resp, err)
		}

		if len(out.Items) == 0 {
			return nil, media.NewError(media.CodeNotFound, "video not found")
		}
		if out.Items[0].Status.PrivacyStatus == "private" {
			return nil, media.NewError(media.CodePrivateContent, "video is private")
		}
		return nil, media.NewError(media.CodeMetadataOnly, "official API returns metadata only")
	})
}

func dataAPIError(resp *httpclient.Response, err error) error {
	var statusErr *httpclient.StatusError
	if resp == nil || !errors.As(err, &statusErr) {
		return err
	}

	var body apiErrorResponse
	if jsonErr := json.Unmarshal(resp.Body, &body); jsonErr == nil {
		for _, e := range body.Error.Errors {
			switch e.Reason {
			case "quotaExceeded", "rateLimitExceeded", "dailyLimitExceeded":
				return media.NewError(media.CodeQuotaExceeded, "YouTube API quota exceeded")
			case "keyInvalid", "keyExpired", "forbidden":
				return media.NewError(media.CodeMissingCredentials, "YouTube API key rejected")
			}
		}
	}
	return err
}
