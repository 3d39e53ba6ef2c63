package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// docID selects the PolarisPostActionLoadPostQueryQuery persisted query
const docID = "8845758582119845"

// GraphQL queries the public web GraphQL endpoint for a post
type GraphQL struct {
	extractor.Base
	http     *httpclient.Client
	endpoint string
	cookies  extractor.CookieSource
	sink     extractor.DiagnosticSink
}

// NewGraphQL creates the GraphQL method
func NewGraphQL(matcher provider.Matcher, cfg Config) *GraphQL {
	cfg.defaults()
	return &GraphQL{
		Base:     extractor.NewBase(MethodGraphQL, matcher),
		http:     cfg.HTTP,
		endpoint: cfg.GraphQLURL,
		cookies:  cfg.Cookies,
		sink:     cfg.Sink,
	}
}

// IsAvailable is always true; the query works without a session
func (e *GraphQL) IsAvailable(context.Context) bool { return true }

type graphqlResponse struct {
	Data struct {
		Media *shortcodeMedia `json:"xdt_shortcode_media"`
	} `json:"data"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	RequireLogin bool   `json:"require_login"`
}

type shortcodeMedia struct {
	Shortcode     string  `json:"shortcode"`
	IsVideo       bool    `json:"is_video"`
	VideoURL      string  `json:"video_url"`
	DisplayURL    string  `json:"display_url"`
	VideoDuration float64 `json:"video_duration"`
	Title         string  `json:"title"`
	Dimensions    struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimensions"`
	Caption struct {
		Edges []struct {
			Node struct {
				Text string `json:"text"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"edge_media_to_caption"`
	Sidecar struct {
		Edges []struct {
			Node sidecarNode `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

type sidecarNode struct {
	IsVideo    bool   `json:"is_video"`
	VideoURL   string `json:"video_url"`
	Dimensions struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimensions"`
}

// Extract runs the post query
func (e *GraphQL) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		variables, _ := json.Marshal(map[string]any{
			"shortcode":               det.MediaID,
			"fetch_tagged_user_count": nil,
			"hoisted_comment_id":      nil,
			"hoisted_reply_id":        nil,
		})
		form := url.Values{
			"variables": {string(variables)},
			"doc_id":    {docID},
		}

		resp, err := e.http.Do(ctx, httpclient.Request{
			Method: "POST",
			URL:    e.endpoint,
			Body:   []byte(form.Encode()),
			Headers: extractor.RequestHeaders(map[string]string{
				"Content-Type":   "application/x-www-form-urlencoded",
				"Accept":         "*/*",
				"X-IG-App-ID":    appID,
				"X-FB-LSD":       "AVqbxe3J_YA",
				"X-ASBD-ID":      "129477",
				"Sec-Fetch-Site": "same-origin",
				"Referer":        det.Canonical,
			}, opts),
			Cookies: extractor.ResolveCookies(ctx, e.cookies, media.ProviderInstagram, opts),
		})
		if err != nil {
			if resp != nil {
				if ierr := apiError(resp.Body); ierr != nil {
					return nil, ierr
				}
			}
			return nil, err
		}

		var out graphqlResponse
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			e.sink.Snapshot(ctx, e.Name(), resp.Body)
			return nil, media.NewError(media.CodeParseError, "unexpected GraphQL response")
		}
		if out.RequireLogin || out.Status == "fail" {
			if ierr := apiError(resp.Body); ierr != nil {
				return nil, ierr
			}
			return nil, media.NewError(media.CodeAuthExpired, "Instagram requires a session for this post")
		}
		if out.Data.Media == nil {
			return nil, media.NewError(media.CodeNotFound, "post not found or private")
		}
		return out.Data.Media.toMediaInfo(det.MediaID)
	})
}

func (m *shortcodeMedia) toMediaInfo(shortcode string) (*media.MediaInfo, error) {
	info := &media.MediaInfo{
		Title:     m.Title,
		Thumbnail: m.DisplayURL,
		Duration:  time.Duration(m.VideoDuration * float64(time.Second)),
	}
	if len(m.Caption.Edges) > 0 {
		info.Description = m.Caption.Edges[0].Node.Text
		if info.Title == "" {
			info.Title = captionTitle(info.Description)
		}
	}

	if m.IsVideo && m.VideoURL != "" {
		info.Formats = append(info.Formats, extractor.ProgressiveMP4("video", m.VideoURL, m.Dimensions.Width, m.Dimensions.Height, 0))
	}
	for i, edge := range m.Sidecar.Edges {
		n := edge.Node
		if n.IsVideo && n.VideoURL != "" {
			id := fmt.Sprintf("carousel-%d", i+1)
			info.Formats = append(info.Formats, extractor.ProgressiveMP4(id, n.VideoURL, n.Dimensions.Width, n.Dimensions.Height, 0))
		}
	}

	if len(info.Formats) == 0 {
		return nil, media.NewError(media.CodeNoMediaStreams, "post contains no video")
	}
	return extractor.Finish(info, media.ProviderInstagram, shortcode, media.PreferH264), nil
}

type apiErrorBody struct {
	Message      string `json:"message"`
	Status       string `json:"status"`
	RequireLogin bool   `json:"require_login"`
	ErrorType    string `json:"error_type"`
}

// apiError recognises the JSON error bodies the web and private APIs return
func apiError(body []byte) *media.ExtractError {
	var b apiErrorBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil
	}
	msg := strings.ToLower(b.Message + " " + b.ErrorType)
	switch {
	case strings.Contains(msg, "checkpoint") || strings.Contains(msg, "challenge"):
		return media.NewError(media.CodeSecurityChallenge, "Instagram requested a security checkpoint")
	case strings.Contains(msg, "wait a few minutes") || strings.Contains(msg, "feedback_required") || strings.Contains(msg, "rate limit"):
		return media.NewError(media.CodeQuotaExceeded, "Instagram rate limit reached")
	case strings.Contains(msg, "login_required") || b.RequireLogin:
		return media.NewError(media.CodeAuthExpired, "Instagram session is missing or expired")
	case strings.Contains(msg, "media not found") || strings.Contains(msg, "does not exist"):
		return media.NewError(media.CodeNotFound, "post not found")
	}
	return nil
}
