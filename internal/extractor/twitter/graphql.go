package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

// guestTokenTTL is kept well under the server-side lifetime
const guestTokenTTL = time.Hour

var graphqlFeatures = map[string]bool{
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"communities_web_enable_tweet_community_results_fetch":                    true,
	"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
	"articles_preview_enabled":                                                true,
	"tweetypie_unmention_optimization_enabled":                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"rweb_video_timestamps_enabled":                                           true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"verified_phone_label_enabled":                                            false,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_enhance_cards_enabled":                                    false,
}

// GraphQL queries TweetResultByRestId as a logged-out guest
type GraphQL struct {
	extractor.Base
	http    *httpclient.Client
	apiBase string
	queryID string
	bearer  string

	mu           sync.Mutex
	guestToken   string
	guestExpires time.Time
	now          func() time.Time
}

// NewGraphQL creates the GraphQL method
func NewGraphQL(matcher provider.Matcher, cfg Config) *GraphQL {
	cfg.defaults()
	return &GraphQL{
		Base:    extractor.NewBase(MethodGraphQL, matcher),
		http:    cfg.HTTP,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		queryID: cfg.QueryID,
		bearer:  cfg.BearerToken,
		now:     time.Now,
	}
}

// IsAvailable reports whether a bearer token is configured
func (e *GraphQL) IsAvailable(context.Context) bool { return e.bearer != "" }

type tweetResultResponse struct {
	Data struct {
		TweetResult struct {
			Result *tweetResult `json:"result"`
		} `json:"tweetResult"`
	} `json:"data"`
}

type tweetResult struct {
	Typename string       `json:"__typename"`
	Reason   string       `json:"reason"`
	Tweet    *tweetResult `json:"tweet"`
	Legacy   struct {
		FullText         string `json:"full_text"`
		ExtendedEntities struct {
			Media []mediaEntity `json:"media"`
		} `json:"extended_entities"`
	} `json:"legacy"`
}

// Extract fetches the tweet with a guest token
func (e *GraphQL) Extract(ctx context.Context, rawURL string, opts extractor.Options) media.Result {
	return extractor.Run(ctx, e.Name(), func() (*media.MediaInfo, error) {
		if e.bearer == "" {
			return nil, media.NewError(media.CodeMissingCredentials, "Twitter bearer token not configured")
		}
		det := e.Detect(rawURL)
		if !det.Supported {
			return nil, media.NewError(media.CodeInvalidURL, "%s", det.Reason)
		}

		token, err := e.token(ctx)
		if err != nil {
			return nil, err
		}

		variables, _ := json.Marshal(map[string]any{
			"tweetId":                det.MediaID,
			"withCommunity":          false,
			"includePromotedContent": false,
			"withVoice":              false,
		})
		features, _ := json.Marshal(graphqlFeatures)

		var out tweetResultResponse
		_, err = e.http.GetJSON(ctx, httpclient.Request{
			URL:   e.apiBase + "/graphql/" + e.queryID + "/TweetResultByRestId",
			Query: url.Values{"variables": {string(variables)}, "features": {string(features)}},
			Headers: extractor.RequestHeaders(map[string]string{
				"Authorization":             "Bearer " + e.bearer,
				"X-Guest-Token":             token,
				"X-Twitter-Active-User":     "yes",
				"X-Twitter-Client-Language": "en",
			}, opts),
		}, &out)
		if err != nil {
			var statusErr *httpclient.StatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusForbidden {
				e.invalidate()
			}
			return nil, err
		}

		res := out.Data.TweetResult.Result
		if res != nil && res.Typename == "TweetWithVisibilityResults" && res.Tweet != nil {
			res = res.Tweet
		}
		switch {
		case res == nil:
			return nil, media.NewError(media.CodeNotFound, "tweet not found")
		case res.Typename == "TweetUnavailable" || res.Typename == "TweetTombstone":
			return nil, unavailableError(res.Reason)
		}

		entities := res.Legacy.ExtendedEntities.Media
		info := &media.MediaInfo{
			Title:       tweetTitle(res.Legacy.FullText),
			Description: res.Legacy.FullText,
			Thumbnail:   entityThumbnail(entities),
			Duration:    time.Duration(entityDuration(entities)) * time.Millisecond,
			Formats:     variantFormats(entities),
		}
		if len(info.Formats) == 0 {
			return nil, media.NewError(media.CodeNoMediaStreams, "tweet contains no video")
		}
		return extractor.Finish(info, media.ProviderTwitter, det.MediaID, media.PreferH264), nil
	})
}

func unavailableError(reason string) error {
	switch reason {
	case "Protected":
		return media.NewError(media.CodePrivateContent, "tweet is protected")
	case "NsfwLoggedOut":
		return media.NewError(media.CodeAuthExpired, "tweet requires a signed-in session")
	default:
		return media.NewError(media.CodeNotFound, "tweet unavailable")
	}
}

// token returns a cached guest token, activating a new one when needed
func (e *GraphQL) token(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.guestToken != "" && e.now().Before(e.guestExpires) {
		t := e.guestToken
		e.mu.Unlock()
		return t, nil
	}
	e.mu.Unlock()

	var out struct {
		GuestToken string `json:"guest_token"`
	}
	_, err := e.http.PostJSON(ctx, httpclient.Request{
		URL:     e.apiBase + "/1.1/guest/activate.json",
		Headers: map[string]string{"Authorization": "Bearer " + e.bearer},
	}, struct{}{}, &out)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return "", media.NewError(media.CodeMissingCredentials, "Twitter bearer token rejected")
		}
		return "", err
	}
	if out.GuestToken == "" {
		return "", media.NewError(media.CodeAuthExpired, "no guest token issued")
	}

	e.mu.Lock()
	e.guestToken = out.GuestToken
	e.guestExpires = e.now().Add(guestTokenTTL)
	e.mu.Unlock()
	return out.GuestToken, nil
}

func (e *GraphQL) invalidate() {
	e.mu.Lock()
	e.guestToken = ""
	e.mu.Unlock()
}
