// Package adapter converts terminal extraction results into the public API
// shape. It is a pure mapping with no I/O.
package adapter

import (
	"net/http"
	"strings"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/media"
)

// Source labels the family of method that produced a result
type Source string

const (
	SourceYtdlp   Source = "ytdlp"
	SourceAPI     Source = "api"
	SourceLibrary Source = "library"
	SourceScraper Source = "scraper"
)

var sources = map[string]Source{
	"youtube-ytdlp":       SourceYtdlp,
	"youtube-innertube":   SourceAPI,
	"youtube-library":     SourceLibrary,
	"youtube-html":        SourceScraper,
	"youtube-data-api":    SourceAPI,
	"instagram-ytdlp":     SourceYtdlp,
	"instagram-graphql":   SourceAPI,
	"instagram-api":       SourceAPI,
	"instagram-html":      SourceScraper,
	"instagram-browser":   SourceScraper,
	"tiktok-ytdlp":        SourceYtdlp,
	"tiktok-html":         SourceScraper,
	"tiktok-api":          SourceAPI,
	"twitter-ytdlp":       SourceYtdlp,
	"twitter-syndication": SourceAPI,
	"twitter-graphql":     SourceAPI,
	"twitter-html":        SourceScraper,
}

// SourceOf returns the source label of a method. Unknown methods are
// labelled by their name suffix.
func SourceOf(method string) Source {
	if s, ok := sources[method]; ok {
		return s
	}
	switch {
	case strings.HasSuffix(method, "-ytdlp"):
		return SourceYtdlp
	case strings.HasSuffix(method, "-library"):
		return SourceLibrary
	case strings.HasSuffix(method, "-html"), strings.HasSuffix(method, "-browser"):
		return SourceScraper
	default:
		return SourceAPI
	}
}

// Response is the public representation of resolved media
type Response struct {
	Provider    media.ProviderID `json:"provider"`
	MediaID     string           `json:"media_id,omitempty"`
	Source      Source           `json:"source"`
	Method      string           `json:"method"`
	Title       string           `json:"title"`
	Thumbnail   string           `json:"thumbnail,omitempty"`
	Description string           `json:"description,omitempty"`
	// Duration is in seconds
	Duration  float64        `json:"duration,omitempty"`
	Formats   []media.Format `json:"formats"`
	AudioOnly bool           `json:"audio_only"`
	Cached    bool           `json:"cached"`
}

// ToResponse maps a successful result. Format order is preserved.
func ToResponse(p media.ProviderID, mediaID string, res media.Result, cached bool) *Response {
	info := res.Info
	if info == nil {
		info = &media.MediaInfo{}
	}
	formats := make([]media.Format, len(info.Formats))
	copy(formats, info.Formats)

	return &Response{
		Provider:    p,
		MediaID:     mediaID,
		Source:      SourceOf(res.Method),
		Method:      res.Method,
		Title:       media.NormalizeTitle(info.Title, p, mediaID),
		Thumbnail:   info.Thumbnail,
		Description: info.Description,
		Duration:    info.Duration.Seconds(),
		Formats:     formats,
		AudioOnly:   !res.HasRealVideo(),
		Cached:      cached,
	}
}

type status struct {
	http    int
	message string
}

var statuses = map[media.ErrorCode]status{
	media.CodeInvalidURL:            {http.StatusBadRequest, "the URL is not a valid media link"},
	media.CodeUnsupportedProvider:   {http.StatusBadRequest, "the URL does not belong to a supported provider"},
	media.CodeMissingCredentials:    {http.StatusServiceUnavailable, "the provider requires credentials that are not configured"},
	media.CodeDependencyMissing:     {http.StatusServiceUnavailable, "a required extraction tool is not installed"},
	media.CodeQuotaExceeded:         {http.StatusServiceUnavailable, "the provider rate limit was reached"},
	media.CodeMetadataOnly:          {http.StatusUnprocessableEntity, "only metadata is available for this media"},
	media.CodeNotFound:              {http.StatusNotFound, "the media was not found"},
	media.CodePrivateContent:        {http.StatusForbidden, "the media is private"},
	media.CodeAuthExpired:           {http.StatusBadGateway, "the provider rejected the session"},
	media.CodeSecurityChallenge:     {http.StatusBadGateway, "the provider requested a security challenge"},
	media.CodeParseError:            {http.StatusBadGateway, "the provider returned an unexpected response"},
	media.CodeNoFormats:             {http.StatusUnprocessableEntity, "no downloadable formats were found"},
	media.CodeNoMediaStreams:        {http.StatusUnprocessableEntity, "the media has no video or audio streams"},
	media.CodeNetworkError:          {http.StatusBadGateway, "the provider could not be reached"},
	media.CodeTimeout:               {http.StatusGatewayTimeout, "the provider did not respond in time"},
	media.CodeNoExtractorsAvailable: {http.StatusServiceUnavailable, "no extraction method is currently available"},
	media.CodeAllMethodsFailed:      {http.StatusBadGateway, "every extraction method failed"},
}

// ToError maps a failed result to an API error. For aggregate failures the
// status follows the most specific attempt; the attempt list carries method
// names and codes only.
func ToError(res media.Result) *apperrors.AppError {
	ee := res.Err
	if ee == nil {
		ee = media.NewError(media.CodeAllMethodsFailed, "")
	}

	code := ee.Code
	cause := code
	if best, ok := ee.MostSpecific(); ok && code.Category() == media.CategoryAggregate {
		cause = best.Code
	}

	s, ok := statuses[cause]
	if !ok {
		s = statuses[media.CodeAllMethodsFailed]
	}

	category := apperrors.CategoryExternal
	if s.http < http.StatusInternalServerError {
		category = apperrors.CategoryClient
	}

	appErr := apperrors.New(string(code), s.message, category, s.http)
	details := map[string]any{}
	if cause != code {
		details["cause"] = string(cause)
	}
	if len(ee.Attempts) > 0 {
		attempts := make([]map[string]string, 0, len(ee.Attempts))
		for _, a := range ee.Attempts {
			attempts = append(attempts, map[string]string{"method": a.Method, "code": string(a.Code)})
		}
		details["attempts"] = attempts
	}
	if len(details) > 0 {
		appErr.WithDetails(details)
	}
	return appErr
}
