package adapter

import (
	"net/http"
	"testing"
	"time"

	"github.com/mediafetch/backend/internal/media"
)

func TestSourceOf(t *testing.T) {
	tests := []struct {
		method string
		want   Source
	}{
		{"youtube-ytdlp", SourceYtdlp},
		{"youtube-library", SourceLibrary},
		{"youtube-innertube", SourceAPI},
		{"instagram-browser", SourceScraper},
		{"twitter-html", SourceScraper},
		{"tiktok-api", SourceAPI},
		{"vimeo-ytdlp", SourceYtdlp},
		{"something-else", SourceAPI},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := SourceOf(tt.method); got != tt.want {
				t.Errorf("SourceOf(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestToResponse(t *testing.T) {
	res := media.Result{Success: true, Method: "youtube-innertube", Info: &media.MediaInfo{
		Title:    "Never Gonna Give You Up",
		Duration: 212 * time.Second,
		Formats: []media.Format{
			{FormatID: "22", VideoCodec: "avc1", AudioCodec: "mp4a", Height: 720},
			{FormatID: "140", VideoCodec: media.CodecNone, AudioCodec: "mp4a"},
		},
	}}

	resp := ToResponse(media.ProviderYouTube, "dQw4w9WgXcQ", res, true)

	if resp.Source != SourceAPI || resp.Method != "youtube-innertube" {
		t.Errorf("unexpected source %q / method %q", resp.Source, resp.Method)
	}
	if resp.AudioOnly {
		t.Error("result with video should not be audio-only")
	}
	if len(resp.Formats) != 2 || resp.Formats[0].FormatID != "22" || resp.Formats[1].FormatID != "140" {
		t.Errorf("format order not preserved: %+v", resp.Formats)
	}
	if resp.Duration != 212 || !resp.Cached {
		t.Errorf("unexpected duration %v / cached %v", resp.Duration, resp.Cached)
	}

	resp.Formats[0].FormatID = "changed"
	if res.Info.Formats[0].FormatID != "22" {
		t.Error("response must not alias the result's formats")
	}
}

func TestToResponse_AudioOnlyAndPlaceholderTitle(t *testing.T) {
	res := media.Result{Success: true, Method: "tiktok-api", Info: &media.MediaInfo{
		Formats: []media.Format{{FormatID: "music", VideoCodec: media.CodecNone, AudioCodec: "mp3"}},
	}}

	resp := ToResponse(media.ProviderTikTok, "7234567890123456789", res, false)

	if !resp.AudioOnly {
		t.Error("expected audio_only")
	}
	if resp.Title != "TikTok media 7234567890123456789" {
		t.Errorf("unexpected placeholder title %q", resp.Title)
	}
}

func TestToError(t *testing.T) {
	tests := []struct {
		name       string
		err        *media.ExtractError
		wantCode   string
		wantStatus int
		wantCause  string
	}{
		{
			name:       "not found",
			err:        media.NewError(media.CodeNotFound, "tweet 404 at https://internal"),
			wantCode:   "NOT_FOUND",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unsupported",
			err:        media.NewError(media.CodeUnsupportedProvider, "unsupported URL format"),
			wantCode:   "UNSUPPORTED_PROVIDER",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "timeout",
			err:        media.NewError(media.CodeTimeout, "deadline"),
			wantCode:   "TIMEOUT",
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name: "aggregate uses most specific attempt",
			err: &media.ExtractError{Code: media.CodeAllMethodsFailed, Attempts: []media.Attempt{
				{Method: "instagram-ytdlp", Code: media.CodeParseError},
				{Method: "instagram-api", Code: media.CodePrivateContent},
				{Method: "instagram-html", Code: media.CodeNetworkError},
			}},
			wantCode:   "ALL_METHODS_FAILED",
			wantStatus: http.StatusForbidden,
			wantCause:  "PRIVATE_CONTENT",
		},
		{
			name: "metadata only never explains an aggregate",
			err: &media.ExtractError{Code: media.CodeAllMethodsFailed, Attempts: []media.Attempt{
				{Method: "youtube-data-api", Code: media.CodeMetadataOnly},
				{Method: "youtube-html", Code: media.CodeNetworkError},
			}},
			wantCode:   "ALL_METHODS_FAILED",
			wantStatus: http.StatusBadGateway,
			wantCause:  "NETWORK_ERROR",
		},
		{
			name:       "no extractors",
			err:        media.NewError(media.CodeNoExtractorsAvailable, "none"),
			wantCode:   "NO_EXTRACTORS_AVAILABLE",
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := ToError(media.Result{Err: tt.err})

			if appErr.Code != tt.wantCode || appErr.HTTPStatus != tt.wantStatus {
				t.Errorf("got %s/%d, want %s/%d", appErr.Code, appErr.HTTPStatus, tt.wantCode, tt.wantStatus)
			}
			if appErr.Message == tt.err.Message {
				t.Error("internal message leaked into the API error")
			}
			if tt.wantCause != "" && appErr.Details["cause"] != tt.wantCause {
				t.Errorf("cause = %v, want %s", appErr.Details["cause"], tt.wantCause)
			}
		})
	}
}

func TestToError_NilErr(t *testing.T) {
	appErr := ToError(media.Result{})
	if appErr.Code != "ALL_METHODS_FAILED" || appErr.HTTPStatus != http.StatusBadGateway {
		t.Errorf("unexpected %+v", appErr)
	}
}
