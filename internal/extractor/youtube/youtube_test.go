package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ytlib "github.com/kkdai/youtube/v2"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/extractor/extractortest"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

const playerJSON = `{
  "playabilityStatus": {"status": "OK"},
  "videoDetails": {
    "videoId": "dQw4w9WgXcQ",
    "title": "Rick Astley - Never Gonna Give You Up",
    "lengthSeconds": "212",
    "shortDescription": "The official video",
    "thumbnail": {"thumbnails": [{"url": "https://i.ytimg.com/small.jpg"}, {"url": "https://i.ytimg.com/large.jpg"}]}
  },
  "streamingData": {
    "formats": [
      {"itag": 18, "url": "https://rr.googlevideo.com/18", "mimeType": "video/mp4; codecs=\"avc1.42001E, mp4a.40.2\"", "bitrate": 500000, "width": 640, "height": 360, "qualityLabel": "360p"}
    ],
    "adaptiveFormats": [
      {"itag": 140, "url": "https://rr.googlevideo.com/140", "mimeType": "audio/mp4; codecs=\"mp4a.40.2\"", "bitrate": 130000, "contentLength": "3433514"},
      {"itag": 137, "url": "https://rr.googlevideo.com/137", "mimeType": "video/mp4; codecs=\"avc1.640028\"", "bitrate": 4000000, "width": 1920, "height": 1080, "qualityLabel": "1080p"},
      {"itag": 251, "signatureCipher": "s=abc&url=https%3A%2F%2Frr.googlevideo.com%2F251", "mimeType": "audio/webm; codecs=\"opus\""}
    ]
  }
}`

func playerServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		var req innertubeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.VideoID != "dQw4w9WgXcQ" || req.Context.Client.ClientName != androidClientName {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	return Config{HTTP: extractortest.NewClient()}
}

func TestInnertube_Extract(t *testing.T) {
	srv := playerServer(t, playerJSON)
	cfg := testConfig()
	cfg.PlayerURL = srv.URL

	res := NewInnertube(provider.NewYouTubeMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireSuccess(t, res)

	if got, want := extractortest.FormatIDs(res), []string{"18", "137", "140"}; !extractortest.Equal(got, want) {
		t.Errorf("formats = %v, want %v", got, want)
	}
	if res.Info.Title != "Rick Astley - Never Gonna Give You Up" {
		t.Errorf("unexpected title %q", res.Info.Title)
	}
	if res.Info.Duration != 212*time.Second {
		t.Errorf("unexpected duration %v", res.Info.Duration)
	}
	if res.Info.Thumbnail != "https://i.ytimg.com/large.jpg" {
		t.Errorf("expected the largest thumbnail, got %q", res.Info.Thumbnail)
	}

	audio := res.Info.Formats[2]
	if audio.Ext != "m4a" || audio.VideoCodec != media.CodecNone || audio.FileSize == nil || *audio.FileSize != 3433514 {
		t.Errorf("unexpected audio format: %+v", audio)
	}
	if res.Method != MethodInnertube {
		t.Errorf("unexpected method %q", res.Method)
	}
}

func TestInnertube_PlayabilityErrors(t *testing.T) {
	tests := []struct {
		name   string
		status string
		reason string
		want   media.ErrorCode
	}{
		{"bot check", "LOGIN_REQUIRED", "Sign in to confirm you're not a bot", media.CodeSecurityChallenge},
		{"private", "LOGIN_REQUIRED", "This video is private", media.CodePrivateContent},
		{"age gate", "LOGIN_REQUIRED", "Sign in to view this video", media.CodeAuthExpired},
		{"removed", "ERROR", "Video unavailable", media.CodeNotFound},
		{"unplayable", "UNPLAYABLE", "Not available in your country", media.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := fmt.Sprintf(`{"playabilityStatus":{"status":%q,"reason":%q}}`, tt.status, tt.reason)
			srv := playerServer(t, body)
			cfg := testConfig()
			cfg.PlayerURL = srv.URL

			res := NewInnertube(provider.NewYouTubeMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
			extractortest.RequireCode(t, res, tt.want)
		})
	}
}

func TestInnertube_CipherOnlyFormats(t *testing.T) {
	body := `{"playabilityStatus":{"status":"OK"},"videoDetails":{"title":"x"},
	  "streamingData":{"adaptiveFormats":[{"itag":251,"signatureCipher":"s=abc","mimeType":"audio/webm; codecs=\"opus\""}]}}`
	srv := playerServer(t, body)
	cfg := testConfig()
	cfg.PlayerURL = srv.URL

	res := NewInnertube(provider.NewYouTubeMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireCode(t, res, media.CodeNoFormats)
}

func TestHTML_Extract(t *testing.T) {
	page := `<html><head><meta property="og:title" content="fallback"></head><body>
<script>var ytInitialPlayerResponse = ` + playerJSON + `;var meta = {"a": "}"};</script>
</body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("v") != "dQw4w9WgXcQ" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.Header.Get("Cookie") != "CONSENT=YES+1" {
			t.Errorf("expected request cookies to be forwarded, got %q", r.Header.Get("Cookie"))
		}
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.WatchURL = srv.URL

	res := NewHTML(provider.NewYouTubeMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{Cookies: "CONSENT=YES+1"})
	extractortest.RequireSuccess(t, res)
	if got := len(res.Info.Formats); got != 3 {
		t.Errorf("expected 3 formats, got %d", got)
	}
	if !res.HasRealVideo() {
		t.Error("expected real video")
	}
}

func TestHTML_MissingPlayerSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><script>var other = {};</script></body></html>`)
	}))
	defer srv.Close()

	sink := &extractortest.Sink{}
	cfg := testConfig()
	cfg.WatchURL = srv.URL
	cfg.Sink = sink

	res := NewHTML(provider.NewYouTubeMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireCode(t, res, media.CodeParseError)
	if !sink.Has(MethodHTML) {
		t.Error("expected the unparseable page to be snapshotted")
	}
}

func TestDataAPI(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   media.ErrorCode
	}{
		{"found", http.StatusOK, `{"items":[{"id":"dQw4w9WgXcQ","snippet":{"title":"x"},"status":{"privacyStatus":"public"}}]}`, media.CodeMetadataOnly},
		{"private", http.StatusOK, `{"items":[{"id":"dQw4w9WgXcQ","status":{"privacyStatus":"private"}}]}`, media.CodePrivateContent},
		{"missing", http.StatusOK, `{"items":[]}`, media.CodeNotFound},
		{"quota", http.StatusForbidden, `{"error":{"errors":[{"reason":"quotaExceeded"}]}}`, media.CodeQuotaExceeded},
		{"bad key", http.StatusBadRequest, `{"error":{"errors":[{"reason":"keyInvalid"}]}}`, media.CodeMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("key") != "k" {
					t.Errorf("expected API key in query")
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			cfg := testConfig()
			cfg.DataAPIURL = srv.URL
			cfg.APIKey = "k"

			res := NewDataAPI(provider.NewYouTubeMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
			extractortest.RequireCode(t, res, tt.want)
		})
	}
}

func TestDataAPI_UnavailableWithoutKey(t *testing.T) {
	e := NewDataAPI(provider.NewYouTubeMatcher(), testConfig())
	if e.IsAvailable(context.Background()) {
		t.Error("expected the Data API to need a key")
	}
	extractortest.RequireCode(t, e.Extract(context.Background(), testURL, extractor.Options{}), media.CodeMissingCredentials)
}

type fakeVideoClient struct {
	video *ytlib.Video
	err   error
}

func (f *fakeVideoClient) GetVideoContext(context.Context, string) (*ytlib.Video, error) {
	return f.video, f.err
}

func (f *fakeVideoClient) GetStreamURLContext(_ context.Context, _ *ytlib.Video, format *ytlib.Format) (string, error) {
	if format.ItagNo == 251 {
		return "", errors.New("cipher not found")
	}
	return fmt.Sprintf("https://rr.googlevideo.com/deciphered/%d", format.ItagNo), nil
}

func newTestLibrary(client videoClient) *Library {
	return &Library{
		Base:   extractor.NewBase(MethodLibrary, provider.NewYouTubeMatcher()),
		client: client,
	}
}

func TestLibrary_Extract(t *testing.T) {
	client := &fakeVideoClient{video: &ytlib.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Duration: 212 * time.Second,
		Formats: ytlib.FormatList{
			{ItagNo: 140, URL: "https://rr.googlevideo.com/140", MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000},
			{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Width: 1920, Height: 1080},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`},
		},
	}}

	res := newTestLibrary(client).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireSuccess(t, res)

	if got, want := extractortest.FormatIDs(res), []string{"137", "140"}; !extractortest.Equal(got, want) {
		t.Errorf("formats = %v, want %v", got, want)
	}
	if res.Info.Formats[0].URL != "https://rr.googlevideo.com/deciphered/137" {
		t.Errorf("expected deciphered URL, got %q", res.Info.Formats[0].URL)
	}
	if res.Info.Formats[0].Resolution != "1920x1080" {
		t.Errorf("unexpected resolution %q", res.Info.Formats[0].Resolution)
	}
}

func TestLibrary_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want media.ErrorCode
	}{
		{"private", ytlib.ErrVideoPrivate, media.CodePrivateContent},
		{"login", ytlib.ErrLoginRequired, media.CodeAuthExpired},
		{"forbidden", ytlib.ErrUnexpectedStatusCode(http.StatusForbidden), media.CodeAuthExpired},
		{"throttled", ytlib.ErrUnexpectedStatusCode(http.StatusTooManyRequests), media.CodeQuotaExceeded},
		{"bot", &ytlib.ErrPlayabiltyStatus{Status: "LOGIN_REQUIRED", Reason: "Sign in to confirm you're not a bot"}, media.CodeSecurityChallenge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestLibrary(&fakeVideoClient{err: tt.err}).Extract(context.Background(), testURL, extractor.Options{})
			extractortest.RequireCode(t, res, tt.want)
		})
	}
}

func TestExtractors_Order(t *testing.T) {
	exts := Extractors(Config{})
	want := []string{MethodYtdlp, MethodInnertube, MethodLibrary, MethodHTML, MethodDataAPI}

	if len(exts) != len(want) {
		t.Fatalf("expected %d extractors, got %d", len(want), len(exts))
	}
	for i, e := range exts {
		if e.Name() != want[i] {
			t.Errorf("extractor %d = %s, want %s", i, e.Name(), want[i])
		}
		if !e.Supports(testURL) {
			t.Errorf("%s should support %s", e.Name(), testURL)
		}
		if e.Supports("https://x.com/jack/status/20") {
			t.Errorf("%s should not support tweets", e.Name())
		}
	}
	if err := extractor.CheckUnique(exts); err != nil {
		t.Error(err)
	}
}
