package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/extractor/extractortest"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
)

const testURL = "https://www.instagram.com/reel/C1a2B3c4D5e/"

func testConfig() Config {
	return Config{HTTP: extractortest.NewClient()}
}

func TestMediaID(t *testing.T) {
	tests := []struct {
		shortcode string
		want      string
		ok        bool
	}{
		{"C1a2B3c4D5e", "3268162102382050910", true},
		{"CuS9ap1MPWv", "3139842002690045359", true},
		{"CuS9ap1MPWvPrivateSuffix123", "3139842002690045359", true},
		{"bad!code", "", false},
	}

	for _, tt := range tests {
		got, ok := mediaID(tt.shortcode)
		if ok != tt.ok || got != tt.want {
			t.Errorf("mediaID(%q) = %q, %v; want %q, %v", tt.shortcode, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCookieValue(t *testing.T) {
	header := "csrftoken=abc; sessionid=123%3Axyz; ds_user_id=42"
	if got := cookieValue(header, "sessionid"); got != "123%3Axyz" {
		t.Errorf("sessionid = %q", got)
	}
	if got := cookieValue(header, "missing"); got != "" {
		t.Errorf("expected empty value, got %q", got)
	}
}

func TestGraphQL_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("doc_id") != docID || !strings.Contains(r.PostForm.Get("variables"), "C1a2B3c4D5e") {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		if r.Header.Get("X-IG-App-ID") != appID {
			t.Error("missing app id header")
		}
		fmt.Fprint(w, `{"data":{"xdt_shortcode_media":{
			"shortcode":"C1a2B3c4D5e","is_video":true,
			"video_url":"https://scontent.cdninstagram.com/v/main.mp4",
			"display_url":"https://scontent.cdninstagram.com/v/thumb.jpg",
			"video_duration":12.5,
			"dimensions":{"width":720,"height":1280},
			"edge_media_to_caption":{"edges":[{"node":{"text":"Sunset run\nmore text"}}]}
		}},"status":"ok"}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.GraphQLURL = srv.URL

	res := NewGraphQL(provider.NewInstagramMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireSuccess(t, res)

	if res.Info.Title != "Sunset run" {
		t.Errorf("expected caption title, got %q", res.Info.Title)
	}
	f := res.Info.Formats[0]
	if f.VideoCodec != "avc1" || f.AudioCodec != "mp4a" || f.Resolution != "720x1280" {
		t.Errorf("unexpected format: %+v", f)
	}
	if !res.HasRealVideo() {
		t.Error("expected real video")
	}
}

func TestGraphQL_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   media.ErrorCode
	}{
		{"missing post", http.StatusOK, `{"data":{"xdt_shortcode_media":null},"status":"ok"}`, media.CodeNotFound},
		{"photo post", http.StatusOK, `{"data":{"xdt_shortcode_media":{"is_video":false,"display_url":"x"}},"status":"ok"}`, media.CodeNoMediaStreams},
		{"rate limited", http.StatusUnauthorized, `{"message":"Please wait a few minutes before you try again.","require_login":true,"status":"fail"}`, media.CodeQuotaExceeded},
		{"login", http.StatusOK, `{"message":"","require_login":true,"status":"fail"}`, media.CodeAuthExpired},
		{"checkpoint", http.StatusBadRequest, `{"message":"checkpoint_required","status":"fail"}`, media.CodeSecurityChallenge},
		{"html instead of json", http.StatusOK, `<html>login</html>`, media.CodeParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			cfg := testConfig()
			cfg.GraphQLURL = srv.URL

			res := NewGraphQL(provider.NewInstagramMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
			extractortest.RequireCode(t, res, tt.want)
		})
	}
}

func TestAPI_RequiresSession(t *testing.T) {
	cfg := testConfig()
	e := NewAPI(provider.NewInstagramMatcher(), cfg)

	if e.IsAvailable(context.Background()) {
		t.Error("API method should be unavailable without cookies")
	}
	extractortest.RequireCode(t, e.Extract(context.Background(), testURL, extractor.Options{}), media.CodeMissingCredentials)

	cfg.Cookies = extractor.StaticCookies{media.ProviderInstagram: "sessionid=abc"}
	if !NewAPI(provider.NewInstagramMatcher(), cfg).IsAvailable(context.Background()) {
		t.Error("API method should be available with a session cookie")
	}
}

func TestAPI_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/3268162102382050910/info/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-CSRFToken") != "tok" {
			t.Errorf("expected csrf header, got %q", r.Header.Get("X-CSRFToken"))
		}
		fmt.Fprint(w, `{"items":[{
			"code":"C1a2B3c4D5e","video_duration":8,
			"caption":{"text":"clip"},
			"video_versions":[
				{"type":101,"width":720,"height":1280,"url":"https://scontent.cdninstagram.com/hd.mp4","id":"hd"},
				{"type":102,"width":480,"height":854,"url":"https://scontent.cdninstagram.com/sd.mp4","id":"sd"},
				{"type":103,"width":480,"height":854,"url":"https://scontent.cdninstagram.com/sd.mp4","id":"sd2"}
			]
		}],"status":"ok"}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIURL = srv.URL
	cfg.Cookies = extractor.StaticCookies{media.ProviderInstagram: "sessionid=abc; csrftoken=tok"}

	res := NewAPI(provider.NewInstagramMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireSuccess(t, res)

	if got, want := extractortest.FormatIDs(res), []string{"hd", "sd"}; !extractortest.Equal(got, want) {
		t.Errorf("formats = %v, want %v", got, want)
	}
}

func TestAPI_ExpiredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"login_required","status":"fail"}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.APIURL = srv.URL

	res := NewAPI(provider.NewInstagramMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{Cookies: "sessionid=stale"})
	extractortest.RequireCode(t, res, media.CodeAuthExpired)
}

func TestHTML_Extract(t *testing.T) {
	page := `<html><head>
<meta property="og:title" content="Reel by someone">
<meta property="og:image" content="https://scontent.cdninstagram.com/thumb.jpg">
<meta property="og:video" content="https://scontent.cdninstagram.com/og.mp4">
<meta property="og:video:width" content="720">
<meta property="og:video:height" content="1280">
</head><body><script>{"video_url":"https:\/\/scontent.cdninstagram.com\/embedded.mp4?a=1&b=2"}</script></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/p/C1a2B3c4D5e/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PageURL = srv.URL

	res := NewHTML(provider.NewInstagramMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
	extractortest.RequireSuccess(t, res)

	if len(res.Info.Formats) != 2 {
		t.Fatalf("expected og and embedded formats, got %v", extractortest.FormatIDs(res))
	}
	if res.Info.Formats[0].URL != "https://scontent.cdninstagram.com/og.mp4" {
		t.Errorf("expected the larger og:video first, got %q", res.Info.Formats[0].URL)
	}
	if res.Info.Formats[1].URL != "https://scontent.cdninstagram.com/embedded.mp4?a=1&b=2" {
		t.Errorf("embedded URL not unescaped: %q", res.Info.Formats[1].URL)
	}
}

func TestHTML_Failures(t *testing.T) {
	tests := []struct {
		name string
		page string
		want media.ErrorCode
	}{
		{"photo post", `<html><head><meta property="og:title" content="Photo"><meta property="og:image" content="x.jpg"></head></html>`, media.CodeNoMediaStreams},
		{"login wall", `<html><body><form><input name="username"></form></body></html>`, media.CodeAuthExpired},
		{"unknown page", `<html><body>nothing here</body></html>`, media.CodeParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.page)
			}))
			defer srv.Close()

			sink := &extractortest.Sink{}
			cfg := testConfig()
			cfg.PageURL = srv.URL
			cfg.Sink = sink

			res := NewHTML(provider.NewInstagramMatcher(), cfg).Extract(context.Background(), testURL, extractor.Options{})
			extractortest.RequireCode(t, res, tt.want)
			if tt.want == media.CodeParseError && !sink.Has(MethodHTML) {
				t.Error("expected a diagnostic snapshot")
			}
		})
	}
}

func TestBrowser_MissingChrome(t *testing.T) {
	e := NewBrowser(provider.NewInstagramMatcher(), Config{ChromePath: "/nonexistent/chrome"})

	if e.IsAvailable(context.Background()) {
		t.Fatal("expected browser method to be unavailable")
	}
	extractortest.RequireCode(t, e.Extract(context.Background(), testURL, extractor.Options{}), media.CodeDependencyMissing)
}

func TestBrowserVideoURLs(t *testing.T) {
	got := browserVideoURLs([]string{
		"blob:https://www.instagram.com/abc",
		"https://scontent.cdninstagram.com/v.mp4?bytestart=0&byteend=1000&oh=x",
		"https://scontent.cdninstagram.com/v.mp4?bytestart=1001&byteend=2000&oh=x",
		"https://scontent.cdninstagram.com/w.mp4",
	})
	want := []string{
		"https://scontent.cdninstagram.com/v.mp4?oh=x",
		"https://scontent.cdninstagram.com/w.mp4",
	}
	if !extractortest.Equal(got, want) {
		t.Errorf("browserVideoURLs = %v, want %v", got, want)
	}
}

func TestExtractors_Order(t *testing.T) {
	exts := Extractors(Config{})
	want := []string{MethodYtdlp, MethodGraphQL, MethodAPI, MethodHTML, MethodBrowser}

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
	}
}
