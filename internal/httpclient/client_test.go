package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/media"
)

func testClient() *Client {
	return New(&Config{
		Timeout: 5 * time.Second,
		Retry: &apperrors.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			BackoffFactor:  1,
		},
	})
}

func TestClient_SendsBrowserHeadersAndCookies(t *testing.T) {
	var gotUA, gotCookie, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		gotCustom = r.Header.Get("X-Custom")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := testClient().Get(context.Background(), srv.URL, map[string]string{"X-Custom": "1"}, "sessionid=abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("unexpected body %q", resp.Body)
	}
	if gotUA != DesktopUserAgent {
		t.Errorf("expected desktop user agent, got %q", gotUA)
	}
	if gotCookie != "sessionid=abc" {
		t.Errorf("expected cookie header, got %q", gotCookie)
	}
	if gotCustom != "1" {
		t.Errorf("expected custom header, got %q", gotCustom)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	if _, err := testClient().GetJSON(context.Background(), Request{URL: srv.URL}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Error("expected decoded body")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestClient_DoesNotRetryNotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("gone"))
	}))
	defer srv.Close()

	resp, err := testClient().Get(context.Background(), srv.URL, nil, "")

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if resp == nil || string(resp.Body) != "gone" {
		t.Error("expected the response body to be returned with the error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if Code(err) != media.CodeNotFound {
		t.Errorf("expected NOT_FOUND, got %s", Code(err))
	}
}

func TestClient_HonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := testClient().Get(ctx, srv.URL, nil, "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if time.Since(start) > time.Second {
		t.Error("request was not cancelled by the context")
	}
	if Code(err) != media.CodeTimeout {
		t.Errorf("expected TIMEOUT, got %s", Code(err))
	}
}

func TestClient_DecodeErrorIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	var out map[string]any
	_, err := testClient().GetJSON(context.Background(), Request{URL: srv.URL}, &out)
	if Code(err) != media.CodeParseError {
		t.Errorf("expected PARSE_ERROR, got %s (%v)", Code(err), err)
	}
}

func TestClient_RejectsNonHTTPURLs(t *testing.T) {
	if _, err := testClient().Get(context.Background(), "file:///etc/passwd", nil, ""); err == nil {
		t.Error("expected file URL to be rejected")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want media.ErrorCode
	}{
		{&StatusError{StatusCode: 403}, media.CodeAuthExpired},
		{&StatusError{StatusCode: 429}, media.CodeQuotaExceeded},
		{&StatusError{StatusCode: 500}, media.CodeNetworkError},
		{context.DeadlineExceeded, media.CodeTimeout},
		{errors.New("connection reset"), media.CodeNetworkError},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
