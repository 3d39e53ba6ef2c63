package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mediafetch/backend/internal/events"
	"github.com/mediafetch/backend/internal/media"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	w := httptest.NewRecorder()
	m.Handler()(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/providers", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/providers", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/providers", 503, 50*time.Millisecond)

	body := scrape(t, m)

	for _, want := range []string{
		`mediafetch_http_requests_total{endpoint="/api/v1/providers",method="GET",status_class="2xx"} 2`,
		`mediafetch_http_requests_total{endpoint="/api/v1/providers",method="GET",status_class="5xx"} 1`,
		`mediafetch_http_request_duration_seconds_bucket{endpoint="/api/v1/providers",method="GET",le="0.1"} 2`,
		`mediafetch_http_request_duration_seconds_count{endpoint="/api/v1/providers",method="GET"} 3`,
		"mediafetch_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in:\n%s", want, body)
		}
	}
}

func TestMetrics_EndpointNormalization(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/jobs/123e4567-e89b-12d3-a456-426614174000", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/jobs/550e8400-e29b-41d4-a716-446655440000", 200, 10*time.Millisecond)

	body := scrape(t, m)

	if !strings.Contains(body, `endpoint="/api/v1/jobs/{id}",method="GET",status_class="2xx"} 2`) {
		t.Errorf("expected normalized endpoint /api/v1/jobs/{id}, got:\n%s", body)
	}
}

func TestMetrics_AttemptFinished(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.AttemptFinished(ctx, "u", media.Result{
		Success: true,
		Method:  "tiktok-api",
		Info:    &media.MediaInfo{Formats: []media.Format{{VideoCodec: "h264", AudioCodec: "aac"}}},
		Elapsed: 200 * time.Millisecond,
	})
	m.AttemptFinished(ctx, "u", media.Result{Method: "tiktok-ytdlp", Err: media.NewError(media.CodeTimeout, "slow")})

	body := scrape(t, m)

	for _, want := range []string{
		`mediafetch_extraction_attempts_total{method="tiktok-api",outcome="video"} 1`,
		`mediafetch_extraction_attempts_total{method="tiktok-ytdlp",outcome="TIMEOUT"} 1`,
		`mediafetch_extraction_duration_seconds_count{method="tiktok-api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in:\n%s", want, body)
		}
	}
}

func TestMetrics_ConsumesEvents(t *testing.T) {
	m := New()
	ctx := context.Background()
	var pub events.Publisher = events.Fanout{events.NopPublisher{}, m}

	pub.Publish(ctx, events.KeyResolveCompleted, events.ResolveCompleted{Provider: media.ProviderYouTube, Success: true, Grade: "audio_only"})
	pub.Publish(ctx, events.KeyResolveCompleted, events.ResolveCompleted{Provider: media.ProviderYouTube, Code: media.CodeNotFound, Grade: "empty"})
	pub.Publish(ctx, events.KeyMethodDisabled, events.MethodStateChanged{Method: "youtube-html", State: "disabled"})

	body := scrape(t, m)

	for _, want := range []string{
		`mediafetch_resolutions_total{provider="youtube",outcome="audio_only",cached="false"} 1`,
		`mediafetch_resolutions_total{provider="youtube",outcome="NOT_FOUND",cached="false"} 1`,
		`mediafetch_method_enabled{method="youtube-html"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in:\n%s", want, body)
		}
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()

	m.SetWSConnections(2)
	m.SetJobQueueLength(5)
	m.SetMethodEnabled("twitter-graphql", true)

	body := scrape(t, m)

	for _, want := range []string{
		"mediafetch_websocket_connections_active 2",
		"mediafetch_job_queue_length 5",
		`mediafetch_method_enabled{method="twitter-graphql"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in:\n%s", want, body)
		}
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	MetricsMiddleware(m)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", w.Code)
	}
	if body := scrape(t, m); !strings.Contains(body, `endpoint="/api/v1/test",method="GET",status_class="4xx"} 1`) {
		t.Errorf("expected request in metrics, got:\n%s", body)
	}
}
