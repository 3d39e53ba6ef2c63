package jobs

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/provider"
	"github.com/mediafetch/backend/internal/resolver"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6380"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Skipf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

type fakeResolver struct {
	result media.Result
	calls  atomic.Int32
}

func (f *fakeResolver) Resolve(_ context.Context, req resolver.Request) resolver.Resolution {
	f.calls.Add(1)
	return resolver.Resolution{
		Detection: provider.Detection{Supported: true, Provider: media.ProviderTwitter, MediaID: "20", URL: req.URL},
		Result:    f.result,
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &Failure{Code: media.CodeNetworkError}, true},
		{"timeout", &Failure{Code: media.CodeTimeout}, true},
		{"no extractors", &Failure{Code: media.CodeNoExtractorsAvailable}, true},
		{"not found", &Failure{Code: media.CodeNotFound}, false},
		{"unsupported", &Failure{Code: media.CodeUnsupportedProvider}, false},
		{"aggregate of not found", &Failure{Code: media.CodeAllMethodsFailed, Cause: media.CodeNotFound}, false},
		{"aggregate of network", &Failure{Code: media.CodeAllMethodsFailed, Cause: media.CodeNetworkError}, true},
		{"infrastructure", errors.New("redis: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 5 * time.Minute}, // capped at maxBackoff
	}

	for _, tt := range tests {
		if got := calculateBackoff(time.Second, tt.retryCount); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestResolveProcessor_Success(t *testing.T) {
	r := &fakeResolver{result: media.Result{Success: true, Method: "twitter-syndication", Info: &media.MediaInfo{
		Title:   "clip",
		Formats: []media.Format{{FormatID: "1-832", VideoCodec: "avc1", AudioCodec: "mp4a"}},
	}}}
	job := &Job{ID: "j1", URL: "https://x.com/jack/status/20"}

	if err := ResolveProcessor(r)(context.Background(), job); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if job.Result == nil || job.Result.Title != "clip" || job.Result.Source != "api" {
		t.Errorf("unexpected result %+v", job.Result)
	}
	if job.Error != nil {
		t.Error("successful job should have no error")
	}
}

func TestResolveProcessor_Failure(t *testing.T) {
	r := &fakeResolver{result: media.Result{Err: &media.ExtractError{
		Code: media.CodeAllMethodsFailed,
		Attempts: []media.Attempt{
			{Method: "twitter-ytdlp", Code: media.CodeParseError},
			{Method: "twitter-syndication", Code: media.CodePrivateContent},
		},
	}}}
	job := &Job{ID: "j2", URL: "https://x.com/jack/status/20"}

	err := ResolveProcessor(r)(context.Background(), job)

	var f *Failure
	if !errors.As(err, &f) || f.Cause != media.CodePrivateContent {
		t.Fatalf("expected a PRIVATE_CONTENT failure, got %v", err)
	}
	if Retryable(err) {
		t.Error("private content should not be retried")
	}
	if job.Error == nil || job.Error.Code != "ALL_METHODS_FAILED" {
		t.Errorf("unexpected job error %+v", job.Error)
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	queue := NewQueue(getTestRedisClient(t))
	ctx := context.Background()

	job, err := queue.Enqueue(ctx, "key-123", "https://youtu.be/dQw4w9WgXcQ", false)
	if err != nil {
		t.Fatalf("Failed to enqueue job: %v", err)
	}
	if job.ID == "" || job.Status != StatusQueued {
		t.Errorf("unexpected job %+v", job)
	}

	dequeued, err := queue.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue job: %v", err)
	}
	if dequeued.ID != job.ID || dequeued.APIKeyID != "key-123" {
		t.Errorf("unexpected dequeued job %+v", dequeued)
	}

	jobs, err := queue.ListJobs(ctx, "key-123", 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) == 0 || jobs[0].ID != job.ID {
		t.Errorf("newest job should be listed first, got %d jobs", len(jobs))
	}
}

func TestQueue_GetJobNotFound(t *testing.T) {
	queue := NewQueue(getTestRedisClient(t))
	if _, err := queue.GetJob(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestWorkerPool_ProcessJob(t *testing.T) {
	client := getTestRedisClient(t)
	r := &fakeResolver{result: media.Result{Success: true, Method: "twitter-ytdlp", Info: &media.MediaInfo{
		Title:   "clip",
		Formats: []media.Format{{FormatID: "http-832", VideoCodec: "avc1", AudioCodec: "mp4a"}},
	}}}
	svc := NewService(client, ResolveProcessor(r), &WorkerPoolConfig{WorkerCount: 1})
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "worker-key")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	job, err := svc.Submit(ctx, "worker-key", "https://x.com/jack/status/20", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	svc.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Stop(stopCtx)
	}()

	updates := sub.Channel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u := <-updates:
			if u.ID == job.ID && u.Status == StatusComplete {
				if u.Result == nil || u.CompletedAt == nil {
					t.Errorf("complete job missing result %+v", u)
				}
				return
			}
		case <-deadline:
			t.Fatal("job did not complete")
		}
	}
}

func TestWorkerPool_DoesNotRetryDefinitiveFailures(t *testing.T) {
	client := getTestRedisClient(t)
	r := &fakeResolver{result: media.Result{Err: media.NewError(media.CodeNotFound, "gone")}}
	svc := NewService(client, ResolveProcessor(r), &WorkerPoolConfig{WorkerCount: 1, BaseBackoff: 10 * time.Millisecond})
	ctx := context.Background()

	job, err := svc.Submit(ctx, "norety-key", "https://x.com/jack/status/20", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Start()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := svc.GetJob(ctx, job.ID)
		if err == nil && got.IsTerminal() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Stop(stopCtx)

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.RetryCount != 0 || r.calls.Load() != 1 {
		t.Errorf("expected one failed attempt, got status=%s retries=%d calls=%d", got.Status, got.RetryCount, r.calls.Load())
	}
	if got.Error == nil || got.Error.Code != "NOT_FOUND" {
		t.Errorf("unexpected error %+v", got.Error)
	}
}
