package fallback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/methodhealth"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type fakeExtractor struct {
	name        string
	unsupported bool
	unavailable bool
	delay       time.Duration
	// block ignores the context until released
	block  <-chan struct{}
	panics bool
	result media.Result
	calls  atomic.Int32
}

func (f *fakeExtractor) Name() string                     { return f.name }
func (f *fakeExtractor) Supports(string) bool             { return !f.unsupported }
func (f *fakeExtractor) IsAvailable(context.Context) bool { return !f.unavailable }

func (f *fakeExtractor) Extract(ctx context.Context, _ string, _ extractor.Options) media.Result {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return media.Result{Method: f.name, Err: media.NewError(media.CodeTimeout, "cancelled")}
		}
	}
	res := f.result
	res.Method = f.name
	return res
}

func videoResult() media.Result {
	return media.Result{Success: true, Info: &media.MediaInfo{
		Title:   "video",
		Formats: []media.Format{{FormatID: "18", VideoCodec: "avc1", AudioCodec: "mp4a"}},
	}}
}

func audioResult() media.Result {
	return media.Result{Success: true, Info: &media.MediaInfo{
		Title:   "audio",
		Formats: []media.Format{{FormatID: "140", VideoCodec: media.CodecNone, AudioCodec: "mp4a"}},
	}}
}

func failure(code media.ErrorCode) media.Result {
	return media.Result{Err: media.NewError(code, "failed")}
}

func list(fs ...*fakeExtractor) []extractor.Extractor {
	out := make([]extractor.Extractor, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

type recorder struct {
	mu       sync.Mutex
	attempts []media.Result
}

func (r *recorder) AttemptFinished(_ context.Context, _ string, res media.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, res)
}

func (r *recorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.Method == method {
			n++
		}
	}
	return n
}

func TestSequential_ShortCircuitsOnVideo(t *testing.T) {
	a := &fakeExtractor{name: "a", result: audioResult()}
	b := &fakeExtractor{name: "b", result: videoResult()}
	c := &fakeExtractor{name: "c", result: videoResult()}

	res := New(nil).Execute(context.Background(), list(a, b, c), testURL, Options{})

	if !res.Success || res.Method != "b" {
		t.Fatalf("expected b's video result, got %+v", res)
	}
	if c.calls.Load() != 0 {
		t.Error("c must not be invoked after a video success")
	}
}

func TestSequential_FallsBackToAudio(t *testing.T) {
	a := &fakeExtractor{name: "a", result: audioResult()}
	b := &fakeExtractor{name: "b", result: failure(media.CodeParseError)}

	res := New(nil).Execute(context.Background(), list(a, b), testURL, Options{})

	if !res.Success || res.Method != "a" {
		t.Fatalf("expected a's audio result, got %+v", res)
	}
	if !res.Weak() {
		t.Error("audio-only fallback should be a weak success")
	}
	if b.calls.Load() != 1 {
		t.Error("b should still be tried after an audio-only success")
	}
}

func TestSequential_AllFailed(t *testing.T) {
	a := &fakeExtractor{name: "a", result: failure(media.CodeParseError)}
	b := &fakeExtractor{name: "b", result: failure(media.CodeNotFound)}

	res := New(nil).Execute(context.Background(), list(a, b), testURL, Options{})

	if res.Success || res.Code() != media.CodeAllMethodsFailed {
		t.Fatalf("expected ALL_METHODS_FAILED, got %+v", res)
	}
	if len(res.Err.Attempts) != 2 || res.Err.Attempts[0].Method != "a" || res.Err.Attempts[1].Code != media.CodeNotFound {
		t.Errorf("unexpected attempts %+v", res.Err.Attempts)
	}
	if best, _ := res.Err.MostSpecific(); best.Code != media.CodeNotFound {
		t.Errorf("expected NOT_FOUND as the most specific cause, got %s", best.Code)
	}
}

func TestExecute_SuccessWithoutFormatsIsNoFormats(t *testing.T) {
	tests := []struct {
		name   string
		result media.Result
	}{
		{"nil info", media.Result{Success: true}},
		{"empty formats", media.Result{Success: true, Info: &media.MediaInfo{Title: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, parallel := range []bool{false, true} {
				a := &fakeExtractor{name: "a", result: tt.result}
				b := &fakeExtractor{name: "b", result: failure(media.CodeParseError)}
				rec := &recorder{}

				res := New(nil, WithObserver(rec)).Execute(context.Background(), list(a, b), testURL, Options{Parallel: parallel})

				if res.Success {
					t.Fatalf("parallel=%v: expected failure, got %+v", parallel, res)
				}
				found := false
				for _, at := range res.Err.Attempts {
					if at.Method == "a" && at.Code == media.CodeNoFormats {
						found = true
					}
				}
				if !found {
					t.Errorf("parallel=%v: expected a NO_FORMATS attempt for a, got %+v", parallel, res.Err.Attempts)
				}
				if rec.count("a") != 1 {
					t.Errorf("parallel=%v: expected one recorded attempt for a, got %d", parallel, rec.count("a"))
				}
			}
		})
	}
}

func TestExecute_NoExtractorsAvailable(t *testing.T) {
	health := methodhealth.NewChecker(nil)
	for i := 0; i < methodhealth.DefaultFailureThreshold; i++ {
		health.RecordAttempt("disabled", false)
	}

	tests := []struct {
		name string
		exts []extractor.Extractor
	}{
		{"empty", nil},
		{"unsupported", list(&fakeExtractor{name: "x", unsupported: true})},
		{"unconfigured", list(&fakeExtractor{name: "x", unavailable: true})},
		{"breaker open", list(&fakeExtractor{name: "disabled", result: videoResult()})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, parallel := range []bool{false, true} {
				res := New(health).Execute(context.Background(), tt.exts, testURL, Options{Parallel: parallel})
				if res.Code() != media.CodeNoExtractorsAvailable {
					t.Errorf("parallel=%v: expected NO_EXTRACTORS_AVAILABLE, got %s", parallel, res.Code())
				}
			}
		})
	}
}

func TestExecute_IgnoreHealthCheck(t *testing.T) {
	health := methodhealth.NewChecker(nil)
	for i := 0; i < methodhealth.DefaultFailureThreshold; i++ {
		health.RecordAttempt("disabled", false)
	}

	res := New(health).Execute(context.Background(),
		list(&fakeExtractor{name: "disabled", result: videoResult()}), testURL, Options{IgnoreHealthCheck: true})
	if !res.Success {
		t.Fatalf("expected the disabled method to run, got %v", res.Err)
	}
	if !health.IsMethodAvailable("disabled") {
		t.Error("a success should close the breaker")
	}
}

func TestParallel_PrefersVideoRegardlessOfArrival(t *testing.T) {
	fast := &fakeExtractor{name: "fast-audio", result: audioResult()}
	slow := &fakeExtractor{name: "slow-video", delay: 50 * time.Millisecond, result: videoResult()}

	for _, exts := range [][]extractor.Extractor{list(fast, slow), list(slow, fast)} {
		res := New(nil).Execute(context.Background(), exts, testURL, Options{Parallel: true})
		if res.Method != "slow-video" || !res.HasRealVideo() {
			t.Errorf("expected the video result, got %s", res.Method)
		}
	}
}

func TestParallel_FallsBackToAudio(t *testing.T) {
	a := &fakeExtractor{name: "a", result: failure(media.CodeParseError)}
	b := &fakeExtractor{name: "b", result: audioResult()}

	res := New(nil).Execute(context.Background(), list(a, b), testURL, Options{Parallel: true})
	if res.Method != "b" || !res.Weak() {
		t.Fatalf("expected b's weak success, got %+v", res)
	}
}

func TestParallel_AllFailedReturnsFirstError(t *testing.T) {
	a := &fakeExtractor{name: "a", delay: 30 * time.Millisecond, result: failure(media.CodePrivateContent)}
	b := &fakeExtractor{name: "b", result: failure(media.CodeParseError)}

	res := New(nil).Execute(context.Background(), list(a, b), testURL, Options{Parallel: true})

	if res.Code() != media.CodePrivateContent || res.Method != "a" {
		t.Fatalf("expected a's own error, got %s from %s", res.Code(), res.Method)
	}
	if len(res.Err.Attempts) != 2 || res.Err.Attempts[0].Method != "a" {
		t.Errorf("attempts should follow candidate order, got %+v", res.Err.Attempts)
	}
	if a.result.Err.Attempts != nil {
		t.Error("the extractor's own error must not be mutated")
	}
}

func TestParallel_TimeoutIsolation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	hang := &fakeExtractor{name: "hang", block: release}
	ok := &fakeExtractor{name: "ok", result: videoResult()}
	rec := &recorder{}
	health := methodhealth.NewChecker(nil)

	start := time.Now()
	res := New(health, WithObserver(rec)).Execute(context.Background(), list(hang, ok), testURL,
		Options{Parallel: true, Timeout: 50 * time.Millisecond})

	if res.Method != "ok" {
		t.Fatalf("expected the sibling's result, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("orchestrator waited %s for a hung extractor", elapsed)
	}

	stats, _ := health.Stats("hang")
	if stats.FailureCount != 1 {
		t.Errorf("expected one recorded failure for the hung method, got %d", stats.FailureCount)
	}
	for _, a := range rec.attempts {
		if a.Method == "hang" && a.Code() != media.CodeTimeout {
			t.Errorf("hung attempt should be TIMEOUT, got %s", a.Code())
		}
	}
}

func TestSequential_TimeoutMovesOn(t *testing.T) {
	slow := &fakeExtractor{name: "slow", delay: time.Second, result: videoResult()}
	ok := &fakeExtractor{name: "ok", result: videoResult()}

	res := New(nil).Execute(context.Background(), list(slow, ok), testURL, Options{Timeout: 20 * time.Millisecond})
	if res.Method != "ok" {
		t.Fatalf("expected ok after slow timed out, got %+v", res)
	}
}

func TestExecute_RecordsEveryAttemptOnce(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		rec := &recorder{}
		health := methodhealth.NewChecker(nil)
		a := &fakeExtractor{name: "a", result: failure(media.CodeNetworkError)}
		b := &fakeExtractor{name: "b", result: audioResult()}
		c := &fakeExtractor{name: "c", result: failure(media.CodeNotFound)}

		New(health, WithObserver(rec)).Execute(context.Background(), list(a, b, c), testURL, Options{Parallel: parallel})

		for _, name := range []string{"a", "b", "c"} {
			if n := rec.count(name); n != 1 {
				t.Errorf("parallel=%v: %s observed %d times", parallel, name, n)
			}
			stats, _ := health.Stats(name)
			if stats.SuccessCount+stats.FailureCount != 1 {
				t.Errorf("parallel=%v: %s recorded %d times", parallel, name, stats.SuccessCount+stats.FailureCount)
			}
		}
	}
}

func TestExecute_BreakerLearnsAcrossRequests(t *testing.T) {
	orc := New(methodhealth.NewChecker(nil))
	bad := &fakeExtractor{name: "bad", result: failure(media.CodeParseError)}

	for i := 0; i < methodhealth.DefaultFailureThreshold; i++ {
		if res := orc.Execute(context.Background(), list(bad), testURL, Options{}); res.Code() != media.CodeAllMethodsFailed {
			t.Fatalf("attempt %d: expected ALL_METHODS_FAILED, got %s", i, res.Code())
		}
	}
	if res := orc.Execute(context.Background(), list(bad), testURL, Options{}); res.Code() != media.CodeNoExtractorsAvailable {
		t.Fatalf("expected the breaker to filter bad, got %s", res.Code())
	}
	if bad.calls.Load() != int32(methodhealth.DefaultFailureThreshold) {
		t.Errorf("bad invoked %d times", bad.calls.Load())
	}
}

func TestExecute_RecoversPanics(t *testing.T) {
	p := &fakeExtractor{name: "panics", panics: true}
	ok := &fakeExtractor{name: "ok", result: audioResult()}

	res := New(nil).Execute(context.Background(), list(p, ok), testURL, Options{})
	if res.Method != "ok" {
		t.Fatalf("expected ok, got %+v", res)
	}
}

func TestSequential_StopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeExtractor{name: "a", result: failure(media.CodeParseError)}
	b := &fakeExtractor{name: "b", result: videoResult()}

	obs := ObserverFunc(func(_ context.Context, _ string, res media.Result) {
		if res.Method == "a" {
			cancel()
		}
	})

	res := New(nil, WithObserver(obs)).Execute(ctx, list(a, b), testURL, Options{})
	if res.Code() != media.CodeTimeout {
		t.Fatalf("expected TIMEOUT after cancellation, got %s", res.Code())
	}
	if b.calls.Load() != 0 {
		t.Error("b should not run once the caller has gone away")
	}
}

func TestObservers_FanOut(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	obs := Observers(r1, nil, r2)
	obs.AttemptFinished(context.Background(), testURL, media.Result{Method: "m"})

	if r1.count("m") != 1 || r2.count("m") != 1 {
		t.Error("every observer should see the attempt")
	}
}
