// Package fallback runs a set of extractors against one URL and picks the
// best result. Candidates are filtered by URL support, configuration and
// method health; the survivors run either concurrently or in priority order.
//
// Real video always beats an audio-only success. An audio-only success is
// kept as a last resort while other methods are still being tried.
package fallback

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/mediafetch/backend/internal/extractor"
	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
	"github.com/mediafetch/backend/internal/methodhealth"
)

// DefaultTimeout bounds a single extraction attempt
const DefaultTimeout = 30 * time.Second

var log = logger.WithComponent("fallback")

// Options controls one orchestration run
type Options struct {
	// Parallel races every candidate instead of trying them in order
	Parallel bool
	// Timeout bounds each attempt; zero means DefaultTimeout
	Timeout time.Duration
	// IgnoreHealthCheck runs methods even while their breaker is open
	IgnoreHealthCheck bool
	// Extract is passed through to every extractor
	Extract extractor.Options
}

// Observer is told about every finished attempt
type Observer interface {
	AttemptFinished(ctx context.Context, rawURL string, res media.Result)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, rawURL string, res media.Result)

// AttemptFinished calls f
func (f ObserverFunc) AttemptFinished(ctx context.Context, rawURL string, res media.Result) {
	f(ctx, rawURL, res)
}

// Observers fans attempts out to several observers
func Observers(obs ...Observer) Observer {
	obs = lo.Filter(obs, func(o Observer, _ int) bool { return o != nil })
	return ObserverFunc(func(ctx context.Context, rawURL string, res media.Result) {
		for _, o := range obs {
			o.AttemptFinished(ctx, rawURL, res)
		}
	})
}

// Orchestrator executes extractor fallbacks and feeds the health checker
type Orchestrator struct {
	health   *methodhealth.Checker
	observer Observer
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithObserver registers an attempt observer
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) { orc.observer = o }
}

// New creates an orchestrator. A nil checker gets a default one.
func New(health *methodhealth.Checker, opts ...Option) *Orchestrator {
	if health == nil {
		health = methodhealth.NewChecker(nil)
	}
	orc := &Orchestrator{health: health}
	for _, opt := range opts {
		opt(orc)
	}
	return orc
}

// Health returns the checker the orchestrator records into
func (o *Orchestrator) Health() *methodhealth.Checker { return o.health }

// Execute runs the eligible extractors for rawURL and returns the winning
// result, an audio-only fallback, or a structured failure.
func (o *Orchestrator) Execute(ctx context.Context, exts []extractor.Extractor, rawURL string, opts Options) media.Result {
	start := time.Now()
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	candidates := o.candidates(ctx, exts, rawURL, opts.IgnoreHealthCheck)
	if len(candidates) == 0 {
		log.Warn(ctx, "no extractors available", map[string]any{
			"url":        rawURL,
			"configured": len(exts),
		})
		return extractor.Failure("", start, media.NewError(media.CodeNoExtractorsAvailable,
			"no extraction method is currently available for this URL"))
	}

	if opts.Parallel {
		return o.parallel(ctx, candidates, rawURL, opts, start)
	}
	return o.sequential(ctx, candidates, rawURL, opts, start)
}

func (o *Orchestrator) candidates(ctx context.Context, exts []extractor.Extractor, rawURL string, ignoreHealth bool) []extractor.Extractor {
	return lo.Filter(exts, func(e extractor.Extractor, _ int) bool {
		if !e.Supports(rawURL) {
			return false
		}
		if !ignoreHealth && !o.health.IsMethodAvailable(e.Name()) {
			log.Debug(ctx, "skipping disabled method", map[string]any{"method": e.Name()})
			return false
		}
		return e.IsAvailable(ctx)
	})
}

// parallel starts every candidate at once, waits for all of them and then
// picks: the first video success to arrive, else the first success, else the
// first candidate's own error.
func (o *Orchestrator) parallel(ctx context.Context, candidates []extractor.Extractor, rawURL string, opts Options, start time.Time) media.Result {
	results := make(chan media.Result, len(candidates))
	var wg sync.WaitGroup
	for _, e := range candidates {
		wg.Add(1)
		go func(e extractor.Extractor) {
			defer wg.Done()
			results <- o.attempt(ctx, e, rawURL, opts)
		}(e)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	byMethod := make(map[string]media.Result, len(candidates))
	var arrived []media.Result
	for res := range results {
		byMethod[res.Method] = res
		arrived = append(arrived, res)
	}

	if best, ok := lo.Find(arrived, func(r media.Result) bool { return r.HasRealVideo() }); ok {
		return best
	}
	if weak, ok := lo.Find(arrived, func(r media.Result) bool { return r.Success }); ok {
		log.Info(ctx, "returning audio-only result", map[string]any{"method": weak.Method, "url": rawURL})
		return weak
	}

	first := byMethod[candidates[0].Name()]
	err := media.ExtractError{Code: media.CodeAllMethodsFailed, Message: "all extraction methods failed"}
	if first.Err != nil {
		err = *first.Err
	}
	err.Attempts = attempts(orderBy(candidates, byMethod))
	return extractor.Failure(first.Method, start, &err)
}

// sequential tries candidates in order and stops at the first video success
func (o *Orchestrator) sequential(ctx context.Context, candidates []extractor.Extractor, rawURL string, opts Options, start time.Time) media.Result {
	var fallback *media.Result
	var failed []media.Result

	for _, e := range candidates {
		if ctx.Err() != nil {
			break
		}

		res := o.attempt(ctx, e, rawURL, opts)
		switch {
		case res.HasRealVideo():
			return res
		case res.Success:
			if fallback == nil {
				r := res
				fallback = &r
			}
		default:
			failed = append(failed, res)
		}
	}

	if fallback != nil {
		log.Info(ctx, "returning audio-only result", map[string]any{"method": fallback.Method, "url": rawURL})
		return *fallback
	}

	err := media.NewError(media.CodeAllMethodsFailed, "all %d extraction methods failed", len(candidates))
	if ctx.Err() != nil && len(failed) < len(candidates) {
		err = media.NewError(media.CodeTimeout, "request cancelled after %d of %d methods", len(failed), len(candidates))
	}
	err.Attempts = attempts(failed)
	return extractor.Failure("", start, err)
}

// attempt runs one extractor under its own deadline and records the outcome
// exactly once. The orchestrator stops waiting at the deadline even if the
// extractor does not honour its context.
func (o *Orchestrator) attempt(ctx context.Context, e extractor.Extractor, rawURL string, opts Options) media.Result {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	extractOpts := opts.Extract
	extractOpts.Timeout = opts.Timeout

	start := time.Now()
	done := make(chan media.Result, 1)
	go func() {
		done <- safeExtract(attemptCtx, e, rawURL, extractOpts)
	}()

	var res media.Result
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		res = extractor.Failure(e.Name(), start, media.NewError(media.CodeTimeout,
			"%s did not finish within %s", e.Name(), opts.Timeout))
	}
	if res.Method == "" {
		res.Method = e.Name()
	}
	if res.Success && (res.Info == nil || len(res.Info.Formats) == 0) {
		res = extractor.Failure(res.Method, start, media.NewError(media.CodeNoFormats, "no formats found"))
	}

	o.health.RecordAttempt(e.Name(), res.Success)
	if o.observer != nil {
		o.observer.AttemptFinished(ctx, rawURL, res)
	}

	fields := map[string]any{
		"method":     res.Method,
		"success":    res.Success,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	}
	if res.Success {
		fields["grade"] = res.Grade().String()
		fields["formats"] = len(res.Info.Formats)
	} else {
		fields["code"] = string(res.Code())
	}
	log.Debug(ctx, "extraction attempt finished", fields)
	return res
}

func safeExtract(ctx context.Context, e extractor.Extractor, rawURL string, opts extractor.Options) (res media.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "extractor panicked", fmt.Errorf("%v", r), map[string]any{
				"method": e.Name(),
				"stack":  string(debug.Stack()),
			})
			res = extractor.Failure(e.Name(), start, media.NewError(media.CodeParseError, "internal extractor error"))
		}
	}()
	return e.Extract(ctx, rawURL, opts)
}

func orderBy(candidates []extractor.Extractor, byMethod map[string]media.Result) []media.Result {
	return lo.FilterMap(candidates, func(e extractor.Extractor, _ int) (media.Result, bool) {
		r, ok := byMethod[e.Name()]
		return r, ok && !r.Success
	})
}

func attempts(failed []media.Result) []media.Attempt {
	return lo.Map(failed, func(r media.Result, _ int) media.Attempt {
		a := media.Attempt{Method: r.Method}
		if r.Err != nil {
			a.Code = r.Err.Code
			a.Message = r.Err.Message
		}
		return a
	})
}
