package jobs

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/mediafetch/backend/internal/logger"
	"github.com/mediafetch/backend/internal/media"
)

const (
	DefaultWorkerCount = 3
	DefaultMaxRetries  = 3
	DefaultJobTimeout  = 3 * time.Minute

	// Exponential backoff parameters
	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Minute
)

var log = logger.WithComponent("jobs")

// Processor runs one job. It fills in job.Result or job.Error and returns a
// non-nil error when the job failed.
type Processor func(ctx context.Context, job *Job) error

// Failure is the error a processor returns for a failed resolution
type Failure struct {
	Code media.ErrorCode
	// Cause is the most specific attempt code behind an aggregate failure
	Cause media.ErrorCode
}

func (f *Failure) Error() string {
	if f.Cause != "" && f.Cause != f.Code {
		return string(f.Code) + " (" + string(f.Cause) + ")"
	}
	return string(f.Code)
}

// Retryable reports whether a failed job is worth running again. Transport
// and aggregate failures are; a definitive answer such as NOT_FOUND is not.
// Errors that are not resolution failures (Redis, timeouts) always are.
func Retryable(err error) bool {
	var f *Failure
	if !errors.As(err, &f) {
		return true
	}
	code := f.Code
	if f.Cause != "" {
		code = f.Cause
	}
	switch code.Category() {
	case media.CategoryTransport, media.CategoryAggregate:
		return true
	default:
		return false
	}
}

// WorkerPool manages a pool of workers that process jobs
type WorkerPool struct {
	queue       *Queue
	workerCount int
	maxRetries  int
	jobTimeout  time.Duration
	baseBackoff time.Duration
	processor   Processor

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
}

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	WorkerCount int
	MaxRetries  int
	JobTimeout  time.Duration
	// BaseBackoff is the first retry delay; it doubles per retry
	BaseBackoff time.Duration
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *Queue, processor Processor, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{}
	}

	wp := &WorkerPool{
		queue:       queue,
		workerCount: config.WorkerCount,
		maxRetries:  config.MaxRetries,
		jobTimeout:  config.JobTimeout,
		baseBackoff: config.BaseBackoff,
		processor:   processor,
	}
	if wp.workerCount <= 0 {
		wp.workerCount = DefaultWorkerCount
	}
	if wp.maxRetries <= 0 {
		wp.maxRetries = DefaultMaxRetries
	}
	if wp.jobTimeout <= 0 {
		wp.jobTimeout = DefaultJobTimeout
	}
	if wp.baseBackoff <= 0 {
		wp.baseBackoff = baseBackoff
	}
	return wp
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	wp.running = true
	wp.ctx, wp.cancel = context.WithCancel(context.Background())

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	log.Info(wp.ctx, "worker pool started", map[string]any{"workers": wp.workerCount})
}

// Stop signals the workers and waits for running jobs to finish
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info(ctx, "worker pool stopped")
		return nil
	case <-ctx.Done():
		log.Warn(ctx, "worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for wp.ctx.Err() == nil {
		job, err := wp.queue.Dequeue(wp.ctx, defaultBlockTimeout)
		if err != nil {
			if !errors.Is(err, ErrQueueEmpty) && wp.ctx.Err() == nil {
				log.Error(wp.ctx, "failed to dequeue job", err, map[string]any{"worker": id})
				wp.sleep(time.Second)
			}
			continue
		}
		wp.processJob(id, job)
	}
}

// processJob handles the full lifecycle of a single job. Running jobs finish
// even while the pool is stopping.
func (wp *WorkerPool) processJob(workerID int, job *Job) {
	ctx := context.Background()
	fields := map[string]any{"worker": workerID, "job_id": job.ID, "attempt": job.RetryCount + 1}

	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	job.Error = nil
	if err := wp.queue.Update(ctx, job); err != nil {
		log.Error(ctx, "failed to mark job running", err, fields)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, wp.jobTimeout)
	err := wp.processor(jobCtx, job)
	cancel()

	if err == nil {
		job.Status = StatusComplete
		if err := wp.queue.Update(ctx, job); err != nil {
			log.Error(ctx, "failed to mark job complete", err, fields)
		}
		log.Info(ctx, "job completed", fields)
		return
	}

	wp.handleJobFailure(ctx, job, err, fields)
}

// handleJobFailure retries retryable failures with exponential backoff and
// marks the rest failed
func (wp *WorkerPool) handleJobFailure(ctx context.Context, job *Job, jobErr error, fields map[string]any) {
	fields["error"] = jobErr.Error()

	if !Retryable(jobErr) || !job.CanRetry(wp.maxRetries) {
		job.Status = StatusFailed
		if job.Error == nil {
			job.Error = &JobError{Code: "INTERNAL_ERROR", Message: "job could not be processed"}
		}
		if err := wp.queue.Update(ctx, job); err != nil {
			log.Error(ctx, "failed to mark job failed", err, fields)
		}
		log.Warn(ctx, "job failed", fields)
		return
	}

	backoff := calculateBackoff(wp.baseBackoff, job.RetryCount)
	fields["backoff"] = backoff.String()
	log.Info(ctx, "scheduling job retry", fields)

	// a stopping pool requeues at once so the job is not lost
	wp.sleep(backoff)

	job.RetryCount++
	if err := wp.queue.Requeue(ctx, job); err != nil {
		log.Error(ctx, "failed to requeue job", err, fields)
	}
}

func (wp *WorkerPool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-wp.ctx.Done():
	}
}

// calculateBackoff returns base * 2^retryCount, capped at maxBackoff
func calculateBackoff(base time.Duration, retryCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * base
	if backoff > maxBackoff || backoff <= 0 {
		backoff = maxBackoff
	}
	return backoff
}
