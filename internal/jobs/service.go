package jobs

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/mediafetch/backend/internal/adapter"
	"github.com/mediafetch/backend/internal/auth"
	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/resolver"
)

// Resolver is the part of the resolver service jobs need
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) resolver.Resolution
}

// ResolveProcessor runs the job's URL through the resolver and stores the
// adapted response or error on the job
func ResolveProcessor(r Resolver) Processor {
	return func(ctx context.Context, job *Job) error {
		ctx = apperrors.EnsureRequestID(ctx)
		if job.APIKeyID != "" {
			ctx = auth.WithKey(ctx, &auth.KeyContext{ID: job.APIKeyID})
		}
		res := r.Resolve(ctx, resolver.Request{
			URL:       job.URL,
			SkipCache: job.SkipCache,
			APIKeyID:  job.APIKeyID,
		})

		if res.Result.Success {
			job.Result = adapter.ToResponse(res.Detection.Provider, res.Detection.MediaID, res.Result, res.Cached)
			job.Error = nil
			return nil
		}

		appErr := adapter.ToError(res.Result)
		job.Result = nil
		job.Error = &JobError{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}

		f := &Failure{Code: res.Result.Code()}
		if best, ok := res.Result.Err.MostSpecific(); ok {
			f.Cause = best.Code
		}
		return f
	}
}

// Service provides job management
type Service struct {
	queue      *Queue
	workerPool *WorkerPool
}

// NewService creates a job service on an existing Redis connection
func NewService(client *redis.Client, processor Processor, config *WorkerPoolConfig) *Service {
	queue := NewQueue(client)
	return &Service{
		queue:      queue,
		workerPool: NewWorkerPool(queue, processor, config),
	}
}

// Start starts the worker pool
func (s *Service) Start() {
	s.workerPool.Start()
}

// Stop gracefully stops the workers. The Redis connection belongs to the
// caller.
func (s *Service) Stop(ctx context.Context) error {
	return s.workerPool.Stop(ctx)
}

// Queue returns the underlying job queue
func (s *Service) Queue() *Queue {
	return s.queue
}

// Submit queues a resolution job
func (s *Service) Submit(ctx context.Context, apiKeyID, url string, skipCache bool) (*Job, error) {
	return s.queue.Enqueue(ctx, apiKeyID, url, skipCache)
}

// GetJob retrieves a job by ID
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.queue.GetJob(ctx, jobID)
}

// ListJobs returns the newest jobs of an API key
func (s *Service) ListJobs(ctx context.Context, apiKeyID string, limit int) ([]*Job, error) {
	return s.queue.ListJobs(ctx, apiKeyID, limit)
}

// QueueLength returns the number of pending jobs
func (s *Service) QueueLength(ctx context.Context) (int64, error) {
	return s.queue.QueueLength(ctx)
}

// Subscribe listens for job updates of one API key
func (s *Service) Subscribe(ctx context.Context, apiKeyID string) (*Subscription, error) {
	return s.queue.Subscribe(ctx, apiKeyID)
}
