package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	keyJobQueue  = "mediafetch:jobs:queue"
	keyJob       = "mediafetch:jobs:job:"
	keyByAPIKey  = "mediafetch:jobs:key:"
	keyProgress  = "mediafetch:jobs:progress:"
	keyAnonymous = "anonymous"

	// jobTTL bounds how long finished and abandoned jobs stay readable
	jobTTL = 24 * time.Hour

	defaultBlockTimeout = 5 * time.Second
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueEmpty  = errors.New("queue is empty")
)

// Queue stores jobs in Redis
type Queue struct {
	client *redis.Client
	now    func() time.Time
}

// NewQueue creates a queue on an existing Redis connection
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client, now: time.Now}
}

// Enqueue creates a job and pushes it onto the queue
func (q *Queue) Enqueue(ctx context.Context, apiKeyID, url string, skipCache bool) (*Job, error) {
	now := q.now()
	job := &Job{
		ID:        uuid.New().String(),
		APIKeyID:  apiKeyID,
		URL:       url,
		SkipCache: skipCache,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, indexKey(apiKeyID), redis.Z{Score: float64(now.UnixNano()), Member: job.ID})
	pipe.Expire(ctx, indexKey(apiKeyID), jobTTL)
	pipe.LPush(ctx, keyJobQueue, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job, nil
}

// Dequeue blocks until a job is available, timeout passes or ctx is done
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if timeout == 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, keyJobQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	return q.GetJob(ctx, result[1])
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.Get(ctx, keyJob+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Update stores the job and publishes it to the key's progress channel
func (q *Queue) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = q.now()
	if job.IsTerminal() && job.CompletedAt == nil {
		now := job.UpdatedAt
		job.CompletedAt = &now
	}
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.publishProgress(ctx, job)
}

// Requeue pushes an existing job back onto the queue
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	job.Status = StatusQueued
	if err := q.Update(ctx, job); err != nil {
		return err
	}
	return q.client.LPush(ctx, keyJobQueue, job.ID).Err()
}

// ListJobs returns the newest jobs of an API key, newest first
func (q *Queue) ListJobs(ctx context.Context, apiKeyID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := q.client.ZRevRange(ctx, indexKey(apiKeyID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// expired; drop the stale index entry
			q.client.ZRem(ctx, indexKey(apiKeyID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// QueueLength returns the number of jobs waiting in the queue
func (q *Queue) QueueLength(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyJobQueue).Result()
}

// Subscribe listens for job updates of one API key. It returns once Redis
// has confirmed the subscription.
func (q *Queue) Subscribe(ctx context.Context, apiKeyID string) (*Subscription, error) {
	pubsub := q.client.Subscribe(ctx, progressChannel(apiKeyID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return &Subscription{pubsub: pubsub, ch: pubsub.Channel()}, nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.Set(ctx, keyJob+job.ID, data, jobTTL).Err()
}

func (q *Queue) publishProgress(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	return q.client.Publish(ctx, progressChannel(job.APIKeyID), data).Err()
}

func indexKey(apiKeyID string) string {
	if apiKeyID == "" {
		apiKeyID = keyAnonymous
	}
	return keyByAPIKey + apiKeyID
}

func progressChannel(apiKeyID string) string {
	if apiKeyID == "" {
		apiKeyID = keyAnonymous
	}
	return keyProgress + apiKeyID
}
