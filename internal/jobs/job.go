// Package jobs runs resolutions asynchronously. Jobs live in Redis, a worker
// pool drains the queue, and every state change is published on a per-key
// pub/sub channel.
package jobs

import (
	"time"

	"github.com/mediafetch/backend/internal/adapter"
)

// Job status constants representing the job lifecycle
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Job is one asynchronous resolution
type Job struct {
	ID         string            `json:"id"`
	APIKeyID   string            `json:"api_key_id,omitempty"`
	URL        string            `json:"url"`
	SkipCache  bool              `json:"skip_cache,omitempty"`
	Status     string            `json:"status"`
	RetryCount int               `json:"retry_count"`
	Result     *adapter.Response `json:"result,omitempty"`
	Error      *JobError         `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	// CompletedAt is set once the job reaches a terminal state
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobError is the public error of a failed job
type JobError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// CanRetry returns true if the job has retries left
func (j *Job) CanRetry(maxRetries int) bool {
	return !j.IsTerminal() && j.RetryCount < maxRetries
}
