package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mediafetch/backend/internal/auth"
	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/jobs"
)

// JobService is the part of the job service the handlers need
type JobService interface {
	Submit(ctx context.Context, apiKeyID, url string, skipCache bool) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context, apiKeyID string, limit int) ([]*jobs.Job, error)
}

type JobHandlers struct {
	jobs JobService
}

func NewJobHandlers(svc JobService) *JobHandlers {
	return &JobHandlers{jobs: svc}
}

// CreateJobResponse is returned by POST /api/v1/jobs
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// CreateJob handles POST /api/v1/jobs
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) error {
	var req ResolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if req.URL == "" {
		return apperrors.ValidationError("url is required")
	}

	job, err := h.jobs.Submit(r.Context(), keyID(r), req.URL, req.SkipCache)
	if err != nil {
		return apperrors.QueueError("failed to create job").WithCause(err)
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusAccepted, CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
	return nil
}

// GetJob handles GET /api/v1/jobs/{job_id}. Jobs of other keys read as
// missing.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) error {
	job, err := h.jobs.GetJob(r.Context(), r.PathValue("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return apperrors.JobNotFound()
		}
		return apperrors.QueueError("failed to get job").WithCause(err)
	}
	if job.APIKeyID != keyID(r) {
		return apperrors.JobNotFound()
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, job)
	return nil
}

// ListJobs handles GET /api/v1/jobs?limit=N
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) error {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return apperrors.ValidationError("limit must be between 1 and 100")
		}
		limit = n
	}

	list, err := h.jobs.ListJobs(r.Context(), keyID(r), limit)
	if err != nil {
		return apperrors.QueueError("failed to list jobs").WithCause(err)
	}
	if list == nil {
		list = []*jobs.Job{}
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"jobs": list})
	return nil
}

func keyID(r *http.Request) string {
	if key := auth.GetKeyFromContext(r.Context()); key != nil {
		return key.ID
	}
	return ""
}
