// Package httpx provides the fleetpush JSON API: job submission and inspection, device
// registration and device reports.
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
)

// JobService is the orchestrator surface the job handlers need.
type JobService interface {
	CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
}

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Jobs     JobService
	Attempts core.PushAttemptRepository
	Outcomes core.OutcomeRepository
	Logger   *slog.Logger
}

// jobView is a job with its summary outcome once finalized.
type jobView struct {
	*model.Job
	Summary *model.OutcomeCounts `json:"summary,omitempty"`
}

// CreateJob handles POST /api/jobs.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Jobs.CreateJob(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}

	w.Header().Set("Location", "/api/jobs/"+job.ID)
	WriteJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	view := jobView{Job: job}
	if job.Status.Terminal() && h.Outcomes != nil {
		summary, err := h.Outcomes.GetSummary(r.Context(), job.ID)
		if err == nil {
			if counts, cerr := summary.Counts(); cerr == nil {
				view.Summary = &counts
			}
		} else if h.Logger != nil {
			h.Logger.WarnContext(r.Context(), "load job summary", "job_id", job.ID, "error", err)
		}
	}
	WriteJSON(w, http.StatusOK, view)
}

// ListAttempts handles GET /api/jobs/{id}/attempts.
func (h *JobHandlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	attempts, err := h.Attempts.ListByJob(r.Context(), job.ID)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if attempts == nil {
		attempts = []*model.PushAttempt{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "attempts": attempts})
}

// ListOutcomes handles GET /api/jobs/{id}/outcomes.
func (h *JobHandlers) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	outcomes, err := h.Outcomes.ListByJob(r.Context(), job.ID)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	if outcomes == nil {
		outcomes = []*model.JobOutcome{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "status": job.Status, "outcomes": outcomes})
}

func (h *JobHandlers) loadJob(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	job, err := h.Jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return nil, false
	}
	return job, true
}
