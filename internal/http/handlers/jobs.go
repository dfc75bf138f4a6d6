package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"flowgen/internal/credentials"
	"flowgen/internal/domain"
	"flowgen/internal/orchestrator"

	"github.com/go-chi/chi/v5"
)

type submitRequest struct {
	Prompt         string             `json:"prompt"`
	Headless       *bool              `json:"headless,omitempty"`
	Cookies        credentials.Bundle `json:"cookies,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
}

type jobError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type jobView struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Progress  string    `json:"progress"`
	Prompt    string    `json:"prompt"`
	Results   []string  `json:"results,omitempty"`
	Downloads []string  `json:"downloads,omitempty"`
	Error     *jobError `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewOf(job domain.Job) jobView {
	v := jobView{
		JobID:     job.ID,
		Status:    string(job.Status),
		Progress:  job.Progress,
		Prompt:    job.Prompt,
		Results:   job.Results,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Error != nil {
		v.Error = &jobError{Stage: string(job.Error.Stage), Message: job.Error.Message}
	}
	if job.Status == domain.JobStatusCompleted {
		for _, name := range job.Results {
			v.Downloads = append(v.Downloads, "/v1/jobs/"+job.ID+"/files/"+name)
		}
	}
	return v
}

func (a *App) submitOptions(req submitRequest) orchestrator.SubmitOptions {
	return orchestrator.SubmitOptions{
		Headless:    req.Headless,
		Credentials: req.Cookies,
	}
}

func (a *App) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID, err := a.Jobs.Submit(req.Prompt, a.submitOptions(req))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPrompt):
			a.error(w, http.StatusBadRequest, "bad_request", "prompt must not be empty")
		case errors.Is(err, orchestrator.ErrShuttingDown):
			a.error(w, http.StatusServiceUnavailable, "unavailable", "service is shutting down")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to queue video job")
		}
		return
	}
	job, err := a.Registry.Get(jobID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load queued job")
		return
	}
	a.json(w, http.StatusAccepted, viewOf(job))
}

func (a *App) SubmitVideoSync(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	deadline := a.Config.SyncWaitTimeout
	if req.TimeoutSeconds > 0 {
		deadline = time.Duration(req.TimeoutSeconds) * time.Second
		if deadline > a.Config.SyncWaitTimeout {
			deadline = a.Config.SyncWaitTimeout
		}
	}

	job, err := a.Jobs.RunAndWait(r.Context(), req.Prompt, a.submitOptions(req), deadline)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPrompt):
			a.error(w, http.StatusBadRequest, "bad_request", "prompt must not be empty")
		case errors.Is(err, orchestrator.ErrShuttingDown):
			a.error(w, http.StatusServiceUnavailable, "unavailable", "service is shutting down")
		case errors.Is(err, domain.ErrDeadlineExceeded):
			// The job keeps running in the background; hand back its
			// current state so the caller can keep polling.
			a.json(w, http.StatusGatewayTimeout, viewOf(job))
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to run video job")
		}
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Registry.Get(jobID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}

	jobs := a.Registry.List()
	views := make([]jobView, 0, limit)
	// Most recently created first.
	for i := len(jobs) - 1; i >= 0 && len(views) < limit; i-- {
		views = append(views, viewOf(jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"jobs":  views,
		"total": len(jobs),
	})
}
