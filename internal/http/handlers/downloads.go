package handlers

import (
	"fmt"
	"io"
	"net/http"

	"flowgen/internal/artifact"
	"flowgen/internal/domain"
	"flowgen/pkg/zip"

	"github.com/go-chi/chi/v5"
)

// DownloadArtifact streams one harvested video of a completed job.
func (a *App) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	filename := chi.URLParam(r, "filename")

	job, err := a.Registry.Get(jobID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if !hasResult(job, filename) {
		a.error(w, http.StatusNotFound, "not_found", "file not found for this job")
		return
	}

	key := artifact.JobKey(job.ID, filename)
	rc, err := a.Artifacts.Open(r.Context(), key)
	if err != nil {
		a.Logger.Error().Err(err).Str("key", key).Msg("open artifact")
		a.error(w, http.StatusNotFound, "not_found", "file not found for this job")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// ArchiveJob bundles every harvested video of a completed job into a zip.
func (a *App) ArchiveJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, err := a.Registry.Get(jobID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if job.Status != domain.JobStatusCompleted {
		a.error(w, http.StatusConflict, "conflict", "job has no finished results yet")
		return
	}

	var entries []zip.Entry
	for _, name := range job.Results {
		key := artifact.JobKey(job.ID, name)
		rc, err := a.Artifacts.Open(r.Context(), key)
		if err != nil {
			a.Logger.Error().Err(err).Str("key", key).Msg("open artifact for archive")
			a.error(w, http.StatusInternalServerError, "internal", "failed to read artifacts")
			return
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read artifacts")
			return
		}
		entries = append(entries, zip.Entry{Filename: name, Data: data})
	}

	archive := zip.Archive(entries)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// hasResult reports whether the job actually produced the named file, so
// only a job's own artifacts are reachable through its download routes.
func hasResult(job domain.Job, filename string) bool {
	for _, name := range job.Results {
		if name == filename {
			return true
		}
	}
	return false
}
