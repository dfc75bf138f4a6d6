package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"flowgen/internal/artifact"
	"flowgen/internal/credentials"
	"flowgen/internal/domain"
	"flowgen/internal/infra"
	"flowgen/internal/orchestrator"
	"flowgen/internal/registry"
)

// JobService is the slice of the orchestrator the HTTP layer needs.
type JobService interface {
	Submit(prompt string, opts orchestrator.SubmitOptions) (string, error)
	RunAndWait(ctx context.Context, prompt string, opts orchestrator.SubmitOptions, deadline time.Duration) (domain.Job, error)
}

var _ JobService = (*orchestrator.Orchestrator)(nil)

type App struct {
	Config      *infra.Config
	Logger      infra.Logger
	Jobs        JobService
	Registry    *registry.Registry
	Credentials *credentials.Store
	Artifacts   artifact.Store
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": errCode, "message": message},
	})
}
