package httpapi

import (
	"net/http"
	"time"

	"flowgen/internal/http/handlers"
	"flowgen/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)
	if len(app.Config.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(app.Config.CORSAllowedOrigins))
	}

	r.Get("/", app.Root)
	r.Get("/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))
			r.Post("/videos", app.SubmitVideo)
			r.Post("/videos/sync", app.SubmitVideoSync)
			r.Post("/credentials", app.UploadCredentials)
		})

		r.Get("/jobs", app.ListJobs)
		r.Get("/jobs/{job_id}", app.GetJob)
		r.Get("/jobs/{job_id}/files/{filename}", app.DownloadArtifact)
		r.Get("/jobs/{job_id}/archive", app.ArchiveJob)
	})

	return r
}
