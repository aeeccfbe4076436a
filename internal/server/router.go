package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openjobspec/ojs-scheduler/internal/api"
	"github.com/openjobspec/ojs-scheduler/internal/core"
	"github.com/openjobspec/ojs-scheduler/internal/metrics"
)

// NewRouter creates the HTTP router for the producer API.
func NewRouter(sched api.JobScheduler, checker core.HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.OJSHeaders)
	r.Use(api.RequestLogger)

	r.Handle("/metrics", metrics.Handler())

	jobH := api.NewJobHandler(sched)
	systemH := api.NewSystemHandler(checker)

	r.Route("/ojs/v1", func(r chi.Router) {
		r.Get("/health", systemH.Health)

		r.Group(func(r chi.Router) {
			r.Use(api.LimitBody)
			r.Use(api.ValidateContentType)

			r.Post("/scheduled-jobs", jobH.Create)
			r.Get("/scheduled-jobs", jobH.List)
			r.Get("/scheduled-jobs/{id}", jobH.Get)
			r.Get("/scheduled-jobs/{type}/{id}", jobH.GetTyped)
			r.Patch("/scheduled-jobs/{type}/{id}", jobH.Update)
		})
	})

	return r
}
