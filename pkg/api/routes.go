package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.API.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(s.cfg.API.Server.RateLimit))
		}

		// Public endpoints.
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/", s.handleHome)

			r.Get("/projects", s.handleListProjects)
			r.Post("/projects", s.handleCreateProject)
			r.Delete("/projects/{id}", s.handleDeleteProject)

			r.Get("/suites", s.handleListSuites)
			r.Post("/suites", s.handleCreateSuite)
			r.Delete("/suites/{id}", s.handleDeleteSuite)

			r.Get("/cases", s.handleListCases)
			r.Post("/cases", s.handleCreateCase)
			r.Post("/cases/lint", s.handleLintCase)
			r.Get("/cases/{id}", s.handleGetCase)
			r.Put("/cases/{id}", s.handleUpdateCase)
			r.Delete("/cases/{id}", s.handleDeleteCase)

			r.Get("/runs", s.handleListRuns)
			r.Post("/runs", s.handleCreateRun)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/runs/{id}/report", s.handleRunReport)

			r.Post("/ai/generate_cases", s.handleGenerateCases)
		})

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.API.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
