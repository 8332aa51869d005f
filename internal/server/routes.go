package server

import (
	"github.com/Lutefd/botkit-telemetry/internal/commons"
	"github.com/Lutefd/botkit-telemetry/internal/handler"
	api_middleware "github.com/Lutefd/botkit-telemetry/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) registerRoutes(emitter handler.Emitter) {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	auth := api_middleware.NewTokenAuth(s.config.IngestTokenHash)
	limiter := api_middleware.NewRateLimiter(commons.AllowedRPS, commons.AllowedBurst)
	ingestHandler := handler.NewIngestHandler(emitter)

	router.Get("/healthz", handler.Live)
	router.Get("/readyz", ingestHandler.Ready)
	router.Route("/v1", func(r chi.Router) {
		r.Use(limiter.Middleware, auth.Authenticate)
		r.Post("/logs", ingestHandler.IngestLogs)
		r.Post("/queries", ingestHandler.IngestQueries)
		r.Post("/flush", ingestHandler.Flush)
	})
	s.router = router
}
