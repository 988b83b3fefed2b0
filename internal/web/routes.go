package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/variance-tracker/internal/web/handlers"
	"github.com/kozaktomas/variance-tracker/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Store)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Analysis, s.deps.Runner, s.deps.Dispatcher, s.deps.Progress)
	compareHandler := handlers.NewCompareHandler(s.deps.Analysis)
	reportHandler := handlers.NewReportHandler(s.deps.Analysis, s.deps.Reports)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", healthHandler.Check)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(s.deps.Auth))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.With(middleware.DailyLimit("analyze", s.config.Analysis.DailyAnalyzeLimit)).Post("/analyze", sessionsHandler.Analyze)
			r.Get("/analyze-status", sessionsHandler.AnalyzeStatus)
			r.Get("/analysis", sessionsHandler.Analysis)
			r.Get("/info", sessionsHandler.Info)
			r.Get("/similar", sessionsHandler.Similar)
			r.Get("/events", sessionsHandler.Events)
			r.Post("/report", reportHandler.Generate)
		})

		r.Post("/compare", compareHandler.Compare)
	})
}
