package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Intake
	mux.HandleFunc("/api/intake/job", s.app.IntakeHandler.SubmitJobHandler)         // POST {"url"}
	mux.HandleFunc("/api/intake/company", s.app.IntakeHandler.SubmitCompanyHandler) // POST {"name","url"}
	mux.HandleFunc("/api/intake/source", s.app.IntakeHandler.SubmitSourceHandler)   // POST JobSource
	mux.HandleFunc("/api/intake/scrape", s.app.IntakeHandler.TriggerScrapeHandler)  // POST {"source_id"}

	// API routes - Queue triage
	mux.HandleFunc("/api/queue", s.app.QueryHandler.ListQueueHandler)
	mux.HandleFunc("/api/queue/", s.app.QueryHandler.QueueItemHandler) // /{id}, /{id}/logs, /{id}/lineage, /{id}/retry, /{id}/cancel

	// API routes - Results
	mux.HandleFunc("/api/listings", s.app.QueryHandler.ListListingsHandler)
	mux.HandleFunc("/api/matches", s.app.QueryHandler.ListMatchesHandler)
	mux.HandleFunc("/api/matches/", s.app.QueryHandler.MatchArtifactsHandler) // /{id}/artifacts
	mux.HandleFunc("/api/sources", s.app.QueryHandler.ListSourcesHandler)

	// API routes - Config registry
	mux.HandleFunc("/api/config/", s.app.ConfigHandler.ConfigKeyHandler) // GET/PUT /{key}

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/start", s.app.ConfigHandler.SchedulerStartHandler)
	mux.HandleFunc("/api/scheduler/stop", s.app.ConfigHandler.SchedulerStopHandler)
	mux.HandleFunc("/api/scheduler/tasks", s.app.ConfigHandler.SchedulerTasksHandler)

	// API routes - System
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler)
	mux.HandleFunc("/api/health", s.app.HealthHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.HealthHandler.VersionHandler)
	mux.HandleFunc("/api/stats", s.app.HealthHandler.StatsHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.HealthHandler.NotFoundHandler)

	return mux
}
