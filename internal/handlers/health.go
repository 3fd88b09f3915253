// -----------------------------------------------------------------------
// Health Handler - Liveness and aggregated stats endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/services/status"
)

// StatusProvider is the slice of the status service the handler needs.
type StatusProvider interface {
	GetStats(ctx context.Context) (*status.SystemStatus, error)
	Health(ctx context.Context) error
}

// HealthHandler serves the health probe, version and stats endpoints.
type HealthHandler struct {
	status StatusProvider
	logger arbor.ILogger
}

// NewHealthHandler wires the health handler.
func NewHealthHandler(statusService StatusProvider, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		status: statusService,
		logger: logger,
	}
}

// HealthHandler responds 200 while storage answers, 503 otherwise.
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if err := h.status.Health(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Health check failed")
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": common.GetVersion(),
	})
}

// VersionHandler returns build information.
func (h *HealthHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// StatsHandler returns the aggregated pipeline snapshot.
func (h *HealthHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.status.GetStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to collect stats")
		WriteError(w, http.StatusInternalServerError, "Failed to collect stats")
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}

// NotFoundHandler is the fallback for unmatched API routes.
func (h *HealthHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
