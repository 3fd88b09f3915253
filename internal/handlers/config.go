// -----------------------------------------------------------------------
// Config Handler - Runtime settings and scheduler controls
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// ConfigHandler exposes the settings registry and the scheduler toggle.
type ConfigHandler struct {
	config    interfaces.ConfigService
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewConfigHandler wires the config handler.
func NewConfigHandler(config interfaces.ConfigService, scheduler interfaces.SchedulerService, logger arbor.ILogger) *ConfigHandler {
	return &ConfigHandler{
		config:    config,
		scheduler: scheduler,
		logger:    logger,
	}
}

// ConfigKeyHandler routes GET and PUT on /api/config/{key}. Reads go
// through the typed accessors so the response always reflects validated,
// default-filled settings; writes go through Put which canonicalizes and
// validates before persisting.
func (h *ConfigHandler) ConfigKeyHandler(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/api/config/")
	if key == "" || strings.ContainsRune(key, '/') {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getConfig(w, r, key)
	case http.MethodPut:
		h.putConfig(w, r, key)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ConfigHandler) getConfig(w http.ResponseWriter, r *http.Request, key string) {
	var (
		value interface{}
		err   error
	)

	switch key {
	case models.ConfigKeyScheduler:
		value, err = h.config.Scheduler(r.Context())
	case models.ConfigKeyAI:
		value, err = h.config.AI(r.Context())
	case models.ConfigKeyWorker:
		value, err = h.config.Workers(r.Context())
	case models.ConfigKeyBudget:
		value, err = h.config.Budget(r.Context())
	case models.ConfigKeyMatch:
		value, err = h.config.MatchPolicy(r.Context())
	case models.ConfigKeyPrefilter:
		value, err = h.config.Prefilter(r.Context())
	case models.ConfigKeyProfile:
		value, err = h.config.Profile(r.Context())
	default:
		WriteError(w, http.StatusNotFound, "Unknown config key: "+key)
		return
	}

	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to load config")
		WriteError(w, http.StatusInternalServerError, "Failed to load config")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func (h *ConfigHandler) putConfig(w http.ResponseWriter, r *http.Request, key string) {
	var value map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.config.Put(r.Context(), key, value); err != nil {
		// Put rejects unknown keys and validation failures alike; both are
		// the caller's problem.
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("key", key).Msg("Config updated")
	WriteSuccess(w, "Config updated: "+key)
}

// SchedulerStartHandler enables scheduled scraping. The flag is persisted
// so it survives restarts; the cron entries themselves keep firing and
// consult the flag.
func (h *ConfigHandler) SchedulerStartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	h.setSchedulerEnabled(w, r, true)
}

// SchedulerStopHandler disables scheduled scraping. In-flight queue items
// drain; only new scrape cycles stop.
func (h *ConfigHandler) SchedulerStopHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	h.setSchedulerEnabled(w, r, false)
}

func (h *ConfigHandler) setSchedulerEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	settings, err := h.config.Scheduler(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load scheduler settings")
		WriteError(w, http.StatusInternalServerError, "Failed to load scheduler settings")
		return
	}

	if settings.Enabled == enabled {
		WriteSuccess(w, "Scheduler already in requested state")
		return
	}

	settings.Enabled = enabled
	if err := h.config.Put(r.Context(), models.ConfigKeyScheduler, settings); err != nil {
		h.logger.Error().Err(err).Msg("Failed to persist scheduler settings")
		WriteError(w, http.StatusInternalServerError, "Failed to persist scheduler settings")
		return
	}

	state := "stopped"
	if enabled {
		state = "started"
	}
	h.logger.Info().Bool("enabled", enabled).Msg("Scheduler toggled")
	WriteSuccess(w, "Scheduler "+state)
}

// SchedulerTasksHandler returns the registered cron tasks and their status.
func (h *ConfigHandler) SchedulerTasksHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	statuses := h.scheduler.GetAllTaskStatuses()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"tasks":   statuses,
	})
}
