// -----------------------------------------------------------------------
// Intake Handler - External submissions into the pipeline
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// IntakeHandler exposes the intake service over HTTP. Everything lands in
// the queue with dedup; duplicate submissions return the existing item id
// with 200 instead of an error.
type IntakeHandler struct {
	intake interfaces.IntakeService
	logger arbor.ILogger
}

// NewIntakeHandler wires the intake handler.
func NewIntakeHandler(intake interfaces.IntakeService, logger arbor.ILogger) *IntakeHandler {
	return &IntakeHandler{
		intake: intake,
		logger: logger,
	}
}

// SubmitJobHandler accepts POST {"url": "..."} and enqueues a JOB lineage.
func (h *IntakeHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		WriteError(w, http.StatusBadRequest, "url is required")
		return
	}

	result, err := h.intake.SubmitJobUrl(r.Context(), req.URL, models.OriginUserSubmission)
	if err != nil {
		h.writeIntakeError(w, "job submission failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// SubmitCompanyHandler accepts POST {"name": "...", "url": "..."} and
// enqueues a COMPANY lineage.
func (h *IntakeHandler) SubmitCompanyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	result, err := h.intake.SubmitCompany(r.Context(), req.Name, req.URL, models.OriginUserSubmission)
	if err != nil {
		h.writeIntakeError(w, "company submission failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// SubmitSourceHandler accepts POST with a JobSource record and persists it
// for the scheduler.
func (h *IntakeHandler) SubmitSourceHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var source models.JobSource
	if err := json.NewDecoder(r.Body).Decode(&source); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid source record")
		return
	}

	id, err := h.intake.SubmitSource(r.Context(), &source)
	if err != nil {
		h.writeIntakeError(w, "source submission failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

// TriggerScrapeHandler accepts POST {"source_id": "..."} (empty body or
// empty id triggers every scrapeable source).
func (h *IntakeHandler) TriggerScrapeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		SourceID string `json:"source_id"`
	}
	// Empty body means "everything due".
	_ = json.NewDecoder(r.Body).Decode(&req)

	ids, err := h.intake.TriggerScrape(r.Context(), req.SourceID)
	if err != nil {
		h.writeIntakeError(w, "scrape trigger failed", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"enqueued": len(ids),
		"ids":      ids,
	})
}

// writeIntakeError maps pipeline error kinds onto HTTP statuses. Parse
// rejects are the caller's fault; everything else is ours.
func (h *IntakeHandler) writeIntakeError(w http.ResponseWriter, msg string, err error) {
	var pipeErr *models.PipelineError
	if errors.As(err, &pipeErr) && pipeErr.Kind == models.ErrKindParseError {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error().Err(err).Msg(msg)
	WriteError(w, http.StatusInternalServerError, err.Error())
}
