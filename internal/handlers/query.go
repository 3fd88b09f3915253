// -----------------------------------------------------------------------
// Query Handler - Read-only views over queue, listings and matches
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// QueryHandler serves the triage and results surface: queue items with
// their logs, listings, matches with their artifacts.
type QueryHandler struct {
	store     interfaces.StorageManager
	queue     interfaces.QueueManager
	documents interfaces.DocumentService
	logger    arbor.ILogger
}

// NewQueryHandler wires the query handler.
func NewQueryHandler(store interfaces.StorageManager, queue interfaces.QueueManager, documents interfaces.DocumentService, logger arbor.ILogger) *QueryHandler {
	return &QueryHandler{
		store:     store,
		queue:     queue,
		documents: documents,
		logger:    logger,
	}
}

// ListQueueHandler returns queue items filtered by status/type/root.
func (h *QueryHandler) ListQueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetLimitOffset(r)
	filter := interfaces.QueueItemFilter{
		Status: models.QueueItemStatus(r.URL.Query().Get("status")),
		Type:   models.QueueItemType(r.URL.Query().Get("type")),
		RootID: r.URL.Query().Get("root_id"),
		Limit:  limit,
		Offset: offset,
	}

	items, err := h.store.QueueStorage().ListItems(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list queue items")
		WriteError(w, http.StatusInternalServerError, "Failed to list queue items")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// QueueItemHandler routes /api/queue/{id} and its sub-resources:
// GET  /api/queue/{id}         - the item
// GET  /api/queue/{id}/logs    - its persisted logs
// GET  /api/queue/{id}/lineage - every item sharing its root
// POST /api/queue/{id}/retry   - re-queue a FAILED or BLOCKED item
// POST /api/queue/{id}/cancel  - skip a PENDING item
func (h *QueryHandler) QueueItemHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	if rest == "" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	id := rest
	action := ""
	if idx := strings.IndexByte(rest, '/'); idx > 0 {
		id = rest[:idx]
		action = rest[idx+1:]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getQueueItem(w, r, id)
	case action == "logs" && r.Method == http.MethodGet:
		h.getQueueItemLogs(w, r, id)
	case action == "lineage" && r.Method == http.MethodGet:
		h.getQueueItemLineage(w, r, id)
	case action == "retry" && r.Method == http.MethodPost:
		h.retryQueueItem(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancelQueueItem(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *QueryHandler) getQueueItem(w http.ResponseWriter, r *http.Request, id string) {
	item, err := h.store.QueueStorage().GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Queue item not found")
			return
		}
		h.logger.Error().Err(err).Str("item_id", id).Msg("Failed to load queue item")
		WriteError(w, http.StatusInternalServerError, "Failed to load queue item")
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

func (h *QueryHandler) getQueueItemLogs(w http.ResponseWriter, r *http.Request, id string) {
	limit, _ := GetLimitOffset(r)
	logs, err := h.store.ItemLogStorage().GetLogs(r.Context(), id, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("item_id", id).Msg("Failed to load item logs")
		WriteError(w, http.StatusInternalServerError, "Failed to load item logs")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

func (h *QueryHandler) getQueueItemLineage(w http.ResponseWriter, r *http.Request, id string) {
	item, err := h.store.QueueStorage().GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Queue item not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to load queue item")
		return
	}

	items, err := h.store.QueueStorage().ListByRoot(r.Context(), item.RootID)
	if err != nil {
		h.logger.Error().Err(err).Str("root_id", item.RootID).Msg("Failed to load lineage")
		WriteError(w, http.StatusInternalServerError, "Failed to load lineage")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"root_id": item.RootID,
		"items":   items,
		"count":   len(items),
	})
}

func (h *QueryHandler) retryQueueItem(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.queue.Retry(r.Context(), id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Queue item not found")
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteSuccess(w, "Item re-queued")
}

func (h *QueryHandler) cancelQueueItem(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.queue.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Queue item not found")
			return
		}
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteSuccess(w, "Item cancelled")
}

// ListListingsHandler returns job listings filtered by status/source.
func (h *QueryHandler) ListListingsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetLimitOffset(r)
	filter := interfaces.ListingFilter{
		Status:   models.JobListingStatus(r.URL.Query().Get("status")),
		SourceID: r.URL.Query().Get("source_id"),
		Limit:    limit,
		Offset:   offset,
	}

	listings, err := h.store.ListingStorage().ListListings(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list listings")
		WriteError(w, http.StatusInternalServerError, "Failed to list listings")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"listings": listings,
		"count":    len(listings),
	})
}

// ListMatchesHandler returns job matches filtered by score/priority.
func (h *QueryHandler) ListMatchesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetLimitOffset(r)
	minScore := 0
	if s := r.URL.Query().Get("min_score"); s != "" {
		// Bad values fall back to zero, which filters nothing.
		if n, err := parseScore(s); err == nil {
			minScore = n
		}
	}
	filter := interfaces.MatchFilter{
		MinScore: minScore,
		Priority: models.ApplicationPriority(r.URL.Query().Get("priority")),
		Limit:    limit,
		Offset:   offset,
	}

	matches, err := h.store.MatchStorage().ListMatches(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list matches")
		WriteError(w, http.StatusInternalServerError, "Failed to list matches")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

// MatchArtifactsHandler routes /api/matches/{id}/artifacts.
func (h *QueryHandler) MatchArtifactsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/matches/")
	id := strings.TrimSuffix(rest, "/artifacts")
	if id == "" || id == rest {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	artifacts, err := h.documents.ListByMatch(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("match_id", id).Msg("Failed to list artifacts")
		WriteError(w, http.StatusInternalServerError, "Failed to list artifacts")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// ListSourcesHandler returns configured job sources.
func (h *QueryHandler) ListSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	enabledOnly := r.URL.Query().Get("enabled") == "true"
	sources, err := h.store.SourceStorage().ListSources(r.Context(), enabledOnly)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sources")
		WriteError(w, http.StatusInternalServerError, "Failed to list sources")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
		"count":   len(sources),
	})
}

func parseScore(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(c-'0')
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}
