// -----------------------------------------------------------------------
// Queue Manager - Enqueue policy, lineage guards, retry classification
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// parseErrorMaxAttempts caps retries for ParseError failures below the
// general attempt budget: a page the extractor cannot read rarely improves.
const parseErrorMaxAttempts = 3

// Manager sits between the store and the processors and owns every queue
// invariant: dedup keys on the way in, lineage depth and repeat-step guards
// on fan-out, and the retry/backoff/park policy on the way out. It holds no
// state of its own; everything durable lives on the queue item rows.
type Manager struct {
	storage interfaces.QueueStorage
	config  interfaces.ConfigService
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewManager creates a queue manager. events may be nil in tests.
func NewManager(storage interfaces.QueueStorage, config interfaces.ConfigService, events interfaces.EventService, logger arbor.ILogger) *Manager {
	return &Manager{
		storage: storage,
		config:  config,
		events:  events,
		logger:  logger,
	}
}

// Submit enqueues a new root item with its dedup key derived from type,
// subType and normalized target. A dedup hit returns the active item's id
// together with interfaces.ErrDuplicateItem.
func (m *Manager) Submit(ctx context.Context, itemType models.QueueItemType, subType models.QueueSubType, url string, payload map[string]interface{}, origin models.QueueItemOrigin) (string, error) {
	workers, err := m.config.Workers(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load worker settings: %w", err)
	}

	item := models.NewQueueItem(itemType, subType, origin, url, payload)
	item.MaxAttempts = workers.MaxAttempts
	item.DedupKey = DedupKey(item)

	id, err := m.storage.EnqueueItem(ctx, item)
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicateItem) {
			m.logger.Debug().
				Str("existing_id", id).
				Str("dedup_key", item.DedupKey).
				Msg("Submit matched an active item")
			return id, err
		}
		return "", fmt.Errorf("failed to enqueue %s item: %w", itemType, err)
	}

	m.logger.Info().
		Str("item_id", id).
		Str("type", string(itemType)).
		Str("sub_type", string(subType)).
		Str("origin", string(origin)).
		Msg("Item enqueued")
	m.publish(ctx, interfaces.EventItemEnqueued, map[string]interface{}{
		"id":       id,
		"type":     string(itemType),
		"sub_type": string(subType),
		"origin":   string(origin),
	})

	return id, nil
}

// Claim pulls the oldest ready PENDING item within types for workerID.
// Returns nil when nothing is claimable.
func (m *Manager) Claim(ctx context.Context, workerID string, types []models.QueueItemType) (*models.QueueItem, error) {
	item, err := m.storage.ClaimNextItem(ctx, workerID, types, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim next item: %w", err)
	}
	return item, nil
}

// StartProcessing moves a claimed item to PROCESSING and updates item in
// place. The transition is cosmetic for operators; lease reclamation keys
// off claimedAt either way.
func (m *Manager) StartProcessing(ctx context.Context, item *models.QueueItem) error {
	updated, err := m.storage.TransitionItem(ctx, item.ID, item.Status, models.StatusProcessing, nil)
	if err != nil {
		return fmt.Errorf("failed to mark item %s processing: %w", item.ID, err)
	}
	*item = *updated
	return nil
}

// Complete finishes a claimed item and fans out its children in the same
// store transaction. Children are enqueued only when the parent lands
// SUCCESS. A non-pagination child that would exceed maxDepth blocks the
// parent with MaxDepthExceeded and drops the whole fan-out; children whose
// (type, subType) step already occurred on the lineage chain are dropped
// individually.
func (m *Manager) Complete(ctx context.Context, item *models.QueueItem, outcome *interfaces.Outcome) ([]string, error) {
	if outcome == nil {
		outcome = &interfaces.Outcome{}
	}

	toStatus := models.StatusSuccess
	switch {
	case outcome.Blocked:
		toStatus = models.StatusBlocked
	case outcome.Filtered:
		toStatus = models.StatusFiltered
	case outcome.Skipped:
		toStatus = models.StatusSkipped
	}

	var children []*models.QueueItem
	if toStatus == models.StatusSuccess && len(outcome.Children) > 0 {
		workers, err := m.config.Workers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load worker settings: %w", err)
		}

		built, depthExceeded, err := m.buildChildren(ctx, item, outcome.Children, workers)
		if err != nil {
			return nil, err
		}
		if depthExceeded {
			return nil, m.blockForDepth(ctx, item)
		}
		children = built
	}

	reason := outcome.Reason
	inserted, err := m.storage.CompleteAndFanOut(ctx, item.ID, item.Status, toStatus, func(it *models.QueueItem) {
		if reason != "" {
			it.ErrorDetails = reason
		}
		if toStatus == models.StatusBlocked {
			it.ErrorKind = models.ErrKindBlocked
		}
	}, children)
	if err != nil {
		return nil, fmt.Errorf("failed to complete item %s: %w", item.ID, err)
	}

	m.logger.Info().
		Str("item_id", item.ID).
		Str("type", string(item.Type)).
		Str("sub_type", string(item.SubType)).
		Str("status", string(toStatus)).
		Int("children", len(inserted)).
		Msg("Item completed")

	eventType := interfaces.EventItemCompleted
	if toStatus == models.StatusBlocked {
		eventType = interfaces.EventItemBlocked
	}
	m.publish(ctx, eventType, map[string]interface{}{
		"id":       item.ID,
		"type":     string(item.Type),
		"sub_type": string(item.SubType),
		"status":   string(toStatus),
		"children": len(inserted),
	})

	return inserted, nil
}

// buildChildren materializes fan-out specs into queue items, applying the
// depth bound and the repeat-step loop guard. Pagination children
// (SameStep) inherit the parent's depth and bypass the loop guard.
func (m *Manager) buildChildren(ctx context.Context, parent *models.QueueItem, specs []interfaces.ChildSpec, workers *models.WorkerSettings) ([]*models.QueueItem, bool, error) {
	var lineage map[string]bool

	children := make([]*models.QueueItem, 0, len(specs))
	for _, spec := range specs {
		child := models.NewChildItem(parent, spec.Type, spec.SubType, spec.URL, spec.Payload)
		child.MaxAttempts = workers.MaxAttempts

		if spec.SameStep {
			child.Depth = parent.Depth
		} else {
			if child.Depth > workers.MaxDepth {
				return nil, true, nil
			}

			if lineage == nil {
				var err error
				lineage, err = m.lineageSteps(ctx, parent, workers.MaxDepth)
				if err != nil {
					return nil, false, err
				}
			}
			step := stepKey(string(spec.Type), string(spec.SubType))
			if lineage[step] {
				m.logger.Warn().
					Str("parent_id", parent.ID).
					Str("root_id", parent.RootID).
					Str("step", step).
					Msg("Fan-out dropped: step already occurred on lineage")
				continue
			}
		}

		child.DedupKey = DedupKey(child)
		children = append(children, child)
	}

	return children, false, nil
}

// lineageSteps collects the (type, subType) steps on the parent chain,
// including item itself. The walk follows parentId links and is bounded by
// maxDepth plus slack; a purged ancestor ends the walk early rather than
// failing the completion.
func (m *Manager) lineageSteps(ctx context.Context, item *models.QueueItem, maxDepth int) (map[string]bool, error) {
	steps := make(map[string]bool)
	current := item
	for hops := 0; hops <= maxDepth+1; hops++ {
		steps[stepKey(string(current.Type), string(current.SubType))] = true
		if current.ParentID == "" {
			break
		}
		parent, err := m.storage.GetItem(ctx, current.ParentID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("failed to walk lineage of %s: %w", item.ID, err)
		}
		current = parent
	}
	return steps, nil
}

// blockForDepth terminally blocks an item whose fan-out would exceed the
// lineage depth bound.
func (m *Manager) blockForDepth(ctx context.Context, item *models.QueueItem) error {
	_, err := m.storage.TransitionItem(ctx, item.ID, item.Status, models.StatusBlocked, func(it *models.QueueItem) {
		it.ErrorKind = models.ErrKindMaxDepthExceeded
		it.ErrorDetails = fmt.Sprintf("fan-out at depth %d exceeds the configured maximum", it.Depth+1)
	})
	if err != nil {
		return fmt.Errorf("failed to block item %s for depth: %w", item.ID, err)
	}

	m.logger.Warn().
		Str("item_id", item.ID).
		Str("root_id", item.RootID).
		Int("depth", item.Depth).
		Msg("Item blocked: lineage exceeded max depth")
	m.publish(ctx, interfaces.EventItemBlocked, map[string]interface{}{
		"id":     item.ID,
		"type":   string(item.Type),
		"status": string(models.StatusBlocked),
		"reason": string(models.ErrKindMaxDepthExceeded),
	})
	return nil
}

// Fail records a processing failure and applies the policy for its error
// kind: backoff and retry for transient kinds, terminal skip for missing
// pages, park-until-midnight for budget stops, terminal FAILED once the
// attempt budget is spent. StaleState never consumes an attempt.
func (m *Manager) Fail(ctx context.Context, item *models.QueueItem, procErr error) error {
	kind := models.KindOf(procErr)

	switch kind {
	case models.ErrKindStaleState:
		// Lost a race with another transition; put it back untouched.
		return m.releaseWithNote(ctx, item, "stale state during processing")

	case models.ErrKindConflict:
		// The work already exists; completing quietly keeps replay cheap.
		_, err := m.storage.TransitionItem(ctx, item.ID, item.Status, models.StatusSuccess, func(it *models.QueueItem) {
			it.ErrorKind = ""
			it.ErrorDetails = ""
		})
		if err != nil {
			return fmt.Errorf("failed to complete item %s after conflict: %w", item.ID, err)
		}
		return nil

	case models.ErrKindNotFound, models.ErrKindGone:
		return m.failTerminal(ctx, item, kind, procErr, models.StatusSkipped)

	case models.ErrKindMaxDepthExceeded:
		return m.failTerminal(ctx, item, kind, procErr, models.StatusBlocked)

	case models.ErrKindBudgetExhausted, models.ErrKindNoProviderAvailable:
		return m.parkUntilMidnight(ctx, item, kind, procErr)
	}

	// Transient, Blocked, ParseError and anything unclassified retry with
	// backoff until the attempt budget runs out.
	workers, err := m.config.Workers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker settings: %w", err)
	}

	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = workers.MaxAttempts
	}
	if kind == models.ErrKindParseError && maxAttempts > parseErrorMaxAttempts {
		maxAttempts = parseErrorMaxAttempts
	}

	if item.Attempts >= maxAttempts {
		return m.failTerminal(ctx, item, kind, procErr, models.StatusFailed)
	}

	delay := backoffDelay(kind, item.Attempts, time.Duration(workers.RetryBaseSeconds)*time.Second, time.Duration(workers.RetryMaxSeconds)*time.Second)
	nextAttempt := time.Now().Add(delay)

	_, err = m.storage.TransitionItem(ctx, item.ID, item.Status, models.StatusPending, func(it *models.QueueItem) {
		it.NextAttemptAt = nextAttempt
		it.ErrorKind = kind
		it.ErrorDetails = procErr.Error()
	})
	if err != nil {
		return fmt.Errorf("failed to reschedule item %s: %w", item.ID, err)
	}

	m.logger.Info().
		Str("item_id", item.ID).
		Str("kind", string(kind)).
		Int("attempts", item.Attempts).
		Str("retry_in", delay.Round(time.Second).String()).
		Msg("Item rescheduled after failure")
	return nil
}

// failTerminal lands the item on a terminal status with the error snapshot
// for triage.
func (m *Manager) failTerminal(ctx context.Context, item *models.QueueItem, kind models.ErrorKind, procErr error, toStatus models.QueueItemStatus) error {
	_, err := m.storage.TransitionItem(ctx, item.ID, item.Status, toStatus, func(it *models.QueueItem) {
		it.ErrorKind = kind
		it.ErrorDetails = procErr.Error()
	})
	if err != nil {
		return fmt.Errorf("failed to finalize item %s as %s: %w", item.ID, toStatus, err)
	}

	m.logger.Warn().
		Str("item_id", item.ID).
		Str("type", string(item.Type)).
		Str("sub_type", string(item.SubType)).
		Str("kind", string(kind)).
		Str("status", string(toStatus)).
		Int("attempts", item.Attempts).
		Msg("Item finalized after failure")

	eventType := interfaces.EventItemFailed
	if toStatus == models.StatusBlocked {
		eventType = interfaces.EventItemBlocked
	} else if toStatus == models.StatusSkipped {
		eventType = interfaces.EventItemCompleted
	}
	m.publish(ctx, eventType, map[string]interface{}{
		"id":     item.ID,
		"type":   string(item.Type),
		"status": string(toStatus),
		"kind":   string(kind),
		"error":  procErr.Error(),
	})
	return nil
}

// parkUntilMidnight reschedules the item for the next local midnight in the
// scheduler's timezone, refunding the attempt: the item did nothing wrong
// and must survive any number of lean days.
func (m *Manager) parkUntilMidnight(ctx context.Context, item *models.QueueItem, kind models.ErrorKind, procErr error) error {
	sched, err := m.config.Scheduler(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduler settings: %w", err)
	}
	wakeAt := nextLocalMidnight(time.Now(), sched.Location())

	_, err = m.storage.TransitionItem(ctx, item.ID, item.Status, models.StatusPending, func(it *models.QueueItem) {
		if it.Attempts > 0 {
			it.Attempts--
		}
		it.NextAttemptAt = wakeAt
		it.ErrorKind = kind
		it.ErrorDetails = procErr.Error()
	})
	if err != nil {
		return fmt.Errorf("failed to park item %s: %w", item.ID, err)
	}

	m.logger.Warn().
		Str("item_id", item.ID).
		Str("kind", string(kind)).
		Str("wake_at", wakeAt.Format(time.RFC3339)).
		Msg("Item parked until budget reset")

	if kind == models.ErrKindNoProviderAvailable {
		m.publish(ctx, interfaces.EventCostAlert, map[string]interface{}{
			"id":     item.ID,
			"kind":   string(kind),
			"detail": procErr.Error(),
		})
	}
	return nil
}

// Release puts a claimed item back to PENDING without consuming the
// attempt. Used on shutdown for in-flight items.
func (m *Manager) Release(ctx context.Context, item *models.QueueItem) error {
	return m.releaseWithNote(ctx, item, "")
}

func (m *Manager) releaseWithNote(ctx context.Context, item *models.QueueItem, note string) error {
	_, err := m.storage.TransitionItem(ctx, item.ID, item.Status, models.StatusPending, func(it *models.QueueItem) {
		if it.Attempts > 0 {
			it.Attempts--
		}
		it.NextAttemptAt = time.Now()
		if note != "" {
			it.ErrorDetails = note
		}
	})
	if err != nil {
		return fmt.Errorf("failed to release item %s: %w", item.ID, err)
	}

	m.logger.Debug().Str("item_id", item.ID).Msg("Item released back to pending")
	return nil
}

// ReclaimExpired sweeps CLAIMED/PROCESSING items whose lease has lapsed
// back to PENDING. Returns the number reclaimed.
func (m *Manager) ReclaimExpired(ctx context.Context, leaseTTL time.Duration) (int, error) {
	n, err := m.storage.ReclaimExpiredLeases(ctx, leaseTTL, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	if n > 0 {
		m.logger.Warn().Int("reclaimed", n).Msg("Expired claim leases returned to pending")
	}
	return n, nil
}

// Cancel moves a PENDING item to SKIPPED. Only pending items can be
// cancelled; claimed work finishes or fails on its own.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	_, err := m.storage.TransitionItem(ctx, id, models.StatusPending, models.StatusSkipped, func(it *models.QueueItem) {
		it.ErrorDetails = "cancelled by operator"
	})
	if err != nil {
		return fmt.Errorf("failed to cancel item %s: %w", id, err)
	}

	m.logger.Info().Str("item_id", id).Msg("Item cancelled")
	return nil
}

// Retry returns a FAILED or BLOCKED item to PENDING with a fresh attempt
// budget. The dedup key is cleared rather than re-indexed; the natural-key
// stores keep replays convergent.
func (m *Manager) Retry(ctx context.Context, id string) error {
	item, err := m.storage.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load item %s: %w", id, err)
	}
	if item.Status != models.StatusFailed && item.Status != models.StatusBlocked {
		return fmt.Errorf("item %s is %s; only FAILED or BLOCKED items can be retried", id, item.Status)
	}

	_, err = m.storage.TransitionItem(ctx, id, item.Status, models.StatusPending, func(it *models.QueueItem) {
		it.Attempts = 0
		it.NextAttemptAt = time.Now()
		it.ErrorKind = ""
		it.ErrorDetails = ""
		it.DedupKey = ""
	})
	if err != nil {
		return fmt.Errorf("failed to retry item %s: %w", id, err)
	}

	m.logger.Info().Str("item_id", id).Msg("Item returned to pending for retry")
	return nil
}

// Stats returns queue depth by status and active depth by type.
func (m *Manager) Stats(ctx context.Context) (*models.QueueStats, error) {
	byStatus, err := m.storage.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	byType, err := m.storage.CountActiveByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}

	total := 0
	for _, n := range byStatus {
		total += n
	}
	return &models.QueueStats{
		ByStatus: byStatus,
		ByType:   byType,
		Total:    total,
	}, nil
}

func (m *Manager) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Event publish failed")
	}
}
