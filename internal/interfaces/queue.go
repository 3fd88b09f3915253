package interfaces

import (
	"context"
	"time"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// ChildSpec describes a follow-up item a processor wants enqueued when the
// current item completes. The queue manager derives id, lineage, dedup key
// and depth from the parent.
type ChildSpec struct {
	Type    models.QueueItemType
	SubType models.QueueSubType
	URL     string
	Payload map[string]interface{}

	// SameStep marks a continuation of the current step (pagination). It is
	// exempt from the repeat-step loop guard and inherits the parent's depth.
	SameStep bool
}

// Outcome is what a processor hands back to the worker after handling an
// item. At most one of the terminal flags applies; none of them means plain
// SUCCESS. Children are only enqueued on SUCCESS.
type Outcome struct {
	// Children are enqueued atomically with the parent's completion.
	Children []ChildSpec

	// Skipped marks the item SKIPPED instead of SUCCESS.
	Skipped bool
	// Filtered marks the item FILTERED (deterministic pre-filter reject).
	Filtered bool
	// Blocked marks the item BLOCKED with Reason.
	Blocked bool
	Reason  string
}

// QueueManager owns enqueue policy: dedup keys, lineage, depth and loop
// guards on the way in; retry/backoff classification on the way out.
type QueueManager interface {
	// Submit enqueues a new root item. Dedup hits return the existing item's
	// id and ErrDuplicateItem.
	Submit(ctx context.Context, itemType models.QueueItemType, subType models.QueueSubType, url string, payload map[string]interface{}, origin models.QueueItemOrigin) (string, error)

	// Claim pulls the next ready item for a worker, restricted to types.
	Claim(ctx context.Context, workerID string, types []models.QueueItemType) (*models.QueueItem, error)

	// StartProcessing marks a claimed item as actively dispatched. It
	// updates item in place on success. Visibility only; lease reclamation
	// treats CLAIMED and PROCESSING alike.
	StartProcessing(ctx context.Context, item *models.QueueItem) error

	// Complete finishes a claimed item and enqueues its children in one
	// transaction. Children that trip the repeat-step loop guard are
	// dropped with a warning, never an error; a child that would exceed the
	// depth bound blocks the parent instead with MaxDepthExceeded.
	Complete(ctx context.Context, item *models.QueueItem, outcome *Outcome) ([]string, error)

	// Fail records a failure: retryable errors reschedule with backoff until
	// maxAttempts, then the item lands on the error kind's terminal status.
	Fail(ctx context.Context, item *models.QueueItem, procErr error) error

	// Release returns a claimed item to PENDING without consuming the
	// attempt, for shutdown mid-flight.
	Release(ctx context.Context, item *models.QueueItem) error

	// ReclaimExpired sweeps lapsed leases back to PENDING.
	ReclaimExpired(ctx context.Context, leaseTTL time.Duration) (int, error)

	// Cancel moves a PENDING item to SKIPPED with an operator note.
	Cancel(ctx context.Context, id string) error

	// Retry moves a FAILED or BLOCKED item back to PENDING with a fresh
	// attempt budget.
	Retry(ctx context.Context, id string) error

	// Stats returns queue depth by status and by type.
	Stats(ctx context.Context) (*models.QueueStats, error)
}
