package interfaces

import (
	"context"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Processor handles one queue item type. The worker pool dispatches claimed
// items to the processor registered for their type.
type Processor interface {
	// Process handles a single claimed item and returns an outcome. A nil
	// error with a nil outcome means plain completion with no children.
	// Errors are classified by the queue manager via their error kind.
	Process(ctx context.Context, item *models.QueueItem) (*Outcome, error)

	// ItemType returns the queue item type this processor handles.
	ItemType() models.QueueItemType
}

// ProcessorRegistry maps item types to processors.
type ProcessorRegistry interface {
	Register(p Processor)
	Get(itemType models.QueueItemType) (Processor, bool)
	Types() []models.QueueItemType
}
