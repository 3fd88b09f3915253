// -----------------------------------------------------------------------
// Item Log Storage - Per-queue-item log lines
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// ItemLogStorage implements the ItemLogStorage interface for Badger
type ItemLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewItemLogStorage creates a new ItemLogStorage instance
func NewItemLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ItemLogStorage {
	return &ItemLogStorage{
		db:     db,
		logger: logger,
	}
}

// AppendLogs stores a batch of log lines for an item. Entries without an id
// get one assigned.
func (s *ItemLogStorage) AppendLogs(ctx context.Context, itemID string, entries []models.ItemLogEntry) error {
	if itemID == "" {
		return fmt.Errorf("item ID is required")
	}

	for i := range entries {
		entry := &entries[i]
		entry.ItemID = itemID
		if entry.ID == "" {
			entry.ID = "ilog_" + uuid.New().String()
		}
		if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
			return fmt.Errorf("failed to append log entry: %w", err)
		}
	}
	return nil
}

// GetLogs returns an item's log lines in chronological order, trimmed to
// the most recent limit entries when limit > 0.
func (s *ItemLogStorage) GetLogs(ctx context.Context, itemID string, limit int) ([]models.ItemLogEntry, error) {
	var entries []models.ItemLogEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("ItemID").Eq(itemID).SortBy("FullTimestamp")); err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// DeleteLogs removes all log lines for an item.
func (s *ItemLogStorage) DeleteLogs(ctx context.Context, itemID string) error {
	if err := s.db.Store().DeleteMatching(&models.ItemLogEntry{}, badgerhold.Where("ItemID").Eq(itemID)); err != nil {
		return fmt.Errorf("failed to delete logs: %w", err)
	}
	return nil
}
