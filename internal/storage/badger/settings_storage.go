// -----------------------------------------------------------------------
// Settings Storage - Raw config registry entries
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// SettingsStorage implements the SettingsStorage interface for Badger
type SettingsStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSettingsStorage creates a new SettingsStorage instance
func NewSettingsStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{
		db:     db,
		logger: logger,
	}
}

// GetEntry loads one config entry by key.
func (s *SettingsStorage) GetEntry(ctx context.Context, key string) (*models.ConfigEntry, error) {
	var entry models.ConfigEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("config entry %s: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config entry: %w", err)
	}
	return &entry, nil
}

// PutEntry inserts or replaces a config entry.
func (s *SettingsStorage) PutEntry(ctx context.Context, entry *models.ConfigEntry) error {
	if entry.Key == "" {
		return fmt.Errorf("config entry key is required")
	}
	entry.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(entry.Key, entry); err != nil {
		return fmt.Errorf("failed to put config entry: %w", err)
	}
	return nil
}

// ListEntries returns all config entries.
func (s *SettingsStorage) ListEntries(ctx context.Context) ([]*models.ConfigEntry, error) {
	var entries []models.ConfigEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Key").Ne("").SortBy("Key")); err != nil {
		return nil, fmt.Errorf("failed to list config entries: %w", err)
	}

	out := make([]*models.ConfigEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out, nil
}

// DeleteEntry removes a config entry.
func (s *SettingsStorage) DeleteEntry(ctx context.Context, key string) error {
	err := s.db.Store().Delete(key, &models.ConfigEntry{})
	if err == badgerhold.ErrNotFound {
		return fmt.Errorf("config entry %s: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete config entry: %w", err)
	}
	return nil
}
