// -----------------------------------------------------------------------
// Source Storage - Scrapeable endpoints with health counters
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// SourceStorage implements the SourceStorage interface for Badger
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new SourceStorage instance
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

// SaveSource inserts or updates a source, preserving CreatedAt on update.
func (s *SourceStorage) SaveSource(ctx context.Context, source *models.JobSource) error {
	if err := source.Validate(); err != nil {
		return fmt.Errorf("invalid job source: %w", err)
	}

	var existing models.JobSource
	if err := s.db.Store().Get(source.ID, &existing); err == nil {
		source.CreatedAt = existing.CreatedAt
	}
	source.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(source.ID, source); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

// UpdateSource applies mutate to the source inside a transaction.
func (s *SourceStorage) UpdateSource(ctx context.Context, id string, mutate func(*models.JobSource)) (*models.JobSource, error) {
	store := s.db.Store()
	var updated *models.JobSource

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var source models.JobSource
		if err := store.TxGet(txn, id, &source); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("source %s: %w", id, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to load source %s: %w", id, err)
		}

		mutate(&source)
		source.UpdatedAt = time.Now()

		if err := store.TxUpdate(txn, id, &source); err != nil {
			return fmt.Errorf("failed to update source %s: %w", id, err)
		}
		updated = &source
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// GetSource loads one source by id.
func (s *SourceStorage) GetSource(ctx context.Context, id string) (*models.JobSource, error) {
	var source models.JobSource
	err := s.db.Store().Get(id, &source)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("source %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

// ListSources returns sources, optionally only enabled ones.
func (s *SourceStorage) ListSources(ctx context.Context, enabledOnly bool) ([]*models.JobSource, error) {
	var query *badgerhold.Query
	if enabledOnly {
		query = badgerhold.Where("Enabled").Eq(true)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}

	var sources []models.JobSource
	if err := s.db.Store().Find(&sources, query.SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	out := make([]*models.JobSource, len(sources))
	for i := range sources {
		out[i] = &sources[i]
	}
	return out, nil
}

// ListDueSources returns scrapeable sources ordered least-recently scraped
// first. Never-scraped sources sort before everything else.
func (s *SourceStorage) ListDueSources(ctx context.Context, now time.Time, limit int) ([]*models.JobSource, error) {
	var sources []models.JobSource
	if err := s.db.Store().Find(&sources, badgerhold.Where("Enabled").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list enabled sources: %w", err)
	}

	due := make([]*models.JobSource, 0, len(sources))
	for i := range sources {
		if sources[i].Scrapeable(now) {
			due = append(due, &sources[i])
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastScrapedAt, due[j].LastScrapedAt
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// RecordScrapeResult updates health counters after a scrape. Success resets
// the failure streak and folds in the job counts; failure increments the
// streak and opens the circuit once it reaches failureThreshold.
func (s *SourceStorage) RecordScrapeResult(ctx context.Context, id string, jobsFound, jobsMatched int, scrapeErr error, failureThreshold int, cooldown time.Duration) (*models.JobSource, error) {
	now := time.Now()
	opened := false

	updated, err := s.UpdateSource(ctx, id, func(source *models.JobSource) {
		if scrapeErr == nil {
			source.ConsecutiveFailures = 0
			source.DisabledUntil = nil
			source.LastScrapedAt = &now
			source.TotalJobsFound += jobsFound
			source.TotalJobsMatched += jobsMatched
			return
		}

		source.ConsecutiveFailures++
		if failureThreshold > 0 && source.ConsecutiveFailures >= failureThreshold {
			until := now.Add(cooldown)
			source.DisabledUntil = &until
			opened = true
		}
	})
	if err != nil {
		return nil, err
	}

	if opened {
		s.logger.Warn().
			Str("source_id", id).
			Str("source", updated.Name).
			Int("consecutive_failures", updated.ConsecutiveFailures).
			Str("disabled_until", updated.DisabledUntil.Format(time.RFC3339)).
			Msg("Source circuit opened after repeated failures")
	}

	return updated, nil
}

// ClearExpiredCooldowns re-arms sources whose cooldown has passed, resetting
// the failure streak so one stale failure does not reopen the circuit.
func (s *SourceStorage) ClearExpiredCooldowns(ctx context.Context, now time.Time) (int, error) {
	var sources []models.JobSource
	if err := s.db.Store().Find(&sources, badgerhold.Where("Enabled").Eq(true)); err != nil {
		return 0, fmt.Errorf("failed to list sources: %w", err)
	}

	cleared := 0
	for i := range sources {
		src := &sources[i]
		if src.DisabledUntil == nil || src.DisabledUntil.After(now) {
			continue
		}

		_, err := s.UpdateSource(ctx, src.ID, func(source *models.JobSource) {
			source.DisabledUntil = nil
			source.ConsecutiveFailures = 0
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("source_id", src.ID).Msg("Failed to clear source cooldown")
			continue
		}

		s.logger.Info().Str("source_id", src.ID).Str("source", src.Name).Msg("Source cooldown cleared")
		cleared++
	}

	return cleared, nil
}

// DeleteSource removes a source.
func (s *SourceStorage) DeleteSource(ctx context.Context, id string) error {
	err := s.db.Store().Delete(id, &models.JobSource{})
	if err == badgerhold.ErrNotFound {
		return fmt.Errorf("source %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}
