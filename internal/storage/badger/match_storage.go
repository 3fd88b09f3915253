// -----------------------------------------------------------------------
// Match Storage - One analysis result per listing
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// MatchStorage implements the MatchStorage interface for Badger
type MatchStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMatchStorage creates a new MatchStorage instance
func NewMatchStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MatchStorage {
	return &MatchStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertMatch writes the match for its listing. A row already holding the
// same JobListingID is overwritten in place, keeping its ID and CreatedAt,
// so re-analysis never duplicates.
func (s *MatchStorage) UpsertMatch(ctx context.Context, match *models.JobMatch) (*models.JobMatch, error) {
	if err := match.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job match: %w", err)
	}

	store := s.db.Store()
	var stored *models.JobMatch

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var existing []models.JobMatch
		if err := store.TxFind(txn, &existing, badgerhold.Where("JobListingID").Eq(match.JobListingID).Limit(1)); err != nil {
			return fmt.Errorf("failed to find match by listing: %w", err)
		}

		if len(existing) == 0 {
			if err := store.TxInsert(txn, match.ID, match); err != nil {
				return fmt.Errorf("failed to insert match: %w", err)
			}
			stored = match
			return nil
		}

		row := *match
		row.ID = existing[0].ID
		row.CreatedAt = existing[0].CreatedAt

		if err := store.TxUpdate(txn, row.ID, &row); err != nil {
			return fmt.Errorf("failed to update match: %w", err)
		}
		stored = &row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// GetMatch loads one match by id.
func (s *MatchStorage) GetMatch(ctx context.Context, id string) (*models.JobMatch, error) {
	var match models.JobMatch
	err := s.db.Store().Get(id, &match)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("match %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// GetMatchByListing loads the match for a listing.
func (s *MatchStorage) GetMatchByListing(ctx context.Context, jobListingID string) (*models.JobMatch, error) {
	var matches []models.JobMatch
	if err := s.db.Store().Find(&matches, badgerhold.Where("JobListingID").Eq(jobListingID).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find match by listing: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("match for listing %s: %w", jobListingID, interfaces.ErrNotFound)
	}
	return &matches[0], nil
}

// ListMatches returns matches filtered by minimum score and priority,
// highest score first.
func (s *MatchStorage) ListMatches(ctx context.Context, filter interfaces.MatchFilter) ([]*models.JobMatch, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.MinScore > 0 {
		query = badgerhold.Where("MatchScore").Ge(filter.MinScore)
	}

	var matches []models.JobMatch
	if err := s.db.Store().Find(&matches, query.SortBy("MatchScore").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}

	filtered := make([]*models.JobMatch, 0, len(matches))
	for i := range matches {
		if filter.Priority != "" && matches[i].ApplicationPriority != filter.Priority {
			continue
		}
		filtered = append(filtered, &matches[i])
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return []*models.JobMatch{}, nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}

	return filtered, nil
}

// CountMatches returns the total number of matches.
func (s *MatchStorage) CountMatches(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.JobMatch{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return int(count), nil
}
