// -----------------------------------------------------------------------
// Listing Storage - Job listings keyed on normalized URL
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

// ListingStorage implements the ListingStorage interface for Badger
type ListingStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewListingStorage creates a new ListingStorage instance
func NewListingStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ListingStorage {
	return &ListingStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertListing inserts or updates by normalized URL inside one transaction.
// An existing row keeps its ID, Status, FilterResult and CreatedAt; fresh
// content fields overwrite when non-empty. Re-scrapes therefore refresh the
// posting without resetting its lifecycle.
func (s *ListingStorage) UpsertListing(ctx context.Context, listing *models.JobListing) (*models.JobListing, error) {
	if err := listing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job listing: %w", err)
	}

	store := s.db.Store()
	var stored *models.JobListing

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var existing []models.JobListing
		if err := store.TxFind(txn, &existing, badgerhold.Where("URL").Eq(listing.URL).Limit(1)); err != nil {
			return fmt.Errorf("failed to find listing by URL: %w", err)
		}

		if len(existing) == 0 {
			if err := store.TxInsert(txn, listing.ID, listing); err != nil {
				return fmt.Errorf("failed to insert listing: %w", err)
			}
			stored = listing
			return nil
		}

		row := existing[0]
		if listing.Title != "" {
			row.Title = listing.Title
		}
		if listing.CompanyName != "" {
			row.CompanyName = listing.CompanyName
		}
		if listing.Location != "" {
			row.Location = listing.Location
		}
		if listing.SalaryRange != "" {
			row.SalaryRange = listing.SalaryRange
		}
		if listing.Description != "" {
			row.Description = listing.Description
		}
		if listing.PostedDate != nil {
			row.PostedDate = listing.PostedDate
		}
		if listing.SourceID != "" {
			row.SourceID = listing.SourceID
		}
		if listing.CompanyID != "" {
			row.CompanyID = listing.CompanyID
		}
		row.UpdatedAt = listing.UpdatedAt

		if err := store.TxUpdate(txn, row.ID, &row); err != nil {
			return fmt.Errorf("failed to update listing: %w", err)
		}
		stored = &row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

// UpdateListing applies mutate to the listing inside a transaction.
func (s *ListingStorage) UpdateListing(ctx context.Context, id string, mutate func(*models.JobListing)) (*models.JobListing, error) {
	store := s.db.Store()
	var updated *models.JobListing

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var listing models.JobListing
		if err := store.TxGet(txn, id, &listing); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("listing %s: %w", id, interfaces.ErrNotFound)
			}
			return fmt.Errorf("failed to load listing %s: %w", id, err)
		}

		mutate(&listing)

		if err := store.TxUpdate(txn, id, &listing); err != nil {
			return fmt.Errorf("failed to update listing %s: %w", id, err)
		}
		updated = &listing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// GetListing loads one listing by id.
func (s *ListingStorage) GetListing(ctx context.Context, id string) (*models.JobListing, error) {
	var listing models.JobListing
	err := s.db.Store().Get(id, &listing)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("listing %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &listing, nil
}

// GetListingByURL loads one listing by its normalized URL.
func (s *ListingStorage) GetListingByURL(ctx context.Context, url string) (*models.JobListing, error) {
	var listings []models.JobListing
	if err := s.db.Store().Find(&listings, badgerhold.Where("URL").Eq(url).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find listing by URL: %w", err)
	}
	if len(listings) == 0 {
		return nil, fmt.Errorf("listing url %s: %w", url, interfaces.ErrNotFound)
	}
	return &listings[0], nil
}

// ListListings returns listings matching the filter, newest first.
func (s *ListingStorage) ListListings(ctx context.Context, filter interfaces.ListingFilter) ([]*models.JobListing, error) {
	var query *badgerhold.Query
	switch {
	case filter.Status != "" && filter.SourceID != "":
		query = badgerhold.Where("Status").Eq(filter.Status).And("SourceID").Eq(filter.SourceID)
	case filter.Status != "":
		query = badgerhold.Where("Status").Eq(filter.Status)
	case filter.SourceID != "":
		query = badgerhold.Where("SourceID").Eq(filter.SourceID)
	default:
		query = badgerhold.Where("ID").Ne("")
	}

	query = query.SortBy("CreatedAt").Reverse()
	if filter.Offset > 0 {
		query = query.Skip(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var listings []models.JobListing
	if err := s.db.Store().Find(&listings, query); err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	out := make([]*models.JobListing, len(listings))
	for i := range listings {
		out[i] = &listings[i]
	}
	return out, nil
}

// CountByStatus returns listing counts per status.
func (s *ListingStorage) CountByStatus(ctx context.Context) (map[models.JobListingStatus]int, error) {
	counts := make(map[models.JobListingStatus]int)
	for _, status := range []models.JobListingStatus{
		models.ListingStatusPending, models.ListingStatusFiltered,
		models.ListingStatusAnalyzing, models.ListingStatusAnalyzed,
		models.ListingStatusSkipped,
	} {
		count, err := s.db.Store().Count(&models.JobListing{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s listings: %w", status, err)
		}
		if count > 0 {
			counts[status] = int(count)
		}
	}
	return counts, nil
}
