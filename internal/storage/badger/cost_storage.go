// -----------------------------------------------------------------------
// Cost Storage - Daily per-provider spend ledger
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

// CostStorage implements the CostStorage interface for Badger
type CostStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCostStorage creates a new CostStorage instance
func NewCostStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CostStorage {
	return &CostStorage{
		db:     db,
		logger: logger,
	}
}

// IncrementCost folds one request into the provider's daily entry inside a
// transaction and returns the new daily total. The budget limit is stamped
// on the entry's first write of the day.
func (s *CostStorage) IncrementCost(ctx context.Context, date, provider, model string, tokensIn, tokensOut int64, cost, budgetLimit float64) (float64, error) {
	store := s.db.Store()
	key := models.CostEntryKey(date, provider)
	var total float64

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		var entry models.CostEntry
		err := store.TxGet(txn, key, &entry)
		switch err {
		case nil:
			entry.Add(model, tokensIn, tokensOut, cost)
			if err := store.TxUpdate(txn, key, &entry); err != nil {
				return fmt.Errorf("failed to update cost entry: %w", err)
			}
		case badgerhold.ErrNotFound:
			fresh := models.NewCostEntry(date, provider, budgetLimit)
			fresh.Add(model, tokensIn, tokensOut, cost)
			if err := store.TxInsert(txn, key, fresh); err != nil {
				return fmt.Errorf("failed to insert cost entry: %w", err)
			}
			entry = *fresh
		default:
			return fmt.Errorf("failed to load cost entry: %w", err)
		}

		total = entry.Cost
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

// GetDailyCost loads one provider's entry for a day.
func (s *CostStorage) GetDailyCost(ctx context.Context, date, provider string) (*models.CostEntry, error) {
	var entry models.CostEntry
	err := s.db.Store().Get(models.CostEntryKey(date, provider), &entry)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("cost entry %s/%s: %w", date, provider, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cost entry: %w", err)
	}
	return &entry, nil
}

// ListDailyCosts returns all provider entries for a day.
func (s *CostStorage) ListDailyCosts(ctx context.Context, date string) ([]*models.CostEntry, error) {
	var entries []models.CostEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Date").Eq(date).SortBy("Provider")); err != nil {
		return nil, fmt.Errorf("failed to list cost entries: %w", err)
	}

	out := make([]*models.CostEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out, nil
}
