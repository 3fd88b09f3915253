// -----------------------------------------------------------------------
// Queue Storage - Durable queue items with claim, dedup and fan-out
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Raw key families maintained alongside the badgerhold records, inside the
// same transaction:
//
//	qpending:{nextAttemptAt unixnano %020d}:{id} -> item type
//	qdedup:{dedupKey}                            -> item id
//
// The pending family gives the claim scan FIFO order by nextAttemptAt; the
// dedup family points at the active item holding each dedup key.
const (
	pendingPrefix = "qpending:"
	dedupPrefix   = "qdedup:"
)

// QueueStorage implements the QueueStorage interface for Badger. Queue
// items are badgerhold records; the pending and dedup index keys are kept
// consistent with the records transactionally.
type QueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// claimMu serializes claim scans so concurrent workers never race the
	// same pending key into a transaction conflict.
	claimMu sync.Mutex
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QueueStorage {
	return &QueueStorage{
		db:     db,
		logger: logger,
	}
}

func pendingKey(at time.Time, id string) []byte {
	// Zero pad to 20 digits so lexical order matches numeric order
	return []byte(fmt.Sprintf("%s%020d:%s", pendingPrefix, at.UnixNano(), id))
}

func parsePendingKey(key []byte) (time.Time, string, error) {
	suffix := string(key[len(pendingPrefix):])
	if len(suffix) < 22 { // 20 digits + colon + at least 1 id char
		return time.Time{}, "", fmt.Errorf("invalid pending key %q", key)
	}
	ts, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid pending key timestamp %q: %w", key, err)
	}
	return time.Unix(0, ts), suffix[21:], nil
}

func dedupKey(key string) []byte {
	return []byte(dedupPrefix + key)
}

// EnqueueItem inserts an item with its pending index and dedup mapping.
// When an active item already holds the dedup key, the existing item's id
// is returned with ErrDuplicateItem and nothing is written.
func (s *QueueStorage) EnqueueItem(ctx context.Context, item *models.QueueItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("invalid queue item: %w", err)
	}
	if item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = time.Now()
	}

	store := s.db.Store()
	var existingID string

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		id, err := s.txEnqueue(txn, item)
		existingID = id
		return err
	})
	if err != nil {
		if existingID != "" {
			return existingID, interfaces.ErrDuplicateItem
		}
		return "", err
	}

	s.logger.Debug().
		Str("item_id", item.ID).
		Str("type", string(item.Type)).
		Str("sub_type", string(item.SubType)).
		Int("depth", item.Depth).
		Msg("Queue item enqueued")

	return item.ID, nil
}

// txEnqueue inserts one item inside txn. On a dedup hit it returns the
// existing item's id and ErrDuplicateItem without writing.
func (s *QueueStorage) txEnqueue(txn *badgerdb.Txn, item *models.QueueItem) (string, error) {
	store := s.db.Store()

	if item.DedupKey != "" {
		raw, err := txn.Get(dedupKey(item.DedupKey))
		if err == nil {
			var heldBy string
			if err := raw.Value(func(val []byte) error {
				heldBy = string(val)
				return nil
			}); err != nil {
				return "", fmt.Errorf("failed to read dedup mapping: %w", err)
			}

			// Stale mappings (terminal or vanished holder) are overwritten
			var holder models.QueueItem
			getErr := store.TxGet(txn, heldBy, &holder)
			if getErr == nil && !holder.IsTerminal() {
				return heldBy, interfaces.ErrDuplicateItem
			}
			if getErr != nil && getErr != badgerhold.ErrNotFound {
				return "", fmt.Errorf("failed to load dedup holder %s: %w", heldBy, getErr)
			}
		} else if err != badgerdb.ErrKeyNotFound {
			return "", fmt.Errorf("failed to check dedup key: %w", err)
		}

		if err := txn.Set(dedupKey(item.DedupKey), []byte(item.ID)); err != nil {
			return "", fmt.Errorf("failed to write dedup mapping: %w", err)
		}
	}

	if err := store.TxInsert(txn, item.ID, item); err != nil {
		return "", fmt.Errorf("failed to insert queue item: %w", err)
	}
	if err := txn.Set(pendingKey(item.NextAttemptAt, item.ID), []byte(item.Type)); err != nil {
		return "", fmt.Errorf("failed to write pending index: %w", err)
	}

	return "", nil
}

// ClaimNextItem atomically claims the oldest ready PENDING item within
// types. The pending index orders items by nextAttemptAt, so the scan stops
// at the first future timestamp.
func (s *QueueStorage) ClaimNextItem(ctx context.Context, workerID string, types []models.QueueItemType, now time.Time) (*models.QueueItem, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	allowed := make(map[models.QueueItemType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	store := s.db.Store()
	var claimed *models.QueueItem

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(pendingPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			readyAt, id, err := parsePendingKey(key)
			if err != nil {
				continue // Skip malformed keys
			}
			if readyAt.After(now) {
				// Keys are ordered by timestamp; nothing further is ready
				break
			}

			// The index value holds the item type, so type filtering
			// happens before the record load
			var itemType string
			if err := it.Item().Value(func(val []byte) error {
				itemType = string(val)
				return nil
			}); err != nil {
				return fmt.Errorf("failed to read pending index value: %w", err)
			}
			if len(allowed) > 0 && !allowed[models.QueueItemType(itemType)] {
				continue
			}

			var item models.QueueItem
			if err := store.TxGet(txn, id, &item); err != nil {
				if err == badgerhold.ErrNotFound {
					// Orphaned index entry; clean it up and move on
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return fmt.Errorf("failed to load queue item %s: %w", id, err)
			}

			if item.Status != models.StatusPending {
				// Stale index entry left behind by an interrupted writer
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}

			// Poison-pill guard: a crash-reclaimed item may come back with
			// its attempt budget already spent
			if item.MaxAttempts > 0 && item.Attempts >= item.MaxAttempts {
				item.Status = models.StatusFailed
				item.ErrorKind = models.ErrKindTransient
				item.ErrorDetails = "attempts exhausted before claim"
				item.UpdatedAt = now
				if err := store.TxUpdate(txn, id, &item); err != nil {
					return fmt.Errorf("failed to fail exhausted item %s: %w", id, err)
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := s.txDropDedup(txn, &item); err != nil {
					return err
				}
				continue
			}

			item.Status = models.StatusClaimed
			item.ClaimedBy = workerID
			item.ClaimedAt = now
			item.Attempts++
			item.UpdatedAt = now

			if err := store.TxUpdate(txn, id, &item); err != nil {
				return fmt.Errorf("failed to claim queue item %s: %w", id, err)
			}
			if err := txn.Delete(key); err != nil {
				return err
			}

			claimed = &item
			return nil
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// withConflictRetry runs fn once more when it fails with a Badger write
// conflict. The second run opens a fresh transaction and re-checks its
// preconditions, so a settle racing another writer resolves immediately
// instead of waiting for the lease sweep.
func withConflictRetry(fn func() error) error {
	err := fn()
	if errors.Is(err, badgerdb.ErrConflict) {
		err = fn()
	}
	return err
}

// TransitionItem moves id from fromStatus to toStatus inside one
// transaction, applying mutate to the loaded item and keeping the pending
// and dedup indexes consistent.
func (s *QueueStorage) TransitionItem(ctx context.Context, id string, fromStatus, toStatus models.QueueItemStatus, mutate func(*models.QueueItem)) (*models.QueueItem, error) {
	store := s.db.Store()
	var updated *models.QueueItem

	err := withConflictRetry(func() error {
		return store.Badger().Update(func(txn *badgerdb.Txn) error {
			item, err := s.txTransition(txn, id, fromStatus, toStatus, mutate)
			if err != nil {
				return err
			}
			updated = item
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// txTransition performs the conditional status move inside txn.
func (s *QueueStorage) txTransition(txn *badgerdb.Txn, id string, fromStatus, toStatus models.QueueItemStatus, mutate func(*models.QueueItem)) (*models.QueueItem, error) {
	store := s.db.Store()

	var item models.QueueItem
	if err := store.TxGet(txn, id, &item); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("queue item %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load queue item %s: %w", id, err)
	}

	if item.Status != fromStatus {
		return nil, fmt.Errorf("queue item %s is %s, expected %s: %w", id, item.Status, fromStatus, interfaces.ErrStaleState)
	}

	// The old pending key position must be captured before mutate can move
	// NextAttemptAt
	var oldPending []byte
	if fromStatus == models.StatusPending {
		oldPending = pendingKey(item.NextAttemptAt, item.ID)
	}

	if mutate != nil {
		mutate(&item)
	}
	item.Status = toStatus
	if !item.IsClaimed() {
		item.ClaimedBy = ""
		item.ClaimedAt = time.Time{}
	}
	item.UpdatedAt = time.Now()
	if toStatus == models.StatusPending && item.NextAttemptAt.IsZero() {
		item.NextAttemptAt = item.UpdatedAt
	}

	if err := store.TxUpdate(txn, id, &item); err != nil {
		return nil, fmt.Errorf("failed to update queue item %s: %w", id, err)
	}

	if oldPending != nil {
		if err := txn.Delete(oldPending); err != nil && err != badgerdb.ErrKeyNotFound {
			return nil, err
		}
	}
	if toStatus == models.StatusPending {
		if err := txn.Set(pendingKey(item.NextAttemptAt, item.ID), []byte(item.Type)); err != nil {
			return nil, fmt.Errorf("failed to write pending index: %w", err)
		}
	}
	if toStatus.IsTerminal() {
		if err := s.txDropDedup(txn, &item); err != nil {
			return nil, err
		}
	}

	return &item, nil
}

// txDropDedup removes the dedup mapping when it still points at item,
// freeing the key for future submissions.
func (s *QueueStorage) txDropDedup(txn *badgerdb.Txn, item *models.QueueItem) error {
	if item.DedupKey == "" {
		return nil
	}
	raw, err := txn.Get(dedupKey(item.DedupKey))
	if err == badgerdb.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dedup mapping: %w", err)
	}
	var heldBy string
	if err := raw.Value(func(val []byte) error {
		heldBy = string(val)
		return nil
	}); err != nil {
		return err
	}
	if heldBy != item.ID {
		return nil
	}
	if err := txn.Delete(dedupKey(item.DedupKey)); err != nil {
		return fmt.Errorf("failed to delete dedup mapping: %w", err)
	}
	return nil
}

// CompleteAndFanOut finishes the parent and inserts its children in the
// same transaction. Children hitting a dedup key held by an active item
// are skipped; their count is logged, not an error.
func (s *QueueStorage) CompleteAndFanOut(ctx context.Context, id string, fromStatus, toStatus models.QueueItemStatus, mutate func(*models.QueueItem), children []*models.QueueItem) ([]string, error) {
	store := s.db.Store()
	var inserted []string
	var skipped int

	err := store.Badger().Update(func(txn *badgerdb.Txn) error {
		inserted = inserted[:0]
		skipped = 0

		if _, err := s.txTransition(txn, id, fromStatus, toStatus, mutate); err != nil {
			return err
		}

		for _, child := range children {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("invalid fan-out child: %w", err)
			}
			if child.NextAttemptAt.IsZero() {
				child.NextAttemptAt = time.Now()
			}
			if _, err := s.txEnqueue(txn, child); err != nil {
				if err == interfaces.ErrDuplicateItem {
					skipped++
					continue
				}
				return err
			}
			inserted = append(inserted, child.ID)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if skipped > 0 {
		s.logger.Debug().
			Str("item_id", id).
			Int("inserted", len(inserted)).
			Int("dedup_skipped", skipped).
			Msg("Fan-out children deduplicated")
	}

	return inserted, nil
}

// ReclaimExpiredLeases moves CLAIMED and PROCESSING items whose lease has
// lapsed back to PENDING. Attempts stay as they are; the claim already
// spent one.
func (s *QueueStorage) ReclaimExpiredLeases(ctx context.Context, leaseTTL time.Duration, now time.Time) (int, error) {
	store := s.db.Store()

	var held []models.QueueItem
	for _, status := range []models.QueueItemStatus{models.StatusClaimed, models.StatusProcessing} {
		var batch []models.QueueItem
		if err := store.Find(&batch, badgerhold.Where("Status").Eq(status)); err != nil {
			return 0, fmt.Errorf("failed to list %s items: %w", status, err)
		}
		held = append(held, batch...)
	}

	reclaimed := 0
	for i := range held {
		item := &held[i]
		if !item.LeaseExpired(leaseTTL, now) {
			continue
		}

		fromStatus := item.Status
		_, err := s.TransitionItem(ctx, item.ID, fromStatus, models.StatusPending, func(it *models.QueueItem) {
			it.ClaimedBy = ""
			it.ClaimedAt = time.Time{}
			it.NextAttemptAt = now
		})
		if err != nil {
			// A worker finishing concurrently wins; skip quietly
			s.logger.Debug().Err(err).Str("item_id", item.ID).Msg("Lease reclaim lost race")
			continue
		}

		s.logger.Warn().
			Str("item_id", item.ID).
			Str("worker", item.ClaimedBy).
			Dur("lease_ttl", leaseTTL).
			Msg("Reclaimed expired lease")
		reclaimed++
	}

	return reclaimed, nil
}

// GetItem loads one queue item by id.
func (s *QueueStorage) GetItem(ctx context.Context, id string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.db.Store().Get(id, &item)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("queue item %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return &item, nil
}

// GetChildren returns the direct fan-out children of parentID.
func (s *QueueStorage) GetChildren(ctx context.Context, parentID string) ([]*models.QueueItem, error) {
	var items []models.QueueItem
	if err := s.db.Store().Find(&items, badgerhold.Where("ParentID").Eq(parentID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parentID, err)
	}
	return toPointers(items), nil
}

// ListByRoot returns the whole lineage under rootID, oldest first.
func (s *QueueStorage) ListByRoot(ctx context.Context, rootID string) ([]*models.QueueItem, error) {
	var items []models.QueueItem
	if err := s.db.Store().Find(&items, badgerhold.Where("RootID").Eq(rootID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list lineage of %s: %w", rootID, err)
	}
	return toPointers(items), nil
}

// ListItems returns items matching the filter, newest first.
func (s *QueueStorage) ListItems(ctx context.Context, filter interfaces.QueueItemFilter) ([]*models.QueueItem, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		query = badgerhold.Where("Status").Eq(filter.Status)
	}

	var items []models.QueueItem
	if err := s.db.Store().Find(&items, query.SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}

	// Remaining filters applied in memory; queue listings are small
	filtered := make([]*models.QueueItem, 0, len(items))
	for i := range items {
		item := &items[i]
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if filter.RootID != "" && item.RootID != filter.RootID {
			continue
		}
		filtered = append(filtered, item)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return []*models.QueueItem{}, nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}

	return filtered, nil
}

// CountByStatus returns item counts per status.
func (s *QueueStorage) CountByStatus(ctx context.Context) (map[models.QueueItemStatus]int, error) {
	counts := make(map[models.QueueItemStatus]int)
	for _, status := range []models.QueueItemStatus{
		models.StatusPending, models.StatusClaimed, models.StatusProcessing,
		models.StatusSuccess, models.StatusFailed, models.StatusSkipped,
		models.StatusFiltered, models.StatusBlocked,
	} {
		count, err := s.db.Store().Count(&models.QueueItem{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s items: %w", status, err)
		}
		if count > 0 {
			counts[status] = int(count)
		}
	}
	return counts, nil
}

// CountActiveByType returns non-terminal item counts per type.
func (s *QueueStorage) CountActiveByType(ctx context.Context) (map[models.QueueItemType]int, error) {
	counts := make(map[models.QueueItemType]int)
	for _, status := range []models.QueueItemStatus{
		models.StatusPending, models.StatusClaimed, models.StatusProcessing,
	} {
		var items []models.QueueItem
		if err := s.db.Store().Find(&items, badgerhold.Where("Status").Eq(status)); err != nil {
			return nil, fmt.Errorf("failed to list %s items: %w", status, err)
		}
		for i := range items {
			counts[items[i].Type]++
		}
	}
	return counts, nil
}

func toPointers(items []models.QueueItem) []*models.QueueItem {
	out := make([]*models.QueueItem, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}
