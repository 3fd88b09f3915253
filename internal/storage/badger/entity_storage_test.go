package badger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestUpsertListingRefreshesWithoutResettingLifecycle(t *testing.T) {
	db := newTestDB(t)
	storage := NewListingStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := models.NewJobListing("https://example.com/jobs/42", "Go Engineer", "Acme")
	first.Description = "Original posting"

	stored, err := storage.UpsertListing(ctx, first)
	require.NoError(t, err)
	require.Equal(t, first.ID, stored.ID)

	// The analyzer moved the listing on before the next scrape came through.
	_, err = storage.UpdateListing(ctx, stored.ID, func(l *models.JobListing) {
		l.Status = models.ListingStatusAnalyzed
	})
	require.NoError(t, err)

	rescrape := models.NewJobListing("https://example.com/jobs/42", "Senior Go Engineer", "Acme")
	rescrape.Description = "Updated posting"
	rescrape.Location = "Portland, OR"

	stored, err = storage.UpsertListing(ctx, rescrape)
	require.NoError(t, err)

	assert.Equal(t, first.ID, stored.ID, "re-scrape must not mint a new row")
	assert.Equal(t, models.ListingStatusAnalyzed, stored.Status, "re-scrape must not reset lifecycle")
	assert.Equal(t, "Senior Go Engineer", stored.Title)
	assert.Equal(t, "Updated posting", stored.Description)
	assert.Equal(t, "Portland, OR", stored.Location)

	byURL, err := storage.GetListingByURL(ctx, "https://example.com/jobs/42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byURL.ID)
}

func TestUpsertListingEmptyFieldsDoNotClobber(t *testing.T) {
	db := newTestDB(t)
	storage := NewListingStorage(db, arbor.NewLogger())
	ctx := context.Background()

	full := models.NewJobListing("https://example.com/jobs/7", "Platform Engineer", "Initech")
	full.Location = "Remote"
	full.Description = "Full description"

	_, err := storage.UpsertListing(ctx, full)
	require.NoError(t, err)

	// A sparse re-scrape (listing page without detail fields).
	sparse := models.NewJobListing("https://example.com/jobs/7", "", "")

	stored, err := storage.UpsertListing(ctx, sparse)
	require.NoError(t, err)
	assert.Equal(t, "Platform Engineer", stored.Title)
	assert.Equal(t, "Initech", stored.CompanyName)
	assert.Equal(t, "Remote", stored.Location)
	assert.Equal(t, "Full description", stored.Description)
}

func TestIncrementCostAccumulatesDailyTotal(t *testing.T) {
	db := newTestDB(t)
	storage := NewCostStorage(db, arbor.NewLogger())
	ctx := context.Background()

	total, err := storage.IncrementCost(ctx, "2026-08-26", "claude", "claude-sonnet-4", 1000, 500, 0.02, 5.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, total, 1e-9)

	total, err = storage.IncrementCost(ctx, "2026-08-26", "claude", "claude-sonnet-4", 2000, 800, 0.03, 5.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, total, 1e-9)

	// Another model on the same provider folds into the same daily entry.
	total, err = storage.IncrementCost(ctx, "2026-08-26", "claude", "claude-haiku-4", 500, 100, 0.01, 5.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.06, total, 1e-9)

	entry, err := storage.GetDailyCost(ctx, "2026-08-26", "claude")
	require.NoError(t, err)
	assert.Equal(t, 3, entry.Requests)
	assert.Equal(t, int64(3500), entry.TokensIn)
	assert.Equal(t, int64(1400), entry.TokensOut)
	assert.InDelta(t, 5.0, entry.BudgetLimit, 1e-9)
	assert.Len(t, entry.Models, 2)

	// Other providers and other days stay isolated.
	_, err = storage.IncrementCost(ctx, "2026-08-26", "gemini", "gemini-2.5-flash", 100, 50, 0.001, 2.0)
	require.NoError(t, err)
	_, err = storage.IncrementCost(ctx, "2026-08-27", "claude", "claude-sonnet-4", 100, 50, 0.002, 5.0)
	require.NoError(t, err)

	today, err := storage.ListDailyCosts(ctx, "2026-08-26")
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, "claude", today[0].Provider)
	assert.Equal(t, "gemini", today[1].Provider)

	_, err = storage.GetDailyCost(ctx, "2026-08-28", "claude")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestWithConflictRetryRetriesOnceOnWriteConflict(t *testing.T) {
	// A conflict on the first attempt resolves on the retry.
	calls := 0
	err := withConflictRetry(func() error {
		calls++
		if calls == 1 {
			return badgerdb.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	// Non-conflict errors surface without a retry.
	calls = 0
	loadErr := fmt.Errorf("load failed")
	err = withConflictRetry(func() error {
		calls++
		return loadErr
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, loadErr, err)

	// A conflict on the retry as well surfaces; one retry only.
	calls = 0
	err = withConflictRetry(func() error {
		calls++
		return badgerdb.ErrConflict
	})
	assert.Equal(t, 2, calls)
	assert.True(t, errors.Is(err, badgerdb.ErrConflict))
}

func TestRecordScrapeResultCircuitBreaker(t *testing.T) {
	db := newTestDB(t)
	storage := NewSourceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	source := models.NewJobSource("acme-board", models.SourceTypeGreenhouse, map[string]interface{}{
		"board_token": "acme",
	})
	require.NoError(t, storage.SaveSource(ctx, source))

	// Two failures stay under the threshold.
	for i := 0; i < 2; i++ {
		updated, err := storage.RecordScrapeResult(ctx, source.ID, 0, 0, fmt.Errorf("fetch failed"), 3, 6*time.Hour)
		require.NoError(t, err)
		assert.Nil(t, updated.DisabledUntil)
	}

	// The third opens the circuit.
	updated, err := storage.RecordScrapeResult(ctx, source.ID, 0, 0, fmt.Errorf("fetch failed"), 3, 6*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, updated.DisabledUntil)
	assert.Equal(t, 3, updated.ConsecutiveFailures)
	assert.True(t, updated.CircuitOpen(time.Now()))

	// A cooldown sweep before expiry leaves it open.
	cleared, err := storage.ClearExpiredCooldowns(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, cleared)

	// After the cooldown the sweep re-arms it and resets the streak.
	cleared, err = storage.ClearExpiredCooldowns(ctx, time.Now().Add(7*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	rearmed, err := storage.GetSource(ctx, source.ID)
	require.NoError(t, err)
	assert.Nil(t, rearmed.DisabledUntil)
	assert.Equal(t, 0, rearmed.ConsecutiveFailures)

	// A success resets counters and folds in the job counts.
	updated, err = storage.RecordScrapeResult(ctx, source.ID, 12, 3, nil, 3, 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 12, updated.TotalJobsFound)
	assert.Equal(t, 3, updated.TotalJobsMatched)
	require.NotNil(t, updated.LastScrapedAt)
}
