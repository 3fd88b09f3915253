package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
	badgerstore "github.com/Jdubz/job-finder-worker-sub011/internal/storage/badger"
)

// stubConfig serves fixed settings without a store behind it.
type stubConfig struct {
	workers   *models.WorkerSettings
	scheduler *models.SchedulerSettings
}

func newStubConfig() *stubConfig {
	return &stubConfig{
		workers:   models.DefaultWorkerSettings(),
		scheduler: models.DefaultSchedulerSettings(),
	}
}

func (s *stubConfig) Scheduler(ctx context.Context) (*models.SchedulerSettings, error) {
	return s.scheduler, nil
}
func (s *stubConfig) AI(ctx context.Context) (*models.AISettings, error) {
	return models.DefaultAISettings(), nil
}
func (s *stubConfig) Workers(ctx context.Context) (*models.WorkerSettings, error) {
	return s.workers, nil
}
func (s *stubConfig) Budget(ctx context.Context) (*models.CostBudget, error) {
	return models.DefaultCostBudget(), nil
}
func (s *stubConfig) MatchPolicy(ctx context.Context) (*models.MatchPolicy, error) {
	return models.DefaultMatchPolicy(), nil
}
func (s *stubConfig) Prefilter(ctx context.Context) (*models.PrefilterPolicy, error) {
	return models.DefaultPrefilterPolicy(), nil
}
func (s *stubConfig) Profile(ctx context.Context) (*models.CandidateProfile, error) {
	return &models.CandidateProfile{Name: "Test", Skills: []models.ProfileSkill{{Name: "go", Years: 5}}}, nil
}
func (s *stubConfig) Put(ctx context.Context, key string, value interface{}) error { return nil }
func (s *stubConfig) InvalidateCache()                                             {}
func (s *stubConfig) Close() error                                                 { return nil }

func newTestManager(t *testing.T) (*Manager, interfaces.QueueStorage, *stubConfig) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	storage := badgerstore.NewQueueStorage(db, logger)
	cfg := newStubConfig()
	return NewManager(storage, cfg, nil, logger), storage, cfg
}

func TestSubmitDeduplicatesActiveItems(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/abc", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	second, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/abc?utm_source=mail", nil, models.OriginUserSubmission)
	require.ErrorIs(t, err, interfaces.ErrDuplicateItem)
	assert.Equal(t, first, second, "dedup hit must return the active item's id")

	// Repeated dedup hits keep converging on the same id.
	third, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/abc", nil, models.OriginAutomatedScan)
	require.ErrorIs(t, err, interfaces.ErrDuplicateItem)
	assert.Equal(t, first, third)
}

func TestSubmitDedupFreedByTerminalState(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/x", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, first, item.ID)

	_, err = mgr.Complete(ctx, item, nil)
	require.NoError(t, err)

	second, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/x", nil, models.OriginUserSubmission)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "terminal items free their dedup key")
}

func TestCompleteFansOutWithLineage(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	rootID, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/1", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, item)

	children, err := mgr.Complete(ctx, item, &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeJob,
			SubType: models.SubTypeExtract,
			URL:     item.URL,
			Payload: map[string]interface{}{models.PayloadListingID: "job_1"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, children, 1)

	parent, err := storage.GetItem(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, parent.Status)

	child, err := storage.GetItem(ctx, children[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, child.Status)
	assert.Equal(t, rootID, child.ParentID)
	assert.Equal(t, rootID, child.RootID)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, models.OriginFanOut, child.Origin)
}

func TestCompleteFilteredOutcome(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFilter, "https://example.com/jobs/intern", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, item)

	children, err := mgr.Complete(ctx, item, &interfaces.Outcome{
		Filtered: true,
		Reason:   `excluded keyword "intern"`,
		Children: []interfaces.ChildSpec{{Type: models.ItemTypeJob, SubType: models.SubTypeAnalyze, URL: item.URL}},
	})
	require.NoError(t, err)
	assert.Empty(t, children, "only SUCCESS fans out")

	filtered, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFiltered, filtered.Status)
	assert.Contains(t, filtered.ErrorDetails, "intern")
}

// The JOB lane walks FETCH through SAVE over one URL. The loop guard keys
// on (type, subType) steps, so the shared URL must never trip it.
func TestLaneProgressionOverOneURLNotTreatedAsLoop(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	const url = "https://example.com/jobs/lane"
	steps := []models.QueueSubType{
		models.SubTypeExtract,
		models.SubTypeFilter,
		models.SubTypeAnalyze,
		models.SubTypeSave,
	}

	rootID, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, url, nil, models.OriginUserSubmission)
	require.NoError(t, err)

	for _, next := range steps {
		item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
		require.NoError(t, err)
		require.NotNil(t, item, "expected a claimable item before step %s", next)

		inserted, err := mgr.Complete(ctx, item, &interfaces.Outcome{
			Children: []interfaces.ChildSpec{{Type: models.ItemTypeJob, SubType: next, URL: url}},
		})
		require.NoError(t, err)
		require.Len(t, inserted, 1, "step %s must survive the loop guard", next)
	}

	// Final SAVE completes without children.
	last, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, models.SubTypeSave, last.SubType)
	_, err = mgr.Complete(ctx, last, nil)
	require.NoError(t, err)

	lineage, err := storage.ListByRoot(ctx, rootID)
	require.NoError(t, err)
	assert.Len(t, lineage, 5)
	for _, it := range lineage {
		assert.Equal(t, models.StatusSuccess, it.Status)
	}
}

func TestLoopGuardDropsRepeatedStep(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	rootID, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/loop", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	inserted, err := mgr.Complete(ctx, item, &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{Type: models.ItemTypeJob, SubType: models.SubTypeExtract, URL: item.URL}},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1)

	// EXTRACT trying to fan out FETCH again repeats a lineage step.
	child, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, child)
	inserted, err = mgr.Complete(ctx, child, &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{Type: models.ItemTypeJob, SubType: models.SubTypeFetch, URL: child.URL}},
	})
	require.NoError(t, err)
	assert.Empty(t, inserted, "repeated (type, subType) must be dropped")

	lineage, err := storage.ListByRoot(ctx, rootID)
	require.NoError(t, err)
	assert.Len(t, lineage, 2)
}

func TestSameStepPaginationExemptFromLoopGuard(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	payload := map[string]interface{}{models.PayloadSourceID: "src_1"}
	_, err := mgr.Submit(ctx, models.ItemTypeScrapeSource, models.SubTypeFetchPage, "", payload, models.OriginScheduled)
	require.NoError(t, err)

	page1, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, page1)

	inserted, err := mgr.Complete(ctx, page1, &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:     models.ItemTypeScrapeSource,
			SubType:  models.SubTypeFetchPage,
			Payload:  map[string]interface{}{models.PayloadSourceID: "src_1", models.PayloadCursor: "page-2"},
			SameStep: true,
		}},
	})
	require.NoError(t, err)
	require.Len(t, inserted, 1, "pagination re-enqueue of the same step must pass")

	page2, err := storage.GetItem(ctx, inserted[0])
	require.NoError(t, err)
	assert.Equal(t, page1.Depth, page2.Depth, "pagination must not consume lineage depth")
	assert.Equal(t, page1.ID, page2.ParentID)
}

func TestDepthBoundBlocksParent(t *testing.T) {
	mgr, storage, cfg := newTestManager(t)
	cfg.workers.MaxDepth = 2
	ctx := context.Background()

	_, err := mgr.Submit(ctx, models.ItemTypeCompany, models.SubTypeFetch, "", map[string]interface{}{models.PayloadCompanyName: "Acme"}, models.OriginUserSubmission)
	require.NoError(t, err)

	// Walk the lineage down to the depth limit.
	steps := []models.QueueSubType{models.SubTypeExtract, models.SubTypeEnrich}
	for _, next := range steps {
		item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
		require.NoError(t, err)
		require.NotNil(t, item)
		inserted, err := mgr.Complete(ctx, item, &interfaces.Outcome{
			Children: []interfaces.ChildSpec{{
				Type:    models.ItemTypeCompany,
				SubType: next,
				Payload: map[string]interface{}{models.PayloadCompanyName: "Acme"},
			}},
		})
		require.NoError(t, err)
		require.Len(t, inserted, 1)
	}

	// The item at depth 2 fanning out to depth 3 crosses MaxDepth=2.
	deepest, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, deepest)
	require.Equal(t, 2, deepest.Depth)

	inserted, err := mgr.Complete(ctx, deepest, &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeCompany,
			SubType: models.SubTypeDiscoverSources,
			Payload: map[string]interface{}{models.PayloadCompanyName: "Acme"},
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, inserted)

	blocked, err := storage.GetItem(ctx, deepest.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, blocked.Status)
	assert.Equal(t, models.ErrKindMaxDepthExceeded, blocked.ErrorKind)
}

func TestFailTransientReschedulesWithBackoff(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/r", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, item)

	before := time.Now()
	err = mgr.Fail(ctx, item, models.NewPipelineErrorMsg(models.ErrKindTransient, "scraper.FetchPage", "connection reset"))
	require.NoError(t, err)

	failed, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, failed.Status)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, models.ErrKindTransient, failed.ErrorKind)
	assert.True(t, failed.NextAttemptAt.After(before), "retry must be scheduled in the future")

	// A future nextAttemptAt makes the item unclaimable.
	next, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestFailExhaustedAttemptsLandsFailed(t *testing.T) {
	mgr, storage, cfg := newTestManager(t)
	cfg.workers.MaxAttempts = 2
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/f", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	for attempt := 1; attempt <= 2; attempt++ {
		item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
		require.NoError(t, err)
		require.NotNil(t, item, "attempt %d should claim", attempt)

		// Pull the retry forward so the next claim sees it.
		err = mgr.Fail(ctx, item, models.NewPipelineErrorMsg(models.ErrKindTransient, "scraper.FetchPage", "timeout"))
		require.NoError(t, err)
		if attempt == 1 {
			_, err = storage.TransitionItem(ctx, id, models.StatusPending, models.StatusPending, func(it *models.QueueItem) {
				it.NextAttemptAt = time.Now().Add(-time.Second)
			})
			require.NoError(t, err)
		}
	}

	final, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, 2, final.Attempts)
	assert.NotEmpty(t, final.ErrorDetails)
}

func TestFailNotFoundSkipsTerminally(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/404", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	err = mgr.Fail(ctx, item, models.NewPipelineErrorMsg(models.ErrKindNotFound, "scraper.FetchListing", "404"))
	require.NoError(t, err)

	skipped, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, skipped.Status)
	assert.Equal(t, models.ErrKindNotFound, skipped.ErrorKind)
}

func TestFailBudgetExhaustedParksUntilMidnight(t *testing.T) {
	mgr, storage, cfg := newTestManager(t)
	cfg.scheduler.Timezone = "UTC"
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeAnalyze, "https://example.com/jobs/b", nil, models.OriginFanOut)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.Equal(t, 1, item.Attempts)

	err = mgr.Fail(ctx, item, models.NewPipelineErrorMsg(models.ErrKindBudgetExhausted, "agents.Generate", "daily budget spent"))
	require.NoError(t, err)

	parked, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, parked.Status)
	assert.Equal(t, 0, parked.Attempts, "budget stop must not burn an attempt")

	wantWake := nextLocalMidnight(time.Now(), time.UTC)
	assert.WithinDuration(t, wantWake, parked.NextAttemptAt, time.Minute)
}

func TestFailStaleStateReleasesWithoutAttempt(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/s", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	require.Equal(t, 1, item.Attempts)

	err = mgr.Fail(ctx, item, models.NewPipelineErrorMsg(models.ErrKindStaleState, "storage.TransitionItem", "raced"))
	require.NoError(t, err)

	released, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, released.Status)
	assert.Equal(t, 0, released.Attempts)
}

func TestReclaimExpiredLeases(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeAnalyze, "https://example.com/jobs/crash", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w-dead", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, item)

	// Fresh lease: nothing to reclaim.
	n, err := mgr.ReclaimExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Simulate the worker dying and the lease lapsing.
	n, err = storage.ReclaimExpiredLeases(ctx, -time.Second, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	revived, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, revived.Status)
	assert.Equal(t, 1, revived.Attempts, "reclaim leaves the claim's attempt in place")
	assert.Empty(t, revived.ClaimedBy)

	// The next worker picks it up again.
	again, err := mgr.Claim(ctx, "w2", models.AllItemTypes)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, id, again.ID)
	assert.Equal(t, "w2", again.ClaimedBy)
}

func TestCancelAndRetry(t *testing.T) {
	mgr, storage, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/c", nil, models.OriginUserSubmission)
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(ctx, id))
	cancelled, err := storage.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, cancelled.Status)

	// Terminal SKIPPED is not retryable through the operator path.
	assert.Error(t, mgr.Retry(ctx, id))

	// Drive a second item to FAILED, then retry it.
	id2, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/c2", nil, models.OriginUserSubmission)
	require.NoError(t, err)
	item, err := mgr.Claim(ctx, "w1", models.AllItemTypes)
	require.NoError(t, err)
	_, err = storage.TransitionItem(ctx, item.ID, models.StatusClaimed, models.StatusFailed, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Retry(ctx, id2))
	retried, err := storage.GetItem(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, retried.Status)
	assert.Zero(t, retried.Attempts)
	assert.Empty(t, retried.ErrorDetails)
}

// Property: at most one worker ever holds an item. Concurrent claimers over
// a small backlog must produce disjoint claims.
func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	const items = 8
	const claimers = 16

	for i := 0; i < items; i++ {
		_, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, fmt.Sprintf("https://example.com/jobs/%d", i), nil, models.OriginUserSubmission)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	claimed := make(map[string]string)

	var wg sync.WaitGroup
	for w := 0; w < claimers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				item, err := mgr.Claim(ctx, fmt.Sprintf("w%d", worker), models.AllItemTypes)
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if item == nil {
					return
				}
				mu.Lock()
				owner, seen := claimed[item.ID]
				if seen {
					mu.Unlock()
					t.Errorf("item %s claimed twice: %s and w%d", item.ID, owner, worker)
					return
				}
				claimed[item.ID] = item.ClaimedBy
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, claimed, items, "every item claimed exactly once")
}

func TestStatsCountsByStatusAndType(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, "https://example.com/jobs/s1", nil, models.OriginUserSubmission)
	require.NoError(t, err)
	_, err = mgr.Submit(ctx, models.ItemTypeCompany, models.SubTypeFetch, "", map[string]interface{}{models.PayloadCompanyName: "Acme"}, models.OriginUserSubmission)
	require.NoError(t, err)

	item, err := mgr.Claim(ctx, "w1", []models.QueueItemType{models.ItemTypeJob})
	require.NoError(t, err)
	require.NotNil(t, item)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[models.StatusClaimed])
	assert.Equal(t, 1, stats.ByType[models.ItemTypeJob])
	assert.Equal(t, 1, stats.ByType[models.ItemTypeCompany])
}
