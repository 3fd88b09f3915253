// -----------------------------------------------------------------------
// Worker Pool Tests - Scripted queue and lanes, real registry
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
	"github.com/Jdubz/job-finder-worker-sub011/internal/processors"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// poolConfig serves fixed worker settings; the pool never touches the rest.
type poolConfig struct {
	workers *models.WorkerSettings
}

func (c *poolConfig) Scheduler(context.Context) (*models.SchedulerSettings, error) {
	return models.DefaultSchedulerSettings(), nil
}
func (c *poolConfig) AI(context.Context) (*models.AISettings, error) {
	return models.DefaultAISettings(), nil
}
func (c *poolConfig) Workers(context.Context) (*models.WorkerSettings, error) {
	return c.workers, nil
}
func (c *poolConfig) Budget(context.Context) (*models.CostBudget, error) {
	return models.DefaultCostBudget(), nil
}
func (c *poolConfig) MatchPolicy(context.Context) (*models.MatchPolicy, error) {
	return models.DefaultMatchPolicy(), nil
}
func (c *poolConfig) Prefilter(context.Context) (*models.PrefilterPolicy, error) {
	return models.DefaultPrefilterPolicy(), nil
}
func (c *poolConfig) Profile(context.Context) (*models.CandidateProfile, error) {
	return &models.CandidateProfile{}, nil
}
func (c *poolConfig) Put(context.Context, string, interface{}) error { return nil }
func (c *poolConfig) InvalidateCache()                               {}
func (c *poolConfig) Close() error                                   { return nil }

func testSettings(maxConcurrency int, perType map[string]int) *models.WorkerSettings {
	s := models.DefaultWorkerSettings()
	s.MaxConcurrency = maxConcurrency
	s.TaskDelaySeconds = 0
	if perType != nil {
		s.PerTypeConcurrency = perType
	}
	return s
}

type settledItem struct {
	item    *models.QueueItem
	outcome *interfaces.Outcome
}

type failedItem struct {
	item *models.QueueItem
	err  error
}

// fakeQueue hands out scripted pending items and records every settle call.
// Release puts the item back so over-capacity bounces still converge.
type fakeQueue struct {
	mu           sync.Mutex
	pending      []*models.QueueItem
	started      []string
	completed    []settledItem
	failed       []failedItem
	released     []string
	startErr     error
	serveAnyType bool
}

func (q *fakeQueue) Submit(context.Context, models.QueueItemType, models.QueueSubType, string, map[string]interface{}, models.QueueItemOrigin) (string, error) {
	return "", nil
}

func (q *fakeQueue) Claim(_ context.Context, _ string, types []models.QueueItemType) (*models.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.pending {
		if q.serveAnyType || typeIn(it.Type, types) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			it.Status = models.StatusClaimed
			it.Attempts++
			return it, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) StartProcessing(_ context.Context, item *models.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.startErr != nil {
		return q.startErr
	}
	item.Status = models.StatusProcessing
	q.started = append(q.started, item.ID)
	return nil
}

func (q *fakeQueue) Complete(_ context.Context, item *models.QueueItem, outcome *interfaces.Outcome) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = models.StatusSuccess
	q.completed = append(q.completed, settledItem{item: item, outcome: outcome})
	var ids []string
	if outcome != nil {
		for range outcome.Children {
			ids = append(ids, "item_child")
		}
	}
	return ids, nil
}

func (q *fakeQueue) Fail(_ context.Context, item *models.QueueItem, procErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = models.StatusFailed
	q.failed = append(q.failed, failedItem{item: item, err: procErr})
	return nil
}

func (q *fakeQueue) Release(_ context.Context, item *models.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.Status = models.StatusPending
	q.released = append(q.released, item.ID)
	q.pending = append(q.pending, item)
	return nil
}

func (q *fakeQueue) ReclaimExpired(context.Context, time.Duration) (int, error) { return 0, nil }
func (q *fakeQueue) Cancel(context.Context, string) error                       { return nil }
func (q *fakeQueue) Retry(context.Context, string) error                        { return nil }
func (q *fakeQueue) Stats(context.Context) (*models.QueueStats, error) {
	return &models.QueueStats{}, nil
}

func (q *fakeQueue) completedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed)
}

func (q *fakeQueue) failedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.failed)
}

func (q *fakeQueue) releasedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.released)
}

func (q *fakeQueue) startedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.started)
}

func (q *fakeQueue) failures() []failedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]failedItem, len(q.failed))
	copy(out, q.failed)
	return out
}

func (q *fakeQueue) settled() []settledItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]settledItem, len(q.completed))
	copy(out, q.completed)
	return out
}

func typeIn(t models.QueueItemType, types []models.QueueItemType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// laneStub is a scripted processor. A non-nil gate blocks Process until the
// gate closes or the dispatch context expires; panics counts down panic
// calls before normal behavior resumes.
type laneStub struct {
	itemType models.QueueItemType
	outcome  *interfaces.Outcome
	err      error
	gate     chan struct{}

	mu     sync.Mutex
	calls  []*models.QueueItem
	panics int

	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newLaneStub(itemType models.QueueItemType) *laneStub {
	return &laneStub{itemType: itemType, outcome: &interfaces.Outcome{}}
}

func (s *laneStub) ItemType() models.QueueItemType { return s.itemType }

func (s *laneStub) Process(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if cur <= seen || s.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, item)
	shouldPanic := s.panics > 0
	if shouldPanic {
		s.panics--
	}
	s.mu.Unlock()

	if shouldPanic {
		panic("boom")
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.outcome, s.err
}

func (s *laneStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func startPool(t *testing.T, queue *fakeQueue, settings *models.WorkerSettings, lanes ...*laneStub) *Pool {
	t.Helper()
	registry := processors.NewRegistry()
	for _, lane := range lanes {
		registry.Register(lane)
	}
	pool := NewPool(queue, registry, &poolConfig{workers: settings}, arbor.NewLogger())
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(pool.Stop)
	return pool
}

func jobFetchItem(n int) *models.QueueItem {
	return models.NewQueueItem(models.ItemTypeJob, models.SubTypeFetch, models.OriginUserSubmission,
		fmt.Sprintf("https://boards.example.com/jobs/%d", n), nil)
}

func TestPoolStartAndStop(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	pool := startPool(t, &fakeQueue{}, testSettings(2, nil), lane)

	assert.True(t, pool.Running())
	assert.Equal(t, 2, pool.WorkerCount())

	pool.Stop()
	assert.False(t, pool.Running())
	pool.Stop() // second stop is a no-op
}

func TestPoolStartTwiceIsNoop(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	pool := startPool(t, &fakeQueue{}, testSettings(1, nil), lane)

	require.NoError(t, pool.Start(context.Background()))
	assert.True(t, pool.Running())
	assert.Equal(t, 1, pool.WorkerCount())
}

func TestPoolStartWithoutProcessorsFails(t *testing.T) {
	pool := NewPool(&fakeQueue{}, processors.NewRegistry(), &poolConfig{workers: testSettings(1, nil)}, arbor.NewLogger())

	err := pool.Start(context.Background())
	require.Error(t, err)
	assert.False(t, pool.Running())
}

func TestPoolProcessesItemToCompletion(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	lane.outcome = &interfaces.Outcome{Children: []interfaces.ChildSpec{
		{Type: models.ItemTypeJob, SubType: models.SubTypeExtract, URL: "https://boards.example.com/jobs/1"},
	}}
	item := jobFetchItem(1)
	queue := &fakeQueue{pending: []*models.QueueItem{item}}

	startPool(t, queue, testSettings(1, nil), lane)

	require.Eventually(t, func() bool { return queue.completedCount() == 1 }, waitFor, tick)

	assert.Equal(t, 1, queue.startedCount())
	assert.Equal(t, 1, lane.callCount())
	assert.Zero(t, queue.failedCount())

	done := queue.settled()[0]
	assert.Equal(t, item.ID, done.item.ID)
	assert.Same(t, lane.outcome, done.outcome)
}

func TestPoolFailsItemOnProcessorError(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	lane.err = models.NewPipelineErrorMsg(models.ErrKindBlocked, "scrape.fetch", "403 from board")
	queue := &fakeQueue{pending: []*models.QueueItem{jobFetchItem(1)}}

	startPool(t, queue, testSettings(1, nil), lane)

	require.Eventually(t, func() bool { return queue.failedCount() == 1 }, waitFor, tick)

	failure := queue.failures()[0]
	assert.Equal(t, models.ErrKindBlocked, models.KindOf(failure.err))
	assert.Zero(t, queue.completedCount())
}

func TestPoolSurvivesProcessorPanic(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	lane.panics = 1
	queue := &fakeQueue{pending: []*models.QueueItem{jobFetchItem(1), jobFetchItem(2)}}

	startPool(t, queue, testSettings(1, nil), lane)

	// The panicked item fails through queue policy and the worker keeps
	// going: the second item still completes.
	require.Eventually(t, func() bool {
		return queue.failedCount() == 1 && queue.completedCount() == 1
	}, waitFor, tick)

	failure := queue.failures()[0]
	assert.Equal(t, models.ErrKindTransient, models.KindOf(failure.err))
	assert.Contains(t, failure.err.Error(), "processor panicked: boom")
	assert.Equal(t, 2, lane.callCount())
}

func TestPoolReleasesInFlightItemOnStop(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	lane.gate = make(chan struct{})
	item := jobFetchItem(1)
	queue := &fakeQueue{pending: []*models.QueueItem{item}}

	pool := startPool(t, queue, testSettings(1, nil), lane)

	require.Eventually(t, func() bool { return lane.inFlight.Load() == 1 }, waitFor, tick)
	pool.Stop()

	assert.GreaterOrEqual(t, queue.releasedCount(), 1)
	assert.Zero(t, queue.failedCount())
	assert.Zero(t, queue.completedCount())
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestPoolHonorsPerTypeConcurrency(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	lane.gate = make(chan struct{})
	queue := &fakeQueue{pending: []*models.QueueItem{jobFetchItem(1), jobFetchItem(2), jobFetchItem(3)}}

	startPool(t, queue, testSettings(4, map[string]int{string(models.ItemTypeJob): 1}), lane)

	require.Eventually(t, func() bool { return lane.inFlight.Load() == 1 }, waitFor, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), lane.inFlight.Load())
	assert.Equal(t, 1, lane.callCount())

	close(lane.gate)
	require.Eventually(t, func() bool { return queue.completedCount() == 3 }, waitFor, tick)
	assert.Equal(t, int32(1), lane.maxSeen.Load())
}

func TestPoolFailsItemWithoutLane(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	stray := models.NewQueueItem(models.ItemTypeCompany, models.SubTypeEnrich, models.OriginFanOut, "", nil)
	queue := &fakeQueue{pending: []*models.QueueItem{stray}, serveAnyType: true}

	startPool(t, queue, testSettings(1, nil), lane)

	require.Eventually(t, func() bool { return queue.failedCount() == 1 }, waitFor, tick)

	failure := queue.failures()[0]
	assert.Equal(t, models.ErrKindParseError, models.KindOf(failure.err))
	assert.Contains(t, failure.err.Error(), "no processor for type")
	assert.Zero(t, lane.callCount())
}

func TestPoolDropsItemWhenLeaseLost(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	queue := &fakeQueue{
		pending:  []*models.QueueItem{jobFetchItem(1)},
		startErr: errors.New("claim lease expired"),
	}

	pool := startPool(t, queue, testSettings(1, nil), lane)

	// The sweep owns the item now; the worker walks away without settling.
	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.pending) == 0
	}, waitFor, tick)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, lane.callCount())
	assert.Zero(t, queue.failedCount())
	assert.Zero(t, queue.completedCount())
	pool.Stop()
	assert.Zero(t, pool.ActiveWorkers())
}

func TestTimeoutForStepBudgets(t *testing.T) {
	settings := models.DefaultWorkerSettings()

	agentSteps := []models.QueueSubType{models.SubTypeExtract, models.SubTypeAnalyze, models.SubTypeProbe}
	for _, step := range agentSteps {
		item := models.NewQueueItem(models.ItemTypeJob, step, models.OriginFanOut, "", nil)
		assert.Equal(t, settings.AgentTimeout(), timeoutFor(settings, item), "step %s", step)
	}

	fetchSteps := []models.QueueSubType{
		models.SubTypeFetch, models.SubTypeFilter, models.SubTypeSave,
		models.SubTypeFetchPage, models.SubTypeIntake, models.SubTypeClassify, models.SubTypeSeed,
	}
	for _, step := range fetchSteps {
		item := models.NewQueueItem(models.ItemTypeJob, step, models.OriginFanOut, "", nil)
		assert.Equal(t, settings.FetchTimeout(), timeoutFor(settings, item), "step %s", step)
	}
}

func TestPoolTracksActiveWorkers(t *testing.T) {
	lane := newLaneStub(models.ItemTypeJob)
	lane.gate = make(chan struct{})
	queue := &fakeQueue{pending: []*models.QueueItem{jobFetchItem(1), jobFetchItem(2)}}

	pool := startPool(t, queue, testSettings(2, map[string]int{string(models.ItemTypeJob): 2}), lane)

	require.Eventually(t, func() bool { return pool.ActiveWorkers() == 2 }, waitFor, tick)

	close(lane.gate)
	require.Eventually(t, func() bool { return queue.completedCount() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return pool.ActiveWorkers() == 0 }, waitFor, tick)
}
