// -----------------------------------------------------------------------
// Worker Pool - Claim loop goroutines dispatching items to processors
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Idle polling backoff: start fast, double up to the configured poll
// interval so an empty queue costs almost nothing.
const minIdleBackoff = 100 * time.Millisecond

// Pool runs the claim loops. Each worker goroutine claims the next ready
// item among the types that still have per-type capacity, dispatches it to
// the registered processor under a deadline, and settles the result with
// the queue manager. One crashed item never takes a worker down.
type Pool struct {
	queue      interfaces.QueueManager
	processors interfaces.ProcessorRegistry
	config     interfaces.ConfigService
	logger     arbor.ILogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	settings *models.WorkerSettings
	slots    map[models.QueueItemType]chan struct{}
	active   atomic.Int32
}

// NewPool wires the pool; Start sizes it from worker settings.
func NewPool(queue interfaces.QueueManager, processors interfaces.ProcessorRegistry, config interfaces.ConfigService, logger arbor.ILogger) *Pool {
	return &Pool{
		queue:      queue,
		processors: processors,
		config:     config,
		logger:     logger,
	}
}

// Start reads worker settings and launches the claim loops. Concurrency
// changes require a restart; the loops snapshot settings here.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Msg("Worker pool already running")
		return nil
	}

	settings, err := p.config.Workers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker settings: %w", err)
	}
	p.settings = settings

	p.slots = make(map[models.QueueItemType]chan struct{})
	for _, t := range p.processors.Types() {
		p.slots[t] = make(chan struct{}, settings.ConcurrencyFor(t))
	}
	if len(p.slots) == 0 {
		return fmt.Errorf("no processors registered")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	for i := 0; i < settings.MaxConcurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(loopCtx, fmt.Sprintf("worker-%d", i+1))
	}

	p.logger.Info().
		Int("workers", settings.MaxConcurrency).
		Int("types", len(p.slots)).
		Msg("Worker pool started")
	return nil
}

// Stop cancels the claim loops and waits for in-flight items to settle.
// Items interrupted mid-processing are released back to PENDING without
// consuming an attempt.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping worker pool...")
	cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

// Running reports whether the claim loops are live.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ActiveWorkers returns how many items are being processed right now.
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// WorkerCount returns the number of claim loop goroutines.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings == nil {
		return 0
	}
	return p.settings.MaxConcurrency
}

// runWorker is one claim loop. The outer recover keeps a bug in the loop
// itself from silently shrinking the pool: the goroutine logs and respawns.
func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("worker_id", workerID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Msg("Worker loop panicked, respawning")
			p.wg.Add(1)
			go p.runWorker(ctx, workerID)
		}
	}()

	p.logger.Debug().Str("worker_id", workerID).Msg("Worker started")

	backoff := minIdleBackoff
	maxBackoff := p.settings.PollInterval()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Str("worker_id", workerID).Msg("Worker stopping")
			return
		default:
		}

		if p.claimAndProcess(ctx, workerID) {
			backoff = minIdleBackoff
			if delay := p.settings.TaskDelay(); delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// claimAndProcess pulls and settles one item. Returns false when nothing
// was claimable so the loop backs off.
func (p *Pool) claimAndProcess(ctx context.Context, workerID string) bool {
	types := p.typesWithCapacity()
	if len(types) == 0 {
		return false
	}

	item, err := p.queue.Claim(ctx, workerID, types)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Claim failed")
		}
		return false
	}
	if item == nil {
		return false
	}

	proc, ok := p.processors.Get(item.Type)
	slot := p.slots[item.Type]
	if !ok || slot == nil {
		// Releasing an item whose lane is gone would just recycle it
		// forever; fail it through normal queue policy instead.
		perr := models.NewPipelineErrorMsg(models.ErrKindParseError, "worker.dispatch",
			fmt.Sprintf("no processor for type %s", item.Type))
		if ferr := p.queue.Fail(settleCtx(), item, perr); ferr != nil {
			p.logger.Error().Err(ferr).Str("item_id", item.ID).Msg("Failed to fail undispatchable item")
		}
		return true
	}

	select {
	case slot <- struct{}{}:
	default:
		// Lost the race for the type's last slot between the capacity check
		// and the claim; hand the item back without burning an attempt.
		if rerr := p.queue.Release(settleCtx(), item); rerr != nil {
			p.logger.Warn().Err(rerr).Str("item_id", item.ID).Msg("Failed to release over-capacity item")
		}
		return true
	}

	p.processItem(ctx, workerID, item, proc, slot)
	return true
}

// typesWithCapacity filters the registered lanes down to those with a free
// concurrency slot, in canonical dispatch order.
func (p *Pool) typesWithCapacity() []models.QueueItemType {
	var out []models.QueueItemType
	for _, t := range p.processors.Types() {
		slot := p.slots[t]
		if len(slot) < cap(slot) {
			out = append(out, t)
		}
	}
	return out
}

// processItem dispatches one claimed item to its processor and settles the
// result. A panic inside a processor fails the item through normal queue
// policy and the worker moves on.
func (p *Pool) processItem(ctx context.Context, workerID string, item *models.QueueItem, proc interfaces.Processor, slot chan struct{}) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() { <-slot }()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("worker_id", workerID).
				Str("item_id", item.ID).
				Str("type", string(item.Type)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Msg("Processor panicked")

			procErr := models.NewPipelineErrorMsg(models.ErrKindTransient, "worker.process",
				fmt.Sprintf("processor panicked: %v", r))
			if ferr := p.queue.Fail(settleCtx(), item, procErr); ferr != nil {
				p.logger.Error().Err(ferr).Str("item_id", item.ID).Msg("Failed to settle panicked item")
			}
		}
	}()

	if err := p.queue.StartProcessing(ctx, item); err != nil {
		// Likely lost the lease to the reclamation sweep; the item belongs
		// to someone else now.
		p.logger.Warn().Err(err).
			Str("worker_id", workerID).
			Str("item_id", item.ID).
			Msg("Failed to mark item processing")
		return
	}

	p.logger.Info().
		Str("worker_id", workerID).
		Str("item_id", item.ID).
		Str("type", string(item.Type)).
		Str("sub_type", string(item.SubType)).
		Int("attempt", item.Attempts).
		Msg("Item started")

	started := time.Now()
	procCtx, cancelProc := context.WithTimeout(ctx, timeoutFor(p.settings, item))
	outcome, err := proc.Process(procCtx, item)
	cancelProc()
	elapsed := time.Since(started)

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-flight: give the item back instead of charging
			// the attempt to the cancellation.
			if rerr := p.queue.Release(settleCtx(), item); rerr != nil {
				p.logger.Warn().Err(rerr).Str("item_id", item.ID).Msg("Failed to release item on shutdown")
			}
			return
		}

		p.logger.Warn().
			Str("worker_id", workerID).
			Str("item_id", item.ID).
			Str("type", string(item.Type)).
			Str("sub_type", string(item.SubType)).
			Str("kind", string(models.KindOf(err))).
			Dur("duration", elapsed).
			Err(err).
			Msg("Item failed")

		if ferr := p.queue.Fail(settleCtx(), item, err); ferr != nil {
			p.logger.Error().Err(ferr).Str("item_id", item.ID).Msg("Failed to settle failed item")
		}
		return
	}

	children, err := p.queue.Complete(settleCtx(), item, outcome)
	if err != nil {
		p.logger.Error().Err(err).Str("item_id", item.ID).Msg("Failed to complete item")
		return
	}

	p.logger.Info().
		Str("worker_id", workerID).
		Str("item_id", item.ID).
		Str("type", string(item.Type)).
		Str("sub_type", string(item.SubType)).
		Int("children", len(children)).
		Dur("duration", elapsed).
		Msg("Item completed")
}

// settleCtx returns an independent context for queue bookkeeping. Settles
// are local store writes that must land even while the pool context is
// shutting down; otherwise items sit in PROCESSING until lease reclamation.
func settleCtx() context.Context {
	return context.Background()
}

// timeoutFor picks the dispatch deadline for an item. Steps that can reach
// a provider, and the multi-endpoint discovery probe, get the longer agent
// budget; fetch- and store-bound steps get the fetch budget.
func timeoutFor(settings *models.WorkerSettings, item *models.QueueItem) time.Duration {
	switch item.SubType {
	case models.SubTypeExtract, models.SubTypeAnalyze, models.SubTypeProbe:
		return settings.AgentTimeout()
	default:
		return settings.FetchTimeout()
	}
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
