// -----------------------------------------------------------------------
// Scheduler Service - Cron timers driving scrapes, sweeps and rollovers
// -----------------------------------------------------------------------

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// taskEntry tracks one registered cron task.
type taskEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	enabled     bool
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// Service owns the cron timers: the scrape cycle that enqueues due sources,
// the daily budget rollover announcement, the source cooldown sweep and the
// queue lease reclamation sweep. Hosting code can register extra tasks
// (mailbox polling) through RegisterTask.
type Service struct {
	config  interfaces.ConfigService
	queue   interfaces.QueueManager
	sources interfaces.SourceStorage
	costs   interfaces.CostStorage
	events  interfaces.EventService
	logger  arbor.ILogger

	cron    *cron.Cron
	taskMu  sync.Mutex // protects tasks map and entries
	runMu   sync.Mutex // serializes task execution
	tasks   map[string]*taskEntry
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService wires the scheduler. Start registers the built-in tasks and
// launches the cron loop.
func NewService(config interfaces.ConfigService, queue interfaces.QueueManager, sources interfaces.SourceStorage, costs interfaces.CostStorage, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		config:  config,
		queue:   queue,
		sources: sources,
		costs:   costs,
		events:  events,
		logger:  logger,
		tasks:   make(map[string]*taskEntry),
	}
}

// Start registers the built-in tasks and begins ticking. Schedules are
// derived from settings at start; changing intervals requires a restart,
// while the enabled flag and the daytime window are re-read on every tick.
func (s *Service) Start() error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx := context.Background()
	settings, err := s.config.Scheduler(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduler settings: %w", err)
	}
	workers, err := s.config.Workers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker settings: %w", err)
	}

	s.cron = cron.New(cron.WithLocation(settings.Location()))

	// The scrape tick runs often; per-source due-ness and the daytime
	// window decide whether it does anything.
	tickEvery := settings.ScrapeIntervalMinutes / 4
	if tickEvery < 5 {
		tickEvery = 5
	}
	leaseSweep := workers.LeaseTTL() / 2
	if leaseSweep < 5*time.Second {
		leaseSweep = 5 * time.Second
	}

	builtin := []struct {
		name        string
		schedule    string
		description string
		handler     func() error
	}{
		{"scrape-cycle", fmt.Sprintf("@every %dm", tickEvery), "Enqueue due sources for scraping", s.scrapeTick},
		{"budget-reset", "0 0 * * *", "Announce the daily AI budget rollover", s.budgetResetTick},
		{"cooldown-sweep", "@every 10m", "Re-arm sources whose circuit cooldown has passed", s.cooldownTick},
		{"lease-sweep", fmt.Sprintf("@every %ds", int(leaseSweep.Seconds())), "Reclaim lapsed queue item leases", s.leaseTick},
	}
	for _, task := range builtin {
		if err := s.registerLocked(task.name, task.schedule, task.description, task.handler); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("tasks", len(s.tasks)).
		Str("timezone", settings.Timezone).
		Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits briefly for in-flight ticks.
func (s *Service) Stop() error {
	s.taskMu.Lock()
	if !s.running {
		s.taskMu.Unlock()
		return nil
	}
	s.running = false
	c := s.cron
	s.taskMu.Unlock()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn().Msg("Scheduler tasks did not finish within stop timeout")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if the cron loop is active.
func (s *Service) IsRunning() bool {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.running
}

// TriggerScrapeNow runs a scrape cycle immediately, bypassing the enabled
// flag and the daytime window. Per-source circuit breakers still apply.
func (s *Service) TriggerScrapeNow() error {
	s.logger.Info().Msg("Manual scrape trigger requested")
	return s.scrapeCycle(context.Background(), true)
}

// RegisterTask adds a task to the cron loop. The schedule takes standard
// five-field cron specs and @every descriptors.
func (s *Service) RegisterTask(name string, schedule string, description string, handler func() error) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	return s.registerLocked(name, schedule, description, handler)
}

func (s *Service) registerLocked(name, schedule, description string, handler func() error) error {
	if s.cron == nil {
		return fmt.Errorf("scheduler not started")
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	entry := &taskEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
		enabled:     true,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeTask(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add task %s to cron: %w", name, err)
	}

	entry.cronID = cronID
	s.tasks[name] = entry

	s.logger.Info().
		Str("task", name).
		Str("schedule", schedule).
		Msg("Scheduler task registered")
	return nil
}

// EnableTask re-adds a disabled task to the cron loop.
func (s *Service) EnableTask(name string) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	entry, exists := s.tasks[name]
	if !exists {
		return fmt.Errorf("task %s not found", name)
	}
	if entry.enabled {
		return nil
	}

	cronID, err := s.cron.AddFunc(entry.schedule, func() {
		s.executeTask(name)
	})
	if err != nil {
		return fmt.Errorf("failed to re-add task %s to cron: %w", name, err)
	}

	entry.cronID = cronID
	entry.enabled = true
	s.logger.Info().Str("task", name).Msg("Scheduler task enabled")
	return nil
}

// DisableTask removes a task from the cron loop without forgetting it.
func (s *Service) DisableTask(name string) error {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	entry, exists := s.tasks[name]
	if !exists {
		return fmt.Errorf("task %s not found", name)
	}
	if !entry.enabled {
		return nil
	}

	s.cron.Remove(entry.cronID)
	entry.enabled = false
	s.logger.Info().Str("task", name).Msg("Scheduler task disabled")
	return nil
}

// GetTaskStatus returns the status of one task.
func (s *Service) GetTaskStatus(name string) (*interfaces.TaskStatus, error) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()

	entry, exists := s.tasks[name]
	if !exists {
		return nil, fmt.Errorf("task %s not found", name)
	}

	var nextRun *time.Time
	if entry.enabled {
		for _, cronEntry := range s.cron.Entries() {
			if cronEntry.ID == entry.cronID {
				next := cronEntry.Next
				nextRun = &next
				break
			}
		}
	}

	return &interfaces.TaskStatus{
		Name:        entry.name,
		Enabled:     entry.enabled,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.isRunning,
		LastError:   entry.lastError,
	}, nil
}

// GetAllTaskStatuses returns the status of every registered task.
func (s *Service) GetAllTaskStatuses() map[string]*interfaces.TaskStatus {
	s.taskMu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.taskMu.Unlock()

	statuses := make(map[string]*interfaces.TaskStatus, len(names))
	for _, name := range names {
		if status, err := s.GetTaskStatus(name); err == nil {
			statuses[name] = status
		}
	}
	return statuses
}

// executeTask wraps one tick with serialization, panic recovery and status
// tracking. Ticks are cheap store scans and enqueues; running them one at a
// time keeps their writes from interleaving.
func (s *Service) executeTask(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduler task")

			s.taskMu.Lock()
			if entry, exists := s.tasks[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.taskMu.Unlock()
		}
	}()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.taskMu.Lock()
	entry, exists := s.tasks[name]
	if !exists {
		s.taskMu.Unlock()
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.taskMu.Unlock()

	started := time.Now()
	err := handler()
	finished := time.Now()

	s.taskMu.Lock()
	entry.isRunning = false
	entry.lastRun = &finished
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.taskMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("task", name).
			Dur("duration", finished.Sub(started)).
			Err(err).
			Msg("Scheduler task failed")
		return
	}
	s.logger.Debug().
		Str("task", name).
		Dur("duration", finished.Sub(started)).
		Msg("Scheduler task completed")
}

// scrapeTick is the cron entry for the scrape cycle; the gates live in
// scrapeCycle so a manual trigger can bypass them.
func (s *Service) scrapeTick() error {
	return s.scrapeCycle(context.Background(), false)
}

// scrapeCycle enqueues SCRAPE_SOURCE items for due sources, least recently
// scraped first. Cron ticks honor the enabled flag and the daytime window;
// manual triggers skip both but never the per-source circuit breakers.
func (s *Service) scrapeCycle(ctx context.Context, manual bool) error {
	settings, err := s.config.Scheduler(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduler settings: %w", err)
	}

	now := time.Now()
	if !manual {
		if !settings.Enabled {
			s.logger.Debug().Msg("Scheduler disabled, skipping scrape tick")
			return nil
		}
		if !settings.WithinDaytime(now) {
			s.logger.Debug().
				Int("hour", now.In(settings.Location()).Hour()).
				Msg("Outside daytime window, skipping scrape tick")
			return nil
		}
	}

	candidates, err := s.sources.ListDueSources(ctx, now, settings.MaxSources)
	if err != nil {
		return fmt.Errorf("failed to list due sources: %w", err)
	}

	// Candidates come back least recently scraped first, so the first one
	// still inside the rescrape interval means the rest are too.
	interval := time.Duration(settings.ScrapeIntervalMinutes) * time.Minute
	due := candidates[:0]
	for _, src := range candidates {
		if src.LastScrapedAt != nil && now.Sub(*src.LastScrapedAt) < interval {
			break
		}
		due = append(due, src)
	}

	if len(due) == 0 {
		s.logger.Debug().Msg("No sources due for scraping")
		return nil
	}

	submitted := 0
	for _, src := range due {
		payload := map[string]interface{}{models.PayloadSourceID: src.ID}
		_, err := s.queue.Submit(ctx, models.ItemTypeScrapeSource, models.SubTypeFetchPage, "", payload, models.OriginScheduled)
		if err != nil {
			if errors.Is(err, interfaces.ErrDuplicateItem) {
				// Still queued from a previous tick.
				continue
			}
			s.logger.Warn().Err(err).
				Str("source_id", src.ID).
				Str("source", src.Name).
				Msg("Failed to enqueue source scrape")
			continue
		}
		submitted++
	}

	if submitted > 0 {
		s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventScrapeTriggered,
			Payload: map[string]interface{}{
				"sources": submitted,
				"manual":  manual,
			},
		})
	}

	s.logger.Info().
		Int("due", len(due)).
		Int("submitted", submitted).
		Bool("manual", manual).
		Msg("Scrape cycle completed")
	return nil
}

// budgetResetTick announces the daily ledger rollover. Spend entries are
// keyed by date in the scheduler timezone, so the rollover itself is
// implicit; this tick closes out yesterday's numbers for subscribers.
func (s *Service) budgetResetTick() error {
	ctx := context.Background()
	settings, err := s.config.Scheduler(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduler settings: %w", err)
	}

	now := time.Now().In(settings.Location())
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	var previousSpend float64
	entries, err := s.costs.ListDailyCosts(ctx, yesterday)
	if err != nil {
		s.logger.Warn().Err(err).Str("date", yesterday).Msg("Failed to read closing ledger")
	} else {
		for _, entry := range entries {
			previousSpend += entry.Cost
		}
	}

	s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventBudgetReset,
		Payload: map[string]interface{}{
			"date":           today,
			"previous_date":  yesterday,
			"previous_spend": previousSpend,
		},
	})

	s.logger.Info().
		Str("date", today).
		Float64("previous_spend", previousSpend).
		Msg("Daily AI budget rolled over")
	return nil
}

// cooldownTick re-arms sources whose circuit cooldown has passed.
func (s *Service) cooldownTick() error {
	ctx := context.Background()
	n, err := s.sources.ClearExpiredCooldowns(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to clear source cooldowns: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int("sources", n).Msg("Source cooldowns cleared")
	}
	return nil
}

// leaseTick sweeps CLAIMED items whose lease lapsed back to PENDING so work
// is never lost to a dead worker.
func (s *Service) leaseTick() error {
	ctx := context.Background()
	workers, err := s.config.Workers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker settings: %w", err)
	}

	n, err := s.queue.ReclaimExpired(ctx, workers.LeaseTTL())
	if err != nil {
		return fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	if n > 0 {
		s.logger.Warn().Int("items", n).Msg("Reclaimed lapsed queue leases")
	}
	return nil
}
