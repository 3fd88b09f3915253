// -----------------------------------------------------------------------
// Status Service - Aggregated pipeline, pool and scheduler state
// -----------------------------------------------------------------------

package status

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Application states derived from pool liveness.
const (
	StateStopped    = "stopped"
	StateIdle       = "idle"
	StateProcessing = "processing"
)

// WorkerPool is the slice of the pool the status service reports on.
type WorkerPool interface {
	Running() bool
	ActiveWorkers() int
	WorkerCount() int
}

// PoolStatus reports worker pool liveness.
type PoolStatus struct {
	Running bool `json:"running"`
	Active  int  `json:"active"`
	Size    int  `json:"size"`
}

// SchedulerState reports the cron surface.
type SchedulerState struct {
	Running bool                              `json:"running"`
	Tasks   map[string]*interfaces.TaskStatus `json:"tasks,omitempty"`
}

// SourceHealth is one source's scrape health for the status surface.
type SourceHealth struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastScrapedAt       *time.Time `json:"last_scraped_at,omitempty"`
	DisabledUntil       *time.Time `json:"disabled_until,omitempty"`
	TotalJobsFound      int        `json:"total_jobs_found"`
}

// SystemStatus is the full status payload behind /api/stats.
type SystemStatus struct {
	State         string                `json:"state"`
	Pipeline      *models.PipelineStats `json:"pipeline"`
	Pool          PoolStatus            `json:"pool"`
	Scheduler     SchedulerState        `json:"scheduler"`
	Sources       []SourceHealth        `json:"sources"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
}

// Service aggregates store counters and component liveness into one
// snapshot.
type Service struct {
	queue     interfaces.QueueManager
	store     interfaces.StorageManager
	config    interfaces.ConfigService
	scheduler interfaces.SchedulerService
	pool      WorkerPool
	logger    arbor.ILogger
	startedAt time.Time
}

// NewService wires the status service.
func NewService(queue interfaces.QueueManager, store interfaces.StorageManager, config interfaces.ConfigService, scheduler interfaces.SchedulerService, pool WorkerPool, logger arbor.ILogger) *Service {
	return &Service{
		queue:     queue,
		store:     store,
		config:    config,
		scheduler: scheduler,
		pool:      pool,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// GetStats assembles the full system snapshot. Every counter comes from the
// stores at call time; nothing is cached.
func (s *Service) GetStats(ctx context.Context) (*SystemStatus, error) {
	queueStats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	listings, err := s.store.ListingStorage().CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	matches, err := s.store.MatchStorage().CountMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count matches: %w", err)
	}

	companies, err := s.store.CompanyStorage().CountCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count companies: %w", err)
	}

	busy, err := s.store.QueueStorage().CountActiveByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count active items: %w", err)
	}

	sources, err := s.store.SourceStorage().ListSources(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	costs, err := s.dailyCosts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	health := make([]SourceHealth, 0, len(sources))
	cooling := 0
	for _, src := range sources {
		if src.CircuitOpen(now) {
			cooling++
		}
		health = append(health, SourceHealth{
			ID:                  src.ID,
			Name:                src.Name,
			Enabled:             src.Enabled,
			ConsecutiveFailures: src.ConsecutiveFailures,
			LastScrapedAt:       src.LastScrapedAt,
			DisabledUntil:       src.DisabledUntil,
			TotalJobsFound:      src.TotalJobsFound,
		})
	}

	pool := PoolStatus{
		Running: s.pool.Running(),
		Active:  s.pool.ActiveWorkers(),
		Size:    s.pool.WorkerCount(),
	}

	return &SystemStatus{
		State:     stateOf(pool),
		Pipeline: &models.PipelineStats{
			Queue:         *queueStats,
			Listings:      listings,
			Matches:       matches,
			Companies:     companies,
			Sources:       len(sources),
			SourcesOnCool: cooling,
			DailyCosts:    costs,
			Workers:       busy,
			GeneratedAt:   now,
		},
		Pool: pool,
		Scheduler: SchedulerState{
			Running: s.scheduler.IsRunning(),
			Tasks:   s.scheduler.GetAllTaskStatuses(),
		},
		Sources:       health,
		UptimeSeconds: int64(now.Sub(s.startedAt).Seconds()),
	}, nil
}

// Health reports whether the store answers. Backs the health endpoint; a
// failure means the process should be restarted, not that work is behind.
func (s *Service) Health(ctx context.Context) error {
	if _, err := s.queue.Stats(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return nil
}

// dailyCosts sums today's ledger by provider, with today resolved in the
// scheduler timezone to line up with budget rollover.
func (s *Service) dailyCosts(ctx context.Context) (map[string]float64, error) {
	settings, err := s.config.Scheduler(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduler settings: %w", err)
	}

	date := time.Now().In(settings.Location()).Format("2006-01-02")
	entries, err := s.store.CostStorage().ListDailyCosts(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily costs: %w", err)
	}

	costs := make(map[string]float64, len(entries))
	for _, entry := range entries {
		costs[entry.Provider] += entry.Cost
	}
	return costs, nil
}

func stateOf(pool PoolStatus) string {
	switch {
	case !pool.Running:
		return StateStopped
	case pool.Active > 0:
		return StateProcessing
	default:
		return StateIdle
	}
}
