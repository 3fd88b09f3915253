package interfaces

import (
	"context"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// ConfigService serves typed runtime settings from the settings store with
// caching. Updates through Put invalidate the cache and publish
// config_updated so other instances of the service drop theirs too.
type ConfigService interface {
	// Scheduler returns scheduler settings, falling back to defaults for
	// keys never written.
	Scheduler(ctx context.Context) (*models.SchedulerSettings, error)

	// AI returns agent chain, models and pricing settings.
	AI(ctx context.Context) (*models.AISettings, error)

	// Workers returns worker pool and retry settings.
	Workers(ctx context.Context) (*models.WorkerSettings, error)

	// Budget returns per-provider daily cost limits.
	Budget(ctx context.Context) (*models.CostBudget, error)

	// MatchPolicy returns scoring weights, priority bands and skill analogs.
	MatchPolicy(ctx context.Context) (*models.MatchPolicy, error)

	// Prefilter returns the deterministic filter policy.
	Prefilter(ctx context.Context) (*models.PrefilterPolicy, error)

	// Profile returns the candidate profile used for matching.
	Profile(ctx context.Context) (*models.CandidateProfile, error)

	// Put validates and persists one settings document under its key and
	// invalidates the cache.
	Put(ctx context.Context, key string, value interface{}) error

	// InvalidateCache drops all cached settings, forcing a re-read on next
	// access.
	InvalidateCache()

	// Close unsubscribes from events and cleans up resources
	Close() error
}
