// -----------------------------------------------------------------------
// Config Service - Typed runtime settings with cache and change events
// -----------------------------------------------------------------------

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Service serves typed settings documents from the settings store. Reads
// come from a raw-bytes cache and unmarshal fresh per call, so callers can
// never mutate shared state; writes validate, persist, publish
// config_updated and drop the cache.
type Service struct {
	settings interfaces.SettingsStorage
	events   interfaces.EventService
	logger   arbor.ILogger
	validate *validator.Validate

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewService creates a config service. events may be nil in tests; the
// service then skips cache invalidation subscriptions.
func NewService(settings interfaces.SettingsStorage, events interfaces.EventService, logger arbor.ILogger) (*Service, error) {
	if settings == nil {
		return nil, fmt.Errorf("settings storage cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &Service{
		settings: settings,
		events:   events,
		logger:   logger,
		validate: validator.New(),
		cache:    make(map[string][]byte),
	}

	if events != nil {
		if err := events.Subscribe(interfaces.EventConfigUpdated, s.handleConfigUpdated); err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe to config update events")
		}
	}

	return s, nil
}

// Scheduler returns scheduler settings merged over defaults.
func (s *Service) Scheduler(ctx context.Context) (*models.SchedulerSettings, error) {
	out := models.DefaultSchedulerSettings()
	if err := s.load(ctx, models.ConfigKeyScheduler, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AI returns agent chain, model and pricing settings merged over defaults.
func (s *Service) AI(ctx context.Context) (*models.AISettings, error) {
	out := models.DefaultAISettings()
	if err := s.load(ctx, models.ConfigKeyAI, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Workers returns worker pool and retry settings merged over defaults.
func (s *Service) Workers(ctx context.Context) (*models.WorkerSettings, error) {
	out := models.DefaultWorkerSettings()
	if err := s.load(ctx, models.ConfigKeyWorker, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Budget returns per-provider daily cost limits merged over defaults.
func (s *Service) Budget(ctx context.Context) (*models.CostBudget, error) {
	out := models.DefaultCostBudget()
	if err := s.load(ctx, models.ConfigKeyBudget, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MatchPolicy returns scoring weights and rules merged over defaults.
func (s *Service) MatchPolicy(ctx context.Context) (*models.MatchPolicy, error) {
	out := models.DefaultMatchPolicy()
	if err := s.load(ctx, models.ConfigKeyMatch, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Prefilter returns the deterministic filter policy merged over defaults.
func (s *Service) Prefilter(ctx context.Context) (*models.PrefilterPolicy, error) {
	out := models.DefaultPrefilterPolicy()
	if err := s.load(ctx, models.ConfigKeyPrefilter, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Profile returns the candidate profile. Unlike the other keys there is no
// default; an unseeded profile is an error the caller must surface.
func (s *Service) Profile(ctx context.Context) (*models.CandidateProfile, error) {
	raw, err := s.raw(ctx, models.ConfigKeyProfile)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("candidate profile not configured: %w", interfaces.ErrNotFound)
	}
	out := &models.CandidateProfile{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode candidate profile: %w", err)
	}
	return out, nil
}

// Put validates value against the canonical type for key, persists it and
// publishes config_updated.
func (s *Service) Put(ctx context.Context, key string, value interface{}) error {
	canonical, err := s.canonicalize(key, value)
	if err != nil {
		return err
	}

	entry := &models.ConfigEntry{
		Key:       key,
		Value:     canonical,
		UpdatedAt: time.Now(),
	}
	if err := s.settings.PutEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to persist config %s: %w", key, err)
	}

	s.InvalidateCache()
	s.logger.Info().Str("key", key).Msg("Config updated")

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventConfigUpdated,
			Payload: map[string]interface{}{"key": key},
		}); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to publish config update")
		}
	}
	return nil
}

// InvalidateCache drops every cached document, forcing re-reads.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]byte)
}

// Close unsubscribes from events and drops the cache.
func (s *Service) Close() error {
	if s.events != nil {
		if err := s.events.Unsubscribe(interfaces.EventConfigUpdated, s.handleConfigUpdated); err != nil {
			s.logger.Debug().Err(err).Msg("Config update unsubscribe failed")
		}
	}
	s.InvalidateCache()
	return nil
}

// EnsureDefaults seeds every absent settings key with its default document
// so operators see the effective configuration instead of empty keys. The
// candidate profile is seeded separately from YAML.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	defaults := map[string]interface{}{
		models.ConfigKeyScheduler: models.DefaultSchedulerSettings(),
		models.ConfigKeyAI:        models.DefaultAISettings(),
		models.ConfigKeyWorker:    models.DefaultWorkerSettings(),
		models.ConfigKeyBudget:    models.DefaultCostBudget(),
		models.ConfigKeyMatch:     models.DefaultMatchPolicy(),
		models.ConfigKeyPrefilter: models.DefaultPrefilterPolicy(),
	}

	for key, value := range defaults {
		_, err := s.settings.GetEntry(ctx, key)
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("failed to probe config %s: %w", key, err)
		}

		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to encode default %s: %w", key, err)
		}
		if err := s.settings.PutEntry(ctx, &models.ConfigEntry{Key: key, Value: data, UpdatedAt: time.Now()}); err != nil {
			return fmt.Errorf("failed to seed default %s: %w", key, err)
		}
		s.logger.Info().Str("key", key).Msg("Seeded default config")
	}
	return nil
}

// SeedProfileFromYAML loads the candidate profile from a YAML file on
// first boot. An already-stored profile wins; a missing file is skipped so
// the pipeline can start before the operator writes one.
func (s *Service) SeedProfileFromYAML(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if _, err := s.settings.GetEntry(ctx, models.ConfigKeyProfile); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("failed to probe candidate profile: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn().Str("path", path).Msg("Profile seed file not found; matching disabled until one is configured")
			return nil
		}
		return fmt.Errorf("failed to read profile seed %s: %w", path, err)
	}

	profile := &models.CandidateProfile{}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return fmt.Errorf("failed to parse profile seed %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile seed %s: %w", path, err)
	}

	encoded, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode candidate profile: %w", err)
	}
	if err := s.settings.PutEntry(ctx, &models.ConfigEntry{Key: models.ConfigKeyProfile, Value: encoded, UpdatedAt: time.Now()}); err != nil {
		return fmt.Errorf("failed to store candidate profile: %w", err)
	}

	s.logger.Info().Str("path", path).Str("name", profile.Name).Msg("Seeded candidate profile")
	return nil
}

// load fills out with the stored document for key, leaving defaults in
// place for absent keys and fields.
func (s *Service) load(ctx context.Context, key string, out interface{}) error {
	raw, err := s.raw(ctx, key)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", key, err)
	}
	return nil
}

// raw returns the stored bytes for key, nil when the key was never written.
func (s *Service) raw(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	entry, err := s.settings.GetEntry(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = entry.Value
	s.mu.Unlock()
	return entry.Value, nil
}

// canonicalize round-trips value through the canonical struct for key,
// validating shape and ranges.
func (s *Service) canonicalize(key string, value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config %s: %w", key, err)
	}

	var target interface{}
	switch key {
	case models.ConfigKeyScheduler:
		target = models.DefaultSchedulerSettings()
	case models.ConfigKeyAI:
		target = models.DefaultAISettings()
	case models.ConfigKeyWorker:
		target = models.DefaultWorkerSettings()
	case models.ConfigKeyBudget:
		target = models.DefaultCostBudget()
	case models.ConfigKeyMatch:
		target = models.DefaultMatchPolicy()
	case models.ConfigKeyPrefilter:
		target = models.DefaultPrefilterPolicy()
	case models.ConfigKeyProfile:
		profile := &models.CandidateProfile{}
		if err := json.Unmarshal(data, profile); err != nil {
			return nil, fmt.Errorf("failed to decode candidate profile: %w", err)
		}
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("invalid candidate profile: %w", err)
		}
		return json.Marshal(profile)
	default:
		return nil, fmt.Errorf("unknown config key %q", key)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", key, err)
	}
	if err := s.validate.Struct(target); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", key, err)
	}
	return json.Marshal(target)
}

func (s *Service) handleConfigUpdated(ctx context.Context, event interfaces.Event) error {
	s.InvalidateCache()
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
