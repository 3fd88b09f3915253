// -----------------------------------------------------------------------
// Agent Manager - Provider fallback chain with budget gate and cost ledger
// -----------------------------------------------------------------------

package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Provider names as they appear in ai-settings fallback chains.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

// KV keys a credential can be stored under, checked after the environment
// and before the config file.
const (
	kvKeyAnthropicAPIKey = "anthropic_api_key"
	kvKeyGeminiAPIKey    = "gemini_api_key"
)

// provider is one LLM backend in the fallback chain.
type provider interface {
	name() string
	generate(ctx context.Context, model string, req *interfaces.AgentRequest) (*interfaces.AgentResponse, error)
	close() error
}

// Service drives the provider fallback chain. Every Generate call reads
// fresh ai-settings, skips providers disabled for the scope or over their
// daily budget, and folds successful usage into the cost ledger.
type Service struct {
	creds  *common.Config
	config interfaces.ConfigService
	costs  interfaces.CostStorage
	kv     interfaces.KVStorage
	events interfaces.EventService
	logger arbor.ILogger
	retry  retryPolicy

	mu        sync.Mutex
	disabled  map[string]bool     // provider|scope, process lifetime
	providers map[string]provider // lazily built, cached
}

// NewService creates the agent manager. events may be nil; cost alerts are
// then log-only.
func NewService(creds *common.Config, config interfaces.ConfigService, storage interfaces.StorageManager, events interfaces.EventService, logger arbor.ILogger) (*Service, error) {
	if creds == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config service is required")
	}
	if storage == nil {
		return nil, fmt.Errorf("storage manager is required")
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Service{
		creds:     creds,
		config:    config,
		costs:     storage.CostStorage(),
		kv:        storage.KVStorage(),
		events:    events,
		logger:    logger,
		retry:     defaultRetryPolicy(),
		disabled:  make(map[string]bool),
		providers: make(map[string]provider),
	}, nil
}

// Generate walks the fallback chain for the scope and task until one
// provider answers. Auth and quota failures disable the provider for the
// scope for the rest of the process; budget skips are soft-fails. The
// returned response carries the priced token usage.
func (s *Service) Generate(ctx context.Context, scope, task string, req *interfaces.AgentRequest) (*interfaces.AgentResponse, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	ai, err := s.config.AI(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ai settings: %w", err)
	}
	if !ai.ScopeEnabled(scope) {
		return nil, fmt.Errorf("scope %q is disabled: %w", scope, interfaces.ErrNoProviderAvailable)
	}

	budget, err := s.config.Budget(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load cost budget: %w", err)
	}

	call := s.normalizeRequest(req, ai, scope, task)
	date := s.ledgerDate(ctx)

	eligible := 0
	budgetSkips := 0
	for _, name := range ai.FallbackChain {
		if s.isDisabled(name, scope) {
			s.logger.Debug().
				Str("provider", name).
				Str("scope", scope).
				Msg("Provider disabled for scope, skipping")
			continue
		}
		model := ai.ModelFor(name)
		if model == "" {
			s.logger.Warn().
				Str("provider", name).
				Msg("No model configured for provider, skipping")
			continue
		}
		eligible++

		limit := budget.LimitFor(name)
		if limit > 0 && s.dailySpend(ctx, date, name) >= limit {
			budgetSkips++
			s.logger.Warn().
				Str("provider", name).
				Str("date", date).
				Float64("limit", limit).
				Msg("Daily budget exhausted for provider, skipping")
			continue
		}

		prov, err := s.providerFor(ctx, name)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("provider", name).
				Msg("Provider unavailable, continuing chain")
			continue
		}

		resp, err := s.generateWithRetry(ctx, prov, model, call)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			switch classifyProviderError(err) {
			case failAuth:
				s.disable(name, scope)
				s.logger.Error().
					Err(err).
					Str("provider", name).
					Str("scope", scope).
					Msg("Auth failure, provider disabled for scope")
			case failQuota:
				s.disable(name, scope)
				s.logger.Error().
					Err(err).
					Str("provider", name).
					Str("scope", scope).
					Msg("Quota exceeded, provider disabled for scope")
			default:
				s.logger.Warn().
					Err(err).
					Str("provider", name).
					Str("task", task).
					Msg("Provider call failed, continuing chain")
			}
			continue
		}

		s.recordUsage(ctx, ai, budget, date, name, resp)
		return resp, nil
	}

	// Classified so the queue parks these until the next budget day instead
	// of burning retry attempts; errors.Is against the sentinels still holds.
	if eligible > 0 && budgetSkips == eligible {
		return nil, models.NewPipelineError(models.ErrKindBudgetExhausted, "agents.Generate",
			fmt.Errorf("all providers over daily budget for %s/%s: %w", scope, task, interfaces.ErrBudgetExhausted))
	}
	return nil, models.NewPipelineError(models.ErrKindNoProviderAvailable, "agents.Generate",
		fmt.Errorf("fallback chain exhausted for %s/%s: %w", scope, task, interfaces.ErrNoProviderAvailable))
}

// HealthCheck reports healthy when at least one chain provider can be
// constructed with a resolvable credential. It deliberately makes no
// billable API call.
func (s *Service) HealthCheck(ctx context.Context) error {
	ai, err := s.config.AI(ctx)
	if err != nil {
		return fmt.Errorf("ai settings unavailable: %w", err)
	}

	var lastErr error
	for _, name := range ai.FallbackChain {
		if _, err := s.providerFor(ctx, name); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("fallback chain is empty")
	}
	return fmt.Errorf("no provider available: %w", lastErr)
}

// Close releases all cached provider clients.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, prov := range s.providers {
		if err := prov.close(); err != nil {
			s.logger.Warn().Err(err).Str("provider", name).Msg("Provider close failed")
		}
	}
	s.providers = make(map[string]provider)
	return nil
}

// generateWithRetry retries rate-limited calls in-provider per the retry
// policy, honoring any server-suggested delay. Other failures return
// immediately so the chain can move on.
func (s *Service) generateWithRetry(ctx context.Context, prov provider, model string, req *interfaces.AgentRequest) (*interfaces.AgentResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := prov.generate(ctx, model, req)
		if err == nil {
			return resp, nil
		}
		if attempt >= s.retry.MaxRetries || classifyProviderError(err) != failRateLimited {
			return nil, err
		}

		delay := s.retry.backoff(attempt, serverRetryDelay(err))
		s.logger.Warn().
			Str("provider", prov.name()).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Err(err).
			Msg("Rate limited, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// recordUsage prices the response, folds it into the daily ledger and
// publishes a cost_alert when the new total crosses the alert threshold.
// Ledger failures are logged, never returned; the answer already exists.
func (s *Service) recordUsage(ctx context.Context, ai *models.AISettings, budget *models.CostBudget, date, providerName string, resp *interfaces.AgentResponse) {
	resp.Cost = costFor(ai.ModelRates, resp.Model, resp.TokensIn, resp.TokensOut)

	limit := budget.LimitFor(providerName)
	total, err := s.costs.IncrementCost(ctx, date, providerName, resp.Model, resp.TokensIn, resp.TokensOut, resp.Cost, limit)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("provider", providerName).
			Str("model", resp.Model).
			Float64("cost", resp.Cost).
			Msg("Cost ledger write failed")
		return
	}

	s.logger.Debug().
		Str("provider", providerName).
		Str("model", resp.Model).
		Int64("tokens_in", resp.TokensIn).
		Int64("tokens_out", resp.TokensOut).
		Float64("cost", resp.Cost).
		Float64("daily_total", total).
		Msg("Agent call completed")

	s.maybeAlert(ctx, providerName, date, total-resp.Cost, total, limit, budget.AlertThreshold)
}

// maybeAlert publishes cost_alert exactly once per threshold crossing: only
// when the pre-call total was below the mark and the post-call total is at
// or above it.
func (s *Service) maybeAlert(ctx context.Context, providerName, date string, before, after, limit, threshold float64) {
	if limit <= 0 || threshold <= 0 {
		return
	}
	mark := limit * threshold
	if before >= mark || after < mark {
		return
	}

	s.logger.Warn().
		Str("provider", providerName).
		Str("date", date).
		Float64("spent", after).
		Float64("limit", limit).
		Msg("Daily AI spend crossed alert threshold")

	if s.events == nil {
		return
	}
	err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventCostAlert,
		Payload: map[string]interface{}{
			"provider": providerName,
			"date":     date,
			"spent":    after,
			"limit":    limit,
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish cost alert")
	}
}

// normalizeRequest copies the request and fills blanks from ai-settings so
// providers never see zero token limits, and from the canned prompts so
// every task carries a system voice unless the caller set one.
func (s *Service) normalizeRequest(req *interfaces.AgentRequest, ai *models.AISettings, scope, task string) *interfaces.AgentRequest {
	out := *req
	if out.MaxTokens <= 0 {
		out.MaxTokens = ai.MaxTokens
	}
	if out.Temperature <= 0 {
		out.Temperature = ai.Temperature
	}
	if out.System == "" {
		out.System = SystemPrompt(scope, task)
	}
	return &out
}

// ledgerDate names today's ledger row in the scheduler timezone, so budget
// days roll over at the same local midnight the scheduler resets on.
func (s *Service) ledgerDate(ctx context.Context) string {
	loc := time.UTC
	if sched, err := s.config.Scheduler(ctx); err == nil {
		loc = sched.Location()
	}
	return time.Now().In(loc).Format(models.CostDateFormat)
}

// dailySpend reads today's total for a provider. A missing row is zero
// spend; a broken ledger read allows the call rather than stalling the
// pipeline on bookkeeping.
func (s *Service) dailySpend(ctx context.Context, date, providerName string) float64 {
	entry, err := s.costs.GetDailyCost(ctx, date, providerName)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			s.logger.Warn().
				Err(err).
				Str("provider", providerName).
				Msg("Cost ledger read failed, allowing call")
		}
		return 0
	}
	return entry.Cost
}

func (s *Service) isDisabled(providerName, scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[providerName+"|"+scope]
}

func (s *Service) disable(providerName, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[providerName+"|"+scope] = true
}

// providerFor returns the cached provider, building it on first use. Two
// racers may both build; the loser's client is closed and discarded.
func (s *Service) providerFor(ctx context.Context, name string) (provider, error) {
	s.mu.Lock()
	if p, ok := s.providers[name]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	built, err := s.buildProvider(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.providers[name]; ok {
		_ = built.close()
		return existing, nil
	}
	s.providers[name] = built
	return built, nil
}

func (s *Service) buildProvider(ctx context.Context, name string) (provider, error) {
	switch name {
	case ProviderClaude:
		apiKey, err := s.resolveAPIKey(ctx, kvKeyAnthropicAPIKey, s.creds.Claude.APIKey,
			"ANTHROPIC_API_KEY", "JOBFINDER_CLAUDE_API_KEY")
		if err != nil {
			return nil, fmt.Errorf("claude: %w", err)
		}
		return newClaudeProvider(apiKey, s.logger), nil
	case ProviderGemini:
		apiKey, err := s.resolveAPIKey(ctx, kvKeyGeminiAPIKey, s.creds.Gemini.APIKey,
			"GEMINI_API_KEY", "JOBFINDER_GEMINI_API_KEY")
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		return newGeminiProvider(ctx, apiKey, s.logger)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// resolveAPIKey looks a credential up environment first, then the KV
// store, then the config file value. The explicit env check matters even
// though config loading folds env vars in: a key stored in KV must not
// shadow one set in the environment.
func (s *Service) resolveAPIKey(ctx context.Context, kvKey, configValue string, envVars ...string) (string, error) {
	for _, envVar := range envVars {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	if s.kv != nil {
		if v, err := s.kv.Get(ctx, kvKey); err == nil && v != "" {
			return v, nil
		}
	}
	if configValue != "" {
		return configValue, nil
	}
	return "", fmt.Errorf("no API key configured (set %s, kv %q, or the config file)", strings.Join(envVars, " or "), kvKey)
}

// costFor prices token usage with the configured per-million rates. An
// unpriced model costs zero so new models never block calls; the operator
// sees raw token counts in the ledger either way.
func costFor(rates map[string]models.ModelRate, model string, tokensIn, tokensOut int64) float64 {
	rate, ok := rates[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1e6*rate.InputPerMTok + float64(tokensOut)/1e6*rate.OutputPerMTok
}
