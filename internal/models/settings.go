// -----------------------------------------------------------------------
// Settings - Typed values behind the reloadable config registry
// -----------------------------------------------------------------------

package models

import "time"

// Config registry keys. Each key maps to exactly one typed value below.
const (
	ConfigKeyScheduler = "scheduler-settings"
	ConfigKeyAI        = "ai-settings"
	ConfigKeyMatch     = "match-policy"
	ConfigKeyPrefilter = "prefilter-policy"
	ConfigKeyWorker    = "worker-settings"
	ConfigKeyBudget    = "cost-budget"
	ConfigKeyProfile   = "candidate-profile"
)

// ConfigEntry is the persisted form of one registry key. Value holds the
// JSON encoding of the typed settings struct.
type ConfigEntry struct {
	Key       string    `json:"key" badgerhold:"key"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DaytimeHours is a local-time window during which cron ticks may run.
type DaytimeHours struct {
	Start int `json:"start" validate:"min=0,max=23"`
	End   int `json:"end" validate:"min=0,max=24"`
}

// SchedulerSettings gates the cron triggers.
type SchedulerSettings struct {
	Enabled               bool         `json:"enabled"`
	DaytimeHours          DaytimeHours `json:"daytime_hours"`
	Timezone              string       `json:"timezone" validate:"required"`
	TargetMatches         int          `json:"target_matches" validate:"min=0"`
	MaxSources            int          `json:"max_sources" validate:"min=1"`
	MinMatchScore         int          `json:"min_match_score" validate:"min=0,max=100"`
	ScrapeIntervalMinutes int          `json:"scrape_interval_minutes" validate:"min=5"`
}

// DefaultSchedulerSettings returns the boot defaults: scraping enabled
// during waking hours in the candidate's timezone.
func DefaultSchedulerSettings() *SchedulerSettings {
	return &SchedulerSettings{
		Enabled:               true,
		DaytimeHours:          DaytimeHours{Start: 7, End: 22},
		Timezone:              "America/Los_Angeles",
		TargetMatches:         10,
		MaxSources:            5,
		MinMatchScore:         60,
		ScrapeIntervalMinutes: 360,
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (s *SchedulerSettings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WithinDaytime reports whether t falls inside the configured window.
func (s *SchedulerSettings) WithinDaytime(t time.Time) bool {
	hour := t.In(s.Location()).Hour()
	return hour >= s.DaytimeHours.Start && hour < s.DaytimeHours.End
}

// ModelRate prices a model per million tokens.
type ModelRate struct {
	InputPerMTok  float64 `json:"input_per_mtok" validate:"min=0"`
	OutputPerMTok float64 `json:"output_per_mtok" validate:"min=0"`
}

// AISettings drives the agent manager's provider selection.
type AISettings struct {
	FallbackChain   []string             `json:"fallback_chain" validate:"min=1"`
	Models          map[string]string    `json:"models"`
	PerScopeEnabled map[string]bool      `json:"per_scope_enabled,omitempty"`
	ModelRates      map[string]ModelRate `json:"model_rates,omitempty"`
	MaxTokens       int                  `json:"max_tokens" validate:"min=1"`
	Temperature     float32              `json:"temperature" validate:"min=0,max=2"`
}

// DefaultAISettings returns the boot defaults: Claude first, Gemini fallback.
func DefaultAISettings() *AISettings {
	return &AISettings{
		FallbackChain: []string{"claude", "gemini"},
		Models: map[string]string{
			"claude": "claude-sonnet-4-20250514",
			"gemini": "gemini-2.0-flash",
		},
		PerScopeEnabled: map[string]bool{},
		ModelRates: map[string]ModelRate{
			"claude-sonnet-4-20250514": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
			"gemini-2.0-flash":         {InputPerMTok: 0.10, OutputPerMTok: 0.40},
		},
		MaxTokens:   4096,
		Temperature: 0.2,
	}
}

// ModelFor returns the configured model for a provider, empty if unknown.
func (a *AISettings) ModelFor(provider string) string {
	if a.Models == nil {
		return ""
	}
	return a.Models[provider]
}

// ScopeEnabled reports whether a scope may use AI at all. Absent keys
// default to enabled.
func (a *AISettings) ScopeEnabled(scope string) bool {
	if a.PerScopeEnabled == nil {
		return true
	}
	enabled, ok := a.PerScopeEnabled[scope]
	if !ok {
		return true
	}
	return enabled
}

// PriorityBands maps score thresholds to application priorities.
type PriorityBands struct {
	HighMin   int `json:"high_min" validate:"min=0,max=100"`
	MediumMin int `json:"medium_min" validate:"min=0,max=100"`
}

// Priority buckets a score.
func (b PriorityBands) Priority(score int) ApplicationPriority {
	switch {
	case score >= b.HighMin:
		return PriorityHigh
	case score >= b.MediumMin:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// EnrichOnSave policy values for COMPANY fan-out after a match is saved.
const (
	EnrichNever        = "never"
	EnrichHighPriority = "high-priority"
	EnrichAlways       = "always"
)

// MatchPolicy holds the scoring weights and rules for the filter engine.
type MatchPolicy struct {
	SkillWeight      float64             `json:"skill_weight" validate:"min=0,max=1"`
	ExperienceWeight float64             `json:"experience_weight" validate:"min=0,max=1"`
	LocationWeight   float64             `json:"location_weight" validate:"min=0,max=1"`
	YearsMultiplier  float64             `json:"years_multiplier" validate:"min=0"`
	YearsCap         int                 `json:"years_cap" validate:"min=1"`
	MaxPenalty       int                 `json:"max_penalty" validate:"min=0,max=100"`
	SkillAnalogs     map[string][]string `json:"skill_analogs,omitempty"`
	SeniorityTitles  []string            `json:"seniority_titles,omitempty"`
	Bands            PriorityBands       `json:"bands"`
	EnrichOnSave     string              `json:"enrich_on_save" validate:"oneof=never high-priority always"`
	DocumentsOnSave  string              `json:"documents_on_save" validate:"oneof=never high-priority always"`
}

// DefaultMatchPolicy returns the boot defaults.
func DefaultMatchPolicy() *MatchPolicy {
	return &MatchPolicy{
		SkillWeight:      0.5,
		ExperienceWeight: 0.35,
		LocationWeight:   0.15,
		YearsMultiplier:  2.0,
		YearsCap:         10,
		MaxPenalty:       25,
		SkillAnalogs: map[string][]string{
			"golang":     {"go"},
			"postgresql": {"postgres"},
			"kubernetes": {"k8s"},
			"javascript": {"js", "ecmascript"},
			"typescript": {"ts"},
		},
		SeniorityTitles: []string{"senior", "staff", "principal", "lead"},
		Bands:           PriorityBands{HighMin: 80, MediumMin: 60},
		EnrichOnSave:    EnrichHighPriority,
		DocumentsOnSave: EnrichHighPriority,
	}
}

// PrefilterPolicy holds the deterministic reject rules evaluated before any
// AI call.
type PrefilterPolicy struct {
	ExcludedKeywords    []string `json:"excluded_keywords,omitempty"`
	ExcludedCompanies   []string `json:"excluded_companies,omitempty"`
	ExcludedDomains     []string `json:"excluded_domains,omitempty"`
	RemotePolicy        string   `json:"remote_policy" validate:"oneof=remote-only hybrid-ok any"`
	AllowedLocations    []string `json:"allowed_locations,omitempty"`
	MinSalary           int      `json:"min_salary" validate:"min=0"`
	FreshnessWindowDays int      `json:"freshness_window_days" validate:"min=0"`
}

// DefaultPrefilterPolicy returns the boot defaults.
func DefaultPrefilterPolicy() *PrefilterPolicy {
	return &PrefilterPolicy{
		ExcludedKeywords:    []string{"intern", "internship", "unpaid", "volunteer"},
		RemotePolicy:        "hybrid-ok",
		AllowedLocations:    []string{"portland", "remote"},
		MinSalary:           0,
		FreshnessWindowDays: 30,
	}
}

// WorkerSettings tunes the worker pool and queue policy.
type WorkerSettings struct {
	PollIntervalSeconds int            `json:"poll_interval_seconds" validate:"min=1"`
	TaskDelaySeconds    int            `json:"task_delay_seconds" validate:"min=0"`
	MaxConcurrency      int            `json:"max_concurrency" validate:"min=1"`
	PerTypeConcurrency  map[string]int `json:"per_type_concurrency,omitempty"`
	RetryBaseSeconds    int            `json:"retry_base_seconds" validate:"min=1"`
	RetryMaxSeconds     int            `json:"retry_max_seconds" validate:"min=1"`
	MaxAttempts         int            `json:"max_attempts" validate:"min=1"`
	MaxDepth            int            `json:"max_depth" validate:"min=1"`
	LeaseTTLSeconds     int            `json:"lease_ttl_seconds" validate:"min=0"`
	FetchTimeoutSeconds int            `json:"fetch_timeout_seconds" validate:"min=1"`
	AgentTimeoutSeconds int            `json:"agent_timeout_seconds" validate:"min=1"`
}

// DefaultWorkerSettings returns the boot defaults.
func DefaultWorkerSettings() *WorkerSettings {
	return &WorkerSettings{
		PollIntervalSeconds: 10,
		TaskDelaySeconds:    1,
		MaxConcurrency:      4,
		PerTypeConcurrency: map[string]int{
			string(ItemTypeJob):              3,
			string(ItemTypeCompany):          2,
			string(ItemTypeScrapeSource):     2,
			string(ItemTypeSourceDiscovery):  1,
			string(ItemTypeCompanyDiscovery): 1,
		},
		RetryBaseSeconds:    30,
		RetryMaxSeconds:     1800,
		MaxAttempts:         3,
		MaxDepth:            10,
		LeaseTTLSeconds:     0, // 0 = derive as 5x poll interval
		FetchTimeoutSeconds: 60,
		AgentTimeoutSeconds: 120,
	}
}

// PollInterval returns the idle poll interval as a duration.
func (w *WorkerSettings) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// TaskDelay returns the inter-task delay as a duration.
func (w *WorkerSettings) TaskDelay() time.Duration {
	return time.Duration(w.TaskDelaySeconds) * time.Second
}

// LeaseTTL returns the claim lease duration; unset defaults to five poll
// intervals so a dead worker's items come back within a few polls.
func (w *WorkerSettings) LeaseTTL() time.Duration {
	if w.LeaseTTLSeconds > 0 {
		return time.Duration(w.LeaseTTLSeconds) * time.Second
	}
	return 5 * w.PollInterval()
}

// FetchTimeout returns the scraper deadline.
func (w *WorkerSettings) FetchTimeout() time.Duration {
	return time.Duration(w.FetchTimeoutSeconds) * time.Second
}

// AgentTimeout returns the agent call deadline.
func (w *WorkerSettings) AgentTimeout() time.Duration {
	return time.Duration(w.AgentTimeoutSeconds) * time.Second
}

// ConcurrencyFor returns the per-type cap, defaulting to the global cap.
func (w *WorkerSettings) ConcurrencyFor(itemType QueueItemType) int {
	if w.PerTypeConcurrency != nil {
		if n, ok := w.PerTypeConcurrency[string(itemType)]; ok && n > 0 {
			return n
		}
	}
	return w.MaxConcurrency
}

// CostBudget sets the daily spend ceilings per provider.
type CostBudget struct {
	DailyLimits    map[string]float64 `json:"daily_limits"`
	AlertThreshold float64            `json:"alert_threshold" validate:"min=0,max=1"`
}

// DefaultCostBudget returns the boot defaults.
func DefaultCostBudget() *CostBudget {
	return &CostBudget{
		DailyLimits: map[string]float64{
			"claude": 5.00,
			"gemini": 2.00,
		},
		AlertThreshold: 0.8,
	}
}

// LimitFor returns the daily ceiling for a provider; zero means unlimited.
func (b *CostBudget) LimitFor(provider string) float64 {
	if b.DailyLimits == nil {
		return 0
	}
	return b.DailyLimits[provider]
}
