// -----------------------------------------------------------------------
// Job Source - Scrapeable endpoint with health counters
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType selects the scraper used for a source. Vendor types resolve to
// registered adapters; HTML and API are the built-in generic scrapers.
type SourceType string

const (
	SourceTypeGreenhouse  SourceType = "GREENHOUSE"
	SourceTypeLever       SourceType = "LEVER"
	SourceTypeWorkday     SourceType = "WORKDAY"
	SourceTypeRSS         SourceType = "RSS"
	SourceTypeAPI         SourceType = "API"
	SourceTypeHTML        SourceType = "HTML"
	SourceTypeCompanyPage SourceType = "COMPANY_PAGE"
)

// JobSource is a scrapeable endpoint. Config is opaque to the core; the
// scraper for the source's type interprets it (url, selectors, auth, paging).
type JobSource struct {
	ID                  string                 `json:"id" badgerhold:"key"`
	Name                string                 `json:"name"`
	Type                SourceType             `json:"type" badgerhold:"index"`
	Config              map[string]interface{} `json:"config"`
	Enabled             bool                   `json:"enabled" badgerhold:"index"`
	CompanyID           string                 `json:"company_id,omitempty"`
	LastScrapedAt       *time.Time             `json:"last_scraped_at,omitempty"`
	TotalJobsFound      int                    `json:"total_jobs_found"`
	TotalJobsMatched    int                    `json:"total_jobs_matched"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	DisabledUntil       *time.Time             `json:"disabled_until,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// NewJobSource creates an enabled source.
func NewJobSource(name string, sourceType SourceType, config map[string]interface{}) *JobSource {
	if config == nil {
		config = make(map[string]interface{})
	}
	now := time.Now()
	return &JobSource{
		ID:        "src_" + uuid.New().String(),
		Name:      name,
		Type:      sourceType,
		Config:    config,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks required fields before persistence.
func (s *JobSource) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("source ID is required")
	}
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if s.Type == "" {
		return fmt.Errorf("source type is required")
	}
	return nil
}

// CircuitOpen reports whether the source is in a circuit-breaker cooldown.
func (s *JobSource) CircuitOpen(now time.Time) bool {
	return s.DisabledUntil != nil && s.DisabledUntil.After(now)
}

// Scrapeable reports whether the scheduler may enqueue a scrape for this
// source right now.
func (s *JobSource) Scrapeable(now time.Time) bool {
	return s.Enabled && !s.CircuitOpen(now)
}

// GetConfigString retrieves a string value from the source config.
func (s *JobSource) GetConfigString(key string) (string, bool) {
	val, ok := s.Config[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetConfigBool retrieves a bool value from the source config.
func (s *JobSource) GetConfigBool(key string) (bool, bool) {
	val, ok := s.Config[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetConfigInt retrieves an int value from the source config.
func (s *JobSource) GetConfigInt(key string) (int, bool) {
	val, ok := s.Config[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
