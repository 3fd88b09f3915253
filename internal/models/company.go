// -----------------------------------------------------------------------
// Company - Employer record with enrichment metadata
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CompanyTier ranks an employer for prioritization during discovery.
type CompanyTier string

const (
	TierS CompanyTier = "S"
	TierA CompanyTier = "A"
	TierB CompanyTier = "B"
	TierC CompanyTier = "C"
	TierD CompanyTier = "D"
)

// Company is an employer record. CanonicalName is the dedup key: lowercase,
// punctuation stripped, legal suffixes removed (see common.CanonicalCompanyName).
type Company struct {
	ID                string      `json:"id" badgerhold:"key"`
	Name              string      `json:"name"`
	CanonicalName     string      `json:"canonical_name" badgerhold:"index"`
	Website           string      `json:"website,omitempty"`
	About             string      `json:"about,omitempty"`
	TechStack         []string    `json:"tech_stack,omitempty"`
	Tier              CompanyTier `json:"tier,omitempty"`
	PriorityScore     int         `json:"priority_score"`
	HasPortlandOffice bool        `json:"has_portland_office"`
	EnrichedAt        *time.Time  `json:"enriched_at,omitempty"`
	EnrichmentSource  string      `json:"enrichment_source,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// NewCompany creates a company record. canonicalName must already be
// canonicalized by the caller.
func NewCompany(name, canonicalName string) *Company {
	now := time.Now()
	return &Company{
		ID:            "co_" + uuid.New().String(),
		Name:          name,
		CanonicalName: canonicalName,
		Tier:          TierC,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks required fields before persistence.
func (c *Company) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("company ID is required")
	}
	if c.CanonicalName == "" {
		return fmt.Errorf("company canonical name is required")
	}
	return nil
}

// MergeEnrichment folds freshly scraped facts into the record, keeping
// existing values when the incoming ones are empty.
func (c *Company) MergeEnrichment(website, about string, techStack []string, source string) {
	if website != "" {
		c.Website = website
	}
	if about != "" {
		c.About = about
	}
	if len(techStack) > 0 {
		seen := make(map[string]bool, len(c.TechStack))
		for _, t := range c.TechStack {
			seen[t] = true
		}
		for _, t := range techStack {
			if !seen[t] {
				c.TechStack = append(c.TechStack, t)
				seen[t] = true
			}
		}
	}
	now := time.Now()
	c.EnrichedAt = &now
	c.EnrichmentSource = source
	c.UpdatedAt = now
}
