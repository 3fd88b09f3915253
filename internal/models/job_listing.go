// -----------------------------------------------------------------------
// Job Listing - Scraped posting keyed on its normalized URL
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobListingStatus tracks a listing through the filter/analyze lifecycle.
// FILTERED, SKIPPED and ANALYZED are terminal.
type JobListingStatus string

const (
	ListingStatusPending   JobListingStatus = "PENDING"
	ListingStatusFiltered  JobListingStatus = "FILTERED"
	ListingStatusAnalyzing JobListingStatus = "ANALYZING"
	ListingStatusAnalyzed  JobListingStatus = "ANALYZED"
	ListingStatusSkipped   JobListingStatus = "SKIPPED"
)

// IsTerminal reports whether the listing lifecycle has finished.
func (s JobListingStatus) IsTerminal() bool {
	switch s {
	case ListingStatusFiltered, ListingStatusAnalyzed, ListingStatusSkipped:
		return true
	default:
		return false
	}
}

// FilterResult records the deterministic pre-filter verdict for a listing.
type FilterResult struct {
	Pass        bool      `json:"pass"`
	Reasons     []string  `json:"reasons,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// JobListing is a scraped job posting. URL is normalized and unique across
// the store; the listing store enforces uniqueness on upsert so concurrent
// lanes converge on one row per posting.
type JobListing struct {
	ID           string           `json:"id" badgerhold:"key"`
	URL          string           `json:"url" badgerhold:"index"`
	SourceID     string           `json:"source_id,omitempty" badgerhold:"index"`
	CompanyID    string           `json:"company_id,omitempty"`
	Title        string           `json:"title"`
	CompanyName  string           `json:"company_name"`
	Location     string           `json:"location,omitempty"`
	SalaryRange  string           `json:"salary_range,omitempty"`
	Description  string           `json:"description"`
	PostedDate   *time.Time       `json:"posted_date,omitempty"`
	Status       JobListingStatus `json:"status" badgerhold:"index"`
	FilterResult *FilterResult    `json:"filter_result,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewJobListing creates a listing in PENDING state. url must already be
// normalized by the caller.
func NewJobListing(url, title, companyName string) *JobListing {
	now := time.Now()
	return &JobListing{
		ID:          "job_" + uuid.New().String(),
		URL:         url,
		Title:       title,
		CompanyName: companyName,
		Status:      ListingStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks required fields before persistence.
func (l *JobListing) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("listing ID is required")
	}
	if l.URL == "" {
		return fmt.Errorf("listing URL is required")
	}
	return nil
}
