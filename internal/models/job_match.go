// -----------------------------------------------------------------------
// Job Match - AI analysis result, exactly one per listing
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnalysisFailurePrefix marks the audit reason recorded on a match when the
// analyzer burned its retries without a usable response. Such a match is
// persisted (the listing still terminates as ANALYZED) but scores zero.
const AnalysisFailurePrefix = "analysis failed: "

// ApplicationPriority buckets a match score per the match policy bands.
type ApplicationPriority string

const (
	PriorityHigh   ApplicationPriority = "High"
	PriorityMedium ApplicationPriority = "Medium"
	PriorityLow    ApplicationPriority = "Low"
)

// ValidPriority reports whether p is one of the known enum values.
func ValidPriority(p ApplicationPriority) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// JobMatch holds the scored analysis of one listing against the candidate
// profile. The match store enforces one row per JobListingID; re-analysis
// overwrites in place.
type JobMatch struct {
	ID                           string                 `json:"id" badgerhold:"key"`
	JobListingID                 string                 `json:"job_listing_id" badgerhold:"index"`
	MatchScore                   int                    `json:"match_score"`
	MatchedSkills                []string               `json:"matched_skills,omitempty"`
	MissingSkills                []string               `json:"missing_skills,omitempty"`
	MatchReasons                 []string               `json:"match_reasons,omitempty"`
	KeyStrengths                 []string               `json:"key_strengths,omitempty"`
	PotentialConcerns            []string               `json:"potential_concerns,omitempty"`
	ExperienceMatch              int                    `json:"experience_match"`
	ApplicationPriority          ApplicationPriority    `json:"application_priority"`
	CustomizationRecommendations []string               `json:"customization_recommendations,omitempty"`
	ResumeIntake                 map[string]interface{} `json:"resume_intake,omitempty"`
	AnalyzedAt                   time.Time              `json:"analyzed_at"`
	QueueItemID                  string                 `json:"queue_item_id,omitempty"`
	CreatedAt                    time.Time              `json:"created_at"`
	UpdatedAt                    time.Time              `json:"updated_at"`
}

// NewJobMatch creates a match shell for a listing; the analyzer fills the
// scoring fields before persistence.
func NewJobMatch(jobListingID string) *JobMatch {
	now := time.Now()
	return &JobMatch{
		ID:           "match_" + uuid.New().String(),
		JobListingID: jobListingID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Degraded reports whether the match records an analysis failure instead of
// a real evaluation. Degraded matches bypass the score threshold so the
// audit trail survives.
func (m *JobMatch) Degraded() bool {
	return len(m.MatchReasons) > 0 && strings.HasPrefix(m.MatchReasons[0], AnalysisFailurePrefix)
}

// Validate checks score ranges and enum values before persistence.
func (m *JobMatch) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("match ID is required")
	}
	if m.JobListingID == "" {
		return fmt.Errorf("match listing ID is required")
	}
	if m.MatchScore < 0 || m.MatchScore > 100 {
		return fmt.Errorf("match score %d outside [0,100]", m.MatchScore)
	}
	if m.ExperienceMatch < 0 || m.ExperienceMatch > 100 {
		return fmt.Errorf("experience match %d outside [0,100]", m.ExperienceMatch)
	}
	if !ValidPriority(m.ApplicationPriority) {
		return fmt.Errorf("invalid application priority %q", m.ApplicationPriority)
	}
	return nil
}
