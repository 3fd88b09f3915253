package interfaces

import (
	"context"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// FilterService evaluates listings against the candidate profile: a
// deterministic pre-filter that runs before any AI call, and an AI analyzer
// that produces the scored match.
type FilterService interface {
	// Prefilter applies the deterministic reject rules (keywords, location,
	// salary, excluded companies/domains, freshness) to a listing. Never
	// calls a provider.
	Prefilter(ctx context.Context, listing *models.JobListing) (*models.FilterResult, error)

	// Analyze scores the listing against the candidate profile through the
	// agent chain and returns a validated match. Provider errors (chain
	// exhausted, budget stop) propagate so queue policy decides retry or
	// park; repeated malformed responses come back as a score 0, priority
	// Low match with the failure recorded on the match for audit.
	Analyze(ctx context.Context, listing *models.JobListing) (*models.JobMatch, error)
}
