// -----------------------------------------------------------------------
// Filter Service - Deterministic pre-filter and AI match analysis
// -----------------------------------------------------------------------

package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// analysisRetries is how many times a malformed analysis response is retried
// before the listing is scored zero. Provider errors are never retried here;
// queue retry policy owns those.
const analysisRetries = 2

// Service implements interfaces.FilterService. Prefilter is pure policy
// evaluation; Analyze drives the agent chain and blends the response with
// the match policy weights.
type Service struct {
	config   interfaces.ConfigService
	agents   interfaces.AgentService
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewService creates the filter service.
func NewService(config interfaces.ConfigService, agents interfaces.AgentService, logger arbor.ILogger) *Service {
	return &Service{
		config:   config,
		agents:   agents,
		logger:   logger,
		validate: validator.New(),
	}
}

// Prefilter evaluates the deterministic reject rules against a listing. It
// reads the policy on every call so edits through the config surface apply
// to the next listing without a restart.
func (s *Service) Prefilter(ctx context.Context, listing *models.JobListing) (*models.FilterResult, error) {
	policy, err := s.config.Prefilter(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading prefilter policy: %w", err)
	}

	result := evaluatePrefilter(listing, policy, time.Now())
	if !result.Pass {
		s.logger.Debug().
			Str("listing_id", listing.ID).
			Str("title", listing.Title).
			Int("reasons", len(result.Reasons)).
			Msg("Listing rejected by prefilter")
	}
	return result, nil
}

// Analyze scores a listing against the candidate profile. Provider failures
// (chain exhausted, budget stop, cancelled context) propagate to the caller;
// a model that keeps returning malformed JSON burns its retries and comes
// back as a zero match with the failure recorded for audit.
func (s *Service) Analyze(ctx context.Context, listing *models.JobListing) (*models.JobMatch, error) {
	profile, err := s.config.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading candidate profile: %w", err)
	}
	policy, err := s.config.MatchPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading match policy: %w", err)
	}
	ai, err := s.config.AI(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading ai settings: %w", err)
	}

	req := &interfaces.AgentRequest{
		Prompt:      buildAnalysisPrompt(listing, profile),
		MaxTokens:   ai.MaxTokens,
		Temperature: ai.Temperature,
		ForceJSON:   true,
	}

	var parsed *analysisResponse
	var parseErr error
	for attempt := 1; attempt <= analysisRetries+1; attempt++ {
		resp, err := s.agents.Generate(ctx, interfaces.ScopeWorker, interfaces.TaskAnalysis, req)
		if err != nil {
			return nil, err
		}

		parsed, parseErr = parseAnalysis(s.validate, resp.Text)
		if parseErr == nil {
			s.logger.Debug().
				Str("listing_id", listing.ID).
				Str("provider", resp.Provider).
				Str("model", resp.Model).
				Int("tokens_in", int(resp.TokensIn)).
				Int("tokens_out", int(resp.TokensOut)).
				Msg("Analysis response parsed")
			break
		}
		s.logger.Warn().
			Err(parseErr).
			Str("listing_id", listing.ID).
			Str("provider", resp.Provider).
			Int("attempt", attempt).
			Msg("Malformed analysis response")
	}
	if parseErr != nil {
		return zeroMatch(listing, parseErr), nil
	}

	result := applyScoring(parsed, listing, profile, policy)

	match := models.NewJobMatch(listing.ID)
	match.MatchScore = result.Score
	match.ExperienceMatch = result.Experience
	match.MatchedSkills = result.Matched
	match.MissingSkills = result.Missing
	match.MatchReasons = parsed.MatchReasons
	match.KeyStrengths = parsed.KeyStrengths
	match.PotentialConcerns = parsed.PotentialConcerns
	match.CustomizationRecommendations = parsed.CustomizationRecommendations
	match.ApplicationPriority = policy.Bands.Priority(result.Score)
	match.AnalyzedAt = time.Now()

	s.logger.Info().
		Str("listing_id", listing.ID).
		Str("title", listing.Title).
		Int("score", match.MatchScore).
		Str("priority", string(match.ApplicationPriority)).
		Msg("Listing analyzed")
	return match, nil
}

// zeroMatch records an analysis that never produced usable JSON. The listing
// still reaches a terminal state; the reason rides on the match.
func zeroMatch(listing *models.JobListing, cause error) *models.JobMatch {
	match := models.NewJobMatch(listing.ID)
	match.MatchScore = 0
	match.ExperienceMatch = 0
	match.ApplicationPriority = models.PriorityLow
	match.MatchReasons = []string{models.AnalysisFailurePrefix + cause.Error()}
	match.AnalyzedAt = time.Now()
	return match
}

var _ interfaces.FilterService = (*Service)(nil)
