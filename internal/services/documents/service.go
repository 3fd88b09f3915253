// -----------------------------------------------------------------------
// Documents Service - Resume intake and cover letter artifacts per match
// -----------------------------------------------------------------------

package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// maxListingChars caps the listing description fed into write prompts.
const maxListingChars = 8000

// Service generates application documents for saved matches. Markdown is
// the canonical form; the HTML preview is rendered once at write time.
type Service struct {
	agents    interfaces.AgentService
	config    interfaces.ConfigService
	matches   interfaces.MatchStorage
	listings  interfaces.ListingStorage
	artifacts interfaces.ArtifactStorage
	logger    arbor.ILogger
	renderer  goldmark.Markdown
}

var _ interfaces.DocumentService = (*Service)(nil)

// NewService wires the documents service.
func NewService(agents interfaces.AgentService, config interfaces.ConfigService, matches interfaces.MatchStorage, listings interfaces.ListingStorage, artifacts interfaces.ArtifactStorage, logger arbor.ILogger) *Service {
	return &Service{
		agents:    agents,
		config:    config,
		matches:   matches,
		listings:  listings,
		artifacts: artifacts,
		logger:    logger,
		renderer: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				htmlrenderer.WithHardWraps(),
				htmlrenderer.WithXHTML(),
			),
		),
	}
}

// GenerateResumeIntake produces the resume tailoring notes for a match.
// Each call writes a fresh artifact; earlier versions stay listed.
func (s *Service) GenerateResumeIntake(ctx context.Context, jobMatchID string) (*models.Artifact, error) {
	return s.generate(ctx, jobMatchID, models.ArtifactResumeIntake)
}

// GenerateCoverLetter drafts a cover letter for a match. Each call writes a
// fresh artifact; earlier versions stay listed.
func (s *Service) GenerateCoverLetter(ctx context.Context, jobMatchID string) (*models.Artifact, error) {
	return s.generate(ctx, jobMatchID, models.ArtifactCoverLetter)
}

// GetArtifact returns a stored artifact by id.
func (s *Service) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	return s.artifacts.GetArtifact(ctx, id)
}

// ListByMatch returns all artifacts generated for a match, every version
// included.
func (s *Service) ListByMatch(ctx context.Context, jobMatchID string) ([]*models.Artifact, error) {
	return s.artifacts.ListArtifactsByMatch(ctx, jobMatchID)
}

// HandleMatchSaved is the match_saved subscription target. Generation runs
// here, off the JOB lane, so a slow or budget-stopped provider never holds
// a worker. A replayed save skips kinds that already have an artifact.
func (s *Service) HandleMatchSaved(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	matchID, _ := payload[models.PayloadMatchID].(string)
	if matchID == "" {
		return nil
	}

	policy, err := s.config.MatchPolicy(ctx)
	if err != nil {
		return fmt.Errorf("failed to load match policy: %w", err)
	}
	match, err := s.matches.GetMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to load match: %w", err)
	}
	if !shouldGenerate(policy, match) {
		s.logger.Debug().
			Str("match_id", matchID).
			Str("policy", policy.DocumentsOnSave).
			Str("priority", string(match.ApplicationPriority)).
			Msg("Documents not generated for match")
		return nil
	}

	existing, err := s.artifacts.ListArtifactsByMatch(ctx, matchID)
	if err != nil {
		return fmt.Errorf("failed to list artifacts: %w", err)
	}
	have := make(map[models.ArtifactKind]bool, len(existing))
	for _, artifact := range existing {
		have[artifact.Kind] = true
	}

	var errs []error
	for _, kind := range []models.ArtifactKind{models.ArtifactResumeIntake, models.ArtifactCoverLetter} {
		if have[kind] {
			continue
		}
		if _, err := s.generate(ctx, matchID, kind); err != nil {
			s.logger.Warn().
				Err(err).
				Str("match_id", matchID).
				Str("kind", string(kind)).
				Msg("Artifact generation failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) generate(ctx context.Context, jobMatchID string, kind models.ArtifactKind) (*models.Artifact, error) {
	match, err := s.matches.GetMatch(ctx, jobMatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load match: %w", err)
	}
	listing, err := s.listings.GetListing(ctx, match.JobListingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	profile, err := s.config.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	ai, err := s.config.AI(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ai settings: %w", err)
	}

	var prompt string
	switch kind {
	case models.ArtifactResumeIntake:
		prompt = buildResumeIntakePrompt(listing, match, profile)
	case models.ArtifactCoverLetter:
		prompt = buildCoverLetterPrompt(listing, match, profile)
	default:
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}

	resp, err := s.agents.Generate(ctx, interfaces.ScopeDocumentGenerator, interfaces.TaskWrite, &interfaces.AgentRequest{
		Prompt:      prompt,
		MaxTokens:   ai.MaxTokens,
		Temperature: ai.Temperature,
	})
	if err != nil {
		return nil, err
	}

	artifact := models.NewArtifact(match.ID, match.JobListingID, kind)
	artifact.ContentMarkdown = strings.TrimSpace(resp.Text)
	artifact.ContentHTML = s.renderHTML(artifact.ContentMarkdown)
	artifact.GeneratedBy = resp.Provider + "/" + resp.Model

	if err := s.artifacts.SaveArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to save artifact: %w", err)
	}

	s.logger.Info().
		Str("artifact_id", artifact.ID).
		Str("match_id", match.ID).
		Str("kind", string(kind)).
		Str("provider", resp.Provider).
		Float64("cost", resp.Cost).
		Msg("Artifact generated")
	return artifact, nil
}

// renderHTML converts artifact markdown into the stored preview. A render
// failure leaves the preview empty; markdown remains the canonical form.
func (s *Service) renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := s.renderer.Convert([]byte(markdown), &buf); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to render artifact preview")
		return ""
	}
	return buf.String()
}

// shouldGenerate applies the match policy's documents gate to a saved match.
func shouldGenerate(policy *models.MatchPolicy, match *models.JobMatch) bool {
	switch policy.DocumentsOnSave {
	case models.EnrichAlways:
		return true
	case models.EnrichHighPriority:
		return match.ApplicationPriority == models.PriorityHigh
	default:
		return false
	}
}

// buildResumeIntakePrompt assembles the write task input for tailoring
// notes. The system prompt rides in from the agent service per
// (scope, task).
func buildResumeIntakePrompt(listing *models.JobListing, match *models.JobMatch, profile *models.CandidateProfile) string {
	var b strings.Builder
	b.WriteString("Produce resume tailoring notes for this application as markdown with these sections: ")
	b.WriteString("## Summary Angle, ## Experience To Highlight, ## Skills To Feature, ## Gaps To Address.\n\n")
	writeMatchContext(&b, listing, match, profile)
	return b.String()
}

// buildCoverLetterPrompt assembles the write task input for a cover letter.
func buildCoverLetterPrompt(listing *models.JobListing, match *models.JobMatch, profile *models.CandidateProfile) string {
	var b strings.Builder
	b.WriteString("Write a tailored cover letter for this application as markdown. ")
	b.WriteString("Address the hiring team, keep it under 350 words and close with the candidate's name.\n\n")
	writeMatchContext(&b, listing, match, profile)
	return b.String()
}

func writeMatchContext(b *strings.Builder, listing *models.JobListing, match *models.JobMatch, profile *models.CandidateProfile) {
	b.WriteString("## Candidate\n")
	b.WriteString(profile.Reduced())

	b.WriteString("\n## Listing\n")
	fmt.Fprintf(b, "Title: %s\n", listing.Title)
	if listing.CompanyName != "" {
		fmt.Fprintf(b, "Company: %s\n", listing.CompanyName)
	}
	if listing.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", listing.Location)
	}
	description := listing.Description
	if len(description) > maxListingChars {
		description = description[:maxListingChars]
	}
	if description != "" {
		b.WriteString("\n")
		b.WriteString(description)
		b.WriteString("\n")
	}

	b.WriteString("\n## Match Analysis\n")
	fmt.Fprintf(b, "Score: %d/100\n", match.MatchScore)
	if len(match.MatchedSkills) > 0 {
		fmt.Fprintf(b, "Matched skills: %s\n", strings.Join(match.MatchedSkills, "; "))
	}
	if len(match.KeyStrengths) > 0 {
		fmt.Fprintf(b, "Key strengths: %s\n", strings.Join(match.KeyStrengths, "; "))
	}
	if len(match.PotentialConcerns) > 0 {
		fmt.Fprintf(b, "Concerns: %s\n", strings.Join(match.PotentialConcerns, "; "))
	}
	if len(match.CustomizationRecommendations) > 0 {
		fmt.Fprintf(b, "Tailoring notes: %s\n", strings.Join(match.CustomizationRecommendations, "; "))
	}
}
