// -----------------------------------------------------------------------
// AI Analyzer - Structured match analysis through the agent chain
// -----------------------------------------------------------------------

package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// maxDescriptionChars bounds the listing text embedded in the analysis
// prompt so a single enormous posting cannot blow the token budget.
const maxDescriptionChars = 12000

// analysisResponse is the JSON shape the analysis prompt demands. Only the
// hard invariants reject a response; everything else is clamped after
// parsing.
type analysisResponse struct {
	MatchScore                   int      `json:"match_score" validate:"min=0,max=100"`
	ExperienceMatch              int      `json:"experience_match"`
	MatchedSkills                []string `json:"matched_skills"`
	MissingSkills                []string `json:"missing_skills"`
	MatchReasons                 []string `json:"match_reasons"`
	KeyStrengths                 []string `json:"key_strengths"`
	PotentialConcerns            []string `json:"potential_concerns"`
	CustomizationRecommendations []string `json:"customization_recommendations"`
	// Some models volunteer a priority even though scoring derives it from
	// the policy bands. A bad enum value still marks the response malformed.
	ApplicationPriority string `json:"application_priority,omitempty" validate:"omitempty,oneof=High Medium Low"`
}

// parseAnalysis extracts and validates the analyzer JSON from a model
// response. Returns an error for anything the caller should retry as a
// malformed response.
func parseAnalysis(validate *validator.Validate, raw string) (*analysisResponse, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var parsed analysisResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("analysis response is not valid JSON: %w", err)
	}
	if err := validate.Struct(&parsed); err != nil {
		return nil, fmt.Errorf("analysis response failed validation: %w", err)
	}

	parsed.ExperienceMatch = clampInt(parsed.ExperienceMatch, 0, 100)
	parsed.MatchedSkills = clampList(parsed.MatchedSkills, 50, 120)
	parsed.MissingSkills = clampList(parsed.MissingSkills, 50, 120)
	parsed.MatchReasons = clampList(parsed.MatchReasons, 20, 500)
	parsed.KeyStrengths = clampList(parsed.KeyStrengths, 20, 500)
	parsed.PotentialConcerns = clampList(parsed.PotentialConcerns, 20, 500)
	parsed.CustomizationRecommendations = clampList(parsed.CustomizationRecommendations, 20, 500)
	return &parsed, nil
}

// extractJSON finds the JSON object in a model response, tolerating fences
// and commentary around it.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in analysis response")
	}
	return raw[start : end+1], nil
}

// buildAnalysisPrompt assembles the listing and the reduced profile into
// the analysis task input. The system prompt rides in from the agent
// service per (scope, task).
func buildAnalysisPrompt(listing *models.JobListing, profile *models.CandidateProfile) string {
	var b strings.Builder
	b.WriteString("Evaluate how well this job listing matches the candidate.\n\n")
	b.WriteString("## Candidate\n")
	b.WriteString(profile.Reduced())
	b.WriteString("\n## Listing\n")
	fmt.Fprintf(&b, "Title: %s\n", listing.Title)
	if listing.CompanyName != "" {
		fmt.Fprintf(&b, "Company: %s\n", listing.CompanyName)
	}
	if listing.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", listing.Location)
	}
	if listing.SalaryRange != "" {
		fmt.Fprintf(&b, "Salary: %s\n", listing.SalaryRange)
	}
	description := listing.Description
	if len(description) > maxDescriptionChars {
		description = description[:maxDescriptionChars]
	}
	b.WriteString("\n")
	b.WriteString(description)
	return b.String()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampList bounds entry count and entry length, dropping empties.
func clampList(items []string, maxItems, maxLen int) []string {
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if len(item) > maxLen {
			item = item[:maxLen]
		}
		out = append(out, item)
		if len(out) == maxItems {
			break
		}
	}
	return out
}
