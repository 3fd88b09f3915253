// -----------------------------------------------------------------------
// Match Scoring - Deterministic re-rank blended with the AI score
// -----------------------------------------------------------------------

package filter

import (
	"math"
	"strings"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// scored is the blended result of the AI analysis and the policy weights.
type scored struct {
	Score      int
	Experience int
	Matched    []string
	Missing    []string
}

// applyScoring blends the model's match score with the policy's experience
// bonus and skill/location/seniority penalties. A neutral analysis
// (experience_match 50, nothing missing, compatible location) leaves the AI
// score untouched.
func applyScoring(parsed *analysisResponse, listing *models.JobListing, profile *models.CandidateProfile, policy *models.MatchPolicy) scored {
	matched := parsed.MatchedSkills
	var missing []string

	// Skills the profile covers directly or through an analog group are
	// counted as matched, not missing. The model routinely flags "Go" as
	// missing when the profile says "Golang".
	for _, skill := range parsed.MissingSkills {
		if profileCovers(profile, policy, skill) {
			if !containsFold(matched, skill) {
				matched = append(matched, skill)
			}
			continue
		}
		missing = append(missing, skill)
	}

	years := math.Min(profile.YearsTotal, float64(policy.YearsCap))
	alignment := math.Max(0, float64(parsed.ExperienceMatch-50)/50)
	bonus := policy.ExperienceWeight * policy.YearsMultiplier * years * alignment

	penalty := policy.SkillWeight * 5 * float64(len(missing))
	if !locationCompatible(listing.Location, profile) {
		penalty += policy.LocationWeight * 20
	}
	if seniorityMismatch(listing.Title, profile, policy) {
		penalty += 10
	}
	if penalty > float64(policy.MaxPenalty) {
		penalty = float64(policy.MaxPenalty)
	}

	score := parsed.MatchScore + int(math.Round(bonus)) - int(math.Round(penalty))
	return scored{
		Score:      clampInt(score, 0, 100),
		Experience: parsed.ExperienceMatch,
		Matched:    matched,
		Missing:    missing,
	}
}

// profileCovers reports whether the candidate has a skill, either under its
// own name or under any name in the same analog group.
func profileCovers(profile *models.CandidateProfile, policy *models.MatchPolicy, skill string) bool {
	if profile.HasSkill(skill) {
		return true
	}
	lowered := strings.ToLower(strings.TrimSpace(skill))
	for canon, aliases := range policy.SkillAnalogs {
		group := make([]string, 0, len(aliases)+1)
		group = append(group, canon)
		group = append(group, aliases...)

		inGroup := false
		for _, member := range group {
			if strings.ToLower(member) == lowered {
				inGroup = true
				break
			}
		}
		if !inGroup {
			continue
		}
		for _, member := range group {
			if profile.HasSkill(member) {
				return true
			}
		}
	}
	return false
}

// locationCompatible reports whether a listing location fits the profile.
// Unknown locations are never penalized; the analyzer prompt already carries
// whatever the listing said.
func locationCompatible(location string, profile *models.CandidateProfile) bool {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return true
	}
	if profile.RemoteOK && strings.Contains(loc, "remote") {
		return true
	}
	if len(profile.Locations) == 0 {
		return true
	}
	for _, allowed := range profile.Locations {
		lowered := strings.ToLower(strings.TrimSpace(allowed))
		if lowered == "" {
			continue
		}
		if strings.Contains(loc, lowered) || strings.Contains(lowered, loc) {
			return true
		}
	}
	return false
}

// seniorityMismatch reports a senior-titled listing against a candidate with
// under five years of total experience. A profile without YearsTotal set
// never triggers it.
func seniorityMismatch(title string, profile *models.CandidateProfile, policy *models.MatchPolicy) bool {
	if profile.YearsTotal <= 0 || profile.YearsTotal >= 5 {
		return false
	}
	lowered := strings.ToLower(title)
	words := wordSet(lowered)
	for _, marker := range policy.SeniorityTitles {
		if matchesKeyword(lowered, words, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
