package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

func scoringProfile() *models.CandidateProfile {
	return &models.CandidateProfile{
		Name:       "Taylor",
		YearsTotal: 10,
		RemoteOK:   true,
		Locations:  []string{"Portland"},
		Skills: []models.ProfileSkill{
			{Name: "Golang", Years: 8},
			{Name: "Kubernetes", Years: 5},
			{Name: "PostgreSQL", Years: 6},
		},
	}
}

func remoteListing(title string) *models.JobListing {
	listing := models.NewJobListing("https://example.com/jobs/1", title, "Initech")
	listing.Location = "Remote (US)"
	return listing
}

// neutralAnalysis has nothing for the policy to reward or punish, so the AI
// score passes through unchanged.
func neutralAnalysis(score int) *analysisResponse {
	return &analysisResponse{MatchScore: score, ExperienceMatch: 50}
}

func TestScoringNeutralAnalysisKeepsAIScore(t *testing.T) {
	result := applyScoring(neutralAnalysis(85), remoteListing("Platform Engineer"), scoringProfile(), models.DefaultMatchPolicy())
	assert.Equal(t, 85, result.Score)
	assert.Equal(t, 50, result.Experience)
	assert.Empty(t, result.Missing)
}

func TestScoringAnalogSkillsNotCountedMissing(t *testing.T) {
	parsed := neutralAnalysis(85)
	parsed.MatchedSkills = []string{"Go"}
	parsed.MissingSkills = []string{"go", "K8s", "Rust"}

	result := applyScoring(parsed, remoteListing("Platform Engineer"), scoringProfile(), models.DefaultMatchPolicy())

	assert.Equal(t, []string{"Rust"}, result.Missing, "profile-covered skills are not missing")
	assert.Equal(t, []string{"Go", "K8s"}, result.Matched, "covered analogs move to matched without duplicates")
	// One genuinely missing skill at SkillWeight 0.5 costs 2.5, rounded up.
	assert.Equal(t, 82, result.Score)
}

func TestScoringExperienceBonus(t *testing.T) {
	policy := models.DefaultMatchPolicy()
	listing := remoteListing("Platform Engineer")

	parsed := neutralAnalysis(85)
	parsed.ExperienceMatch = 100
	result := applyScoring(parsed, listing, scoringProfile(), policy)
	// 0.35 * 2.0 * 10 capped years * full alignment = +7.
	assert.Equal(t, 92, result.Score)

	parsed.ExperienceMatch = 75
	result = applyScoring(parsed, listing, scoringProfile(), policy)
	assert.Equal(t, 89, result.Score)

	// Years beyond the cap add nothing.
	veteran := scoringProfile()
	veteran.YearsTotal = 25
	parsed.ExperienceMatch = 100
	result = applyScoring(parsed, listing, veteran, policy)
	assert.Equal(t, 92, result.Score)
}

func TestScoringNoBonusBelowMidline(t *testing.T) {
	parsed := neutralAnalysis(85)
	parsed.ExperienceMatch = 30

	result := applyScoring(parsed, remoteListing("Platform Engineer"), scoringProfile(), models.DefaultMatchPolicy())
	assert.Equal(t, 85, result.Score, "a weak experience match must not subtract, only fail to add")
}

func TestScoringLocationPenalty(t *testing.T) {
	policy := models.DefaultMatchPolicy()
	profile := scoringProfile()

	listing := remoteListing("Platform Engineer")
	listing.Location = "New York, NY"
	result := applyScoring(neutralAnalysis(85), listing, profile, policy)
	assert.Equal(t, 82, result.Score, "LocationWeight 0.15 * 20 = 3 off")

	listing.Location = "Portland, OR"
	result = applyScoring(neutralAnalysis(85), listing, profile, policy)
	assert.Equal(t, 85, result.Score)

	listing.Location = ""
	result = applyScoring(neutralAnalysis(85), listing, profile, policy)
	assert.Equal(t, 85, result.Score, "unknown location is never penalized")
}

func TestScoringSeniorityMismatch(t *testing.T) {
	policy := models.DefaultMatchPolicy()

	junior := scoringProfile()
	junior.YearsTotal = 3
	result := applyScoring(neutralAnalysis(85), remoteListing("Senior Platform Engineer"), junior, policy)
	assert.Equal(t, 75, result.Score)

	// Marker words match whole words only.
	result = applyScoring(neutralAnalysis(85), remoteListing("Seniority Data Analyst"), junior, policy)
	assert.Equal(t, 85, result.Score)

	// Enough experience, or none recorded, never triggers it.
	result = applyScoring(neutralAnalysis(85), remoteListing("Senior Platform Engineer"), scoringProfile(), policy)
	assert.Equal(t, 85, result.Score)

	unknown := scoringProfile()
	unknown.YearsTotal = 0
	result = applyScoring(neutralAnalysis(85), remoteListing("Senior Platform Engineer"), unknown, policy)
	assert.Equal(t, 85, result.Score)
}

func TestScoringPenaltyCapped(t *testing.T) {
	policy := models.DefaultMatchPolicy()
	junior := scoringProfile()
	junior.YearsTotal = 3

	parsed := neutralAnalysis(85)
	parsed.MissingSkills = []string{"Rust", "Erlang", "Haskell", "Scala", "Clojure", "OCaml"}
	listing := remoteListing("Senior Platform Engineer")
	listing.Location = "New York, NY"

	// 6 missing * 2.5 + location 3 + seniority 10 = 28, capped at 25.
	result := applyScoring(parsed, listing, junior, policy)
	assert.Equal(t, 60, result.Score)
}

func TestScoringClampsToRange(t *testing.T) {
	policy := models.DefaultMatchPolicy()

	parsed := neutralAnalysis(98)
	parsed.ExperienceMatch = 100
	result := applyScoring(parsed, remoteListing("Platform Engineer"), scoringProfile(), policy)
	assert.Equal(t, 100, result.Score)

	junior := scoringProfile()
	junior.YearsTotal = 3
	parsed = neutralAnalysis(5)
	parsed.MissingSkills = []string{"Rust", "Erlang", "Haskell", "Scala", "Clojure", "OCaml"}
	listing := remoteListing("Senior Platform Engineer")
	listing.Location = "New York, NY"
	result = applyScoring(parsed, listing, junior, policy)
	assert.Equal(t, 0, result.Score)
}

func TestLocationCompatibleMatchesBothDirections(t *testing.T) {
	profile := scoringProfile()

	assert.True(t, locationCompatible("Portland, OR, USA", profile))
	assert.True(t, locationCompatible("Portland", profile))
	assert.True(t, locationCompatible("REMOTE", profile))
	assert.False(t, locationCompatible("Seattle, WA", profile))

	noPrefs := &models.CandidateProfile{Name: "X"}
	assert.True(t, locationCompatible("Anywhere", noPrefs))
}

func TestProfileCoversAnalogGroups(t *testing.T) {
	policy := models.DefaultMatchPolicy()
	profile := scoringProfile()

	assert.True(t, profileCovers(profile, policy, "Golang"))
	assert.True(t, profileCovers(profile, policy, "go"))
	assert.True(t, profileCovers(profile, policy, "Postgres"))
	assert.True(t, profileCovers(profile, policy, "k8s"))
	assert.False(t, profileCovers(profile, policy, "Rust"))
	// Alias of a group the profile does not have.
	assert.False(t, profileCovers(profile, policy, "ts"))
}
