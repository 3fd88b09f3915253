// -----------------------------------------------------------------------
// Job Processor Tests - Lane steps, terminal verdicts, replay convergence
// -----------------------------------------------------------------------

package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

func TestJobFetchPersistsListingAndFansOut(t *testing.T) {
	h := newLaneHarness(t)
	h.scraper.listing = &models.RawListing{
		Title:               "Platform Engineer",
		CompanyName:         "Initech",
		Location:            "Portland, OR",
		DescriptionMarkdown: "## About\nBuild Go services.",
	}

	// Tracking params and host casing must not survive into the store.
	item := jobItem(models.SubTypeFetch, "https://Boards.Example.com/jobs/42?utm_source=mail&gh_src=abc123", nil)
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	require.Len(t, outcome.Children, 1)
	child := outcome.Children[0]
	assert.Equal(t, models.ItemTypeJob, child.Type)
	assert.Equal(t, models.SubTypeExtract, child.SubType)
	assert.Equal(t, "https://boards.example.com/jobs/42", child.URL)
	assert.False(t, child.SameStep)

	listing, err := h.store.ListingStorage().GetListingByURL(context.Background(), "https://boards.example.com/jobs/42")
	require.NoError(t, err)
	assert.Equal(t, "Platform Engineer", listing.Title)
	assert.Equal(t, "Initech", listing.CompanyName)
	assert.Equal(t, models.ListingStatusPending, listing.Status)
	assert.Equal(t, listing.ID, child.Payload[models.PayloadListingID])
}

func TestJobFetchWithoutURLIsParseError(t *testing.T) {
	h := newLaneHarness(t)

	_, err := h.job().Process(context.Background(), jobItem(models.SubTypeFetch, "", nil))
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestJobFetchDeadURLMarksListingSkipped(t *testing.T) {
	h := newLaneHarness(t)
	h.scraper.listingErr = models.NewPipelineErrorMsg(models.ErrKindGone, "scrape.fetch_listing", "status 410")

	item := jobItem(models.SubTypeFetch, "https://example.com/jobs/dead", nil)
	outcome, err := h.job().Process(context.Background(), item)
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Equal(t, models.ErrKindGone, models.KindOf(err))

	// The dead URL still leaves a SKIPPED row so the UI can show what
	// happened, and no match ever exists for it.
	listing, err := h.store.ListingStorage().GetListingByURL(context.Background(), "https://example.com/jobs/dead")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSkipped, listing.Status)

	_, err = h.store.MatchStorage().GetMatchByListing(context.Background(), listing.ID)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestJobFetchTransientErrorLeavesNoRow(t *testing.T) {
	h := newLaneHarness(t)
	h.scraper.listingErr = models.NewPipelineErrorMsg(models.ErrKindTransient, "scrape.fetch_listing", "status 503")

	_, err := h.job().Process(context.Background(), jobItem(models.SubTypeFetch, "https://example.com/jobs/1", nil))
	require.Error(t, err)
	assert.Equal(t, models.ErrKindTransient, models.KindOf(err))

	_, err = h.store.ListingStorage().GetListingByURL(context.Background(), "https://example.com/jobs/1")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestJobFetchReplayConvergesOnOneListing(t *testing.T) {
	h := newLaneHarness(t)
	h.scraper.listing = &models.RawListing{
		Title:               "Platform Engineer",
		CompanyName:         "Initech",
		DescriptionMarkdown: "Build Go services.",
	}

	item := jobItem(models.SubTypeFetch, "https://example.com/jobs/42", nil)
	_, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)
	_, err = h.job().Process(context.Background(), item)
	require.NoError(t, err)

	listings, err := h.store.ListingStorage().ListListings(context.Background(), interfaces.ListingFilter{})
	require.NoError(t, err)
	assert.Len(t, listings, 1)
}

func TestJobExtractCompleteFieldsSkipAgent(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, nil)

	item := jobItem(models.SubTypeExtract, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	require.Len(t, outcome.Children, 1)
	assert.Equal(t, models.SubTypeFilter, outcome.Children[0].SubType)
	assert.Equal(t, 0, h.agent.callCount())
}

func TestJobExtractFillsMissingFieldsFromAgent(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) {
		l.Title = ""
		l.CompanyName = ""
		l.Location = ""
	})
	h.agent.script = []agentReply{{
		text: "Here are the fields:\n{\"title\":\"Senior Go Engineer\",\"company_name\":\"Initech\",\"location\":\"Portland, OR\",\"salary_range\":\"$170k-$200k\"}",
	}}

	item := jobItem(models.SubTypeExtract, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, outcome.Children, 1)
	assert.Equal(t, models.SubTypeFilter, outcome.Children[0].SubType)

	require.NotNil(t, h.agent.lastReq)
	assert.True(t, h.agent.lastReq.ForceJSON)

	updated, err := h.store.ListingStorage().GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Senior Go Engineer", updated.Title)
	assert.Equal(t, "Initech", updated.CompanyName)
	assert.Equal(t, "Portland, OR", updated.Location)
	assert.Equal(t, "$170k-$200k", updated.SalaryRange)
}

func TestJobExtractMalformedResponseIsParseError(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Title = "" })
	h.agent.script = []agentReply{{text: "I could not find any fields."}}

	item := jobItem(models.SubTypeExtract, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	_, err := h.job().Process(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestJobExtractWithoutDescriptionFails(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Description = "   " })

	item := jobItem(models.SubTypeExtract, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	_, err := h.job().Process(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
	assert.Equal(t, 0, h.agent.callCount())
}

func TestJobExtractMissingListingIsParseError(t *testing.T) {
	h := newLaneHarness(t)

	item := jobItem(models.SubTypeExtract, "", map[string]interface{}{
		models.PayloadListingID: "listing_nope",
	})
	_, err := h.job().Process(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestJobFilterRejectTerminal(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, nil)
	h.filter.result = &models.FilterResult{
		Pass:    false,
		Reasons: []string{"salary below minimum", "onsite only"},
	}

	item := jobItem(models.SubTypeFilter, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	assert.True(t, outcome.Filtered)
	assert.Equal(t, "salary below minimum; onsite only", outcome.Reason)
	assert.Empty(t, outcome.Children)

	updated, err := h.store.ListingStorage().GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusFiltered, updated.Status)
	require.NotNil(t, updated.FilterResult)
	assert.False(t, updated.FilterResult.Pass)

	// Rejects never reach a provider.
	assert.Equal(t, 0, h.agent.callCount())
	assert.Equal(t, 0, h.filter.analyzeCalls)
}

func TestJobFilterPassContinues(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, nil)

	item := jobItem(models.SubTypeFilter, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	require.Len(t, outcome.Children, 1)
	assert.Equal(t, models.SubTypeAnalyze, outcome.Children[0].SubType)

	updated, err := h.store.ListingStorage().GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusAnalyzing, updated.Status)
	require.NotNil(t, updated.FilterResult)
	assert.True(t, updated.FilterResult.Pass)
}

func TestJobAnalyzeSavesMatchAboveThreshold(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
	h.filter.match = scriptedMatch(85, models.PriorityHigh)

	item := jobItem(models.SubTypeAnalyze, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	require.Len(t, outcome.Children, 1)
	child := outcome.Children[0]
	assert.Equal(t, models.SubTypeSave, child.SubType)
	assert.Equal(t, listing.ID, child.Payload[models.PayloadListingID])

	stored, err := h.store.MatchStorage().GetMatchByListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, child.Payload[models.PayloadMatchID])
	assert.Equal(t, 85, stored.MatchScore)
	assert.Equal(t, item.ID, stored.QueueItemID)
}

func TestJobAnalyzeBelowThresholdSkips(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
	h.filter.match = scriptedMatch(40, models.PriorityLow)

	item := jobItem(models.SubTypeAnalyze, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Equal(t, "match score 40 below threshold 60", outcome.Reason)
	assert.Empty(t, outcome.Children)

	updated, err := h.store.ListingStorage().GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSkipped, updated.Status)

	_, err = h.store.MatchStorage().GetMatchByListing(context.Background(), listing.ID)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestJobAnalyzeDegradedMatchStillSaved(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
	degraded := scriptedMatch(0, models.PriorityLow)
	degraded.MatchReasons = []string{models.AnalysisFailurePrefix + "model returned malformed JSON twice"}
	h.filter.match = degraded

	item := jobItem(models.SubTypeAnalyze, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	// Score 0 is far below threshold, but a degraded match is kept for
	// audit instead of being skipped.
	assert.False(t, outcome.Skipped)
	require.Len(t, outcome.Children, 1)
	assert.Equal(t, models.SubTypeSave, outcome.Children[0].SubType)

	stored, err := h.store.MatchStorage().GetMatchByListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.True(t, stored.Degraded())
}

func TestJobAnalyzeProviderErrorPropagates(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
	h.filter.analyzeErr = models.NewPipelineError(models.ErrKindBudgetExhausted, "agents.Generate", interfaces.ErrBudgetExhausted)

	item := jobItem(models.SubTypeAnalyze, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	_, err := h.job().Process(context.Background(), item)
	require.Error(t, err)
	require.ErrorIs(t, err, interfaces.ErrBudgetExhausted)
	assert.Equal(t, models.ErrKindBudgetExhausted, models.KindOf(err))

	// The listing stays ANALYZING so a parked retry picks up where it was.
	updated, err := h.store.ListingStorage().GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusAnalyzing, updated.Status)
}

func TestJobAnalyzeReplayKeepsOneMatch(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
	h.filter.match = scriptedMatch(85, models.PriorityHigh)

	item := jobItem(models.SubTypeAnalyze, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	_, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)
	_, err = h.job().Process(context.Background(), item)
	require.NoError(t, err)

	matches, err := h.store.MatchStorage().ListMatches(context.Background(), interfaces.MatchFilter{})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestJobSaveFinalizesListing(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
	match := scriptedMatch(85, models.PriorityHigh)
	match.JobListingID = listing.ID
	stored, err := h.store.MatchStorage().UpsertMatch(context.Background(), match)
	require.NoError(t, err)

	item := jobItem(models.SubTypeSave, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
		models.PayloadMatchID:   stored.ID,
	})
	outcome, err := h.job().Process(context.Background(), item)
	require.NoError(t, err)

	updated, err := h.store.ListingStorage().GetListing(context.Background(), listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusAnalyzed, updated.Status)

	saved := h.events.byType(interfaces.EventMatchSaved)
	require.Len(t, saved, 1)
	payload, ok := saved[0].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, stored.ID, payload[models.PayloadMatchID])
	assert.Equal(t, listing.ID, payload[models.PayloadListingID])

	// Default policy enriches high-priority matches.
	require.Len(t, outcome.Children, 1)
	child := outcome.Children[0]
	assert.Equal(t, models.ItemTypeCompany, child.Type)
	assert.Equal(t, models.SubTypeFetch, child.SubType)
	assert.Equal(t, "Initech", child.Payload[models.PayloadCompanyName])
}

func TestJobSaveEnrichmentPolicy(t *testing.T) {
	cases := []struct {
		name     string
		policy   string
		priority models.ApplicationPriority
		fansOut  bool
	}{
		{"never, high priority", models.EnrichNever, models.PriorityHigh, false},
		{"high-priority, medium match", models.EnrichHighPriority, models.PriorityMedium, false},
		{"high-priority, high match", models.EnrichHighPriority, models.PriorityHigh, true},
		{"always, low match", models.EnrichAlways, models.PriorityLow, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newLaneHarness(t)
			h.cfg.policy.EnrichOnSave = tc.policy

			listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })
			match := scriptedMatch(85, tc.priority)
			match.JobListingID = listing.ID
			_, err := h.store.MatchStorage().UpsertMatch(context.Background(), match)
			require.NoError(t, err)

			item := jobItem(models.SubTypeSave, listing.URL, map[string]interface{}{
				models.PayloadListingID: listing.ID,
			})
			outcome, err := h.job().Process(context.Background(), item)
			require.NoError(t, err)

			if tc.fansOut {
				require.Len(t, outcome.Children, 1)
				assert.Equal(t, models.ItemTypeCompany, outcome.Children[0].Type)
			} else {
				assert.Empty(t, outcome.Children)
			}
		})
	}
}

func TestJobSaveBumpsSourceMatchCounter(t *testing.T) {
	h := newLaneHarness(t)
	source := h.seedSourceRow(t, nil)
	listing := h.seedListing(t, func(l *models.JobListing) {
		l.Status = models.ListingStatusAnalyzing
		l.SourceID = source.ID
	})
	match := scriptedMatch(85, models.PriorityMedium)
	match.JobListingID = listing.ID
	_, err := h.store.MatchStorage().UpsertMatch(context.Background(), match)
	require.NoError(t, err)

	item := jobItem(models.SubTypeSave, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	_, err = h.job().Process(context.Background(), item)
	require.NoError(t, err)

	updated, err := h.store.SourceStorage().GetSource(context.Background(), source.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TotalJobsMatched)
}

func TestJobSaveWithoutMatchRowIsTransient(t *testing.T) {
	h := newLaneHarness(t)
	listing := h.seedListing(t, func(l *models.JobListing) { l.Status = models.ListingStatusAnalyzing })

	item := jobItem(models.SubTypeSave, listing.URL, map[string]interface{}{
		models.PayloadListingID: listing.ID,
	})
	_, err := h.job().Process(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindTransient, models.KindOf(err))
}

func TestJobUnknownSubTypeFails(t *testing.T) {
	h := newLaneHarness(t)

	_, err := h.job().Process(context.Background(), jobItem("RENDER", "https://example.com", nil))
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}
