// -----------------------------------------------------------------------
// Job Processor - Single posting through fetch, filter, analysis and save
// -----------------------------------------------------------------------

package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// extractionMaxChars caps how much description travels to the LLM when
// structured fields need filling in.
const extractionMaxChars = 8000

// JobProcessor drives one posting through FETCH, EXTRACT, FILTER, ANALYZE
// and SAVE. Each step is its own queue item, so a crash or restart resumes
// at the step boundary instead of redoing the whole lane.
type JobProcessor struct {
	listings interfaces.ListingStorage
	matches  interfaces.MatchStorage
	sources  interfaces.SourceStorage
	scraper  interfaces.ScraperService
	filter   interfaces.FilterService
	agents   interfaces.AgentService
	config   interfaces.ConfigService
	events   interfaces.EventService
	logger   arbor.ILogger
}

// NewJobProcessor wires the JOB lane.
func NewJobProcessor(
	store interfaces.StorageManager,
	scraper interfaces.ScraperService,
	filter interfaces.FilterService,
	agents interfaces.AgentService,
	config interfaces.ConfigService,
	events interfaces.EventService,
	logger arbor.ILogger,
) *JobProcessor {
	return &JobProcessor{
		listings: store.ListingStorage(),
		matches:  store.MatchStorage(),
		sources:  store.SourceStorage(),
		scraper:  scraper,
		filter:   filter,
		agents:   agents,
		config:   config,
		events:   events,
		logger:   logger,
	}
}

// ItemType returns the lane this processor owns.
func (p *JobProcessor) ItemType() models.QueueItemType {
	return models.ItemTypeJob
}

// Process dispatches on the item's sub type. Items with no sub type are
// treated as FETCH so a bare URL submission starts the lane from the top.
func (p *JobProcessor) Process(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	switch item.SubType {
	case models.SubTypeFetch, "":
		return p.stepFetch(ctx, item)
	case models.SubTypeExtract:
		return p.stepExtract(ctx, item)
	case models.SubTypeFilter:
		return p.stepFilter(ctx, item)
	case models.SubTypeAnalyze:
		return p.stepAnalyze(ctx, item)
	case models.SubTypeSave:
		return p.stepSave(ctx, item)
	default:
		return nil, unknownSubType("job.process", item.SubType)
	}
}

// stepFetch retrieves the posting and persists it as a PENDING listing.
// NotFound and Gone mark the listing SKIPPED before the error goes back to
// the queue, so the store reflects the dead URL even though the item
// terminates through the failure path.
func (p *JobProcessor) stepFetch(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	if item.URL == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "job.fetch", "item carries no url")
	}

	raw, err := p.scraper.FetchListing(ctx, item.URL)
	if err != nil {
		kind := models.KindOf(err)
		if kind == models.ErrKindNotFound || kind == models.ErrKindGone {
			p.markListingSkipped(ctx, item.URL, string(kind))
		}
		return nil, err
	}

	listing, err := p.persistRaw(ctx, item, raw)
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("item_id", item.ID).
		Str("listing_id", listing.ID).
		Str("url", listing.URL).
		Msg("Listing fetched")

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeJob,
			SubType: models.SubTypeExtract,
			URL:     listing.URL,
			Payload: map[string]interface{}{models.PayloadListingID: listing.ID},
		}},
	}, nil
}

// stepExtract validates the listing's structured fields and fills gaps from
// the description via the extraction agent when the title is missing.
// Listings arriving from source scrapes usually carry everything already,
// so the common path makes no agent call at all.
func (p *JobProcessor) stepExtract(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	listing, err := p.loadListing(ctx, item)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(listing.Description) == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "job.extract", "listing has no description")
	}

	if strings.TrimSpace(listing.Title) == "" {
		fields, err := p.extractFields(ctx, listing)
		if err != nil {
			return nil, err
		}
		applyExtractedFields(listing, fields)
	}

	if strings.TrimSpace(listing.Title) == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "job.extract", "listing title missing after extraction")
	}

	updated, err := p.listings.UpdateListing(ctx, listing.ID, func(l *models.JobListing) {
		l.Title = listing.Title
		if listing.CompanyName != "" {
			l.CompanyName = listing.CompanyName
		}
		if listing.Location != "" {
			l.Location = listing.Location
		}
		if listing.SalaryRange != "" {
			l.SalaryRange = listing.SalaryRange
		}
	})
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.extract", err)
	}

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeJob,
			SubType: models.SubTypeFilter,
			URL:     updated.URL,
			Payload: map[string]interface{}{models.PayloadListingID: updated.ID},
		}},
	}, nil
}

// stepFilter runs the deterministic pre-filter. Rejects are terminal for
// the listing and the lane; no AI is spent on them.
func (p *JobProcessor) stepFilter(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	listing, err := p.loadListing(ctx, item)
	if err != nil {
		return nil, err
	}

	result, err := p.filter.Prefilter(ctx, listing)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.filter", err)
	}

	if !result.Pass {
		reason := strings.Join(result.Reasons, "; ")
		if _, err := p.listings.UpdateListing(ctx, listing.ID, func(l *models.JobListing) {
			l.Status = models.ListingStatusFiltered
			l.FilterResult = result
		}); err != nil {
			return nil, models.NewPipelineError(models.ErrKindTransient, "job.filter", err)
		}

		p.logger.Info().
			Str("item_id", item.ID).
			Str("listing_id", listing.ID).
			Str("title", listing.Title).
			Str("reason", reason).
			Msg("Listing rejected by pre-filter")

		return &interfaces.Outcome{Filtered: true, Reason: reason}, nil
	}

	if _, err := p.listings.UpdateListing(ctx, listing.ID, func(l *models.JobListing) {
		l.Status = models.ListingStatusAnalyzing
		l.FilterResult = result
	}); err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.filter", err)
	}

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeJob,
			SubType: models.SubTypeAnalyze,
			URL:     listing.URL,
			Payload: map[string]interface{}{models.PayloadListingID: listing.ID},
		}},
	}, nil
}

// stepAnalyze scores the listing against the candidate profile. Provider
// errors propagate so the queue can park the item; a score below the
// configured threshold skips the listing. Degraded matches (analysis gave
// up on malformed output) are saved anyway for audit, bypassing the
// threshold.
func (p *JobProcessor) stepAnalyze(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	listing, err := p.loadListing(ctx, item)
	if err != nil {
		return nil, err
	}

	match, err := p.filter.Analyze(ctx, listing)
	if err != nil {
		return nil, err
	}

	sched, err := p.config.Scheduler(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.analyze", err)
	}

	if match.MatchScore < sched.MinMatchScore && !match.Degraded() {
		if _, err := p.listings.UpdateListing(ctx, listing.ID, func(l *models.JobListing) {
			l.Status = models.ListingStatusSkipped
		}); err != nil {
			return nil, models.NewPipelineError(models.ErrKindTransient, "job.analyze", err)
		}

		p.logger.Info().
			Str("item_id", item.ID).
			Str("listing_id", listing.ID).
			Int("score", match.MatchScore).
			Int("threshold", sched.MinMatchScore).
			Msg("Match score below threshold")

		return &interfaces.Outcome{
			Skipped: true,
			Reason:  fmt.Sprintf("match score %d below threshold %d", match.MatchScore, sched.MinMatchScore),
		}, nil
	}

	match.QueueItemID = item.ID
	stored, err := p.matches.UpsertMatch(ctx, match)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.analyze", err)
	}

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeJob,
			SubType: models.SubTypeSave,
			URL:     listing.URL,
			Payload: map[string]interface{}{
				models.PayloadListingID: listing.ID,
				models.PayloadMatchID:   stored.ID,
			},
		}},
	}, nil
}

// stepSave finalizes the lane: listing becomes ANALYZED, match_saved goes
// out for the document generator and UI, and a COMPANY enrichment item fans
// out when the match policy asks for it.
func (p *JobProcessor) stepSave(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	listing, err := p.loadListing(ctx, item)
	if err != nil {
		return nil, err
	}

	match, err := p.matches.GetMatchByListing(ctx, listing.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineErrorMsg(models.ErrKindTransient, "job.save", "match row missing for listing")
		}
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.save", err)
	}

	if _, err := p.listings.UpdateListing(ctx, listing.ID, func(l *models.JobListing) {
		l.Status = models.ListingStatusAnalyzed
	}); err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.save", err)
	}

	p.publish(ctx, interfaces.EventMatchSaved, map[string]interface{}{
		models.PayloadMatchID:   match.ID,
		models.PayloadListingID: listing.ID,
		"title":                 listing.Title,
		"company_name":          listing.CompanyName,
		"score":                 match.MatchScore,
		"priority":              string(match.ApplicationPriority),
	})

	// Source health counters: the scrape lane counts jobs found, matches are
	// only knowable here.
	if listing.SourceID != "" {
		if _, err := p.sources.UpdateSource(ctx, listing.SourceID, func(s *models.JobSource) {
			s.TotalJobsMatched++
		}); err != nil {
			p.logger.Warn().Err(err).Str("source_id", listing.SourceID).Msg("Failed to bump source match counter")
		}
	}

	p.logger.Info().
		Str("item_id", item.ID).
		Str("match_id", match.ID).
		Str("title", listing.Title).
		Int("score", match.MatchScore).
		Str("priority", string(match.ApplicationPriority)).
		Msg("Match saved")

	outcome := &interfaces.Outcome{}

	policy, err := p.config.MatchPolicy(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.save", err)
	}
	if shouldEnrich(policy, match) && listing.CompanyName != "" {
		outcome.Children = append(outcome.Children, interfaces.ChildSpec{
			Type:    models.ItemTypeCompany,
			SubType: models.SubTypeFetch,
			Payload: map[string]interface{}{models.PayloadCompanyName: listing.CompanyName},
		})
	}

	return outcome, nil
}

// loadListing resolves the listing an item refers to, by payload id first
// and by normalized URL as fallback. A missing listing is a ParseError:
// retrying cannot conjure the row back.
func (p *JobProcessor) loadListing(ctx context.Context, item *models.QueueItem) (*models.JobListing, error) {
	if id, ok := item.GetPayloadString(models.PayloadListingID); ok && id != "" {
		listing, err := p.listings.GetListing(ctx, id)
		if err == nil {
			return listing, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineError(models.ErrKindTransient, "job.load_listing", err)
		}
	}

	if item.URL != "" {
		listing, err := p.listings.GetListingByURL(ctx, item.URL)
		if err == nil {
			return listing, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineError(models.ErrKindTransient, "job.load_listing", err)
		}
	}

	return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "job.load_listing", "no listing for item")
}

// persistRaw converts a scraped listing into a stored JobListing. The
// upsert converges on the normalized URL, so replays and concurrent lanes
// end up on one row.
func (p *JobProcessor) persistRaw(ctx context.Context, item *models.QueueItem, raw *models.RawListing) (*models.JobListing, error) {
	u := raw.URL
	if u == "" {
		u = item.URL
	}
	normalized, err := common.NormalizeURL(u)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "job.fetch", err)
	}

	listing := models.NewJobListing(normalized, raw.Title, raw.CompanyName)
	listing.Location = raw.Location
	listing.SalaryRange = raw.SalaryRange
	listing.Description = raw.DescriptionMarkdown
	if listing.Description == "" {
		listing.Description = raw.DescriptionHTML
	}
	listing.PostedDate = raw.PostedAt
	if sourceID, ok := item.GetPayloadString(models.PayloadSourceID); ok {
		listing.SourceID = sourceID
	}

	stored, err := p.listings.UpsertListing(ctx, listing)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.fetch", err)
	}
	return stored, nil
}

// markListingSkipped records a dead URL on the listing store. Best effort:
// the queue item already carries the terminal error, so store failures here
// only log.
func (p *JobProcessor) markListingSkipped(ctx context.Context, rawURL, cause string) {
	normalized, err := common.NormalizeURL(rawURL)
	if err != nil {
		normalized = rawURL
	}

	existing, err := p.listings.GetListingByURL(ctx, normalized)
	if err == nil {
		if _, uerr := p.listings.UpdateListing(ctx, existing.ID, func(l *models.JobListing) {
			l.Status = models.ListingStatusSkipped
		}); uerr != nil {
			p.logger.Warn().Err(uerr).Str("url", normalized).Msg("Failed to mark listing skipped")
		}
		return
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		p.logger.Warn().Err(err).Str("url", normalized).Msg("Failed to look up listing for dead URL")
		return
	}

	listing := models.NewJobListing(normalized, "", "")
	listing.Status = models.ListingStatusSkipped
	if _, uerr := p.listings.UpsertListing(ctx, listing); uerr != nil {
		p.logger.Warn().Err(uerr).Str("url", normalized).Str("cause", cause).Msg("Failed to record dead URL")
	}
}

// extractedFields is the JSON shape the extraction agent returns.
type extractedFields struct {
	Title       string `json:"title"`
	CompanyName string `json:"company_name"`
	Location    string `json:"location"`
	SalaryRange string `json:"salary_range"`
}

// extractFields asks the extraction agent to pull structured fields out of
// the description. Provider errors propagate for queue parking; malformed
// responses are ParseError and retried on the item's normal budget.
func (p *JobProcessor) extractFields(ctx context.Context, listing *models.JobListing) (*extractedFields, error) {
	ai, err := p.config.AI(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "job.extract", err)
	}

	desc := listing.Description
	if len(desc) > extractionMaxChars {
		desc = desc[:extractionMaxChars]
	}

	prompt := fmt.Sprintf(
		"Extract the job posting fields from the text below. Respond with a single JSON object with keys"+
			" title, company_name, location, salary_range. Use an empty string for anything the text does not state.\n\nURL: %s\n\n%s",
		listing.URL, desc,
	)

	resp, err := p.agents.Generate(ctx, interfaces.ScopeWorker, interfaces.TaskExtraction, &interfaces.AgentRequest{
		Prompt:      prompt,
		MaxTokens:   ai.MaxTokens,
		Temperature: ai.Temperature,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, err
	}

	block, err := jsonBlock(resp.Text)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "job.extract", err)
	}

	var fields extractedFields
	if err := json.Unmarshal([]byte(block), &fields); err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "job.extract", err)
	}
	return &fields, nil
}

// applyExtractedFields fills only the gaps; scraped values win over the
// model's reading of the page.
func applyExtractedFields(listing *models.JobListing, fields *extractedFields) {
	if listing.Title == "" {
		listing.Title = strings.TrimSpace(fields.Title)
	}
	if listing.CompanyName == "" {
		listing.CompanyName = strings.TrimSpace(fields.CompanyName)
	}
	if listing.Location == "" {
		listing.Location = strings.TrimSpace(fields.Location)
	}
	if listing.SalaryRange == "" {
		listing.SalaryRange = strings.TrimSpace(fields.SalaryRange)
	}
}

// shouldEnrich applies the match policy's enrichment gate to a saved match.
func shouldEnrich(policy *models.MatchPolicy, match *models.JobMatch) bool {
	switch policy.EnrichOnSave {
	case models.EnrichAlways:
		return true
	case models.EnrichHighPriority:
		return match.ApplicationPriority == models.PriorityHigh
	default:
		return false
	}
}

func (p *JobProcessor) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		p.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Event publish failed")
	}
}

var _ interfaces.Processor = (*JobProcessor)(nil)
