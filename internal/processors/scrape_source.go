// -----------------------------------------------------------------------
// Scrape Source Processor - Paginated source scrape feeding the intake
// -----------------------------------------------------------------------

package processors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

const (
	// sourceFailureThreshold opens the circuit after this many consecutive
	// failed scrapes.
	sourceFailureThreshold = 3

	// sourceFailureCooldown is how long an opened circuit keeps the source
	// out of scheduling.
	sourceFailureCooldown = 6 * time.Hour
)

// ScrapeSourceProcessor runs one scheduled scrape of a job source:
// FETCH_PAGE pulls a page of listings through the source's adapter (and
// re-enqueues itself for the next cursor), INTAKE feeds each listing into
// the pipeline with dedup, and UPDATE_SOURCE_STATS settles the source's
// health counters.
type ScrapeSourceProcessor struct {
	sources interfaces.SourceStorage
	scraper interfaces.ScraperService
	intake  interfaces.IntakeService
	logger  arbor.ILogger
}

// NewScrapeSourceProcessor wires the SCRAPE_SOURCE lane.
func NewScrapeSourceProcessor(
	store interfaces.StorageManager,
	scraper interfaces.ScraperService,
	intake interfaces.IntakeService,
	logger arbor.ILogger,
) *ScrapeSourceProcessor {
	return &ScrapeSourceProcessor{
		sources: store.SourceStorage(),
		scraper: scraper,
		intake:  intake,
		logger:  logger,
	}
}

// ItemType returns the lane this processor owns.
func (p *ScrapeSourceProcessor) ItemType() models.QueueItemType {
	return models.ItemTypeScrapeSource
}

// Process dispatches on the item's sub type; bare items start at FETCH_PAGE.
func (p *ScrapeSourceProcessor) Process(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	switch item.SubType {
	case models.SubTypeFetchPage, "":
		return p.stepFetchPage(ctx, item)
	case models.SubTypeIntake:
		return p.stepIntake(ctx, item)
	case models.SubTypeUpdateStats:
		return p.stepUpdateStats(ctx, item)
	default:
		return nil, unknownSubType("scrape.process", item.SubType)
	}
}

// stepFetchPage scrapes one page of the source. Every failed fetch counts
// against the source's circuit breaker before the error goes back to the
// queue for retry. A next cursor re-enqueues the same step, which the loop
// guard explicitly permits via SameStep.
func (p *ScrapeSourceProcessor) stepFetchPage(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	source, err := p.loadSource(ctx, item)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !source.Enabled {
		return &interfaces.Outcome{Skipped: true, Reason: "source disabled"}, nil
	}
	if source.CircuitOpen(now) {
		return &interfaces.Outcome{
			Skipped: true,
			Reason:  fmt.Sprintf("source circuit open until %s", source.DisabledUntil.Format(time.RFC3339)),
		}, nil
	}

	cursor, _ := item.GetPayloadString(models.PayloadCursor)
	page, _ := item.GetPayloadInt(models.PayloadPage)

	result, err := p.scraper.FetchSource(ctx, source, cursor)
	if err != nil {
		if _, rerr := p.sources.RecordScrapeResult(ctx, source.ID, 0, 0, err,
			sourceFailureThreshold, sourceFailureCooldown); rerr != nil {
			p.logger.Warn().Err(rerr).Str("source_id", source.ID).Msg("Failed to record scrape failure")
		}
		return nil, err
	}

	// HTML-only adapters are the exception; once markdown exists the raw
	// HTML just bloats the payload.
	listings := result.Listings
	for i := range listings {
		if listings[i].DescriptionMarkdown != "" {
			listings[i].DescriptionHTML = ""
		}
	}

	p.logger.Info().
		Str("source_id", source.ID).
		Str("source", source.Name).
		Int("page", page).
		Int("listings", len(listings)).
		Bool("more", result.NextCursor != "").
		Msg("Source page fetched")

	children := []interfaces.ChildSpec{{
		Type:    models.ItemTypeScrapeSource,
		SubType: models.SubTypeIntake,
		Payload: map[string]interface{}{
			models.PayloadSourceID: source.ID,
			models.PayloadListings: listings,
		},
	}}

	if result.NextCursor != "" {
		children = append(children, interfaces.ChildSpec{
			Type:     models.ItemTypeScrapeSource,
			SubType:  models.SubTypeFetchPage,
			SameStep: true,
			Payload: map[string]interface{}{
				models.PayloadSourceID: source.ID,
				models.PayloadCursor:   result.NextCursor,
				models.PayloadPage:     page + 1,
			},
		})
	}

	return &interfaces.Outcome{Children: children}, nil
}

// stepIntake submits each raw listing from the fetched page into the JOB
// pipeline. Individual bad listings are logged and dropped; only a page
// where every submission errored is retried as a whole.
func (p *ScrapeSourceProcessor) stepIntake(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	sourceID, _ := item.GetPayloadString(models.PayloadSourceID)
	if sourceID == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "scrape.intake", "item carries no source id")
	}

	var listings []models.RawListing
	if err := decodePayload(item, models.PayloadListings, &listings); err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "scrape.intake", err)
	}

	enqueued, duplicates, failed := 0, 0, 0
	for i := range listings {
		raw := &listings[i]
		if !raw.Complete() {
			p.logger.Warn().Str("source_id", sourceID).Str("url", raw.URL).Msg("Listing missing url or title, dropped")
			failed++
			continue
		}
		res, err := p.intake.SubmitListing(ctx, raw, sourceID, models.OriginAutomatedScan)
		if err != nil {
			p.logger.Warn().Err(err).Str("source_id", sourceID).Str("url", raw.URL).Msg("Listing submission failed")
			failed++
			continue
		}
		if res.Duplicate {
			duplicates++
		} else {
			enqueued++
		}
	}

	if failed > 0 && enqueued == 0 && duplicates == 0 {
		return nil, models.NewPipelineErrorMsg(models.ErrKindTransient, "scrape.intake",
			fmt.Sprintf("all %d submissions failed", failed))
	}

	p.logger.Info().
		Str("source_id", sourceID).
		Int("found", len(listings)).
		Int("enqueued", enqueued).
		Int("duplicates", duplicates).
		Int("dropped", failed).
		Msg("Page listings submitted")

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeScrapeSource,
			SubType: models.SubTypeUpdateStats,
			Payload: map[string]interface{}{
				models.PayloadSourceID:  sourceID,
				models.PayloadJobsFound: len(listings),
			},
		}},
	}, nil
}

// stepUpdateStats settles the source after a successful page: found counter,
// lastScrapedAt, failure streak reset. Match counts arrive later from the
// JOB lane as analyses complete.
func (p *ScrapeSourceProcessor) stepUpdateStats(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	sourceID, _ := item.GetPayloadString(models.PayloadSourceID)
	if sourceID == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "scrape.update_stats", "item carries no source id")
	}
	found, _ := item.GetPayloadInt(models.PayloadJobsFound)

	updated, err := p.sources.RecordScrapeResult(ctx, sourceID, found, 0, nil,
		sourceFailureThreshold, sourceFailureCooldown)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineError(models.ErrKindNotFound, "scrape.update_stats", err)
		}
		return nil, models.NewPipelineError(models.ErrKindTransient, "scrape.update_stats", err)
	}

	p.logger.Debug().
		Str("source_id", sourceID).
		Int("jobs_found", found).
		Int("total_found", updated.TotalJobsFound).
		Msg("Source stats updated")

	return &interfaces.Outcome{}, nil
}

// loadSource resolves the source an item refers to. A deleted source skips
// the item terminally rather than retrying into the void.
func (p *ScrapeSourceProcessor) loadSource(ctx context.Context, item *models.QueueItem) (*models.JobSource, error) {
	sourceID, _ := item.GetPayloadString(models.PayloadSourceID)
	if sourceID == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "scrape.load_source", "item carries no source id")
	}

	source, err := p.sources.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineError(models.ErrKindNotFound, "scrape.load_source", err)
		}
		return nil, models.NewPipelineError(models.ErrKindTransient, "scrape.load_source", err)
	}
	return source, nil
}

var _ interfaces.Processor = (*ScrapeSourceProcessor)(nil)
