// -----------------------------------------------------------------------
// Intake Service - External submissions converted into queue items
// -----------------------------------------------------------------------

package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Service is the single doorway into the pipeline. The HTTP surface, the
// mail watcher and the SCRAPE_SOURCE INTAKE step all submit through here so
// normalization and dedup behave the same regardless of entry point.
type Service struct {
	queue    interfaces.QueueManager
	listings interfaces.ListingStorage
	sources  interfaces.SourceStorage
	logger   arbor.ILogger
}

var _ interfaces.IntakeService = (*Service)(nil)

// NewService wires the intake service.
func NewService(queue interfaces.QueueManager, listings interfaces.ListingStorage, sources interfaces.SourceStorage, logger arbor.ILogger) *Service {
	return &Service{
		queue:    queue,
		listings: listings,
		sources:  sources,
		logger:   logger,
	}
}

// SubmitJobUrl normalizes url and enqueues a JOB/FETCH root item. A
// resubmission while the first lineage is still active reports the existing
// item; after it settles, resubmitting deliberately re-runs the pipeline.
func (s *Service) SubmitJobUrl(ctx context.Context, url string, origin models.QueueItemOrigin) (*interfaces.IntakeResult, error) {
	normalized, err := common.NormalizeURL(url)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "intake.submit_job", err)
	}

	id, err := s.queue.Submit(ctx, models.ItemTypeJob, models.SubTypeFetch, normalized, nil, origin)
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicateItem) {
			return &interfaces.IntakeResult{ID: id, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to enqueue job url: %w", err)
	}

	s.logger.Info().
		Str("item_id", id).
		Str("url", normalized).
		Str("origin", string(origin)).
		Msg("Job URL submitted")
	return &interfaces.IntakeResult{ID: id}, nil
}

// SubmitListing stores an already-scraped listing and enqueues its JOB
// lineage at EXTRACT, skipping the fetch. A listing whose pipeline already
// ran to a decision is reported as a duplicate so re-scrapes of the same
// board never re-analyze settled postings.
func (s *Service) SubmitListing(ctx context.Context, raw *models.RawListing, sourceID string, origin models.QueueItemOrigin) (*interfaces.IntakeResult, error) {
	if raw == nil || !raw.Complete() {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "intake.submit_listing", "listing missing url or title")
	}

	normalized, err := common.NormalizeURL(raw.URL)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "intake.submit_listing", err)
	}

	existing, err := s.listings.GetListingByURL(ctx, normalized)
	if err == nil && existing.Status != models.ListingStatusPending {
		return &interfaces.IntakeResult{ID: existing.ID, Duplicate: true}, nil
	}
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, models.NewPipelineError(models.ErrKindTransient, "intake.submit_listing", err)
	}

	listing := models.NewJobListing(normalized, strings.TrimSpace(raw.Title), strings.TrimSpace(raw.CompanyName))
	listing.Location = raw.Location
	listing.SalaryRange = raw.SalaryRange
	listing.Description = raw.DescriptionMarkdown
	if listing.Description == "" && raw.DescriptionHTML != "" {
		listing.Description = markdownFromHTML(normalized, raw.DescriptionHTML)
	}
	listing.PostedDate = raw.PostedAt
	listing.SourceID = sourceID

	stored, err := s.listings.UpsertListing(ctx, listing)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "intake.submit_listing", err)
	}

	payload := map[string]interface{}{models.PayloadListingID: stored.ID}
	if sourceID != "" {
		payload[models.PayloadSourceID] = sourceID
	}

	id, err := s.queue.Submit(ctx, models.ItemTypeJob, models.SubTypeExtract, normalized, payload, origin)
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicateItem) {
			return &interfaces.IntakeResult{ID: id, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to enqueue listing: %w", err)
	}

	s.logger.Info().
		Str("item_id", id).
		Str("listing_id", stored.ID).
		Str("url", normalized).
		Str("origin", string(origin)).
		Msg("Listing submitted")
	return &interfaces.IntakeResult{ID: id}, nil
}

// SubmitCompany enqueues a COMPANY/FETCH root item for the named employer.
func (s *Service) SubmitCompany(ctx context.Context, name, url string, origin models.QueueItemOrigin) (*interfaces.IntakeResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "intake.submit_company", "company name required")
	}

	payload := map[string]interface{}{models.PayloadCompanyName: name}
	if url != "" {
		payload[models.PayloadCompanyURL] = url
	}

	id, err := s.queue.Submit(ctx, models.ItemTypeCompany, models.SubTypeFetch, url, payload, origin)
	if err != nil {
		if errors.Is(err, interfaces.ErrDuplicateItem) {
			return &interfaces.IntakeResult{ID: id, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to enqueue company: %w", err)
	}

	s.logger.Info().
		Str("item_id", id).
		Str("company", name).
		Str("origin", string(origin)).
		Msg("Company submitted")
	return &interfaces.IntakeResult{ID: id}, nil
}

// SubmitSource persists a new job source. The scheduler picks it up on its
// next tick; nothing is enqueued here.
func (s *Service) SubmitSource(ctx context.Context, source *models.JobSource) (string, error) {
	if source == nil {
		return "", models.NewPipelineErrorMsg(models.ErrKindParseError, "intake.submit_source", "source required")
	}
	if strings.TrimSpace(source.Name) == "" || source.Type == "" {
		return "", models.NewPipelineErrorMsg(models.ErrKindParseError, "intake.submit_source", "source name and type required")
	}

	// A bare record gets a fresh id and starts enabled. Callers that need a
	// source created in another state build it themselves.
	if source.ID == "" {
		fresh := models.NewJobSource(source.Name, source.Type, source.Config)
		fresh.CompanyID = source.CompanyID
		source = fresh
	}

	if err := s.sources.SaveSource(ctx, source); err != nil {
		return "", fmt.Errorf("failed to save source: %w", err)
	}

	s.logger.Info().
		Str("source_id", source.ID).
		Str("source", source.Name).
		Str("type", string(source.Type)).
		Bool("enabled", source.Enabled).
		Msg("Source submitted")
	return source.ID, nil
}

// TriggerScrape enqueues SCRAPE_SOURCE items. A source id targets that
// source and refuses if it is disabled or cooling down; empty triggers
// every scrapeable source regardless of rescrape interval.
func (s *Service) TriggerScrape(ctx context.Context, sourceID string) ([]string, error) {
	now := time.Now()

	if sourceID != "" {
		source, err := s.sources.GetSource(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to load source: %w", err)
		}
		if !source.Enabled {
			return nil, fmt.Errorf("source %s is disabled", source.Name)
		}
		if source.CircuitOpen(now) {
			return nil, fmt.Errorf("source %s is cooling down until %s", source.Name, source.DisabledUntil.Format(time.RFC3339))
		}

		id, err := s.enqueueScrape(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	due, err := s.sources.ListDueSources(ctx, now, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	ids := make([]string, 0, len(due))
	for _, source := range due {
		id, err := s.enqueueScrape(ctx, source.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("source_id", source.ID).Msg("Failed to enqueue scrape")
			continue
		}
		ids = append(ids, id)
	}

	s.logger.Info().Int("sources", len(ids)).Msg("Scrape triggered")
	return ids, nil
}

// enqueueScrape submits one SCRAPE_SOURCE item; a dedup hit within the
// hourly bucket returns the already-queued item's id.
func (s *Service) enqueueScrape(ctx context.Context, sourceID string) (string, error) {
	payload := map[string]interface{}{models.PayloadSourceID: sourceID}
	id, err := s.queue.Submit(ctx, models.ItemTypeScrapeSource, models.SubTypeFetchPage, "", payload, models.OriginUserSubmission)
	if err != nil && !errors.Is(err, interfaces.ErrDuplicateItem) {
		return "", fmt.Errorf("failed to enqueue scrape: %w", err)
	}
	return id, nil
}

// markdownFromHTML converts a description that only arrived as HTML. The
// original HTML stands in when conversion fails.
func markdownFromHTML(pageURL, html string) string {
	converter := md.NewConverter(common.URLHost(pageURL), true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil || strings.TrimSpace(markdown) == "" {
		return html
	}
	return strings.TrimSpace(markdown)
}
