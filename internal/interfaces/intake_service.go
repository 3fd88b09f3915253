package interfaces

import (
	"context"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// IntakeResult reports what a submission produced. Duplicate is true when
// dedup matched an active item and ID is the existing item's id.
type IntakeResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// IntakeService converts external submissions into queue items with dedup.
// Every entry point into the pipeline goes through here: the HTTP surface,
// the mail watcher, and the SCRAPE_SOURCE lane's INTAKE step.
type IntakeService interface {
	// SubmitJobUrl normalizes url and enqueues a JOB/FETCH root item.
	SubmitJobUrl(ctx context.Context, url string, origin models.QueueItemOrigin) (*IntakeResult, error)

	// SubmitListing enqueues a JOB lineage for an already-scraped listing,
	// skipping the FETCH step. Used by the SCRAPE_SOURCE INTAKE step.
	SubmitListing(ctx context.Context, listing *models.RawListing, sourceID string, origin models.QueueItemOrigin) (*IntakeResult, error)

	// SubmitCompany enqueues a COMPANY/FETCH root item for the named
	// employer. url is the company site when known.
	SubmitCompany(ctx context.Context, name, url string, origin models.QueueItemOrigin) (*IntakeResult, error)

	// SubmitSource persists a new job source and returns its id. The source
	// is stored as supplied; scheduling picks it up on the next tick.
	SubmitSource(ctx context.Context, source *models.JobSource) (string, error)

	// TriggerScrape enqueues SCRAPE_SOURCE items. With a sourceID it
	// targets one source; empty triggers every scrapeable source.
	TriggerScrape(ctx context.Context, sourceID string) ([]string, error)
}
