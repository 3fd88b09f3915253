package interfaces

import (
	"context"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// FetchOptions tunes a single source fetch.
type FetchOptions struct {
	// Cursor resumes a paginated fetch where the previous page left off.
	Cursor string
	// Limit caps listings per page; 0 uses the adapter default.
	Limit int
}

// Scraper fetches raw listings from one family of job sources. Adapters are
// registered by source type; the registry picks the adapter for a source.
type Scraper interface {
	// Fetch pulls one page of listings from the source. NextCursor on the
	// result signals more pages; empty means done.
	Fetch(ctx context.Context, source *models.JobSource, opts FetchOptions) (*models.SourceFetchResult, error)

	// SourceTypes returns the source types this adapter serves.
	SourceTypes() []models.SourceType
}

// ScraperRegistry resolves the adapter for a source type.
type ScraperRegistry interface {
	Register(s Scraper)
	ForSource(source *models.JobSource) (Scraper, error)
}

// PageFetcher retrieves a single page with rate limiting and redirect
// tracking. The JOB/FETCH step and the HTML adapter both ride on it.
type PageFetcher interface {
	// FetchPage GETs url and returns body, final URL after redirects, and
	// the HTTP status. Non-2xx statuses are returned as classified errors.
	FetchPage(ctx context.Context, url string) (*models.FetchedPage, error)
}

// ScraperService is the full scraping surface the processors depend on:
// adapter registry, raw page fetching, and listing extraction for single
// URLs submitted outside any source.
type ScraperService interface {
	ScraperRegistry
	PageFetcher

	// FetchSource scrapes one page of a source through its adapter.
	FetchSource(ctx context.Context, source *models.JobSource, cursor string) (*models.SourceFetchResult, error)

	// FetchListing retrieves a single posting URL and returns it as a raw
	// listing with the page content converted to markdown.
	FetchListing(ctx context.Context, url string) (*models.RawListing, error)

	// Close releases the browser and any per-source clients.
	Close() error
}

// BrowserRenderer renders JavaScript-heavy pages in a managed headless
// browser and returns the settled DOM.
type BrowserRenderer interface {
	// Render navigates to url, waits for the page to settle and returns the
	// rendered HTML together with the main document's HTTP status.
	Render(ctx context.Context, url string, waitSelector string) (*models.FetchedPage, error)

	// Healthy reports whether the browser process is serviceable.
	Healthy() bool

	// Close shuts down the browser process.
	Close() error
}
