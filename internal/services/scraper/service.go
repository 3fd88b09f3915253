// -----------------------------------------------------------------------
// Scraper Service - Adapter registry and page-level fetch surface
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Service owns the scraping stack: the pooled fetcher, the optional
// headless browser, and the adapter registry keyed by source type.
type Service struct {
	fetcher *Fetcher
	browser *Browser
	logger  arbor.ILogger

	mu       sync.RWMutex
	adapters map[models.SourceType]interfaces.Scraper
}

// NewService builds the scraping stack and registers the built-in HTML and
// API adapters. The browser only spawns Chrome on first use.
func NewService(cfg common.ScraperConfig, logger arbor.ILogger) *Service {
	fetcher := NewFetcher(cfg, logger)

	var browser *Browser
	var renderer interfaces.BrowserRenderer
	if cfg.BrowserEnabled {
		browser = NewBrowser(cfg, logger)
		renderer = browser
	}

	s := &Service{
		fetcher:  fetcher,
		browser:  browser,
		logger:   logger,
		adapters: make(map[models.SourceType]interfaces.Scraper),
	}
	s.Register(NewHTMLScraper(fetcher, renderer, logger))
	s.Register(NewAPIScraper(fetcher, logger))
	return s
}

// Register maps an adapter to every source type it serves. Later
// registrations win, so callers can override a built-in.
func (s *Service) Register(adapter interfaces.Scraper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range adapter.SourceTypes() {
		s.adapters[t] = adapter
	}
}

// ForSource resolves the adapter for a source's type.
func (s *Service) ForSource(source *models.JobSource) (interfaces.Scraper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	adapter, ok := s.adapters[source.Type]
	if !ok {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "scraper.ForSource",
			fmt.Sprintf("no scraper registered for source type %s", source.Type))
	}
	return adapter, nil
}

// FetchSource scrapes one page of a source through its adapter.
func (s *Service) FetchSource(ctx context.Context, source *models.JobSource, cursor string) (*models.SourceFetchResult, error) {
	adapter, err := s.ForSource(source)
	if err != nil {
		return nil, err
	}
	return adapter.Fetch(ctx, source, interfaces.FetchOptions{Cursor: cursor})
}

// FetchPage retrieves a single URL. When the plain response is a
// client-side shell and the browser is available, the page is re-fetched
// rendered.
func (s *Service) FetchPage(ctx context.Context, url string) (*models.FetchedPage, error) {
	page, err := s.fetcher.FetchPage(ctx, url)
	if err != nil {
		return nil, err
	}
	if s.browser != nil && looksLikeJSShell(page.Body) {
		s.logger.Debug().Str("url", url).Msg("Plain fetch returned a JS shell, rendering in browser")
		rendered, rerr := s.browser.Render(ctx, url, "")
		if rerr != nil {
			s.logger.Warn().Err(rerr).Str("url", url).Msg("Browser render failed, keeping plain fetch")
			return page, nil
		}
		return rendered, nil
	}
	return page, nil
}

// FetchListing retrieves one posting URL and packages it as a raw listing:
// page title plus the document body converted to markdown. Field-level
// extraction is the agent's job downstream.
func (s *Service) FetchListing(ctx context.Context, url string) (*models.RawListing, error) {
	const op = "scraper.FetchListing"

	page, err := s.FetchPage(ctx, url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Body))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, op, err)
	}

	doc.Find("script, style, noscript").Remove()
	bodyHTML, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(bodyHTML) == "" {
		bodyHTML = page.Body
	}

	listing := &models.RawListing{
		URL:             page.FinalURL,
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		DescriptionHTML: bodyHTML,
	}
	if markdown, err := md.NewConverter(baseOf(page.FinalURL), true, nil).ConvertString(bodyHTML); err == nil {
		listing.DescriptionMarkdown = markdown
	}

	s.logger.Debug().
		Str("url", url).
		Str("final_url", page.FinalURL).
		Int("markdown_size", len(listing.DescriptionMarkdown)).
		Msg("Listing page fetched")

	return listing, nil
}

// Close shuts down the browser. The pooled HTTP client needs no teardown.
func (s *Service) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

var (
	_ interfaces.ScraperService  = (*Service)(nil)
	_ interfaces.Scraper         = (*HTMLScraper)(nil)
	_ interfaces.Scraper         = (*APIScraper)(nil)
	_ interfaces.BrowserRenderer = (*Browser)(nil)
)
