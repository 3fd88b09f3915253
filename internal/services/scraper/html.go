// -----------------------------------------------------------------------
// HTML Scraper - Selector-driven listing extraction
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// HTMLScraper extracts listings from server-rendered pages using selectors
// from the source config. Sources that render client-side set render:true
// (or get detected as JS shells) and go through the browser instead.
//
// Config keys: url, item_selector, title_selector, url_selector,
// company_selector, location_selector, salary_selector, posted_selector,
// description_selector, next_selector, render, requests_per_minute.
type HTMLScraper struct {
	fetcher  *Fetcher
	renderer interfaces.BrowserRenderer // nil when browser rendering is disabled
	logger   arbor.ILogger
}

func NewHTMLScraper(fetcher *Fetcher, renderer interfaces.BrowserRenderer, logger arbor.ILogger) *HTMLScraper {
	return &HTMLScraper{fetcher: fetcher, renderer: renderer, logger: logger}
}

func (h *HTMLScraper) SourceTypes() []models.SourceType {
	return []models.SourceType{models.SourceTypeHTML, models.SourceTypeCompanyPage, models.SourceTypeRSS}
}

func (h *HTMLScraper) Fetch(ctx context.Context, source *models.JobSource, opts interfaces.FetchOptions) (*models.SourceFetchResult, error) {
	const op = "scraper.html.Fetch"
	cfg := effectiveConfig(source)

	pageURL := opts.Cursor
	if pageURL == "" {
		var ok bool
		pageURL, ok = cfg.str("url")
		if !ok || pageURL == "" {
			return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, op, fmt.Sprintf("source %s has no url configured", source.ID))
		}
	}

	itemSelector, ok := cfg.str("item_selector")
	if !ok || itemSelector == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, op, fmt.Sprintf("source %s has no item_selector configured", source.ID))
	}

	body, finalURL, err := h.fetchBody(ctx, pageURL, cfg)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, op, err)
	}

	items := doc.Find(itemSelector)
	if items.Length() == 0 {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, op, fmt.Sprintf("selector %q matched nothing at %s", itemSelector, finalURL))
	}

	converter := md.NewConverter(baseOf(finalURL), true, nil)
	result := &models.SourceFetchResult{}
	limit := opts.Limit

	items.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		listing := h.extractListing(sel, cfg, finalURL, converter)
		if listing == nil {
			return true
		}
		result.Listings = append(result.Listings, *listing)
		return limit <= 0 || len(result.Listings) < limit
	})

	if nextSel, ok := cfg.str("next_selector"); ok && nextSel != "" {
		if href, exists := doc.Find(nextSel).First().Attr("href"); exists {
			result.NextCursor = absoluteURL(finalURL, href)
		}
	}

	h.logger.Debug().
		Str("source_id", source.ID).
		Str("url", finalURL).
		Int("listings", len(result.Listings)).
		Bool("more", result.NextCursor != "").
		Msg("HTML source page scraped")

	return result, nil
}

// fetchBody gets the page over plain HTTP, falling back to the browser when
// the source demands rendering or the response is a JavaScript shell.
func (h *HTMLScraper) fetchBody(ctx context.Context, pageURL string, cfg sourceConfig) (body, finalURL string, err error) {
	render, _ := cfg.boolVal("render")
	if render && h.renderer != nil {
		return h.renderBody(ctx, pageURL, cfg)
	}

	perMinute, _ := cfg.intVal("requests_per_minute")
	page, err := h.fetcher.FetchPageForSource(ctx, pageURL, perMinute)
	if err != nil {
		return "", "", err
	}

	if h.renderer != nil && looksLikeJSShell(page.Body) {
		h.logger.Debug().Str("url", pageURL).Msg("Plain fetch returned a JS shell, rendering in browser")
		return h.renderBody(ctx, pageURL, cfg)
	}
	return page.Body, page.FinalURL, nil
}

func (h *HTMLScraper) renderBody(ctx context.Context, pageURL string, cfg sourceConfig) (string, string, error) {
	waitSelector, _ := cfg.str("wait_selector")
	page, err := h.renderer.Render(ctx, pageURL, waitSelector)
	if err != nil {
		return "", "", err
	}
	return page.Body, page.FinalURL, nil
}

// extractListing pulls one listing from an item element. Returns nil when
// the mandatory fields are absent so a stray matched element is skipped,
// not fatal.
func (h *HTMLScraper) extractListing(sel *goquery.Selection, cfg sourceConfig, baseURL string, converter *md.Converter) *models.RawListing {
	listing := &models.RawListing{
		Title:       selectorText(sel, cfg, "title_selector"),
		CompanyName: selectorText(sel, cfg, "company_selector"),
		Location:    selectorText(sel, cfg, "location_selector"),
		SalaryRange: selectorText(sel, cfg, "salary_selector"),
	}

	if posted := selectorText(sel, cfg, "posted_selector"); posted != "" {
		if ts := parseListingTime(posted); ts != nil {
			listing.PostedAt = ts
		}
	}

	urlSel, _ := cfg.str("url_selector")
	target := sel
	if urlSel != "" {
		target = sel.Find(urlSel).First()
	}
	href, _ := target.Attr("href")
	if href == "" {
		// RSS-style feeds carry the link as element text (guid, link).
		href = strings.TrimSpace(target.Text())
	}
	if href == "" {
		if parent := sel.Closest("a"); parent.Length() > 0 {
			href, _ = parent.Attr("href")
		}
	}
	listing.URL = absoluteURL(baseURL, href)

	if descSel, ok := cfg.str("description_selector"); ok && descSel != "" {
		if html, err := sel.Find(descSel).First().Html(); err == nil && html != "" {
			listing.DescriptionHTML = html
			if markdown, err := converter.ConvertString(html); err == nil {
				listing.DescriptionMarkdown = markdown
			}
		}
	}

	if !listing.Complete() {
		return nil
	}
	return listing
}

// selectorText reads the trimmed text behind a configured selector, empty
// when the key or the node is absent.
func selectorText(sel *goquery.Selection, cfg sourceConfig, key string) string {
	selector, ok := cfg.str(key)
	if !ok || selector == "" {
		return ""
	}
	return strings.TrimSpace(sel.Find(selector).First().Text())
}

// looksLikeJSShell reports whether a page body is an empty client-side
// application shell: scripts present, no meaningful visible text.
func looksLikeJSShell(body string) bool {
	lower := strings.ToLower(body)
	if !strings.Contains(lower, "<script") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	doc.Find("script, style, noscript").Remove()
	visible := strings.TrimSpace(doc.Find("body").Text())
	return len(visible) < 200
}

// absoluteURL resolves href against base. Already-absolute hrefs pass
// through; unparseable input returns the href unchanged.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	hrefURL, err := url.Parse(href)
	if err != nil {
		return href
	}
	if hrefURL.IsAbs() {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(hrefURL).String()
}

func baseOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// parseListingTime parses the posting timestamp formats sources actually
// emit: RFC 3339, bare dates, RFC 1123 (RSS pubDate), epoch seconds or
// milliseconds.
func parseListingTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		time.RFC1123Z,
		time.RFC1123,
		"Jan 2, 2006",
		"2 Jan 2006",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts
		}
	}
	if epoch, err := parseEpoch(s); err == nil {
		return &epoch
	}
	return nil
}

func parseEpoch(s string) (time.Time, error) {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return time.Time{}, err
	}
	if n <= 0 {
		return time.Time{}, fmt.Errorf("not an epoch: %q", s)
	}
	// Millisecond epochs are 13 digits until the year 33658.
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
