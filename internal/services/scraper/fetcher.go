// -----------------------------------------------------------------------
// Page Fetcher - Pooled HTTP with redirects, rate limits, classification
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// botWallMarkers are body fragments specific to challenge and denial walls.
// Markup-level markers, not prose, so listings that merely talk about bot
// detection never trip them.
var botWallMarkers = []string{
	"g-recaptcha",
	"h-captcha",
	"cf-challenge",
	"challenge-platform",
	"_incapsula_",
	"perimeterx",
	"px-captcha",
	"verify you are human",
	"pardon our interruption",
	"unusual traffic from your",
}

// Fetcher retrieves pages over a pooled HTTP client with per-host rate
// limiting, bounded redirects and response size, and maps transport
// failures onto pipeline error kinds.
type Fetcher struct {
	client *http.Client
	limits *hostLimiters
	cfg    common.ScraperConfig
	logger arbor.ILogger
}

func NewFetcher(cfg common.ScraperConfig, logger arbor.ILogger) *Fetcher {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &Fetcher{
		client: client,
		limits: newHostLimiters(cfg.RequestsPerMinute),
		cfg:    cfg,
		logger: logger,
	}
}

// FetchPage GETs url with the default politeness budget. Non-2xx statuses
// come back as classified errors, never as pages.
func (f *Fetcher) FetchPage(ctx context.Context, url string) (*models.FetchedPage, error) {
	return f.fetch(ctx, url, 0)
}

// FetchPageForSource is FetchPage with the source's own rate override.
func (f *Fetcher) FetchPageForSource(ctx context.Context, url string, perMinute int) (*models.FetchedPage, error) {
	return f.fetch(ctx, url, perMinute)
}

func (f *Fetcher) fetch(ctx context.Context, url string, perMinute int) (*models.FetchedPage, error) {
	const op = "scraper.FetchPage"

	if err := f.limits.wait(ctx, url, perMinute); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, op, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	return f.do(req, op)
}

// do executes a prepared request on the pooled client, reads the bounded
// body and classifies the outcome. API adapters reuse it with their own
// requests and clients.
func (f *Fetcher) do(req *http.Request, op string) (*models.FetchedPage, error) {
	return f.doWithClient(f.client, req, op)
}

func (f *Fetcher) doWithClient(client *http.Client, req *http.Request, op string) (*models.FetchedPage, error) {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, models.NewPipelineError(models.ErrKindTransient, op, err)
	}
	defer resp.Body.Close()

	maxBody := f.cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBody)))
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, op, fmt.Errorf("reading body from %s: %w", req.URL, err))
	}

	finalURL := req.URL.String()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if normalized, err := common.NormalizeURL(finalURL); err == nil {
		finalURL = normalized
	}

	page := &models.FetchedPage{
		Body:        string(body),
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now(),
	}

	f.logger.Debug().
		Str("url", req.URL.String()).
		Str("final_url", finalURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Fetched page")

	if err := classifyPage(op, finalURL, page); err != nil {
		return nil, err
	}
	return page, nil
}

// classifyPage maps a response onto the pipeline error kinds. 2xx pages
// pass unless the body is a bot wall.
func classifyPage(op, url string, page *models.FetchedPage) error {
	status := page.StatusCode
	if status >= 200 && status < 300 {
		if wall := botWallMarker(page.Body); wall != "" {
			return models.NewPipelineErrorMsg(models.ErrKindBlocked, op, fmt.Sprintf("bot wall (%s) at %s", wall, url))
		}
		return nil
	}
	return classifyStatus(op, url, status)
}

func classifyStatus(op, url string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return models.NewPipelineErrorMsg(models.ErrKindNotFound, op, fmt.Sprintf("404 at %s", url))
	case status == http.StatusGone:
		return models.NewPipelineErrorMsg(models.ErrKindGone, op, fmt.Sprintf("410 at %s", url))
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusProxyAuthRequired,
		status == http.StatusTooManyRequests,
		status == http.StatusUnavailableForLegalReasons:
		return models.NewPipelineErrorMsg(models.ErrKindBlocked, op, fmt.Sprintf("status %d at %s", status, url))
	case status >= 500:
		return models.NewPipelineErrorMsg(models.ErrKindTransient, op, fmt.Sprintf("status %d at %s", status, url))
	default:
		return models.NewPipelineErrorMsg(models.ErrKindTransient, op, fmt.Sprintf("unexpected status %d at %s", status, url))
	}
}

// botWallMarker scans the head of the body for challenge-page fragments and
// returns the matched marker, empty when clean.
func botWallMarker(body string) string {
	head := body
	if len(head) > 8192 {
		head = head[:8192]
	}
	head = strings.ToLower(head)
	for _, marker := range botWallMarkers {
		if strings.Contains(head, marker) {
			return marker
		}
	}
	return ""
}
