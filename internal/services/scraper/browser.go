// -----------------------------------------------------------------------
// Browser Renderer - Headless Chrome for client-side rendered sources
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Browser renders JavaScript-heavy pages in a single shared headless Chrome.
// The browser starts lazily on first render and restarts itself after it
// fails a responsiveness probe. Each render runs in its own tab.
type Browser struct {
	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	healthy       bool

	cfg    common.ScraperConfig
	logger arbor.ILogger
}

func NewBrowser(cfg common.ScraperConfig, logger arbor.ILogger) *Browser {
	return &Browser{cfg: cfg, logger: logger}
}

// Render navigates to url in a fresh tab, waits for the page to settle and
// returns the rendered document. Non-2xx document responses and bot walls
// come back as classified errors, matching the plain fetcher.
func (b *Browser) Render(ctx context.Context, url string, waitSelector string) (*models.FetchedPage, error) {
	const op = "scraper.browser.Render"

	browserCtx, err := b.ensure()
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, op, err)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	timeout := b.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	waitTime := b.cfg.BrowserWaitTime
	if waitTime <= 0 {
		waitTime = 3 * time.Second
	}
	runCtx, runCancel := context.WithTimeout(tabCtx, timeout+waitTime)
	defer runCancel()

	// The event callback runs on the CDP goroutine; guard the captured
	// document response.
	var capMu sync.Mutex
	status := 200
	finalURL := url
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		capMu.Lock()
		status = int(resp.Response.Status)
		finalURL = resp.Response.URL
		capMu.Unlock()
	})

	settle := chromedp.Sleep(waitTime)
	if waitSelector != "" {
		settle = chromedp.WaitVisible(waitSelector, chromedp.ByQuery)
	}

	start := time.Now()
	var html string
	err = chromedp.Run(runCtx,
		network.Enable(),
		chromedp.Navigate(url),
		settle,
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.probe()
		return nil, models.NewPipelineError(models.ErrKindTransient, op, fmt.Errorf("rendering %s: %w", url, err))
	}

	capMu.Lock()
	docURL, docStatus := finalURL, status
	capMu.Unlock()
	if normalized, nerr := common.NormalizeURL(docURL); nerr == nil {
		docURL = normalized
	}

	page := &models.FetchedPage{
		Body:        html,
		FinalURL:    docURL,
		StatusCode:  docStatus,
		ContentType: "text/html",
		FetchedAt:   time.Now(),
	}

	b.logger.Debug().
		Str("url", url).
		Int("status", page.StatusCode).
		Int("size", len(page.Body)).
		Dur("duration", time.Since(start)).
		Msg("Page rendered in browser")

	if err := classifyPage(op, url, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Healthy reports whether the browser is running and passed its last probe.
func (b *Browser) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdownLocked()
	return nil
}

// ensure returns a live browser context, starting or restarting Chrome as
// needed.
func (b *Browser) ensure() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil && b.healthy && b.browserCtx.Err() == nil {
		return b.browserCtx, nil
	}
	b.shutdownLocked()

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(b.cfg.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Startup test: a browser that cannot reach about:blank is not worth
	// keeping.
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.healthy = true
	b.logger.Info().Str("user_agent", b.cfg.UserAgent).Msg("Headless browser started")
	return b.browserCtx, nil
}

// probe re-tests the browser after a render failure and marks it for
// restart when it has stopped responding.
func (b *Browser) probe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return
	}

	probeCtx, probeCancel := context.WithTimeout(b.browserCtx, 5*time.Second)
	defer probeCancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		b.logger.Warn().Err(err).Msg("Browser failed responsiveness probe, will restart on next render")
		b.healthy = false
	}
}

func (b *Browser) shutdownLocked() {
	if b.browserCancel != nil {
		b.browserCancel()
		b.browserCancel = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	b.browserCtx = nil
	b.healthy = false
}
