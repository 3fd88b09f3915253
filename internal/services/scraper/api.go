// -----------------------------------------------------------------------
// API Scraper - JSON job boards (generic plus Greenhouse/Lever/Workday)
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// APIScraper pulls listings from JSON endpoints. Field locations come from
// the source config as dotted paths (optionally "$."-prefixed); the vendor
// presets fill them in for Greenhouse, Lever and Workday boards.
//
// Config keys: url, method, body, jobs_path, title_path, url_path, url_base,
// company_path, location_path, salary_path, description_path, posted_path,
// external_id_path, next_cursor_path, cursor_param, page_param, page_size,
// auth_token, oauth_token_url, oauth_client_id, oauth_client_secret,
// oauth_scopes, requests_per_minute.
type APIScraper struct {
	fetcher *Fetcher
	logger  arbor.ILogger

	mu           sync.Mutex
	oauthClients map[string]*http.Client // keyed by source ID
}

func NewAPIScraper(fetcher *Fetcher, logger arbor.ILogger) *APIScraper {
	return &APIScraper{
		fetcher:      fetcher,
		logger:       logger,
		oauthClients: make(map[string]*http.Client),
	}
}

func (a *APIScraper) SourceTypes() []models.SourceType {
	return []models.SourceType{
		models.SourceTypeAPI,
		models.SourceTypeGreenhouse,
		models.SourceTypeLever,
		models.SourceTypeWorkday,
	}
}

func (a *APIScraper) Fetch(ctx context.Context, source *models.JobSource, opts interfaces.FetchOptions) (*models.SourceFetchResult, error) {
	const op = "scraper.api.Fetch"
	cfg := effectiveConfig(source)

	baseURL, ok := cfg.str("url")
	if !ok || baseURL == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, op, fmt.Sprintf("source %s has no url configured", source.ID))
	}

	reqURL, err := paginatedURL(baseURL, cfg, opts.Cursor)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, op, err)
	}

	perMinute, _ := cfg.intVal("requests_per_minute")
	if err := a.fetcher.limits.wait(ctx, reqURL, perMinute); err != nil {
		return nil, err
	}

	req, err := a.buildRequest(ctx, reqURL, cfg)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, op, err)
	}

	page, err := a.fetcher.doWithClient(a.clientFor(source, cfg), req, op)
	if err != nil {
		return nil, err
	}

	root := gjson.Parse(page.Body)
	jobs := root
	if jobsPath := jsonPath(cfg, "jobs_path"); jobsPath != "" {
		jobs = root.Get(jobsPath)
	}
	if !jobs.IsArray() {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, op, fmt.Sprintf("no listing array at %q in response from %s", jsonPath(cfg, "jobs_path"), reqURL))
	}

	converter := md.NewConverter(baseOf(reqURL), true, nil)
	result := &models.SourceFetchResult{}

	jobs.ForEach(func(_, item gjson.Result) bool {
		listing := a.extractListing(item, cfg, converter)
		if listing == nil {
			return true
		}
		result.Listings = append(result.Listings, *listing)
		return opts.Limit <= 0 || len(result.Listings) < opts.Limit
	})

	result.NextCursor = nextCursor(cfg, root, len(result.Listings), opts.Cursor)

	a.logger.Debug().
		Str("source_id", source.ID).
		Str("url", reqURL).
		Int("listings", len(result.Listings)).
		Bool("more", result.NextCursor != "").
		Msg("API source page scraped")

	return result, nil
}

func (a *APIScraper) buildRequest(ctx context.Context, reqURL string, cfg sourceConfig) (*http.Request, error) {
	method := http.MethodGet
	var body io.Reader
	if m, ok := cfg.str("method"); ok && strings.EqualFold(m, http.MethodPost) {
		method = http.MethodPost
		if payload, ok := cfg.str("body"); ok && payload != "" {
			body = strings.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.fetcher.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := cfg.str("auth_token"); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// clientFor returns the shared pooled client, or a cached OAuth2
// client-credentials client when the source configures a token URL.
func (a *APIScraper) clientFor(source *models.JobSource, cfg sourceConfig) *http.Client {
	tokenURL, ok := cfg.str("oauth_token_url")
	if !ok || tokenURL == "" {
		return a.fetcher.client
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if client, ok := a.oauthClients[source.ID]; ok {
		return client
	}

	clientID, _ := cfg.str("oauth_client_id")
	clientSecret, _ := cfg.str("oauth_client_secret")
	scopes, _ := cfg.str("oauth_scopes")
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       strings.Fields(scopes),
	}

	// Background context: the client outlives any single fetch and refreshes
	// tokens on its own schedule.
	client := cc.Client(context.Background())
	client.Timeout = a.fetcher.cfg.RequestTimeout
	a.oauthClients[source.ID] = client
	return client
}

func (a *APIScraper) extractListing(item gjson.Result, cfg sourceConfig, converter *md.Converter) *models.RawListing {
	listing := &models.RawListing{
		Title:       fieldString(item, cfg, "title_path"),
		CompanyName: fieldString(item, cfg, "company_path"),
		Location:    fieldString(item, cfg, "location_path"),
		SalaryRange: fieldString(item, cfg, "salary_path"),
		ExternalID:  fieldString(item, cfg, "external_id_path"),
	}

	href := fieldString(item, cfg, "url_path")
	if base, ok := cfg.str("url_base"); ok && base != "" && href != "" && !strings.HasPrefix(href, "http") {
		href = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(href, "/")
	}
	listing.URL = href

	if desc := fieldString(item, cfg, "description_path"); desc != "" {
		// Greenhouse ships entity-escaped HTML in content.
		if strings.Contains(desc, "&lt;") {
			desc = html.UnescapeString(desc)
		}
		if looksLikeHTML(desc) {
			listing.DescriptionHTML = desc
			if markdown, err := converter.ConvertString(desc); err == nil {
				listing.DescriptionMarkdown = markdown
			}
		} else {
			listing.DescriptionMarkdown = desc
		}
	}

	if path := jsonPath(cfg, "posted_path"); path != "" {
		if res := item.Get(path); res.Exists() {
			listing.PostedAt = parsePostedResult(res)
		}
	}

	if !listing.Complete() {
		return nil
	}
	return listing
}

// paginatedURL applies the cursor to the request URL. Cursor sources carry
// an opaque token in cursor_param; page sources carry the page number in
// page_param, starting at 1.
func paginatedURL(base string, cfg sourceConfig, cursor string) (string, error) {
	cursorParam, _ := cfg.str("cursor_param")
	pageParam, _ := cfg.str("page_param")
	if cursorParam == "" && pageParam == "" {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()

	switch {
	case cursorParam != "":
		if cursor != "" {
			q.Set(cursorParam, cursor)
		}
	case pageParam != "":
		page := 1
		if cursor != "" {
			page, err = strconv.Atoi(cursor)
			if err != nil {
				return "", fmt.Errorf("page cursor %q is not a number: %w", cursor, err)
			}
		}
		q.Set(pageParam, strconv.Itoa(page))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// nextCursor derives the continuation cursor: an explicit token from the
// response when next_cursor_path is set, otherwise the next page number
// while pages keep coming back full.
func nextCursor(cfg sourceConfig, root gjson.Result, count int, cursor string) string {
	if path := jsonPath(cfg, "next_cursor_path"); path != "" {
		if res := root.Get(path); res.Exists() && res.String() != "" {
			return res.String()
		}
		return ""
	}

	pageParam, _ := cfg.str("page_param")
	pageSize, _ := cfg.intVal("page_size")
	if pageParam == "" || pageSize <= 0 || count < pageSize {
		return ""
	}
	page := 1
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil {
			page = n
		}
	}
	return strconv.Itoa(page + 1)
}

// jsonPath reads a configured field path with any "$." JSONPath prefix
// stripped, leaving the gjson dotted form.
func jsonPath(cfg sourceConfig, key string) string {
	raw, ok := cfg.str(key)
	if !ok {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if raw == "$" {
		return ""
	}
	return strings.TrimPrefix(raw, "$.")
}

func fieldString(item gjson.Result, cfg sourceConfig, key string) string {
	path := jsonPath(cfg, key)
	if path == "" {
		return ""
	}
	res := item.Get(path)
	if !res.Exists() {
		return ""
	}
	return strings.TrimSpace(res.String())
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	for _, tag := range []string{"<p", "<div", "<br", "<ul", "<li", "<h1", "<h2", "<h3", "<span"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}

// parsePostedResult turns a posted-at JSON value into a timestamp. Numbers
// are epochs (milliseconds when too large for seconds), strings go through
// the shared listing time formats.
func parsePostedResult(res gjson.Result) *time.Time {
	switch res.Type {
	case gjson.Number:
		n := res.Int()
		if n <= 0 {
			return nil
		}
		var ts time.Time
		if n > 1e12 {
			ts = time.UnixMilli(n)
		} else {
			ts = time.Unix(n, 0)
		}
		return &ts
	case gjson.String:
		return parseListingTime(res.String())
	default:
		return nil
	}
}
