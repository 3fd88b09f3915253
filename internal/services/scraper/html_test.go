package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

func newTestHTMLScraper(t *testing.T) *HTMLScraper {
	t.Helper()
	return NewHTMLScraper(newTestFetcher(t), nil, arbor.NewLogger())
}

func htmlSource(url string, extra map[string]interface{}) *models.JobSource {
	config := map[string]interface{}{
		"url":           url,
		"item_selector": "div.job",
	}
	for k, v := range extra {
		config[k] = v
	}
	return models.NewJobSource("test board", models.SourceTypeHTML, config)
}

const listingPage = `<html><body>
<div class="job">
	<h2 class="title"><a href="/jobs/1">Senior Go Engineer</a></h2>
	<span class="company">Acme Corp</span>
	<span class="location">Remote (US)</span>
	<span class="salary">$150k-$190k</span>
	<div class="desc"><p>Build <strong>distributed</strong> pipelines.</p></div>
</div>
<div class="job">
	<h2 class="title"><a href="https://other.example.com/jobs/2">Platform Engineer</a></h2>
	<span class="company">Beta Inc</span>
	<span class="location">Denver, CO</span>
</div>
<div class="job">
	<h2 class="title">No link, no listing</h2>
</div>
<a class="next" href="/board?page=2">Next</a>
</body></html>`

func TestHTMLFetchExtractsListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingPage)
	}))
	defer server.Close()

	source := htmlSource(server.URL+"/board", map[string]interface{}{
		"title_selector":       ".title",
		"url_selector":         ".title a",
		"company_selector":     ".company",
		"location_selector":    ".location",
		"salary_selector":      ".salary",
		"description_selector": ".desc",
		"next_selector":        "a.next",
	})

	result, err := newTestHTMLScraper(t).Fetch(context.Background(), source, interfaces.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, result.Listings, 2, "the item without a URL is skipped")

	first := result.Listings[0]
	assert.Equal(t, "Senior Go Engineer", first.Title)
	assert.Equal(t, "Acme Corp", first.CompanyName)
	assert.Equal(t, "Remote (US)", first.Location)
	assert.Equal(t, "$150k-$190k", first.SalaryRange)
	assert.Equal(t, server.URL+"/jobs/1", first.URL, "relative hrefs resolve against the page URL")
	assert.Contains(t, first.DescriptionMarkdown, "**distributed**")

	second := result.Listings[1]
	assert.Equal(t, "https://other.example.com/jobs/2", second.URL, "absolute hrefs pass through")

	assert.Equal(t, server.URL+"/board?page=2", result.NextCursor)
}

func TestHTMLFetchResumesFromCursor(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		fmt.Fprint(w, `<html><body>
			<div class="job"><a class="t" href="/jobs/9">Staff Engineer</a></div>
		</body></html>`)
	}))
	defer server.Close()

	source := htmlSource(server.URL+"/board", map[string]interface{}{
		"title_selector": ".t",
		"url_selector":   "a.t",
	})

	result, err := newTestHTMLScraper(t).Fetch(context.Background(), source, interfaces.FetchOptions{
		Cursor: server.URL + "/board?page=3",
	})
	require.NoError(t, err)
	assert.Equal(t, "/board?page=3", gotPath, "cursor URL is fetched instead of the configured URL")
	require.Len(t, result.Listings, 1)
	assert.Empty(t, result.NextCursor, "no next link means pagination is done")
}

func TestHTMLFetchLimitCapsListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="job"><a class="t" href="/a">A</a></div>
			<div class="job"><a class="t" href="/b">B</a></div>
			<div class="job"><a class="t" href="/c">C</a></div>
		</body></html>`)
	}))
	defer server.Close()

	source := htmlSource(server.URL, map[string]interface{}{
		"title_selector": ".t",
		"url_selector":   "a.t",
	})

	result, err := newTestHTMLScraper(t).Fetch(context.Background(), source, interfaces.FetchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, result.Listings, 2)
}

func TestHTMLFetchRequiresConfig(t *testing.T) {
	scraper := newTestHTMLScraper(t)

	noURL := models.NewJobSource("broken", models.SourceTypeHTML, map[string]interface{}{
		"item_selector": ".job",
	})
	_, err := scraper.Fetch(context.Background(), noURL, interfaces.FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))

	noSelector := models.NewJobSource("broken", models.SourceTypeHTML, map[string]interface{}{
		"url": "http://localhost:1/board",
	})
	_, err = scraper.Fetch(context.Background(), noSelector, interfaces.FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestHTMLFetchSelectorMatchingNothingIsParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>job board moved</p></body></html>`)
	}))
	defer server.Close()

	source := htmlSource(server.URL, nil)
	_, err := newTestHTMLScraper(t).Fetch(context.Background(), source, interfaces.FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestRSSPresetParsesFeed(t *testing.T) {
	feed := `<?xml version="1.0"?>
<rss version="2.0"><channel>
	<title>Jobs Feed</title>
	<item>
		<title>Backend Engineer (Go)</title>
		<guid>https://jobs.example.com/postings/42</guid>
		<description>Ship services in Go.</description>
		<pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
	</item>
	<item>
		<title>Data Engineer</title>
		<guid>https://jobs.example.com/postings/43</guid>
		<description>Pipelines all day.</description>
	</item>
</channel></rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	source := models.NewJobSource("feed", models.SourceTypeRSS, map[string]interface{}{
		"url": server.URL + "/feed.xml",
	})

	result, err := newTestHTMLScraper(t).Fetch(context.Background(), source, interfaces.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, result.Listings, 2)

	first := result.Listings[0]
	assert.Equal(t, "Backend Engineer (Go)", first.Title)
	assert.Equal(t, "https://jobs.example.com/postings/42", first.URL, "guid text is the listing URL")
	assert.Contains(t, first.DescriptionMarkdown, "Ship services in Go.")
	require.NotNil(t, first.PostedAt)
	assert.Equal(t, 2006, first.PostedAt.Year())

	assert.Nil(t, result.Listings[1].PostedAt)
}

func TestLooksLikeJSShell(t *testing.T) {
	shell := `<html><head><script src="/bundle.js"></script></head>
		<body><div id="root"></div></body></html>`
	assert.True(t, looksLikeJSShell(shell))

	content := `<html><body><h1>Senior Go Engineer</h1><p>` +
		fmt.Sprintf("%0*d", 300, 0) + `</p><script>analytics()</script></body></html>`
	assert.False(t, looksLikeJSShell(content))

	static := `<html><body><h1>About us</h1></body></html>`
	assert.False(t, looksLikeJSShell(static), "no scripts means server-rendered, however short")
}

func TestParseListingTimeFormats(t *testing.T) {
	cases := map[string]bool{
		"2025-06-01T10:00:00Z":            true,
		"2025-06-01":                      true,
		"Mon, 02 Jan 2006 15:04:05 -0700": true,
		"Jan 2, 2006":                     true,
		"1717236000":                      true, // epoch seconds
		"1717236000000":                   true, // epoch milliseconds
		"yesterday":                       false,
		"":                                false,
	}
	for input, want := range cases {
		got := parseListingTime(input)
		if want {
			assert.NotNil(t, got, "input %q should parse", input)
		} else {
			assert.Nil(t, got, "input %q should not parse", input)
		}
	}
}
