// -----------------------------------------------------------------------
// Scrape Results - Raw listings as scrapers hand them to the pipeline
// -----------------------------------------------------------------------

package models

import (
	"strings"
	"time"
)

// RawListing is a scraped posting before normalization into a JobListing.
// DescriptionMarkdown is preferred; scrapers that only capture HTML leave
// it empty and the intake converts.
type RawListing struct {
	URL                 string     `json:"url"`
	ExternalID          string     `json:"external_id,omitempty"`
	Title               string     `json:"title"`
	CompanyName         string     `json:"company_name,omitempty"`
	Location            string     `json:"location,omitempty"`
	SalaryRange         string     `json:"salary_range,omitempty"`
	DescriptionHTML     string     `json:"description_html,omitempty"`
	DescriptionMarkdown string     `json:"description_markdown,omitempty"`
	PostedAt            *time.Time `json:"posted_at,omitempty"`
}

// Complete reports whether the mandatory extraction fields are present.
func (r *RawListing) Complete() bool {
	return r.URL != "" && strings.TrimSpace(r.Title) != ""
}

// SourceFetchResult is one page of listings from a source, with the cursor
// to continue pagination when the source supports it.
type SourceFetchResult struct {
	Listings   []RawListing `json:"listings"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// FetchedPage is one retrieved document: body plus the transport facts the
// pipeline classifies on (final URL after redirects, HTTP status).
type FetchedPage struct {
	Body        string    `json:"body"`
	FinalURL    string    `json:"final_url"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Redirected reports whether the fetch landed on a different URL than
// requested, after normalization of both sides.
func (p *FetchedPage) Redirected(requested string) bool {
	return p.FinalURL != "" && p.FinalURL != requested
}
