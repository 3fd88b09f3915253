package models

// Payload keys shared by intake, the processors and the queue manager.
// Payloads round-trip through JSON, so values read back as float64/string;
// use the typed accessors on QueueItem.
const (
	PayloadSourceID     = "source_id"
	PayloadSourceType   = "source_type"
	PayloadSourceName   = "source_name"
	PayloadSourceConfig = "source_config"
	PayloadCursor       = "cursor"
	PayloadPage         = "page"
	PayloadCompanyName  = "company_name"
	PayloadCompanyURL   = "company_url"
	PayloadCompanyID    = "company_id"
	PayloadListingID    = "listing_id"
	PayloadListings     = "listings"
	PayloadSeeds        = "seeds"
	PayloadProbeURL     = "probe_url"
	PayloadProbes       = "probes"
	PayloadPageText     = "page_text"
	PayloadPageURL      = "page_url"
	PayloadFacts        = "facts"
	PayloadJobsFound    = "jobs_found"
	PayloadMatchID      = "match_id"
	PayloadReason       = "reason"
)
