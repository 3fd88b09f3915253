// -----------------------------------------------------------------------
// Vendor Presets - Config overlays for known job-board providers
// -----------------------------------------------------------------------

package scraper

import (
	"fmt"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// sourceConfig is the merged view of a source's config: vendor preset
// underneath, the source's own entries on top. Values arrive via JSON so
// numbers may be float64.
type sourceConfig map[string]interface{}

func (c sourceConfig) str(key string) (string, bool) {
	val, ok := c[key]
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}

func (c sourceConfig) boolVal(key string) (bool, bool) {
	val, ok := c[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

func (c sourceConfig) intVal(key string) (int, bool) {
	val, ok := c[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// effectiveConfig merges the vendor preset for the source type with the
// source's own config. Source entries win so any preset path can be
// overridden per source.
func effectiveConfig(source *models.JobSource) sourceConfig {
	merged := sourceConfig{}
	for k, v := range vendorPreset(source) {
		merged[k] = v
	}
	for k, v := range source.Config {
		merged[k] = v
	}
	return merged
}

// vendorPreset returns the built-in field mapping for known providers.
// Generic HTML and API sources have no preset; their config stands alone.
func vendorPreset(source *models.JobSource) sourceConfig {
	switch source.Type {
	case models.SourceTypeGreenhouse:
		preset := sourceConfig{
			"jobs_path":        "jobs",
			"title_path":       "title",
			"url_path":         "absolute_url",
			"location_path":    "location.name",
			"description_path": "content",
			"external_id_path": "id",
			"posted_path":      "updated_at",
		}
		if board, ok := source.GetConfigString("board"); ok && board != "" {
			preset["url"] = fmt.Sprintf("https://boards-api.greenhouse.io/v1/boards/%s/jobs?content=true", board)
		}
		return preset

	case models.SourceTypeLever:
		preset := sourceConfig{
			// Lever returns the postings as the top-level array.
			"jobs_path":        "",
			"title_path":       "text",
			"url_path":         "hostedUrl",
			"location_path":    "categories.location",
			"description_path": "description",
			"external_id_path": "id",
			"posted_path":      "createdAt",
		}
		if org, ok := source.GetConfigString("org"); ok && org != "" {
			preset["url"] = fmt.Sprintf("https://api.lever.co/v0/postings/%s?mode=json", org)
		}
		return preset

	case models.SourceTypeWorkday:
		// Workday CXS endpoints differ per tenant, so url stays config-only.
		return sourceConfig{
			"jobs_path":        "jobPostings",
			"title_path":       "title",
			"url_path":         "externalPath",
			"location_path":    "locationsText",
			"external_id_path": "bulletFields.0",
		}

	case models.SourceTypeRSS:
		return sourceConfig{
			"item_selector":        "item",
			"title_selector":       "title",
			"url_selector":         "guid",
			"description_selector": "description",
			"posted_selector":      "pubdate",
		}

	default:
		return sourceConfig{}
	}
}
