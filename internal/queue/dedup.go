// -----------------------------------------------------------------------
// Dedup Keys - Active-work identity per item type
// -----------------------------------------------------------------------

package queue

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// scrapeBucketFormat groups scheduled scrapes of one source into hourly
// buckets so the scheduler cannot double-enqueue a source within the hour.
const scrapeBucketFormat = "2006010215"

// DedupKey derives the active-work identity for an item. Submitting an item
// whose key matches an active (non-terminal) item returns the existing id
// instead of enqueuing.
//
// JOB keys include the subType: the same URL legitimately appears once per
// step of the lane (FETCH, EXTRACT, ...), and those must never collapse
// into one item. SCRAPE_SOURCE keys ignore the subType but append the
// pagination cursor and page so in-flight pages of one scrape stay distinct.
func DedupKey(item *models.QueueItem) string {
	switch item.Type {
	case models.ItemTypeJob:
		return stepKey(string(item.Type), string(item.SubType), normalizedTarget(item.URL))

	case models.ItemTypeCompany:
		name, _ := item.GetPayloadString(models.PayloadCompanyName)
		if name == "" {
			name = item.URL
		}
		return stepKey(string(item.Type), string(item.SubType), common.CanonicalCompanyName(name))

	case models.ItemTypeScrapeSource:
		sourceID, _ := item.GetPayloadString(models.PayloadSourceID)
		key := stepKey(string(item.Type), sourceID, item.CreatedAt.UTC().Format(scrapeBucketFormat))
		if cursor, ok := item.GetPayloadString(models.PayloadCursor); ok && cursor != "" {
			key = key + "|" + cursor
		}
		if page, ok := item.GetPayloadInt(models.PayloadPage); ok && page > 0 {
			key = key + "|p" + strconv.Itoa(page)
		}
		return key

	case models.ItemTypeCompanyDiscovery:
		seeds, _ := item.GetPayloadStringSlice(models.PayloadSeeds)
		canon := make([]string, 0, len(seeds))
		for _, s := range seeds {
			canon = append(canon, common.CanonicalCompanyName(s))
		}
		sort.Strings(canon)
		return stepKey(string(item.Type), string(item.SubType), strings.Join(canon, ","))

	default:
		// SOURCE_DISCOVERY and anything new: key on the normalized target
		target := item.URL
		if target == "" {
			target, _ = item.GetPayloadString(models.PayloadCompanyName)
		}
		return stepKey(string(item.Type), string(item.SubType), normalizedTarget(target))
	}
}

func stepKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// normalizedTarget normalizes a URL for keying; non-URL targets pass
// through lowercased.
func normalizedTarget(raw string) string {
	if raw == "" {
		return ""
	}
	normalized, err := common.NormalizeURL(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return normalized
}
