package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

func TestDedupKeyJobIncludesSubTypeAndNormalizedURL(t *testing.T) {
	fetch := models.NewQueueItem(models.ItemTypeJob, models.SubTypeFetch, models.OriginUserSubmission,
		"HTTPS://Example.com/jobs/1?utm_source=x", nil)
	extract := models.NewQueueItem(models.ItemTypeJob, models.SubTypeExtract, models.OriginFanOut,
		"https://example.com/jobs/1", nil)

	fetchKey := DedupKey(fetch)
	extractKey := DedupKey(extract)

	assert.Equal(t, "JOB|FETCH|https://example.com/jobs/1", fetchKey)
	assert.Equal(t, "JOB|EXTRACT|https://example.com/jobs/1", extractKey)
	assert.NotEqual(t, fetchKey, extractKey, "lane steps over one URL must not collapse")
}

func TestDedupKeyCompanyCanonicalizesName(t *testing.T) {
	a := models.NewQueueItem(models.ItemTypeCompany, models.SubTypeFetch, models.OriginUserSubmission, "",
		map[string]interface{}{models.PayloadCompanyName: "Acme, Inc."})
	b := models.NewQueueItem(models.ItemTypeCompany, models.SubTypeFetch, models.OriginUserSubmission, "",
		map[string]interface{}{models.PayloadCompanyName: "ACME Inc"})

	assert.Equal(t, DedupKey(a), DedupKey(b), "legal suffixes and punctuation must not split companies")
}

func TestDedupKeyScrapeSourceBucketsByHour(t *testing.T) {
	a := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeFetchPage, models.OriginScheduled, "",
		map[string]interface{}{models.PayloadSourceID: "src_1"})
	b := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeFetchPage, models.OriginScheduled, "",
		map[string]interface{}{models.PayloadSourceID: "src_1"})
	b.CreatedAt = a.CreatedAt

	assert.Equal(t, DedupKey(a), DedupKey(b), "same source in the same hour collides")

	other := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeFetchPage, models.OriginScheduled, "",
		map[string]interface{}{models.PayloadSourceID: "src_2"})
	other.CreatedAt = a.CreatedAt
	assert.NotEqual(t, DedupKey(a), DedupKey(other))
}

func TestDedupKeyScrapeSourcePaginationStaysDistinct(t *testing.T) {
	page1 := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeFetchPage, models.OriginScheduled, "",
		map[string]interface{}{models.PayloadSourceID: "src_1"})
	page2 := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeFetchPage, models.OriginFanOut, "",
		map[string]interface{}{models.PayloadSourceID: "src_1", models.PayloadCursor: "c2"})
	page2.CreatedAt = page1.CreatedAt

	intake1 := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeIntake, models.OriginFanOut, "",
		map[string]interface{}{models.PayloadSourceID: "src_1", models.PayloadPage: 1})
	intake2 := models.NewQueueItem(models.ItemTypeScrapeSource, models.SubTypeIntake, models.OriginFanOut, "",
		map[string]interface{}{models.PayloadSourceID: "src_1", models.PayloadPage: 2})
	intake1.CreatedAt = page1.CreatedAt
	intake2.CreatedAt = page1.CreatedAt

	keys := map[string]bool{
		DedupKey(page1):   true,
		DedupKey(page2):   true,
		DedupKey(intake1): true,
		DedupKey(intake2): true,
	}
	assert.Len(t, keys, 4, "in-flight pages of one scrape must carry distinct keys")
}

func TestDedupKeyCompanyDiscoverySortsSeeds(t *testing.T) {
	a := models.NewQueueItem(models.ItemTypeCompanyDiscovery, models.SubTypeSeed, models.OriginUserSubmission, "",
		map[string]interface{}{models.PayloadSeeds: []string{"Beta LLC", "Acme Inc"}})
	b := models.NewQueueItem(models.ItemTypeCompanyDiscovery, models.SubTypeSeed, models.OriginUserSubmission, "",
		map[string]interface{}{models.PayloadSeeds: []string{"acme", "beta"}})

	assert.Equal(t, DedupKey(a), DedupKey(b), "seed order and suffixes must not matter")
}

func TestDedupKeySourceDiscoveryUsesNormalizedTarget(t *testing.T) {
	a := models.NewQueueItem(models.ItemTypeSourceDiscovery, models.SubTypeProbe, models.OriginFanOut,
		"https://EXAMPLE.com/careers/", nil)
	b := models.NewQueueItem(models.ItemTypeSourceDiscovery, models.SubTypeProbe, models.OriginFanOut,
		"https://example.com/careers", nil)

	assert.Equal(t, DedupKey(a), DedupKey(b))
}
