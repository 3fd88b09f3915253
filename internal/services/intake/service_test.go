// -----------------------------------------------------------------------
// Intake Service Tests - Real listing and source stores, scripted queue
// -----------------------------------------------------------------------

package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
	badgerstore "github.com/Jdubz/job-finder-worker-sub011/internal/storage/badger"
)

type intakeSubmit struct {
	itemType models.QueueItemType
	subType  models.QueueSubType
	url      string
	payload  map[string]interface{}
	origin   models.QueueItemOrigin
}

// intakeQueue records Submit calls. dupKeys marks urls, source ids or
// company names whose submit should report an existing duplicate.
type intakeQueue struct {
	mu      sync.Mutex
	submits []intakeSubmit
	dupKeys map[string]bool
}

func (q *intakeQueue) Submit(_ context.Context, itemType models.QueueItemType, subType models.QueueSubType, url string, payload map[string]interface{}, origin models.QueueItemOrigin) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := url
	if key == "" {
		if id, ok := payload[models.PayloadSourceID].(string); ok {
			key = id
		} else if name, ok := payload[models.PayloadCompanyName].(string); ok {
			key = name
		}
	}
	if q.dupKeys[key] {
		return "item_existing", interfaces.ErrDuplicateItem
	}

	q.submits = append(q.submits, intakeSubmit{itemType: itemType, subType: subType, url: url, payload: payload, origin: origin})
	return fmt.Sprintf("item_%d", len(q.submits)), nil
}

func (q *intakeQueue) Claim(context.Context, string, []models.QueueItemType) (*models.QueueItem, error) {
	return nil, nil
}
func (q *intakeQueue) StartProcessing(context.Context, *models.QueueItem) error { return nil }
func (q *intakeQueue) Complete(context.Context, *models.QueueItem, *interfaces.Outcome) ([]string, error) {
	return nil, nil
}
func (q *intakeQueue) Fail(context.Context, *models.QueueItem, error) error { return nil }
func (q *intakeQueue) Release(context.Context, *models.QueueItem) error     { return nil }
func (q *intakeQueue) Cancel(context.Context, string) error                 { return nil }
func (q *intakeQueue) Retry(context.Context, string) error                  { return nil }
func (q *intakeQueue) Stats(context.Context) (*models.QueueStats, error) {
	return &models.QueueStats{}, nil
}
func (q *intakeQueue) ReclaimExpired(context.Context, time.Duration) (int, error) { return 0, nil }

func (q *intakeQueue) submitted() []intakeSubmit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]intakeSubmit, len(q.submits))
	copy(out, q.submits)
	return out
}

type intakeHarness struct {
	service *Service
	queue   *intakeQueue
	mgr     interfaces.StorageManager
}

func newIntakeHarness(t *testing.T) *intakeHarness {
	t.Helper()
	logger := arbor.NewLogger()
	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	queue := &intakeQueue{dupKeys: make(map[string]bool)}
	return &intakeHarness{
		service: NewService(queue, mgr.ListingStorage(), mgr.SourceStorage(), logger),
		queue:   queue,
		mgr:     mgr,
	}
}

func TestSubmitJobUrlNormalizesAndEnqueues(t *testing.T) {
	h := newIntakeHarness(t)

	result, err := h.service.SubmitJobUrl(context.Background(), "HTTPS://Example.COM/Jobs/123/?utm_source=alert&ref=mail#apply", models.OriginUserSubmission)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "item_1", result.ID)

	submits := h.queue.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, models.ItemTypeJob, submits[0].itemType)
	assert.Equal(t, models.SubTypeFetch, submits[0].subType)
	assert.Equal(t, "https://example.com/Jobs/123", submits[0].url)
	assert.Equal(t, models.OriginUserSubmission, submits[0].origin)
	assert.Nil(t, submits[0].payload)
}

func TestSubmitJobUrlRejectsBadURL(t *testing.T) {
	h := newIntakeHarness(t)

	_, err := h.service.SubmitJobUrl(context.Background(), "ftp://example.com/jobs", models.OriginUserSubmission)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
	assert.Empty(t, h.queue.submitted())
}

func TestSubmitJobUrlReportsDuplicate(t *testing.T) {
	h := newIntakeHarness(t)
	h.queue.dupKeys["https://example.com/jobs/123"] = true

	result, err := h.service.SubmitJobUrl(context.Background(), "https://example.com/jobs/123?utm_source=mail", models.OriginAutomatedScan)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, "item_existing", result.ID)
	assert.Empty(t, h.queue.submitted())
}

func TestSubmitListingStoresAndEnqueues(t *testing.T) {
	h := newIntakeHarness(t)
	posted := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	raw := &models.RawListing{
		URL:                 "https://boards.greenhouse.io/acme/jobs/42?gh_src=alert",
		Title:               "  Staff Engineer  ",
		CompanyName:         "Acme",
		Location:            "Remote (US)",
		SalaryRange:         "$180k - $220k",
		DescriptionMarkdown: "## About\nBuild systems.",
		PostedAt:            &posted,
	}

	result, err := h.service.SubmitListing(context.Background(), raw, "src_board", models.OriginAutomatedScan)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	stored, err := h.mgr.ListingStorage().GetListingByURL(context.Background(), "https://boards.greenhouse.io/acme/jobs/42")
	require.NoError(t, err)
	assert.Equal(t, "Staff Engineer", stored.Title)
	assert.Equal(t, "Acme", stored.CompanyName)
	assert.Equal(t, "Remote (US)", stored.Location)
	assert.Equal(t, "$180k - $220k", stored.SalaryRange)
	assert.Equal(t, "## About\nBuild systems.", stored.Description)
	assert.Equal(t, "src_board", stored.SourceID)
	assert.Equal(t, models.ListingStatusPending, stored.Status)
	require.NotNil(t, stored.PostedDate)
	assert.True(t, stored.PostedDate.Equal(posted))

	submits := h.queue.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, models.ItemTypeJob, submits[0].itemType)
	assert.Equal(t, models.SubTypeExtract, submits[0].subType)
	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/42", submits[0].url)
	assert.Equal(t, stored.ID, submits[0].payload[models.PayloadListingID])
	assert.Equal(t, "src_board", submits[0].payload[models.PayloadSourceID])
}

func TestSubmitListingConvertsHTMLDescription(t *testing.T) {
	h := newIntakeHarness(t)

	raw := &models.RawListing{
		URL:             "https://jobs.example.com/roles/7",
		Title:           "Platform Engineer",
		DescriptionHTML: "<h2>Role</h2><p>Build <strong>things</strong></p>",
	}

	_, err := h.service.SubmitListing(context.Background(), raw, "", models.OriginAutomatedScan)
	require.NoError(t, err)

	stored, err := h.mgr.ListingStorage().GetListingByURL(context.Background(), "https://jobs.example.com/roles/7")
	require.NoError(t, err)
	assert.Contains(t, stored.Description, "## Role")
	assert.Contains(t, stored.Description, "**things**")
}

func TestSubmitListingReportsSettledListingAsDuplicate(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	existing := models.NewJobListing("https://jobs.example.com/roles/9", "Staff Engineer", "Acme")
	stored, err := h.mgr.ListingStorage().UpsertListing(ctx, existing)
	require.NoError(t, err)
	_, err = h.mgr.ListingStorage().UpdateListing(ctx, stored.ID, func(l *models.JobListing) {
		l.Status = models.ListingStatusAnalyzed
	})
	require.NoError(t, err)

	raw := &models.RawListing{URL: "https://jobs.example.com/roles/9?utm_source=rescrape", Title: "Staff Engineer"}
	result, err := h.service.SubmitListing(ctx, raw, "src_board", models.OriginAutomatedScan)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, stored.ID, result.ID)
	assert.Empty(t, h.queue.submitted())
}

func TestSubmitListingResumesPendingListing(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	existing := models.NewJobListing("https://jobs.example.com/roles/11", "Old Title", "Acme")
	stored, err := h.mgr.ListingStorage().UpsertListing(ctx, existing)
	require.NoError(t, err)

	raw := &models.RawListing{URL: "https://jobs.example.com/roles/11", Title: "New Title"}
	result, err := h.service.SubmitListing(ctx, raw, "", models.OriginAutomatedScan)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	submits := h.queue.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, stored.ID, submits[0].payload[models.PayloadListingID])

	refreshed, err := h.mgr.ListingStorage().GetListing(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Title", refreshed.Title)
}

func TestSubmitListingRejectsIncomplete(t *testing.T) {
	h := newIntakeHarness(t)

	_, err := h.service.SubmitListing(context.Background(), &models.RawListing{URL: "https://jobs.example.com/x"}, "", models.OriginAutomatedScan)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))

	_, err = h.service.SubmitListing(context.Background(), nil, "", models.OriginAutomatedScan)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestSubmitCompanyEnqueues(t *testing.T) {
	h := newIntakeHarness(t)

	result, err := h.service.SubmitCompany(context.Background(), " Acme Corp ", "https://acme.example.com", models.OriginUserSubmission)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)

	submits := h.queue.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, models.ItemTypeCompany, submits[0].itemType)
	assert.Equal(t, models.SubTypeFetch, submits[0].subType)
	assert.Equal(t, "https://acme.example.com", submits[0].url)
	assert.Equal(t, "Acme Corp", submits[0].payload[models.PayloadCompanyName])
	assert.Equal(t, "https://acme.example.com", submits[0].payload[models.PayloadCompanyURL])
}

func TestSubmitCompanyRequiresName(t *testing.T) {
	h := newIntakeHarness(t)

	_, err := h.service.SubmitCompany(context.Background(), "   ", "", models.OriginUserSubmission)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
	assert.Empty(t, h.queue.submitted())
}

func TestSubmitSourcePersists(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	id, err := h.service.SubmitSource(ctx, &models.JobSource{
		Name:   "Acme Careers",
		Type:   models.SourceTypeGreenhouse,
		Config: map[string]interface{}{"board": "acme"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "src_"))

	stored, err := h.mgr.SourceStorage().GetSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Acme Careers", stored.Name)
	assert.Equal(t, models.SourceTypeGreenhouse, stored.Type)
	assert.True(t, stored.Enabled)
}

func TestSubmitSourceValidates(t *testing.T) {
	h := newIntakeHarness(t)

	_, err := h.service.SubmitSource(context.Background(), nil)
	require.Error(t, err)

	_, err = h.service.SubmitSource(context.Background(), &models.JobSource{Type: models.SourceTypeLever})
	require.Error(t, err)
	assert.Equal(t, models.ErrKindParseError, models.KindOf(err))
}

func TestTriggerScrapeTargetsOneSource(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	source := models.NewJobSource("Acme Board", models.SourceTypeGreenhouse, map[string]interface{}{"board": "acme"})
	require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, source))

	ids, err := h.service.TriggerScrape(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	submits := h.queue.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, models.ItemTypeScrapeSource, submits[0].itemType)
	assert.Equal(t, models.SubTypeFetchPage, submits[0].subType)
	assert.Equal(t, source.ID, submits[0].payload[models.PayloadSourceID])
	assert.Equal(t, models.OriginUserSubmission, submits[0].origin)
}

func TestTriggerScrapeRefusesUnhealthySource(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	disabled := models.NewJobSource("Disabled Board", models.SourceTypeGreenhouse, nil)
	disabled.Enabled = false
	require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, disabled))

	cooling := models.NewJobSource("Cooling Board", models.SourceTypeGreenhouse, nil)
	until := time.Now().Add(time.Hour)
	cooling.DisabledUntil = &until
	require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, cooling))

	_, err := h.service.TriggerScrape(ctx, disabled.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")

	_, err = h.service.TriggerScrape(ctx, cooling.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cooling down")

	assert.Empty(t, h.queue.submitted())
}

func TestTriggerScrapeAllScrapeableSources(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		source := models.NewJobSource(fmt.Sprintf("Board %d", i), models.SourceTypeGreenhouse, nil)
		require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, source))
	}
	disabled := models.NewJobSource("Disabled Board", models.SourceTypeGreenhouse, nil)
	disabled.Enabled = false
	require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, disabled))

	ids, err := h.service.TriggerScrape(ctx, "")
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Len(t, h.queue.submitted(), 3)
}

func TestTriggerScrapeToleratesQueuedDuplicates(t *testing.T) {
	h := newIntakeHarness(t)
	ctx := context.Background()

	queued := models.NewJobSource("Queued Board", models.SourceTypeGreenhouse, nil)
	require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, queued))
	fresh := models.NewJobSource("Fresh Board", models.SourceTypeGreenhouse, nil)
	require.NoError(t, h.mgr.SourceStorage().SaveSource(ctx, fresh))
	h.queue.dupKeys[queued.ID] = true

	ids, err := h.service.TriggerScrape(ctx, "")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "item_existing")
	assert.Len(t, h.queue.submitted(), 1)
}

func TestExtractListingURLsFromPlainText(t *testing.T) {
	plain := strings.Join([]string{
		"Staff Engineer at Acme: https://boards.greenhouse.io/acme/jobs/123?utm_source=alert",
		"Same role again: https://boards.greenhouse.io/acme/jobs/123",
		"Platform Engineer: https://jobs.lever.co/acme/platform-eng.",
		"Manage alerts: https://alerts.example.com/unsubscribe/xyz",
	}, "\n")

	urls := extractListingURLs(plain, `<a href="https://jobs.example.com/ignored">ignored</a>`)
	require.Len(t, urls, 2)
	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/123?utm_source=alert", urls[0])
	assert.Equal(t, "https://jobs.lever.co/acme/platform-eng", urls[1])
}

func TestExtractListingURLsFallsBackToHTML(t *testing.T) {
	html := strings.Join([]string{
		`<a href="https://boards.greenhouse.io/acme/jobs/1">Job one</a>`,
		`<a href="https://boards.greenhouse.io/acme/jobs/2">Job two</a>`,
		`<a href="https://alerts.example.com/email-settings">Settings</a>`,
		`<a href="mailto:alerts@example.com">Contact</a>`,
	}, "")

	urls := extractListingURLs("no links in the text part", html)
	require.Len(t, urls, 2)
	assert.Contains(t, urls, "https://boards.greenhouse.io/acme/jobs/1")
	assert.Contains(t, urls, "https://boards.greenhouse.io/acme/jobs/2")
}

func TestExtractListingURLsCapsPerMessage(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "https://jobs.example.com/roles/%d\n", i)
	}

	urls := extractListingURLs(b.String(), "")
	assert.Len(t, urls, maxURLsPerMessage)
}

func TestSenderAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		sender  string
		want    bool
	}{
		{"empty list allows all", nil, "anyone@example.com", true},
		{"exact address", []string{"jobs-noreply@linkedin.com"}, "jobs-noreply@linkedin.com", true},
		{"bare domain", []string{"linkedin.com"}, "jobs-noreply@linkedin.com", true},
		{"at-prefixed domain", []string{"@linkedin.com"}, "jobs-noreply@linkedin.com", true},
		{"case insensitive", []string{"LinkedIn.com"}, "jobs-noreply@linkedin.com", true},
		{"unlisted sender", []string{"linkedin.com"}, "spam@evil.example.com", false},
		{"substring host does not match", []string{"linkedin.com"}, "jobs@notlinkedin.com.evil.com", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			watcher := NewMailWatcher(common.MailConfig{AllowedSenders: tc.allowed}, nil, nil, arbor.NewLogger())
			assert.Equal(t, tc.want, watcher.senderAllowed(tc.sender))
		})
	}
}

func TestReadMessageParts(t *testing.T) {
	raw := strings.Join([]string{
		"From: Job Alerts <alerts@linkedin.com>",
		"To: me@example.com",
		"Subject: 2 new jobs for you",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Staff Engineer at Acme: https://boards.greenhouse.io/acme/jobs/123",
		"",
		"--frontier",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<p><a href="https://boards.greenhouse.io/acme/jobs/123">Staff Engineer</a></p>`,
		"--frontier--",
		"",
	}, "\r\n")

	plain, html, err := readMessageParts(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, plain, "https://boards.greenhouse.io/acme/jobs/123")
	assert.Contains(t, html, `<a href="https://boards.greenhouse.io/acme/jobs/123">`)

	urls := extractListingURLs(plain, html)
	require.Len(t, urls, 1)
	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/123", urls[0])
}

func TestMailWatcherEnablement(t *testing.T) {
	logger := arbor.NewLogger()

	assert.False(t, NewMailWatcher(common.MailConfig{}, nil, nil, logger).Enabled())
	assert.False(t, NewMailWatcher(common.MailConfig{Enabled: true}, nil, nil, logger).Enabled())
	assert.True(t, NewMailWatcher(common.MailConfig{
		Enabled:  true,
		Server:   "imap.example.com:993",
		Username: "alerts@example.com",
	}, nil, nil, logger).Enabled())

	// A disabled watcher polls as a no-op without touching the network.
	n, err := NewMailWatcher(common.MailConfig{}, nil, nil, logger).Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMailWatcherPollInterval(t *testing.T) {
	logger := arbor.NewLogger()
	assert.Equal(t, 10*time.Minute, NewMailWatcher(common.MailConfig{}, nil, nil, logger).PollInterval())
	assert.Equal(t, 25*time.Minute, NewMailWatcher(common.MailConfig{PollIntervalMinutes: 25}, nil, nil, logger).PollInterval())
}
