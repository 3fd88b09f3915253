// -----------------------------------------------------------------------
// Mail Watcher - IMAP poll turning job-alert mails into submissions
// -----------------------------------------------------------------------

package intake

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

const (
	mailFetchBuffer   = 10
	maxURLsPerMessage = 25
	kvLastMailPoll    = "mail:last_poll"
)

var listingURLPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Links that job-alert mails carry alongside the listings themselves.
var mailLinkNoise = []string{
	"unsubscribe", "email-settings", "preferences",
	"privacy", "terms", "login", "signin", "password",
}

// MailWatcher polls a job-alerts inbox and feeds extracted listing URLs
// into the intake service. Handled messages are marked seen so each poll
// only touches new mail.
type MailWatcher struct {
	config common.MailConfig
	intake interfaces.IntakeService
	kv     interfaces.KVStorage
	logger arbor.ILogger
}

// NewMailWatcher wires the watcher. It is inert until the mail config is
// enabled and carries server credentials.
func NewMailWatcher(config common.MailConfig, intake interfaces.IntakeService, kv interfaces.KVStorage, logger arbor.ILogger) *MailWatcher {
	return &MailWatcher{
		config: config,
		intake: intake,
		kv:     kv,
		logger: logger,
	}
}

// Enabled reports whether the watcher has enough configuration to poll.
func (w *MailWatcher) Enabled() bool {
	return w.config.Enabled && w.config.Server != "" && w.config.Username != ""
}

// PollInterval is the cadence the scheduler should run Poll at.
func (w *MailWatcher) PollInterval() time.Duration {
	minutes := w.config.PollIntervalMinutes
	if minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

// Task adapts Poll to the scheduler's handler signature.
func (w *MailWatcher) Task() func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		_, err := w.Poll(ctx)
		return err
	}
}

// Poll connects to the configured mailbox, extracts listing URLs from
// unseen messages, submits them and marks handled messages seen. It
// returns the number of new submissions.
func (w *MailWatcher) Poll(ctx context.Context) (int, error) {
	if !w.Enabled() {
		return 0, nil
	}

	c, err := client.DialTLS(w.config.Server, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to mail server: %w", err)
	}
	defer c.Logout()
	c.Timeout = 30 * time.Second

	if err := c.Login(w.config.Username, w.config.Password); err != nil {
		return 0, fmt.Errorf("failed to login: %w", err)
	}

	folder := w.config.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, false); err != nil {
		return 0, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return 0, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, mailFetchBuffer)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	submitted := 0
	handled := new(imap.SeqSet)
	for msg := range messages {
		if ctx.Err() != nil {
			continue // keep draining so the fetch goroutine can finish
		}
		n, ok := w.handleMessage(ctx, msg, section)
		submitted += n
		if ok {
			handled.AddNum(msg.SeqNum)
		}
	}
	if err := <-done; err != nil {
		return submitted, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if len(handled.Set) > 0 {
		op := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(handled, op, []interface{}{imap.SeenFlag}, nil); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to mark messages seen")
		}
	}

	if err := w.kv.Set(ctx, kvLastMailPoll, time.Now().UTC().Format(time.RFC3339)); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to record mail poll time")
	}

	w.logger.Info().
		Int("messages", len(seqNums)).
		Int("submitted", submitted).
		Msg("Mail poll completed")
	return submitted, nil
}

// handleMessage extracts and submits the URLs of one message. The bool
// reports whether the message can be marked seen; a transient submit
// failure leaves it unseen so the next poll retries it.
func (w *MailWatcher) handleMessage(ctx context.Context, msg *imap.Message, section *imap.BodySectionName) (int, bool) {
	sender := envelopeSender(msg.Envelope)
	if !w.senderAllowed(sender) {
		w.logger.Debug().Str("from", sender).Msg("Skipping mail from unlisted sender")
		return 0, false
	}

	body := msg.GetBody(section)
	if body == nil {
		return 0, false
	}

	plain, html, err := readMessageParts(body)
	if err != nil {
		w.logger.Warn().Err(err).Str("from", sender).Msg("Failed to parse mail body")
		return 0, false
	}

	urls := extractListingURLs(plain, html)
	if len(urls) == 0 {
		return 0, true
	}

	submitted := 0
	retry := false
	for _, u := range urls {
		result, err := w.intake.SubmitJobUrl(ctx, u, models.OriginAutomatedScan)
		if err != nil {
			if models.KindOf(err) == models.ErrKindTransient {
				retry = true
			}
			w.logger.Warn().Err(err).Str("url", u).Msg("Failed to submit mailed job URL")
			continue
		}
		if !result.Duplicate {
			submitted++
		}
	}
	return submitted, !retry
}

// senderAllowed checks the envelope sender against the configured list.
// Entries may be full addresses or bare domains; an empty list allows all.
func (w *MailWatcher) senderAllowed(sender string) bool {
	if len(w.config.AllowedSenders) == 0 {
		return true
	}
	for _, allowed := range w.config.AllowedSenders {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if sender == allowed || strings.HasSuffix(sender, "@"+strings.TrimPrefix(allowed, "@")) {
			return true
		}
	}
	return false
}

func envelopeSender(env *imap.Envelope) string {
	if env == nil || len(env.From) == 0 {
		return ""
	}
	return strings.ToLower(env.From[0].Address())
}

// readMessageParts collects the inline text/plain and text/html parts.
func readMessageParts(body io.Reader) (string, string, error) {
	reader, err := mail.CreateReader(body)
	if err != nil {
		return "", "", err
	}

	var plain, html strings.Builder
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return plain.String(), html.String(), err
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			plain.Write(content)
		case "text/html":
			html.Write(content)
		}
	}
	return plain.String(), html.String(), nil
}

// extractListingURLs pulls candidate listing URLs out of a message body.
// The plain text part is preferred; the HTML part's anchors are the
// fallback when the mail has no usable text. Tracking wrappers around the
// same listing collapse through URL normalization.
func extractListingURLs(plain, html string) []string {
	seen := make(map[string]bool)
	var urls []string

	add := func(raw string) {
		raw = strings.TrimRight(raw, ".,;:!?")
		if raw == "" || skipMailURL(raw) {
			return
		}
		normalized, err := common.NormalizeURL(raw)
		if err != nil || seen[normalized] {
			return
		}
		seen[normalized] = true
		urls = append(urls, raw)
	}

	for _, match := range listingURLPattern.FindAllString(plain, -1) {
		add(match)
	}

	if len(urls) == 0 && html != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				href, _ := sel.Attr("href")
				if strings.HasPrefix(href, "http") {
					add(href)
				}
			})
		}
	}

	if len(urls) > maxURLsPerMessage {
		urls = urls[:maxURLsPerMessage]
	}
	return urls
}

func skipMailURL(raw string) bool {
	lower := strings.ToLower(raw)
	for _, fragment := range mailLinkNoise {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
