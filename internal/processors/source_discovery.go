// -----------------------------------------------------------------------
// Source Discovery Processor - Probe, classify and register job sources
// -----------------------------------------------------------------------

package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

const (
	// probeMaxResults bounds how many live endpoints travel to CLASSIFY.
	probeMaxResults = 3

	// probeSnippetChars is how much body each probe carries for sniffing.
	probeSnippetChars = 600
)

// SourceDiscoveryProcessor turns a company into a scrapeable source: PROBE
// hits candidate careers endpoints (explicit careers URL, site paths, and
// the vendor URL shapes the adapters support), CLASSIFY sniffs what kind of
// source answered, and REGISTER upserts a JobSource. New sources land
// disabled so an operator reviews them before the scheduler picks them up.
type SourceDiscoveryProcessor struct {
	companies interfaces.CompanyStorage
	sources   interfaces.SourceStorage
	scraper   interfaces.ScraperService
	logger    arbor.ILogger
}

// NewSourceDiscoveryProcessor wires the SOURCE_DISCOVERY lane.
func NewSourceDiscoveryProcessor(
	store interfaces.StorageManager,
	scraper interfaces.ScraperService,
	logger arbor.ILogger,
) *SourceDiscoveryProcessor {
	return &SourceDiscoveryProcessor{
		companies: store.CompanyStorage(),
		sources:   store.SourceStorage(),
		scraper:   scraper,
		logger:    logger,
	}
}

// ItemType returns the lane this processor owns.
func (p *SourceDiscoveryProcessor) ItemType() models.QueueItemType {
	return models.ItemTypeSourceDiscovery
}

// Process dispatches on the item's sub type; bare items start at PROBE.
func (p *SourceDiscoveryProcessor) Process(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	switch item.SubType {
	case models.SubTypeProbe, "":
		return p.stepProbe(ctx, item)
	case models.SubTypeClassify:
		return p.stepClassify(ctx, item)
	case models.SubTypeRegister:
		return p.stepRegister(ctx, item)
	default:
		return nil, unknownSubType("discovery.process", item.SubType)
	}
}

// probeResult is one candidate endpoint that answered, trimmed down to what
// classification needs.
type probeResult struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url"`
	ContentType string `json:"content_type,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
}

// stepProbe fetches candidate endpoints until enough answer. Misses are
// expected (most companies are not on every vendor), so fetch errors only
// log; a context failure aborts the sweep.
func (p *SourceDiscoveryProcessor) stepProbe(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	name, _ := item.GetPayloadString(models.PayloadCompanyName)
	careersURL, _ := item.GetPayloadString(models.PayloadProbeURL)
	if careersURL == "" {
		careersURL = item.URL
	}

	site := ""
	companyID, _ := item.GetPayloadString(models.PayloadCompanyID)
	if companyID != "" {
		company, err := p.companies.GetCompany(ctx, companyID)
		switch {
		case err == nil:
			site = company.Website
			if name == "" {
				name = company.Name
			}
		case !errors.Is(err, interfaces.ErrNotFound):
			return nil, models.NewPipelineError(models.ErrKindTransient, "discovery.probe", err)
		}
	}

	candidates := candidateEndpoints(careersURL, site, vendorSlugFor(name))
	if len(candidates) == 0 {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "discovery.probe", "no candidate endpoints for item")
	}

	var probes []probeResult
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil, models.NewPipelineError(models.ErrKindTransient, "discovery.probe", ctx.Err())
		}

		page, err := p.scraper.FetchPage(ctx, candidate)
		if err != nil {
			p.logger.Debug().Str("url", candidate).Err(err).Msg("Probe miss")
			continue
		}
		if strings.TrimSpace(page.Body) == "" {
			continue
		}

		snippet := strings.TrimSpace(page.Body)
		if len(snippet) > probeSnippetChars {
			snippet = snippet[:probeSnippetChars]
		}
		probes = append(probes, probeResult{
			URL:         candidate,
			FinalURL:    page.FinalURL,
			ContentType: page.ContentType,
			Snippet:     snippet,
		})
		if len(probes) >= probeMaxResults {
			break
		}
	}

	if len(probes) == 0 {
		return &interfaces.Outcome{Skipped: true, Reason: "no careers endpoint responded"}, nil
	}

	p.logger.Info().
		Str("company", name).
		Int("candidates", len(candidates)).
		Int("hits", len(probes)).
		Msg("Careers endpoints probed")

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeSourceDiscovery,
			SubType: models.SubTypeClassify,
			URL:     probes[0].URL,
			Payload: map[string]interface{}{
				models.PayloadCompanyID:   companyID,
				models.PayloadCompanyName: name,
				models.PayloadProbes:      probes,
			},
		}},
	}, nil
}

// stepClassify sniffs the probe results for a source type. Vendor endpoints
// win over generic content because their structured APIs scrape cleanly.
func (p *SourceDiscoveryProcessor) stepClassify(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	var probes []probeResult
	if err := decodePayload(item, models.PayloadProbes, &probes); err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "discovery.classify", err)
	}

	name, _ := item.GetPayloadString(models.PayloadCompanyName)
	companyID, _ := item.GetPayloadString(models.PayloadCompanyID)

	chosen, sourceType, config, ok := classifyProbes(probes)
	if !ok {
		return &interfaces.Outcome{Skipped: true, Reason: "no probe classified as a scrapeable source"}, nil
	}

	sourceName := strings.TrimSpace(name)
	if sourceName == "" {
		sourceName = common.URLHost(chosen.FinalURL)
	}
	sourceName += " careers"

	p.logger.Info().
		Str("company", name).
		Str("url", chosen.FinalURL).
		Str("source_type", string(sourceType)).
		Msg("Source classified")

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeSourceDiscovery,
			SubType: models.SubTypeRegister,
			URL:     chosen.URL,
			Payload: map[string]interface{}{
				models.PayloadCompanyID:    companyID,
				models.PayloadCompanyName:  name,
				models.PayloadSourceName:   sourceName,
				models.PayloadSourceType:   string(sourceType),
				models.PayloadSourceConfig: config,
			},
		}},
	}, nil
}

// stepRegister upserts the discovered source. The natural key is the
// endpoint itself (config url / board / org), so replays and re-discoveries
// update the existing row instead of stacking duplicates. Fresh sources
// stay disabled until an operator enables them.
func (p *SourceDiscoveryProcessor) stepRegister(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	sourceName, _ := item.GetPayloadString(models.PayloadSourceName)
	typeStr, _ := item.GetPayloadString(models.PayloadSourceType)
	companyID, _ := item.GetPayloadString(models.PayloadCompanyID)
	if sourceName == "" || typeStr == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "discovery.register", "item carries no source name or type")
	}

	var config map[string]interface{}
	if err := decodePayload(item, models.PayloadSourceConfig, &config); err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "discovery.register", err)
	}
	sourceType := models.SourceType(typeStr)

	existing, err := p.sources.ListSources(ctx, false)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "discovery.register", err)
	}
	for _, src := range existing {
		if !sameEndpoint(src, sourceType, config) {
			continue
		}
		if _, err := p.sources.UpdateSource(ctx, src.ID, func(s *models.JobSource) {
			if s.CompanyID == "" {
				s.CompanyID = companyID
			}
		}); err != nil {
			return nil, models.NewPipelineError(models.ErrKindTransient, "discovery.register", err)
		}
		p.logger.Debug().Str("source_id", src.ID).Str("source", src.Name).Msg("Source already registered")
		return &interfaces.Outcome{}, nil
	}

	source := models.NewJobSource(sourceName, sourceType, config)
	source.Enabled = false
	source.CompanyID = companyID
	if err := p.sources.SaveSource(ctx, source); err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "discovery.register", err)
	}

	p.logger.Info().
		Str("source_id", source.ID).
		Str("source", source.Name).
		Str("source_type", string(source.Type)).
		Msg("Source registered, disabled pending review")

	return &interfaces.Outcome{}, nil
}

// candidateEndpoints builds the probe list: the explicit careers URL first,
// then conventional paths on the company site, then the vendor URL shapes
// the built-in adapters can scrape directly.
func candidateEndpoints(careersURL, site, slug string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	add(careersURL)
	if site != "" {
		base := strings.TrimRight(site, "/")
		add(base + "/careers")
		add(base + "/jobs")
	}
	if slug != "" {
		add(fmt.Sprintf("https://boards-api.greenhouse.io/v1/boards/%s/jobs?content=true", slug))
		add(fmt.Sprintf("https://api.lever.co/v0/postings/%s?mode=json", slug))
	}
	return out
}

// vendorSlugFor guesses the board slug vendors tend to assign: the
// canonical company name with the spaces squeezed out.
func vendorSlugFor(name string) string {
	return strings.ReplaceAll(common.CanonicalCompanyName(name), " ", "")
}

// classifyProbes picks the best probe and its source type. Two passes:
// vendor hosts first, then content sniffing in probe order.
func classifyProbes(probes []probeResult) (probeResult, models.SourceType, map[string]interface{}, bool) {
	for _, pr := range probes {
		if t, cfg, ok := classifyVendor(pr); ok {
			return pr, t, cfg, true
		}
	}
	for _, pr := range probes {
		if t, cfg, ok := classifyContent(pr); ok {
			return pr, t, cfg, true
		}
	}
	return probeResult{}, "", nil, false
}

// classifyVendor recognizes the hosted vendors the adapters have presets
// for and extracts the slug their APIs are keyed on.
func classifyVendor(pr probeResult) (models.SourceType, map[string]interface{}, bool) {
	target := pr.FinalURL
	if target == "" {
		target = pr.URL
	}
	host := common.URLHost(target)

	switch {
	case strings.Contains(host, "greenhouse.io"):
		if slug := pathSlug(target); slug != "" {
			return models.SourceTypeGreenhouse, map[string]interface{}{"board": slug}, true
		}
	case strings.Contains(host, "lever.co"):
		if slug := pathSlug(target); slug != "" {
			return models.SourceTypeLever, map[string]interface{}{"org": slug}, true
		}
	case strings.Contains(host, "myworkdayjobs.com"):
		return models.SourceTypeWorkday, map[string]interface{}{"url": target}, true
	}
	return "", nil, false
}

// classifyContent sniffs the response body for feed, JSON API, or plain
// HTML shapes.
func classifyContent(pr probeResult) (models.SourceType, map[string]interface{}, bool) {
	target := pr.FinalURL
	if target == "" {
		target = pr.URL
	}
	body := strings.TrimSpace(pr.Snippet)
	lower := strings.ToLower(body)

	switch {
	case strings.Contains(lower, "<rss") || strings.Contains(lower, "<feed"):
		return models.SourceTypeRSS, map[string]interface{}{"url": target}, true
	case strings.HasPrefix(body, "{") || strings.HasPrefix(body, "["):
		if json.Valid([]byte(body)) || looksTruncatedJSON(body) {
			return models.SourceTypeAPI, map[string]interface{}{"url": target}, true
		}
		return "", nil, false
	case body != "":
		return models.SourceTypeHTML, map[string]interface{}{"url": target}, true
	}
	return "", nil, false
}

// looksTruncatedJSON accepts a snippet that starts as JSON but was cut at
// the snippet cap before closing.
func looksTruncatedJSON(body string) bool {
	return len(body) >= probeSnippetChars && (strings.HasPrefix(body, "{") || strings.HasPrefix(body, "["))
}

// pathSlug extracts the board slug from a vendor URL. Handles the hosted
// board form (first path segment) and the API forms
// /v1/boards/{slug}/jobs and /v0/postings/{slug}.
func pathSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	var segs []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return ""
	}
	if len(segs) >= 3 && (segs[0] == "v1" || segs[0] == "v0") {
		return segs[2]
	}
	if segs[0] == "embed" {
		// boards.greenhouse.io/embed/job_board?for={slug}
		return u.Query().Get("for")
	}
	return segs[0]
}

// sameEndpoint reports whether an existing source already covers the
// discovered endpoint.
func sameEndpoint(existing *models.JobSource, sourceType models.SourceType, config map[string]interface{}) bool {
	if existing.Type != sourceType {
		return false
	}
	for _, key := range []string{"url", "board", "org"} {
		val, _ := config[key].(string)
		if val == "" {
			continue
		}
		if cur, ok := existing.GetConfigString(key); ok && cur == val {
			return true
		}
	}
	return false
}

var _ interfaces.Processor = (*SourceDiscoveryProcessor)(nil)
