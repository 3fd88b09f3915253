// -----------------------------------------------------------------------
// Company Processor - Employer enrichment from site content and the model
// -----------------------------------------------------------------------

package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

const (
	// companyPageMaxChars caps the site content carried to the extraction
	// step; company pages repeat themselves long before this.
	companyPageMaxChars = 16000

	// enrichmentFreshFor is how long an enrichment stays current. Matches
	// against the same employer inside the window skip the lane entirely.
	enrichmentFreshFor = 30 * 24 * time.Hour
)

// CompanyProcessor enriches employer records: FETCH grabs the company site,
// EXTRACT pulls structured facts out of it with the extraction agent,
// ENRICH merges them into the Company row, and DISCOVER_SOURCES optionally
// hands a careers endpoint to the SOURCE_DISCOVERY lane.
type CompanyProcessor struct {
	companies interfaces.CompanyStorage
	sources   interfaces.SourceStorage
	scraper   interfaces.ScraperService
	agents    interfaces.AgentService
	config    interfaces.ConfigService
	logger    arbor.ILogger
}

// NewCompanyProcessor wires the COMPANY lane.
func NewCompanyProcessor(
	store interfaces.StorageManager,
	scraper interfaces.ScraperService,
	agents interfaces.AgentService,
	config interfaces.ConfigService,
	logger arbor.ILogger,
) *CompanyProcessor {
	return &CompanyProcessor{
		companies: store.CompanyStorage(),
		sources:   store.SourceStorage(),
		scraper:   scraper,
		agents:    agents,
		config:    config,
		logger:    logger,
	}
}

// ItemType returns the lane this processor owns.
func (p *CompanyProcessor) ItemType() models.QueueItemType {
	return models.ItemTypeCompany
}

// Process dispatches on the item's sub type; bare items start at FETCH.
func (p *CompanyProcessor) Process(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	switch item.SubType {
	case models.SubTypeFetch, "":
		return p.stepFetch(ctx, item)
	case models.SubTypeExtract:
		return p.stepExtract(ctx, item)
	case models.SubTypeEnrich:
		return p.stepEnrich(ctx, item)
	case models.SubTypeDiscoverSources:
		return p.stepDiscoverSources(ctx, item)
	default:
		return nil, unknownSubType("company.process", item.SubType)
	}
}

// stepFetch resolves or creates the Company row and fetches its site. A
// company without a reachable site still continues the lane; the extraction
// step falls back to what the model knows about the name.
func (p *CompanyProcessor) stepFetch(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	name, _ := item.GetPayloadString(models.PayloadCompanyName)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "company.fetch", "item carries no company name")
	}

	canonical := common.CanonicalCompanyName(name)
	if canonical == "" {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "company.fetch",
			fmt.Sprintf("company name %q canonicalizes to nothing", name))
	}

	company, err := p.companies.GetCompanyByCanonicalName(ctx, canonical)
	if errors.Is(err, interfaces.ErrNotFound) {
		company, err = p.companies.UpsertCompany(ctx, models.NewCompany(name, canonical))
	}
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "company.fetch", err)
	}

	if company.EnrichedAt != nil && time.Since(*company.EnrichedAt) < enrichmentFreshFor {
		return &interfaces.Outcome{
			Skipped: true,
			Reason:  fmt.Sprintf("enrichment from %s still current", company.EnrichedAt.Format("2006-01-02")),
		}, nil
	}

	site, _ := item.GetPayloadString(models.PayloadCompanyURL)
	if site == "" {
		site = company.Website
	}
	if site == "" {
		site = item.URL
	}

	payload := map[string]interface{}{
		models.PayloadCompanyID:   company.ID,
		models.PayloadCompanyName: company.Name,
	}

	if site != "" {
		raw, err := p.scraper.FetchListing(ctx, site)
		switch kind := models.KindOf(err); {
		case err == nil:
			text := raw.DescriptionMarkdown
			if text == "" {
				text = raw.DescriptionHTML
			}
			if len(text) > companyPageMaxChars {
				text = text[:companyPageMaxChars]
			}
			payload[models.PayloadPageText] = text
			payload[models.PayloadPageURL] = raw.URL
		case kind == models.ErrKindNotFound, kind == models.ErrKindGone:
			p.logger.Warn().
				Str("company", company.Name).
				Str("url", site).
				Msg("Company site unreachable, enriching from model knowledge")
		default:
			return nil, err
		}
	}

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeCompany,
			SubType: models.SubTypeExtract,
			URL:     site,
			Payload: payload,
		}},
	}, nil
}

// companyFacts is the JSON shape the extraction agent returns for a company.
type companyFacts struct {
	Website           string   `json:"website"`
	About             string   `json:"about"`
	TechStack         []string `json:"tech_stack"`
	CareersURL        string   `json:"careers_url"`
	HasPortlandOffice bool     `json:"has_portland_office"`
	Tier              string   `json:"tier"`
}

// stepExtract turns page content (or the model's own knowledge of the name)
// into structured company facts.
func (p *CompanyProcessor) stepExtract(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	company, err := p.loadCompany(ctx, item)
	if err != nil {
		return nil, err
	}

	ai, err := p.config.AI(ctx)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "company.extract", err)
	}

	pageText, _ := item.GetPayloadString(models.PayloadPageText)
	pageURL, _ := item.GetPayloadString(models.PayloadPageURL)

	var b strings.Builder
	b.WriteString("Summarize the employer below as a single JSON object with keys")
	b.WriteString(" website, about (2-3 sentences), tech_stack (array of technologies),")
	b.WriteString(" careers_url, has_portland_office (boolean), tier (one of S, A, B, C, D for")
	b.WriteString(" engineering reputation). Use empty values for anything unknown.\n\n")
	fmt.Fprintf(&b, "Company: %s\n", company.Name)
	if pageText != "" {
		fmt.Fprintf(&b, "Page: %s\n\n%s", pageURL, pageText)
	} else {
		b.WriteString("No page content was retrievable; answer from what you know about this company,")
		b.WriteString(" leaving fields empty rather than guessing.")
	}

	resp, err := p.agents.Generate(ctx, interfaces.ScopeWorker, interfaces.TaskExtraction, &interfaces.AgentRequest{
		Prompt:      b.String(),
		MaxTokens:   ai.MaxTokens,
		Temperature: ai.Temperature,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, err
	}

	block, err := jsonBlock(resp.Text)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "company.extract", err)
	}
	var facts companyFacts
	if err := json.Unmarshal([]byte(block), &facts); err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "company.extract", err)
	}

	p.logger.Debug().
		Str("company", company.Name).
		Str("provider", resp.Provider).
		Str("model", resp.Model).
		Int("tech_stack", len(facts.TechStack)).
		Msg("Company facts extracted")

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeCompany,
			SubType: models.SubTypeEnrich,
			URL:     item.URL,
			Payload: map[string]interface{}{
				models.PayloadCompanyID:   company.ID,
				models.PayloadCompanyName: company.Name,
				models.PayloadFacts:       facts,
				models.PayloadPageURL:     pageURL,
			},
		}},
	}, nil
}

// stepEnrich merges the extracted facts into the Company row and recomputes
// tier and priority. The merge keeps existing values when the new ones are
// empty, so a thin extraction never erases a richer earlier one.
func (p *CompanyProcessor) stepEnrich(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	company, err := p.loadCompany(ctx, item)
	if err != nil {
		return nil, err
	}

	var facts companyFacts
	if err := decodePayload(item, models.PayloadFacts, &facts); err != nil {
		return nil, models.NewPipelineError(models.ErrKindParseError, "company.enrich", err)
	}

	enrichmentSource := "model"
	if pageURL, ok := item.GetPayloadString(models.PayloadPageURL); ok && pageURL != "" {
		enrichmentSource = "site:" + common.URLHost(pageURL)
	}

	updated, err := p.companies.UpdateCompany(ctx, company.ID, func(c *models.Company) {
		c.MergeEnrichment(facts.Website, facts.About, facts.TechStack, enrichmentSource)
		c.HasPortlandOffice = c.HasPortlandOffice || facts.HasPortlandOffice
		if tier, ok := parseTier(facts.Tier); ok {
			c.Tier = tier
		}
		c.PriorityScore = priorityScore(c.Tier, c.HasPortlandOffice)
	})
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "company.enrich", err)
	}

	p.logger.Info().
		Str("company", updated.Name).
		Str("tier", string(updated.Tier)).
		Int("priority", updated.PriorityScore).
		Str("source", enrichmentSource).
		Msg("Company enriched")

	payload := map[string]interface{}{
		models.PayloadCompanyID:   updated.ID,
		models.PayloadCompanyName: updated.Name,
	}
	if facts.CareersURL != "" {
		payload[models.PayloadProbeURL] = facts.CareersURL
	}

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeCompany,
			SubType: models.SubTypeDiscoverSources,
			URL:     item.URL,
			Payload: payload,
		}},
	}, nil
}

// stepDiscoverSources decides whether the employer warrants a source
// discovery probe. Companies that already own a registered source, or give
// us nothing to probe, end the lane here.
func (p *CompanyProcessor) stepDiscoverSources(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	company, err := p.loadCompany(ctx, item)
	if err != nil {
		return nil, err
	}

	existing, err := p.sources.ListSources(ctx, false)
	if err != nil {
		return nil, models.NewPipelineError(models.ErrKindTransient, "company.discover_sources", err)
	}
	for _, src := range existing {
		if src.CompanyID == company.ID {
			p.logger.Debug().
				Str("company", company.Name).
				Str("source_id", src.ID).
				Msg("Company already has a registered source")
			return &interfaces.Outcome{}, nil
		}
	}

	careersURL, _ := item.GetPayloadString(models.PayloadProbeURL)
	if careersURL == "" && company.Website == "" {
		p.logger.Debug().Str("company", company.Name).Msg("Nothing to probe for sources")
		return &interfaces.Outcome{}, nil
	}

	payload := map[string]interface{}{
		models.PayloadCompanyID:   company.ID,
		models.PayloadCompanyName: company.Name,
	}
	if careersURL != "" {
		payload[models.PayloadProbeURL] = careersURL
	}

	target := careersURL
	if target == "" {
		target = company.Website
	}

	return &interfaces.Outcome{
		Children: []interfaces.ChildSpec{{
			Type:    models.ItemTypeSourceDiscovery,
			SubType: models.SubTypeProbe,
			URL:     target,
			Payload: payload,
		}},
	}, nil
}

// loadCompany resolves the company an item refers to, by payload id first
// and canonical name as fallback.
func (p *CompanyProcessor) loadCompany(ctx context.Context, item *models.QueueItem) (*models.Company, error) {
	if id, ok := item.GetPayloadString(models.PayloadCompanyID); ok && id != "" {
		company, err := p.companies.GetCompany(ctx, id)
		if err == nil {
			return company, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineError(models.ErrKindTransient, "company.load", err)
		}
	}

	if name, ok := item.GetPayloadString(models.PayloadCompanyName); ok {
		if canonical := common.CanonicalCompanyName(name); canonical != "" {
			company, err := p.companies.GetCompanyByCanonicalName(ctx, canonical)
			if err == nil {
				return company, nil
			}
			if !errors.Is(err, interfaces.ErrNotFound) {
				return nil, models.NewPipelineError(models.ErrKindTransient, "company.load", err)
			}
		}
	}

	return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "company.load", "no company for item")
}

// parseTier validates a model-supplied tier letter.
func parseTier(raw string) (models.CompanyTier, bool) {
	switch models.CompanyTier(strings.ToUpper(strings.TrimSpace(raw))) {
	case models.TierS:
		return models.TierS, true
	case models.TierA:
		return models.TierA, true
	case models.TierB:
		return models.TierB, true
	case models.TierC:
		return models.TierC, true
	case models.TierD:
		return models.TierD, true
	default:
		return "", false
	}
}

// priorityScore derives the discovery priority from tier plus a local
// office bonus.
func priorityScore(tier models.CompanyTier, portlandOffice bool) int {
	score := 40
	switch tier {
	case models.TierS:
		score = 90
	case models.TierA:
		score = 75
	case models.TierB:
		score = 60
	case models.TierC:
		score = 40
	case models.TierD:
		score = 20
	}
	if portlandOffice {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

var _ interfaces.Processor = (*CompanyProcessor)(nil)
