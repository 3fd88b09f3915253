// -----------------------------------------------------------------------
// Company Discovery Processor - Seed names and domains into COMPANY lanes
// -----------------------------------------------------------------------

package processors

import (
	"context"
	"errors"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// CompanyDiscoveryProcessor expands a batch of seed names or domains into
// COMPANY/FETCH items, skipping employers the store already knows.
type CompanyDiscoveryProcessor struct {
	companies interfaces.CompanyStorage
	logger    arbor.ILogger
}

// NewCompanyDiscoveryProcessor wires the COMPANY_DISCOVERY lane.
func NewCompanyDiscoveryProcessor(store interfaces.StorageManager, logger arbor.ILogger) *CompanyDiscoveryProcessor {
	return &CompanyDiscoveryProcessor{
		companies: store.CompanyStorage(),
		logger:    logger,
	}
}

// ItemType returns the lane this processor owns.
func (p *CompanyDiscoveryProcessor) ItemType() models.QueueItemType {
	return models.ItemTypeCompanyDiscovery
}

// Process handles the lane's single SEED step.
func (p *CompanyDiscoveryProcessor) Process(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	switch item.SubType {
	case models.SubTypeSeed, "":
		return p.stepSeed(ctx, item)
	default:
		return nil, unknownSubType("company_discovery.process", item.SubType)
	}
}

// stepSeed canonicalizes each seed, drops the ones already on record, and
// fans out a COMPANY/FETCH item per new employer.
func (p *CompanyDiscoveryProcessor) stepSeed(ctx context.Context, item *models.QueueItem) (*interfaces.Outcome, error) {
	seeds, ok := item.GetPayloadStringSlice(models.PayloadSeeds)
	if !ok || len(seeds) == 0 {
		return nil, models.NewPipelineErrorMsg(models.ErrKindParseError, "company_discovery.seed", "item carries no seeds")
	}

	var children []interfaces.ChildSpec
	seen := make(map[string]bool, len(seeds))
	known, invalid := 0, 0

	for _, seed := range seeds {
		name, site := seedCompany(seed)
		canonical := common.CanonicalCompanyName(name)
		if canonical == "" {
			invalid++
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true

		_, err := p.companies.GetCompanyByCanonicalName(ctx, canonical)
		if err == nil {
			known++
			continue
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, models.NewPipelineError(models.ErrKindTransient, "company_discovery.seed", err)
		}

		payload := map[string]interface{}{models.PayloadCompanyName: name}
		if site != "" {
			payload[models.PayloadCompanyURL] = site
		}
		children = append(children, interfaces.ChildSpec{
			Type:    models.ItemTypeCompany,
			SubType: models.SubTypeFetch,
			URL:     site,
			Payload: payload,
		})
	}

	p.logger.Info().
		Int("seeds", len(seeds)).
		Int("new", len(children)).
		Int("known", known).
		Int("invalid", invalid).
		Msg("Company seeds expanded")

	return &interfaces.Outcome{Children: children}, nil
}

// seedCompany interprets one seed. Domains and URLs become a site plus a
// name guessed from the host; anything else is a plain company name.
func seedCompany(seed string) (name, site string) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return "", ""
	}

	looksLikeHost := strings.Contains(seed, "://") ||
		(strings.Contains(seed, ".") && !strings.ContainsAny(seed, " ,"))
	if !looksLikeHost {
		return seed, ""
	}

	raw := seed
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	host := common.URLHost(raw)
	if host == "" {
		return seed, ""
	}

	name = strings.TrimPrefix(host, "www.")
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name, raw
}

var _ interfaces.Processor = (*CompanyDiscoveryProcessor)(nil)
