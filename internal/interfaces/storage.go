package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Storage sentinel errors. Callers branch on these with errors.Is; the
// badger layer translates engine errors into them.
var (
	// ErrNotFound - no row for the given key
	ErrNotFound = errors.New("not found")
	// ErrStaleState - conditional transition found a different fromStatus
	ErrStaleState = errors.New("stale state")
	// ErrDuplicateItem - enqueue hit an active item with the same dedup key
	ErrDuplicateItem = errors.New("duplicate item")
)

// QueueItemFilter narrows queue listing queries. Zero values mean "any".
type QueueItemFilter struct {
	Status models.QueueItemStatus
	Type   models.QueueItemType
	RootID string
	Limit  int
	Offset int
}

// ListingFilter narrows job listing queries.
type ListingFilter struct {
	Status   models.JobListingStatus
	SourceID string
	Limit    int
	Offset   int
}

// MatchFilter narrows job match queries.
type MatchFilter struct {
	MinScore int
	Priority models.ApplicationPriority
	Limit    int
	Offset   int
}

// QueueStorage persists queue items and owns the claim/dedup mechanics.
// All state changes are transactional; ClaimNextItem and the conditional
// transitions are the synchronization points the whole pipeline leans on.
type QueueStorage interface {
	// EnqueueItem inserts an item. When item.DedupKey is set and an active
	// (non-terminal) item carries the same key, no insert happens and the
	// existing item's id is returned together with ErrDuplicateItem.
	EnqueueItem(ctx context.Context, item *models.QueueItem) (string, error)

	// ClaimNextItem atomically claims the oldest ready PENDING item within
	// types: status=CLAIMED, claimedBy=workerID, claimedAt=now, attempts+1.
	// Returns nil when nothing is claimable.
	ClaimNextItem(ctx context.Context, workerID string, types []models.QueueItemType, now time.Time) (*models.QueueItem, error)

	// TransitionItem moves id from fromStatus to toStatus, applying mutate
	// to the loaded item inside the transaction. Returns ErrStaleState when
	// the current status differs from fromStatus.
	TransitionItem(ctx context.Context, id string, fromStatus, toStatus models.QueueItemStatus, mutate func(*models.QueueItem)) (*models.QueueItem, error)

	// CompleteAndFanOut performs a terminal transition and inserts children
	// in the same transaction. Dedup applies per child; dedup hits are
	// skipped, not errors. Returns the ids of the inserted children.
	CompleteAndFanOut(ctx context.Context, id string, fromStatus, toStatus models.QueueItemStatus, mutate func(*models.QueueItem), children []*models.QueueItem) ([]string, error)

	// ReclaimExpiredLeases moves CLAIMED/PROCESSING items whose lease has
	// lapsed back to PENDING without consuming an attempt. Returns the
	// number of reclaimed items.
	ReclaimExpiredLeases(ctx context.Context, leaseTTL time.Duration, now time.Time) (int, error)

	GetItem(ctx context.Context, id string) (*models.QueueItem, error)
	GetChildren(ctx context.Context, parentID string) ([]*models.QueueItem, error)
	ListByRoot(ctx context.Context, rootID string) ([]*models.QueueItem, error)
	ListItems(ctx context.Context, filter QueueItemFilter) ([]*models.QueueItem, error)
	CountByStatus(ctx context.Context) (map[models.QueueItemStatus]int, error)
	CountActiveByType(ctx context.Context) (map[models.QueueItemType]int, error)
}

// ListingStorage persists job listings keyed on normalized URL.
type ListingStorage interface {
	// UpsertListing inserts or updates by normalized URL, returning the
	// stored row. Concurrent upserts of the same URL converge on one row.
	UpsertListing(ctx context.Context, listing *models.JobListing) (*models.JobListing, error)

	// UpdateListing applies mutate to the listing with the given id inside
	// a transaction.
	UpdateListing(ctx context.Context, id string, mutate func(*models.JobListing)) (*models.JobListing, error)

	GetListing(ctx context.Context, id string) (*models.JobListing, error)
	GetListingByURL(ctx context.Context, url string) (*models.JobListing, error)
	ListListings(ctx context.Context, filter ListingFilter) ([]*models.JobListing, error)
	CountByStatus(ctx context.Context) (map[models.JobListingStatus]int, error)
}

// MatchStorage persists job matches, one per listing.
type MatchStorage interface {
	// UpsertMatch writes the match for its listing, overwriting any
	// existing row for the same JobListingID (re-analysis updates in place).
	UpsertMatch(ctx context.Context, match *models.JobMatch) (*models.JobMatch, error)

	GetMatch(ctx context.Context, id string) (*models.JobMatch, error)
	GetMatchByListing(ctx context.Context, jobListingID string) (*models.JobMatch, error)
	ListMatches(ctx context.Context, filter MatchFilter) ([]*models.JobMatch, error)
	CountMatches(ctx context.Context) (int, error)
}

// CompanyStorage persists companies keyed on canonical name.
type CompanyStorage interface {
	UpsertCompany(ctx context.Context, company *models.Company) (*models.Company, error)
	UpdateCompany(ctx context.Context, id string, mutate func(*models.Company)) (*models.Company, error)
	GetCompany(ctx context.Context, id string) (*models.Company, error)
	GetCompanyByCanonicalName(ctx context.Context, canonicalName string) (*models.Company, error)
	ListCompanies(ctx context.Context, limit, offset int) ([]*models.Company, error)
	CountCompanies(ctx context.Context) (int, error)
}

// SourceStorage persists job sources and their health counters.
type SourceStorage interface {
	SaveSource(ctx context.Context, source *models.JobSource) error
	UpdateSource(ctx context.Context, id string, mutate func(*models.JobSource)) (*models.JobSource, error)
	GetSource(ctx context.Context, id string) (*models.JobSource, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]*models.JobSource, error)

	// ListDueSources returns scrapeable sources ordered least-recently
	// scraped first, capped at limit.
	ListDueSources(ctx context.Context, now time.Time, limit int) ([]*models.JobSource, error)

	// RecordScrapeResult updates counters after a scrape: success resets
	// consecutiveFailures and stamps lastScrapedAt; failure increments the
	// counter and opens the circuit once it reaches failureThreshold.
	RecordScrapeResult(ctx context.Context, id string, jobsFound, jobsMatched int, scrapeErr error, failureThreshold int, cooldown time.Duration) (*models.JobSource, error)

	// ClearExpiredCooldowns re-arms sources whose disabledUntil has passed.
	ClearExpiredCooldowns(ctx context.Context, now time.Time) (int, error)

	DeleteSource(ctx context.Context, id string) error
}

// SettingsStorage persists raw config entries.
type SettingsStorage interface {
	GetEntry(ctx context.Context, key string) (*models.ConfigEntry, error)
	PutEntry(ctx context.Context, entry *models.ConfigEntry) error
	ListEntries(ctx context.Context) ([]*models.ConfigEntry, error)
	DeleteEntry(ctx context.Context, key string) error
}

// CostStorage persists the daily cost ledger.
type CostStorage interface {
	// IncrementCost folds one request into the provider's daily entry and
	// returns the new daily total. budgetLimit is stamped on first write of
	// the day so the row is self-describing.
	IncrementCost(ctx context.Context, date, provider, model string, tokensIn, tokensOut int64, cost, budgetLimit float64) (float64, error)

	GetDailyCost(ctx context.Context, date, provider string) (*models.CostEntry, error)
	ListDailyCosts(ctx context.Context, date string) ([]*models.CostEntry, error)
}

// ArtifactStorage persists generated application documents.
type ArtifactStorage interface {
	SaveArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifactsByMatch(ctx context.Context, jobMatchID string) ([]*models.Artifact, error)
}

// ItemLogStorage persists per-item log lines for triage.
type ItemLogStorage interface {
	AppendLogs(ctx context.Context, itemID string, entries []models.ItemLogEntry) error
	GetLogs(ctx context.Context, itemID string, limit int) ([]models.ItemLogEntry, error)
	DeleteLogs(ctx context.Context, itemID string) error
}

// KVStorage is a small string key/value store for secrets and state that
// does not warrant its own entity (API keys, mail watcher cursor).
type KVStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager aggregates the per-entity stores behind one handle with a
// common lifecycle.
type StorageManager interface {
	QueueStorage() QueueStorage
	ListingStorage() ListingStorage
	MatchStorage() MatchStorage
	CompanyStorage() CompanyStorage
	SourceStorage() SourceStorage
	SettingsStorage() SettingsStorage
	CostStorage() CostStorage
	ArtifactStorage() ArtifactStorage
	ItemLogStorage() ItemLogStorage
	KVStorage() KVStorage
	Close() error
}
