// -----------------------------------------------------------------------
// Queue Item - Durable unit of pipeline work
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueItemType identifies the processing lane an item belongs to.
type QueueItemType string

const (
	ItemTypeJob              QueueItemType = "JOB"
	ItemTypeCompany          QueueItemType = "COMPANY"
	ItemTypeScrapeSource     QueueItemType = "SCRAPE_SOURCE"
	ItemTypeSourceDiscovery  QueueItemType = "SOURCE_DISCOVERY"
	ItemTypeCompanyDiscovery QueueItemType = "COMPANY_DISCOVERY"
)

// AllItemTypes lists every lane in dispatch order.
var AllItemTypes = []QueueItemType{
	ItemTypeJob,
	ItemTypeCompany,
	ItemTypeScrapeSource,
	ItemTypeSourceDiscovery,
	ItemTypeCompanyDiscovery,
}

// QueueSubType is a granular step within a lane's state machine.
// Empty subType means the item is processed monolithically.
type QueueSubType string

const (
	// JOB lane: FETCH -> EXTRACT -> FILTER -> ANALYZE -> SAVE
	SubTypeFetch   QueueSubType = "FETCH"
	SubTypeExtract QueueSubType = "EXTRACT"
	SubTypeFilter  QueueSubType = "FILTER"
	SubTypeAnalyze QueueSubType = "ANALYZE"
	SubTypeSave    QueueSubType = "SAVE"

	// COMPANY lane: FETCH -> EXTRACT -> ENRICH -> DISCOVER_SOURCES
	SubTypeEnrich          QueueSubType = "ENRICH"
	SubTypeDiscoverSources QueueSubType = "DISCOVER_SOURCES"

	// SCRAPE_SOURCE lane: FETCH_PAGE -> INTAKE -> UPDATE_SOURCE_STATS
	SubTypeFetchPage   QueueSubType = "FETCH_PAGE"
	SubTypeIntake      QueueSubType = "INTAKE"
	SubTypeUpdateStats QueueSubType = "UPDATE_SOURCE_STATS"

	// SOURCE_DISCOVERY lane: PROBE -> CLASSIFY -> REGISTER
	SubTypeProbe    QueueSubType = "PROBE"
	SubTypeClassify QueueSubType = "CLASSIFY"
	SubTypeRegister QueueSubType = "REGISTER"

	// COMPANY_DISCOVERY lane is a single SEED step that fans out COMPANY items
	SubTypeSeed QueueSubType = "SEED"
)

// QueueItemStatus is the durable state of a queue item.
type QueueItemStatus string

const (
	StatusPending    QueueItemStatus = "PENDING"
	StatusClaimed    QueueItemStatus = "CLAIMED"
	StatusProcessing QueueItemStatus = "PROCESSING"
	StatusSuccess    QueueItemStatus = "SUCCESS"
	StatusFailed     QueueItemStatus = "FAILED"
	StatusSkipped    QueueItemStatus = "SKIPPED"
	StatusFiltered   QueueItemStatus = "FILTERED"
	StatusBlocked    QueueItemStatus = "BLOCKED"
)

// IsTerminal reports whether the status never transitions again.
func (s QueueItemStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusFiltered, StatusBlocked:
		return true
	default:
		return false
	}
}

// QueueItemOrigin records how an item entered the queue.
type QueueItemOrigin string

const (
	OriginUserSubmission QueueItemOrigin = "USER_SUBMISSION"
	OriginAutomatedScan  QueueItemOrigin = "AUTOMATED_SCAN"
	OriginScheduled      QueueItemOrigin = "SCHEDULED"
	OriginFanOut         QueueItemOrigin = "FAN_OUT"
)

// QueueItem is the durable unit of work flowing through the pipeline.
//
// Items form lineages: a root item (ParentID empty, RootID == ID) fans out
// child items on SUCCESS; children record the parent's id, the shared root
// id, and their depth in the tree. Claim bookkeeping (ClaimedBy, ClaimedAt,
// Attempts) lives on the row so a restarted process can reclaim leases
// without any in-memory state.
type QueueItem struct {
	// Core identification
	ID      string          `json:"id" badgerhold:"key"`
	Type    QueueItemType   `json:"type" badgerhold:"index"`
	SubType QueueSubType    `json:"sub_type,omitempty"`
	Status  QueueItemStatus `json:"status" badgerhold:"index"`

	// Work description
	URL     string                 `json:"url,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Lineage
	ParentID string `json:"parent_id,omitempty" badgerhold:"index"`
	RootID   string `json:"root_id" badgerhold:"index"`
	Depth    int    `json:"depth"`

	// Retry bookkeeping
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// Claim bookkeeping; ClaimedBy is empty unless status is CLAIMED or PROCESSING
	ClaimedBy string    `json:"claimed_by,omitempty"`
	ClaimedAt time.Time `json:"claimed_at,omitempty"`

	// Provenance
	Origin   QueueItemOrigin `json:"origin"`
	DedupKey string          `json:"dedup_key,omitempty"`

	// Failure snapshot for triage
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	ErrorDetails string    `json:"error_details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewQueueItem creates a new root queue item. The item is its own lineage
// root: RootID == ID, Depth == 0.
func NewQueueItem(itemType QueueItemType, subType QueueSubType, origin QueueItemOrigin, url string, payload map[string]interface{}) *QueueItem {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	now := time.Now()
	id := "item_" + uuid.New().String()
	return &QueueItem{
		ID:            id,
		Type:          itemType,
		SubType:       subType,
		Status:        StatusPending,
		URL:           url,
		Payload:       payload,
		RootID:        id,
		Depth:         0,
		NextAttemptAt: now,
		Origin:        origin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewChildItem creates a fan-out child of parent. The child inherits the
// lineage root and sits one level deeper.
func NewChildItem(parent *QueueItem, itemType QueueItemType, subType QueueSubType, url string, payload map[string]interface{}) *QueueItem {
	child := NewQueueItem(itemType, subType, OriginFanOut, url, payload)
	child.ParentID = parent.ID
	child.RootID = parent.RootID
	child.Depth = parent.Depth + 1
	return child
}

// IsTerminal returns true if the item is in a terminal state.
func (q *QueueItem) IsTerminal() bool {
	return q.Status.IsTerminal()
}

// IsClaimed returns true while a worker holds the item.
func (q *QueueItem) IsClaimed() bool {
	return q.Status == StatusClaimed || q.Status == StatusProcessing
}

// IsRoot returns true if this item starts a lineage.
func (q *QueueItem) IsRoot() bool {
	return q.ParentID == ""
}

// LeaseExpired reports whether a claimed item's lease has lapsed.
func (q *QueueItem) LeaseExpired(leaseTTL time.Duration, now time.Time) bool {
	if !q.IsClaimed() || q.ClaimedAt.IsZero() {
		return false
	}
	return q.ClaimedAt.Add(leaseTTL).Before(now)
}

// Validate checks structural invariants before the item is persisted.
func (q *QueueItem) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("item ID is required")
	}
	if q.Type == "" {
		return fmt.Errorf("item type is required")
	}
	if q.RootID == "" {
		return fmt.Errorf("item root ID is required")
	}
	if q.Depth < 0 {
		return fmt.Errorf("item depth cannot be negative")
	}
	if q.ParentID == "" && q.RootID != q.ID {
		return fmt.Errorf("root item must be its own lineage root")
	}
	if q.MaxAttempts > 0 && q.Attempts > q.MaxAttempts {
		return fmt.Errorf("attempts %d exceeds max attempts %d", q.Attempts, q.MaxAttempts)
	}
	return nil
}

// Clone creates a deep copy of the item.
func (q *QueueItem) Clone() *QueueItem {
	payloadCopy := make(map[string]interface{}, len(q.Payload))
	for k, v := range q.Payload {
		payloadCopy[k] = v
	}
	clone := *q
	clone.Payload = payloadCopy
	return &clone
}

// ToJSON serializes the item for transport and audit snapshots.
func (q *QueueItem) ToJSON() ([]byte, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return data, nil
}

// QueueItemFromJSON deserializes an item.
func QueueItemFromJSON(data []byte) (*QueueItem, error) {
	var item QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue item: %w", err)
	}
	return &item, nil
}

// GetPayloadString retrieves a string value from the payload.
func (q *QueueItem) GetPayloadString(key string) (string, bool) {
	val, ok := q.Payload[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetPayloadInt retrieves an int value from the payload.
func (q *QueueItem) GetPayloadInt(key string) (int, bool) {
	val, ok := q.Payload[key]
	if !ok {
		return 0, false
	}

	// Handle both int and float64 (JSON unmarshaling converts numbers to float64)
	switch v := val.(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// GetPayloadBool retrieves a bool value from the payload.
func (q *QueueItem) GetPayloadBool(key string) (bool, bool) {
	val, ok := q.Payload[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetPayloadStringSlice retrieves a string slice from the payload.
func (q *QueueItem) GetPayloadStringSlice(key string) ([]string, bool) {
	val, ok := q.Payload[key]
	if !ok {
		return nil, false
	}

	// Handle []interface{} from JSON unmarshaling
	switch v := val.(type) {
	case []string:
		return v, true
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			result[i] = str
		}
		return result, true
	default:
		return nil, false
	}
}

// SetPayload sets a payload value.
func (q *QueueItem) SetPayload(key string, value interface{}) {
	if q.Payload == nil {
		q.Payload = make(map[string]interface{})
	}
	q.Payload[key] = value
}
