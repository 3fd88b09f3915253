// -----------------------------------------------------------------------
// Processor Registry - Dispatch table from item type to lane processor
// -----------------------------------------------------------------------

package processors

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Registry maps queue item types to lane processors. The worker pool looks
// up the processor for each claimed item; registration happens once at
// startup but the map is guarded anyway so tests can swap processors.
type Registry struct {
	mu         sync.RWMutex
	processors map[models.QueueItemType]interfaces.Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[models.QueueItemType]interfaces.Processor),
	}
}

// Register adds a processor for its item type, replacing any previous one.
func (r *Registry) Register(p interfaces.Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.ItemType()] = p
}

// Get returns the processor for an item type.
func (r *Registry) Get(itemType models.QueueItemType) (interfaces.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[itemType]
	return p, ok
}

// Types returns the item types that have a processor, in canonical lane
// order. Workers use this as their claimable-type set.
func (r *Registry) Types() []models.QueueItemType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.QueueItemType, 0, len(r.processors))
	for _, t := range models.AllItemTypes {
		if _, ok := r.processors[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

var _ interfaces.ProcessorRegistry = (*Registry)(nil)

// unknownSubType is the terminal error for a sub type the lane does not
// know. ParseError keeps the retry budget short.
func unknownSubType(op string, subType models.QueueSubType) error {
	return models.NewPipelineErrorMsg(models.ErrKindParseError, op, fmt.Sprintf("unknown sub type %q", subType))
}

// jsonBlock cuts the first JSON object out of an LLM response, tolerating
// code fences and prose around it.
func jsonBlock(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return raw[start : end+1], nil
}

// decodePayload re-marshals a payload value into target. Payloads round-trip
// through JSON, so structured values come back as generic maps and need a
// second pass to land in their real type.
func decodePayload(item *models.QueueItem, key string, target interface{}) error {
	val, ok := item.Payload[key]
	if !ok {
		return fmt.Errorf("payload key %q missing", key)
	}
	buf, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("payload key %q: %w", key, err)
	}
	if err := json.Unmarshal(buf, target); err != nil {
		return fmt.Errorf("payload key %q: %w", key, err)
	}
	return nil
}
