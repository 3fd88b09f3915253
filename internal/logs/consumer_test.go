package logs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

type fakeItemLogStorage struct {
	mu      sync.Mutex
	appends map[string][]models.ItemLogEntry
}

func newFakeItemLogStorage() *fakeItemLogStorage {
	return &fakeItemLogStorage{appends: make(map[string][]models.ItemLogEntry)}
}

func (f *fakeItemLogStorage) AppendLogs(_ context.Context, itemID string, entries []models.ItemLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends[itemID] = append(f.appends[itemID], entries...)
	return nil
}

func (f *fakeItemLogStorage) GetLogs(_ context.Context, itemID string, _ int) ([]models.ItemLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appends[itemID], nil
}

func (f *fakeItemLogStorage) DeleteLogs(_ context.Context, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.appends, itemID)
	return nil
}

type fakeEventBus struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (f *fakeEventBus) Subscribe(interfaces.EventType, interfaces.EventHandler) error   { return nil }
func (f *fakeEventBus) Unsubscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }
func (f *fakeEventBus) Publish(_ context.Context, event interfaces.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
func (f *fakeEventBus) PublishSync(ctx context.Context, event interfaces.Event) error {
	return f.Publish(ctx, event)
}
func (f *fakeEventBus) Close() error { return nil }

func (f *fakeEventBus) published() []interfaces.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interfaces.Event, len(f.events))
	copy(out, f.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConsumerPersistsByCorrelationID(t *testing.T) {
	storage := newFakeItemLogStorage()
	bus := &fakeEventBus{}
	consumer := NewConsumer(storage, bus, arbor.NewLogger(), "info")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Timestamp: now, Level: log.InfoLevel, Message: "fetching listing", CorrelationID: "item_a"},
		{Timestamp: now, Level: log.InfoLevel, Message: "listing stored", CorrelationID: "item_a"},
		{Timestamp: now, Level: log.WarnLevel, Message: "slow source", CorrelationID: "item_b"},
		{Timestamp: now, Level: log.InfoLevel, Message: "no correlation id"},
	}

	waitFor(t, func() bool {
		storage.mu.Lock()
		defer storage.mu.Unlock()
		return len(storage.appends["item_a"]) == 2 && len(storage.appends["item_b"]) == 1
	})

	logs, err := storage.GetLogs(context.Background(), "item_a", 0)
	require.NoError(t, err)
	assert.Equal(t, "INF", logs[0].Level)
	assert.Equal(t, "fetching listing", logs[0].Message)

	// The uncorrelated line is never persisted.
	orphan, err := storage.GetLogs(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, orphan)
}

func TestConsumerPublishesAboveThreshold(t *testing.T) {
	storage := newFakeItemLogStorage()
	bus := &fakeEventBus{}
	consumer := NewConsumer(storage, bus, arbor.NewLogger(), "warn")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Timestamp: now, Level: log.InfoLevel, Message: "below threshold", CorrelationID: "item_a"},
		{Timestamp: now, Level: log.ErrorLevel, Message: "fetch failed", CorrelationID: "item_a"},
	}

	waitFor(t, func() bool {
		storage.mu.Lock()
		defer storage.mu.Unlock()
		return len(storage.appends["item_a"]) == 2
	})

	events := bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, interfaces.EventLogBatch, events[0].Type)
	payload := events[0].Payload.(map[string]interface{})
	assert.Equal(t, "ERR", payload["level"])
	assert.Equal(t, "fetch failed", payload["message"])
}

func TestConsumerSkipsRequestNoise(t *testing.T) {
	storage := newFakeItemLogStorage()
	consumer := NewConsumer(storage, nil, arbor.NewLogger(), "info")
	require.NoError(t, consumer.Start())
	defer consumer.Stop()

	now := time.Now()
	consumer.GetChannel() <- []arbormodels.LogEvent{
		{Timestamp: now, Level: log.InfoLevel, Message: "HTTP request", CorrelationID: "item_a"},
		{Timestamp: now, Level: log.InfoLevel, Message: "real work", CorrelationID: "item_a"},
	}

	waitFor(t, func() bool {
		storage.mu.Lock()
		defer storage.mu.Unlock()
		return len(storage.appends["item_a"]) == 1
	})

	logs, _ := storage.GetLogs(context.Background(), "item_a", 0)
	assert.Equal(t, "real work", logs[0].Message)
}

func TestTransformEventFoldsFields(t *testing.T) {
	entry := transformEvent(arbormodels.LogEvent{
		Timestamp:     time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC),
		Level:         log.DebugLevel,
		Message:       "claimed",
		CorrelationID: "item_c",
		Fields:        map[string]interface{}{"attempt": 2},
	})

	assert.Equal(t, "item_c", entry.ItemID)
	assert.Equal(t, "DBG", entry.Level)
	assert.Equal(t, "09:30:00", entry.Timestamp)
	assert.Contains(t, entry.Message, "claimed")
	assert.Contains(t, entry.Message, "attempt=2")
}
