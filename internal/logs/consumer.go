// -----------------------------------------------------------------------
// Item Log Consumer - Persists per-item logs from arbor's context channel
// -----------------------------------------------------------------------

package logs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
	"github.com/Jdubz/job-finder-worker-sub011/internal/models"
)

// Consumer drains log batches from arbor's context channel, groups them by
// correlation id (the queue item id) and appends them to the item log
// store. Lines at or above minEventLevel are republished on the event bus
// so the monitor stream can surface them live.
type Consumer struct {
	storage       interfaces.ItemLogStorage
	events        interfaces.EventService
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minEventLevel arbor.LogLevel
}

// NewConsumer wires the consumer. Call Start before handing the channel to
// the logger via SetChannel.
func NewConsumer(storage interfaces.ItemLogStorage, events interfaces.EventService, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		storage:       storage,
		events:        events,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minEventLevel: parseLogLevel(minEventLevel),
	}
}

// parseLogLevel converts a config string to an arbor level.
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter normalizes level names to the display codes the UI uses.
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}

// GetChannel returns the channel arbor writes batches into.
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine.
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop shuts the consumer down and waits for the in-flight batch.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Item log consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Item log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			c.handleBatch(batch)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) handleBatch(batch []arbormodels.LogEvent) {
	// Group by correlation id so each item gets one append. Lines without
	// a correlation id belong to no queue item and are not persisted.
	byItem := make(map[string][]models.ItemLogEntry)
	for _, event := range batch {
		// Request tracing noise never belongs in item logs.
		if event.Message == "HTTP request" || event.Message == "HTTP response" ||
			strings.Contains(event.Message, "WebSocket client") {
			continue
		}

		entry := transformEvent(event)
		if event.CorrelationID != "" {
			byItem[event.CorrelationID] = append(byItem[event.CorrelationID], entry)
		}

		if c.events != nil && c.shouldPublish(event.Level) {
			c.publishLogEvent(event.CorrelationID, entry)
		}
	}

	for itemID, entries := range byItem {
		if err := c.storage.AppendLogs(c.ctx, itemID, entries); err != nil {
			// Logged without a correlation id so the failure cannot feed
			// back into the channel as an item log.
			c.logger.Warn().
				Err(err).
				Str("item_id", itemID).
				Int("count", len(entries)).
				Msg("Failed to append item logs")
		}
	}
}

// shouldPublish bridges phuslu levels through arbor's levels package and
// compares against the configured threshold.
func (c *Consumer) shouldPublish(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minEventLevel
}

func (c *Consumer) publishLogEvent(itemID string, entry models.ItemLogEntry) {
	payload := map[string]interface{}{
		"item_id":   itemID,
		"level":     entry.Level,
		"message":   entry.Message,
		"timestamp": entry.Timestamp,
	}
	if err := c.events.Publish(c.ctx, interfaces.Event{
		Type:    interfaces.EventLogBatch,
		Payload: payload,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish log event")
	}
}

// transformEvent flattens one arbor event into a persistable entry. Extra
// structured fields fold into the message text.
func transformEvent(event arbormodels.LogEvent) models.ItemLogEntry {
	message := event.Message
	if len(event.Fields) > 0 {
		for key, value := range event.Fields {
			message += fmt.Sprintf(" %s=%v", key, value)
		}
	}

	return models.ItemLogEntry{
		ItemID:        event.CorrelationID,
		Timestamp:     event.Timestamp.Format("15:04:05"),
		FullTimestamp: event.Timestamp.Format(time.RFC3339),
		Level:         convertTo3Letter(event.Level.String()),
		Message:       message,
	}
}
