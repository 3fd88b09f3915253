// -----------------------------------------------------------------------
// WebSocket Handler - Live event stream for the dashboard
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/Jdubz/job-finder-worker-sub011/internal/common"
	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // single-user local deployment
	},
}

// WSMessage is the envelope every broadcast uses.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// streamedEvents are the pipeline events forwarded to connected clients.
// log_event is deliberately absent: log lines go to storage and clients
// fetch them over REST, streaming them here floods the socket.
var streamedEvents = []interfaces.EventType{
	interfaces.EventItemEnqueued,
	interfaces.EventItemCompleted,
	interfaces.EventItemFailed,
	interfaces.EventItemBlocked,
	interfaces.EventScrapeTriggered,
	interfaces.EventMatchSaved,
	interfaces.EventCostAlert,
	interfaces.EventBudgetReset,
	interfaces.EventConfigUpdated,
}

// WebSocketHandler fans pipeline events out to connected dashboard clients.
// Writes are serialized per connection; a whitelist and per-event-type rate
// limiters keep chatty event types from flooding the socket.
type WebSocketHandler struct {
	logger           arbor.ILogger
	events           interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	allowedEvents    map[string]bool          // empty = allow all
	throttlers       map[string]*rate.Limiter // per event type, nil entry = unthrottled
	serverInstanceID string                   // clients detect restarts by comparing this
}

// NewWebSocketHandler wires the handler and subscribes it to the event bus.
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		events:           eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		logger.Debug().
			Int("allowed_events", len(h.allowedEvents)).
			Msg("Initialized event whitelist for WebSocketHandler")
	}

	if config != nil {
		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - throttler disabled")
				continue
			}
			h.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("event_type", eventType).
				Str("interval", intervalStr).
				Msg("Throttler initialized")
		}
	}

	if eventService != nil {
		h.subscribeToPipelineEvents()
	}

	return h
}

// subscribeToPipelineEvents forwards each streamed event type to clients.
func (h *WebSocketHandler) subscribeToPipelineEvents() {
	for _, eventType := range streamedEvents {
		et := eventType
		h.events.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.broadcastEvent(string(et), event.Payload)
			return nil
		})
	}
}

// broadcastEvent applies whitelist and throttling, then fans out.
func (h *WebSocketHandler) broadcastEvent(eventType string, payload interface{}) {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return
	}
	if limiter, ok := h.throttlers[eventType]; ok && limiter != nil && !limiter.Allow() {
		return
	}
	h.broadcast(WSMessage{Type: eventType, Payload: payload})
}

func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// HandleWebSocket upgrades the connection and parks it until the client
// disconnects. Clients only listen; inbound messages are drained and dropped.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello greets a fresh connection with the server instance id so the
// client can reset its local state after a server restart.
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: map[string]interface{}{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
			"timestamp":          time.Now().Format(time.RFC3339),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send hello")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
