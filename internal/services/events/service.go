// -----------------------------------------------------------------------
// Event Service - In-process pub/sub for pipeline notifications
// -----------------------------------------------------------------------

package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/Jdubz/job-finder-worker-sub011/internal/interfaces"
)

// Service is the in-process event bus. Queue transitions, config updates,
// cost alerts and log batches flow through here to the websocket stream and
// the config cache.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	mu          sync.RWMutex
	logger      arbor.ILogger
	closed      bool
}

// NewService creates an event service.
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type.
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("event service is closed")
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")
	return nil
}

// Unsubscribe removes a previously subscribed handler. Handlers are
// identified by their function pointer, so the same value passed to
// Subscribe must be passed here.
func (s *Service) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	target := reflect.ValueOf(handler).Pointer()

	s.mu.Lock()
	defer s.mu.Unlock()

	handlers := s.subscribers[eventType]
	for i, h := range handlers {
		if reflect.ValueOf(h).Pointer() == target {
			s.subscribers[eventType] = append(handlers[:i], handlers[i+1:]...)
			s.logger.Debug().
				Str("event_type", string(eventType)).
				Msg("Event handler unsubscribed")
			return nil
		}
	}
	return fmt.Errorf("handler not found for event type: %s", eventType)
}

// Publish dispatches the event to all subscribers asynchronously. Handler
// errors are logged, never returned; a panicking handler is contained to
// its goroutine.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, len(s.subscribers[event.Type]))
	copy(handlers, s.subscribers[event.Type])
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	s.logger.Debug().
		Str("event_type", string(event.Type)).
		Int("subscriber_count", len(handlers)).
		Msg("Publishing event")

	for _, handler := range handlers {
		go func(h interfaces.EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().
						Str("event_type", string(event.Type)).
						Str("panic", fmt.Sprintf("%v", r)).
						Msg("Event handler panicked")
				}
			}()
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}(handler)
	}
	return nil
}

// PublishSync dispatches the event and waits for every handler. Handler
// errors are collected into a single error.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	handlers := make([]interfaces.EventHandler, len(s.subscribers[event.Type]))
	copy(handlers, s.subscribers[event.Type])
	s.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h interfaces.EventHandler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errChan <- fmt.Errorf("handler panicked: %v", r)
				}
			}()
			if err := h(ctx, event); err != nil {
				errChan <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errChan)

	var count int
	for err := range errChan {
		count++
		s.logger.Error().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Event handler failed")
	}
	if count > 0 {
		return fmt.Errorf("event handlers failed: %d errors", count)
	}
	return nil
}

// Close drops all subscriptions. Publishes after Close are no-ops.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.closed = true
	s.logger.Debug().Msg("Event service closed")
	return nil
}
