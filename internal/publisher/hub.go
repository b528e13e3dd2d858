package publisher

import (
	"sync"

	"github.com/rs/zerolog/log"

	"example.com/carebase/services/eventstore/internal/eventstore"
)

// Subscriber is a live push-based consumer, typically a long-lived WebSocket
// connection. Send must not block indefinitely; a failed send gets the
// subscriber dropped from the hub.
type Subscriber interface {
	ID() string
	Topic() string
	Send(event eventstore.Event) error
	Close() error
}

// Hub is the owned, thread-safe registry of live subscribers. It is
// constructed once and passed into the Publisher; there is no package-level
// subscriber state.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber
	globalTopic string
}

// NewHub creates a subscriber registry. globalTopic is the reserved topic
// that receives every event kind.
func NewHub(globalTopic string) *Hub {
	return &Hub{
		subscribers: make(map[string]Subscriber),
		globalTopic: globalTopic,
	}
}

// Add registers a subscriber for live delivery.
func (h *Hub) Add(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.subscribers[sub.ID()] = sub
	log.Info().Str("subscriberID", sub.ID()).Str("topic", sub.Topic()).Msg("Subscriber added")
}

// Remove unregisters a subscriber and closes its connection.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if ok {
		if err := sub.Close(); err != nil {
			log.Debug().Err(err).Str("subscriberID", id).Msg("Error closing subscriber")
		}
		log.Info().Str("subscriberID", id).Msg("Subscriber removed")
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast delivers the event to every subscriber whose topic matches the
// event type or the global topic. A subscriber whose Send fails is dropped
// rather than retried, so one slow or dead consumer cannot stall the rest.
func (h *Hub) Broadcast(event eventstore.Event) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if sub.Topic() == event.Type || sub.Topic() == h.globalTopic {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(event); err != nil {
			log.Warn().Err(err).
				Str("subscriberID", sub.ID()).
				Str("eventID", event.ID).
				Msg("Dropping unresponsive subscriber")
			h.Remove(sub.ID())
		}
	}
}
