package publisher

import (
	"context"

	"example.com/carebase/services/eventstore/internal/eventstore"
)

// HubOnlyPublisher fans out to live subscribers without a pub/sub backend.
// Used when Redis is disabled or unreachable at startup; the write path keeps
// working against the ledger alone.
type HubOnlyPublisher struct {
	hub *Hub
}

// NewHubOnlyPublisher creates a publisher backed only by the live hub
func NewHubOnlyPublisher(hub *Hub) *HubOnlyPublisher {
	return &HubOnlyPublisher{hub: hub}
}

// PublishEvent broadcasts to live subscribers only.
func (p *HubOnlyPublisher) PublishEvent(_ context.Context, event eventstore.Event) error {
	p.hub.Broadcast(event)
	return nil
}

// AddSubscriber registers a live subscriber with the hub.
func (p *HubOnlyPublisher) AddSubscriber(sub Subscriber) {
	p.hub.Add(sub)
}

// RemoveSubscriber unregisters a live subscriber.
func (p *HubOnlyPublisher) RemoveSubscriber(id string) {
	p.hub.Remove(id)
}

// Close is a no-op; the hub owns no external connections.
func (p *HubOnlyPublisher) Close() error { return nil }
