package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/eventstore"
)

// Publisher broadcasts newly durable events to pub/sub topics and to live
// subscribers. Delivery is best effort: no ordering guarantee across
// subscribers and no delivery guarantee at all. A consumer that misses an
// event reconciles via the read path.
type Publisher interface {
	PublishEvent(ctx context.Context, event eventstore.Event) error
	AddSubscriber(sub Subscriber)
	RemoveSubscriber(id string)
	Close() error
}

// RedisPublisher implements Publisher on Redis pub/sub channels. The channel
// name is the event type string; every event is also published to the
// reserved global topic.
type RedisPublisher struct {
	client      *redis.Client
	hub         *Hub
	globalTopic string
	enabled     bool
}

// NewRedisPublisher creates a new Redis-backed publisher
func NewRedisPublisher(cfg config.RedisConfig, pub config.PublisherConfig, hub *Hub) (*RedisPublisher, error) {
	if !cfg.Enabled {
		return &RedisPublisher{hub: hub, globalTopic: pub.GlobalTopic, enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisPublisher{
		client:      client,
		hub:         hub,
		globalTopic: pub.GlobalTopic,
		enabled:     true,
	}, nil
}

// PublishEvent publishes to the per-type channel, the global channel, and the
// live hub. Callers invoke this strictly after the ledger write succeeded.
// Each leg is attempted even when an earlier one failed; the hub is local
// delivery and must not be starved by a pub/sub hiccup.
func (p *RedisPublisher) PublishEvent(ctx context.Context, event eventstore.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	var pubErr error
	if p.enabled {
		if err := p.client.Publish(ctx, event.Type, payload).Err(); err != nil {
			pubErr = errors.Wrap(err, "failed to publish to type topic")
		}
		if err := p.client.Publish(ctx, p.globalTopic, payload).Err(); err != nil && pubErr == nil {
			pubErr = errors.Wrap(err, "failed to publish to global topic")
		}
	}

	p.hub.Broadcast(event)
	return pubErr
}

// AddSubscriber registers a live subscriber with the hub.
func (p *RedisPublisher) AddSubscriber(sub Subscriber) {
	p.hub.Add(sub)
}

// RemoveSubscriber unregisters a live subscriber.
func (p *RedisPublisher) RemoveSubscriber(id string) {
	p.hub.Remove(id)
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	if !p.enabled || p.client == nil {
		return nil
	}

	return p.client.Close()
}
