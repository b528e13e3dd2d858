package accelerator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/eventstore"
)

// RedisAccelerator implements eventstore.Store on Redis as a bounded,
// TTL-based cache in front of the ledger. One logical event produces three
// physical writes: a per-aggregate stream, a per-type stream and a global
// stream. It is never authoritative and never falls back to the ledger
// itself; an empty result here means the facade must ask the ledger.
type RedisAccelerator struct {
	client    *redis.Client
	enabled   bool
	maxLength int64
	ttl       time.Duration
}

// NewRedisAccelerator creates a new Redis-backed accelerator
func NewRedisAccelerator(cfg config.RedisConfig, accel config.AcceleratorConfig) (*RedisAccelerator, error) {
	if !cfg.Enabled {
		return &RedisAccelerator{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisAccelerator{
		client:    client,
		enabled:   true,
		maxLength: int64(accel.MaxStreamLength),
		ttl:       accel.TTL,
	}, nil
}

// Key prefixes for the three parallel streams plus the snapshot index.
func aggregateStreamKey(aggregateID string) string {
	return fmt.Sprintf("events:aggregate:%s", aggregateID)
}

func typeStreamKey(eventType string) string {
	return fmt.Sprintf("events:type:%s", eventType)
}

const globalStreamKey = "events:global"

func snapshotKey(aggregateID string) string {
	return fmt.Sprintf("snapshots:%s", aggregateID)
}

// SaveEvent pushes the event onto all three streams, trimming each to the
// configured bound and refreshing its TTL.
func (a *RedisAccelerator) SaveEvent(ctx context.Context, event eventstore.Event) error {
	if !a.enabled {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	keys := []string{
		aggregateStreamKey(event.AggregateID),
		typeStreamKey(event.Type),
		globalStreamKey,
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.LPush(ctx, key, payload)
			pipe.LTrim(ctx, key, 0, a.maxLength-1)
			pipe.Expire(ctx, key, a.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to write event to accelerator")
	}

	return nil
}

// GetEvents scans the aggregate stream and returns events with
// version >= fromVersion, ascending by version. A missing or expired stream
// yields an empty result, not an error.
func (a *RedisAccelerator) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]eventstore.Event, error) {
	entries, err := a.scanStream(ctx, aggregateStreamKey(aggregateID))
	if err != nil {
		return nil, err
	}

	events := make([]eventstore.Event, 0, len(entries))
	for _, event := range entries {
		if event.Version >= fromVersion {
			events = append(events, event)
		}
	}

	sortByVersion(events)
	return events, nil
}

// GetEventsByType scans the type stream; entries are already newest first.
func (a *RedisAccelerator) GetEventsByType(ctx context.Context, eventType string) ([]eventstore.Event, error) {
	return a.scanStream(ctx, typeStreamKey(eventType))
}

// GetEventsByTimeRange scans the global stream and keeps events whose
// timestamp falls in [start, end]; entries are already newest first.
func (a *RedisAccelerator) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]eventstore.Event, error) {
	entries, err := a.scanStream(ctx, globalStreamKey)
	if err != nil {
		return nil, err
	}

	events := make([]eventstore.Event, 0, len(entries))
	for _, event := range entries {
		if inRange(event.Timestamp, start, end) {
			events = append(events, event)
		}
	}

	return events, nil
}

// CreateSnapshot upserts the snapshot into the aggregate's sorted-set index,
// scored by version so lookups are an indexed greatest-score query.
func (a *RedisAccelerator) CreateSnapshot(ctx context.Context, aggregateID string, version int, state json.RawMessage) error {
	if !a.enabled {
		return nil
	}

	snapshot := eventstore.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       state,
		CreatedAt:   time.Now().UTC(),
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to marshal snapshot")
	}

	key := snapshotKey(aggregateID)
	score := strconv.Itoa(version)

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// Replace any existing entry at this version
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(version), Member: payload})
		pipe.Expire(ctx, key, a.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to write snapshot to accelerator")
	}

	return nil
}

// GetSnapshot returns the snapshot with the greatest version <= the requested
// one via ZREVRANGEBYSCORE, or ErrNotFound.
func (a *RedisAccelerator) GetSnapshot(ctx context.Context, aggregateID string, version int) (*eventstore.Snapshot, error) {
	if !a.enabled {
		return nil, eventstore.ErrNotFound
	}

	members, err := a.client.ZRevRangeByScore(ctx, snapshotKey(aggregateID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.Itoa(version),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read snapshot from accelerator")
	}
	if len(members) == 0 {
		return nil, eventstore.ErrNotFound
	}

	var snapshot eventstore.Snapshot
	if err := json.Unmarshal([]byte(members[0]), &snapshot); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached snapshot")
	}

	return &snapshot, nil
}

// Close closes the Redis connection
func (a *RedisAccelerator) Close() error {
	if !a.enabled || a.client == nil {
		return nil
	}

	return a.client.Close()
}

func (a *RedisAccelerator) scanStream(ctx context.Context, key string) ([]eventstore.Event, error) {
	if !a.enabled {
		return nil, nil
	}

	entries, err := a.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stream from accelerator")
	}

	return decodeEntries(entries)
}

// decodeEntries unmarshals raw stream entries, preserving their order.
func decodeEntries(entries []string) ([]eventstore.Event, error) {
	events := make([]eventstore.Event, 0, len(entries))
	for _, entry := range entries {
		var event eventstore.Event
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal cached event")
		}
		events = append(events, event)
	}
	return events, nil
}

// sortByVersion orders events ascending by version in place.
func sortByVersion(events []eventstore.Event) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Version < events[j].Version
	})
}

// inRange reports whether ts falls in [start, end], both bounds inclusive.
func inRange(ts, start, end time.Time) bool {
	return !ts.Before(start) && !ts.After(end)
}
