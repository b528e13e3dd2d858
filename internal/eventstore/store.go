package eventstore

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the read/write surface shared by the durable ledger and the hot
// accelerator.
type Store interface {
	// SaveEvent appends one event. The ledger enforces the
	// (aggregate_id, version) uniqueness invariant and returns
	// ErrVersionConflict when a concurrent writer won the race.
	SaveEvent(ctx context.Context, event Event) error

	// GetEvents returns events for an aggregate with version >= fromVersion,
	// ascending by version.
	GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]Event, error)

	// GetEventsByType returns events of one kind, newest first.
	GetEventsByType(ctx context.Context, eventType string) ([]Event, error)

	// GetEventsByTimeRange returns events with start <= timestamp <= end,
	// newest first. Ordering is wall-clock, only approximate across producers
	// with skewed clocks.
	GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// CreateSnapshot upserts a snapshot for (aggregateID, version).
	CreateSnapshot(ctx context.Context, aggregateID string, version int, state json.RawMessage) error

	// GetSnapshot returns the snapshot with the greatest version <= the
	// requested one, or ErrNotFound when the aggregate has no snapshot yet.
	GetSnapshot(ctx context.Context, aggregateID string, version int) (*Snapshot, error)
}
