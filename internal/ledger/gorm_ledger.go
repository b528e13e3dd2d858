package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/carebase/services/eventstore/internal/eventstore"
	"example.com/carebase/services/eventstore/internal/models"
)

// GormLedger implements eventstore.Store on Postgres via GORM. It is the
// system of record: the only backend whose absence of an event is
// authoritative.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger creates a new GORM-backed ledger
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// SaveEvent inserts one event row. The (aggregate_id, version) unique index is
// the optimistic-concurrency guard: the losing writer of a race gets
// eventstore.ErrVersionConflict.
func (l *GormLedger) SaveEvent(ctx context.Context, event eventstore.Event) error {
	row := toModel(event)

	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return eventstore.ErrVersionConflict
		}
		return errors.Wrap(err, "failed to save event")
	}

	log.Info().
		Str("aggregateID", event.AggregateID).
		Str("eventType", event.Type).
		Int("version", event.Version).
		Msg("Event saved to ledger")

	return nil
}

// GetEvents returns events for an aggregate with version >= fromVersion,
// ascending by version.
func (l *GormLedger) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]eventstore.Event, error) {
	var rows []models.Event
	if err := l.db.WithContext(ctx).
		Where("aggregate_id = ? AND version >= ?", aggregateID, fromVersion).
		Order("version ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events")
	}

	return toDomainSlice(rows), nil
}

// GetEventsByType returns all events of a kind, most recent first.
func (l *GormLedger) GetEventsByType(ctx context.Context, eventType string) ([]eventstore.Event, error) {
	var rows []models.Event
	if err := l.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("timestamp DESC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events by type")
	}

	return toDomainSlice(rows), nil
}

// GetEventsByTimeRange returns events with start <= timestamp <= end, most
// recent first. Both bounds are inclusive.
func (l *GormLedger) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]eventstore.Event, error) {
	var rows []models.Event
	if err := l.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", start, end).
		Order("timestamp DESC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events by time range")
	}

	return toDomainSlice(rows), nil
}

// CreateSnapshot upserts a snapshot row for (aggregateID, version).
func (l *GormLedger) CreateSnapshot(ctx context.Context, aggregateID string, version int, state json.RawMessage) error {
	row := models.Snapshot{
		AggregateID: aggregateID,
		Version:     version,
		State:       state,
	}

	if err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "aggregate_id"}, {Name: "version"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).
		Create(&row).Error; err != nil {
		return errors.Wrap(err, "failed to create snapshot")
	}

	return nil
}

// GetSnapshot returns the snapshot with the greatest version <= the requested
// one, using an indexed query rather than a client-side scan.
func (l *GormLedger) GetSnapshot(ctx context.Context, aggregateID string, version int) (*eventstore.Snapshot, error) {
	var row models.Snapshot
	err := l.db.WithContext(ctx).
		Where("aggregate_id = ? AND version <= ?", aggregateID, version).
		Order("version DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, eventstore.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get snapshot")
	}

	return &eventstore.Snapshot{
		AggregateID: row.AggregateID,
		Version:     row.Version,
		State:       row.State,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// FetchUnprocessed returns unrelayed events, oldest first, for the outbox
// sweep.
func (l *GormLedger) FetchUnprocessed(ctx context.Context, limit int) ([]eventstore.Event, error) {
	var rows []models.Event
	if err := l.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("timestamp ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to fetch unprocessed events")
	}

	return toDomainSlice(rows), nil
}

// MarkProcessed flags an event as relayed and clears any previous error.
func (l *GormLedger) MarkProcessed(ctx context.Context, eventID string) error {
	if err := l.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"processed": true,
			"error":     nil,
		}).Error; err != nil {
		return errors.Wrap(err, "failed to mark event as processed")
	}

	return nil
}

// RecordError stores the relay failure reason on the event row.
func (l *GormLedger) RecordError(ctx context.Context, eventID string, cause error) error {
	msg := cause.Error()
	if err := l.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Update("error", &msg).Error; err != nil {
		return errors.Wrap(err, "failed to record event error")
	}

	return nil
}

// isDuplicateKey recognizes a unique-constraint violation whether or not the
// dialector translates it.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}

func toModel(event eventstore.Event) models.Event {
	return models.Event{
		EventID:       event.ID,
		AggregateID:   event.AggregateID,
		AggregateType: event.AggregateType,
		EventType:     event.Type,
		Version:       event.Version,
		Data:          event.Data,
		Metadata:      event.Metadata,
		Timestamp:     event.Timestamp,
		UserID:        event.UserID,
		CorrelationID: event.CorrelationID,
		CausationID:   event.CausationID,
		Processed:     false,
	}
}

func toDomain(row models.Event) eventstore.Event {
	return eventstore.Event{
		ID:            row.EventID,
		AggregateID:   row.AggregateID,
		AggregateType: row.AggregateType,
		Type:          row.EventType,
		Version:       row.Version,
		Data:          row.Data,
		Metadata:      row.Metadata,
		Timestamp:     row.Timestamp,
		UserID:        row.UserID,
		CorrelationID: row.CorrelationID,
		CausationID:   row.CausationID,
	}
}

func toDomainSlice(rows []models.Event) []eventstore.Event {
	events := make([]eventstore.Event, len(rows))
	for i, row := range rows {
		events[i] = toDomain(row)
	}
	return events
}
