package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/eventstore"
	"example.com/carebase/services/eventstore/internal/metrics"
	"example.com/carebase/services/eventstore/internal/publisher"
	"example.com/carebase/services/eventstore/internal/tracing"
)

// EventService is the single public entry point over the two storage tiers
// and the publisher. Every write goes ledger, then accelerator, then publish;
// only the ledger step can fail the call. Every read asks the accelerator
// first and falls back to the ledger on an empty result.
type EventService struct {
	ledger      eventstore.Store
	accelerator eventstore.Store
	publisher   publisher.Publisher
	timeouts    config.TimeoutConfig
	metrics     *metrics.Metrics
	tracer      tracing.Tracer
}

// NewEventService creates a new event service facade
func NewEventService(
	ledger eventstore.Store,
	accelerator eventstore.Store,
	pub publisher.Publisher,
	timeouts config.TimeoutConfig,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *EventService {
	return &EventService{
		ledger:      ledger,
		accelerator: accelerator,
		publisher:   pub,
		timeouts:    timeouts,
		metrics:     m,
		tracer:      tracer,
	}
}

// SaveEvent records the event durably, then accelerates and publishes it.
// The call succeeds once the ledger commit succeeds; accelerator and publish
// failures are logged and swallowed. A caller that receives
// eventstore.ErrVersionConflict lost a concurrent-write race and must
// recompute its version and retry; the store never retries on its behalf.
func (s *EventService) SaveEvent(ctx context.Context, event eventstore.Event) error {
	txn := s.tracer.StartTransaction("save-event")
	defer s.tracer.EndTransaction(txn)

	if !eventstore.KnownEventType(event.Type) {
		return errors.Wrapf(eventstore.ErrUnknownEventType, "%q", event.Type)
	}
	if event.AggregateID == "" {
		return errors.New("aggregate ID is empty")
	}
	if event.Version < 1 {
		return errors.New("event version must be at least 1")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Ledger write must succeed
	start := time.Now()
	ledgerSpan := s.tracer.StartSpan("ledger-save", txn)
	err := s.withTimeout(ctx, s.timeouts.Ledger, func(ctx context.Context) error {
		return s.ledger.SaveEvent(ctx, event)
	})
	ledgerSpan.End()
	s.metrics.RecordTime("ledger_save", time.Since(start))
	if err != nil {
		if errors.Is(err, eventstore.ErrVersionConflict) {
			s.metrics.IncrementCounter(metrics.VersionConflicts)
			return err
		}
		s.metrics.IncrementCounter(metrics.LedgerErrors)
		s.tracer.RecordError(txn, err)
		return err
	}
	s.metrics.IncrementCounter(metrics.EventsSaved)

	// Accelerator write is best effort
	accelSpan := s.tracer.StartSpan("accelerator-save", txn)
	if err := s.withTimeout(ctx, s.timeouts.Accelerator, func(ctx context.Context) error {
		return s.accelerator.SaveEvent(ctx, event)
	}); err != nil {
		s.metrics.IncrementCounter(metrics.AcceleratorErrors)
		log.Warn().Err(err).
			Str("eventID", event.ID).
			Msg("Accelerator write failed, event remains durable in ledger")
	}
	accelSpan.End()

	// Publish is best effort and happens strictly after the ledger commit
	publishSpan := s.tracer.StartSpan("publish", txn)
	if err := s.withTimeout(ctx, s.timeouts.Publish, func(ctx context.Context) error {
		return s.publisher.PublishEvent(ctx, event)
	}); err != nil {
		s.metrics.IncrementCounter(metrics.PublishErrors)
		log.Warn().Err(err).
			Str("eventID", event.ID).
			Msg("Publish failed, subscribers must reconcile via reads")
	}
	publishSpan.End()

	return nil
}

// GetEvents returns the ordered event sequence for an aggregate,
// accelerator first, ledger on empty.
func (s *EventService) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]eventstore.Event, error) {
	return s.readFallback(ctx, func(ctx context.Context, store eventstore.Store) ([]eventstore.Event, error) {
		return store.GetEvents(ctx, aggregateID, fromVersion)
	})
}

// GetEventsByType returns events of one kind, newest first.
func (s *EventService) GetEventsByType(ctx context.Context, eventType string) ([]eventstore.Event, error) {
	return s.readFallback(ctx, func(ctx context.Context, store eventstore.Store) ([]eventstore.Event, error) {
		return store.GetEventsByType(ctx, eventType)
	})
}

// GetEventsByTimeRange returns events in [start, end], newest first.
func (s *EventService) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]eventstore.Event, error) {
	return s.readFallback(ctx, func(ctx context.Context, store eventstore.Store) ([]eventstore.Event, error) {
		return store.GetEventsByTimeRange(ctx, start, end)
	})
}

// CreateSnapshot persists the snapshot to the ledger (authoritative) and the
// accelerator (fast lookup). Only the ledger write can fail the call.
func (s *EventService) CreateSnapshot(ctx context.Context, aggregateID string, version int, state json.RawMessage) error {
	if err := s.withTimeout(ctx, s.timeouts.Ledger, func(ctx context.Context) error {
		return s.ledger.CreateSnapshot(ctx, aggregateID, version, state)
	}); err != nil {
		s.metrics.IncrementCounter(metrics.LedgerErrors)
		return err
	}

	if err := s.withTimeout(ctx, s.timeouts.Accelerator, func(ctx context.Context) error {
		return s.accelerator.CreateSnapshot(ctx, aggregateID, version, state)
	}); err != nil {
		s.metrics.IncrementCounter(metrics.AcceleratorErrors)
		log.Warn().Err(err).
			Str("aggregateID", aggregateID).
			Int("version", version).
			Msg("Accelerator snapshot write failed")
	}

	return nil
}

// GetSnapshot returns the most recent snapshot at or before version,
// accelerator first, ledger on miss. ErrNotFound means the aggregate has no
// snapshot yet.
func (s *EventService) GetSnapshot(ctx context.Context, aggregateID string, version int) (*eventstore.Snapshot, error) {
	var snapshot *eventstore.Snapshot
	err := s.withTimeout(ctx, s.timeouts.Accelerator, func(ctx context.Context) error {
		var err error
		snapshot, err = s.accelerator.GetSnapshot(ctx, aggregateID, version)
		return err
	})
	if err == nil {
		s.metrics.IncrementCounter(metrics.AcceleratorHits)
		return snapshot, nil
	}
	if !errors.Is(err, eventstore.ErrNotFound) {
		log.Warn().Err(err).Str("aggregateID", aggregateID).Msg("Accelerator snapshot read failed, falling back to ledger")
	}

	s.metrics.IncrementCounter(metrics.LedgerFallbacks)
	err = s.withTimeout(ctx, s.timeouts.Ledger, func(ctx context.Context) error {
		var lerr error
		snapshot, lerr = s.ledger.GetSnapshot(ctx, aggregateID, version)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// AddSubscriber registers a live subscriber for push delivery.
func (s *EventService) AddSubscriber(sub publisher.Subscriber) {
	s.publisher.AddSubscriber(sub)
	s.metrics.IncrementCounter(metrics.SubscribersConnected)
}

// RemoveSubscriber unregisters a live subscriber.
func (s *EventService) RemoveSubscriber(id string) {
	s.publisher.RemoveSubscriber(id)
}

// readFallback queries the accelerator; a non-empty result wins, anything
// else (empty, evicted, unreachable) goes to the ledger. Results are never
// merged across tiers; the all-or-nothing choice keeps read latency
// predictable for consumers.
func (s *EventService) readFallback(
	ctx context.Context,
	query func(ctx context.Context, store eventstore.Store) ([]eventstore.Event, error),
) ([]eventstore.Event, error) {
	var cached []eventstore.Event
	err := s.withTimeout(ctx, s.timeouts.Accelerator, func(ctx context.Context) error {
		var err error
		cached, err = query(ctx, s.accelerator)
		return err
	})
	if err != nil {
		log.Warn().Err(err).Msg("Accelerator read failed, falling back to ledger")
	} else if len(cached) > 0 {
		s.metrics.IncrementCounter(metrics.AcceleratorHits)
		return cached, nil
	}

	s.metrics.IncrementCounter(metrics.LedgerFallbacks)
	var events []eventstore.Event
	err = s.withTimeout(ctx, s.timeouts.Ledger, func(ctx context.Context) error {
		var lerr error
		events, lerr = query(ctx, s.ledger)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *EventService) withTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
