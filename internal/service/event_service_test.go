package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/carebase/services/eventstore/config"
	"example.com/carebase/services/eventstore/internal/eventstore"
	"example.com/carebase/services/eventstore/internal/metrics"
	"example.com/carebase/services/eventstore/internal/publisher"
	"example.com/carebase/services/eventstore/internal/tracing"
)

// Mock store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveEvent(ctx context.Context, event eventstore.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int) ([]eventstore.Event, error) {
	args := m.Called(ctx, aggregateID, fromVersion)
	return args.Get(0).([]eventstore.Event), args.Error(1)
}

func (m *MockStore) GetEventsByType(ctx context.Context, eventType string) ([]eventstore.Event, error) {
	args := m.Called(ctx, eventType)
	return args.Get(0).([]eventstore.Event), args.Error(1)
}

func (m *MockStore) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]eventstore.Event, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).([]eventstore.Event), args.Error(1)
}

func (m *MockStore) CreateSnapshot(ctx context.Context, aggregateID string, version int, state json.RawMessage) error {
	args := m.Called(ctx, aggregateID, version, state)
	return args.Error(0)
}

func (m *MockStore) GetSnapshot(ctx context.Context, aggregateID string, version int) (*eventstore.Snapshot, error) {
	args := m.Called(ctx, aggregateID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*eventstore.Snapshot), args.Error(1)
}

// Mock publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishEvent(ctx context.Context, event eventstore.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) AddSubscriber(sub publisher.Subscriber) {
	m.Called(sub)
}

func (m *MockPublisher) RemoveSubscriber(id string) {
	m.Called(id)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestService(ledger, accel *MockStore, pub *MockPublisher) *EventService {
	tracer, _ := tracing.NewTracer(config.TracingConfig{})
	return NewEventService(ledger, accel, pub, config.TimeoutConfig{}, metrics.NewMetrics(), tracer)
}

func validEvent() eventstore.Event {
	return eventstore.NewEvent(
		eventstore.PatientRegistered, "patient-1", "patient", 1,
		json.RawMessage(`{"name":"Ada"}`))
}

func TestSaveEventSucceedsWhenAcceleratorFails(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	ledger.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)
	accel.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(errors.New("redis unreachable"))
	pub.On("PublishEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)

	service := newTestService(ledger, accel, pub)

	err := service.SaveEvent(context.Background(), validEvent())

	require.NoError(t, err)
	ledger.AssertExpectations(t)
	accel.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSaveEventSucceedsWhenPublishFails(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	ledger.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)
	accel.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)
	pub.On("PublishEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(errors.New("broker down"))

	service := newTestService(ledger, accel, pub)

	err := service.SaveEvent(context.Background(), validEvent())

	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestSaveEventSucceedsWhenTracingInitFailed(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	ledger.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)
	accel.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)
	pub.On("PublishEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)

	// A rejected agent init still yields a usable disabled tracer
	tracer, err := tracing.NewTracer(config.TracingConfig{LicenseKey: "rejected"})
	require.Error(t, err)

	service := NewEventService(ledger, accel, pub, config.TimeoutConfig{}, metrics.NewMetrics(), tracer)

	require.NotPanics(t, func() {
		require.NoError(t, service.SaveEvent(context.Background(), validEvent()))
	})
	ledger.AssertExpectations(t)
}

func TestSaveEventVersionConflictPropagates(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	ledger.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).
		Return(eventstore.ErrVersionConflict)

	service := newTestService(ledger, accel, pub)

	err := service.SaveEvent(context.Background(), validEvent())

	require.ErrorIs(t, err, eventstore.ErrVersionConflict)
	// Neither the accelerator nor the publisher may see a conflicted event
	accel.AssertNotCalled(t, "SaveEvent", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything)
}

func TestSaveEventLedgerFailureIsFatal(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	ledger.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).
		Return(errors.New("connection refused"))

	service := newTestService(ledger, accel, pub)

	err := service.SaveEvent(context.Background(), validEvent())

	require.Error(t, err)
	accel.AssertNotCalled(t, "SaveEvent", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything)
}

func TestSaveEventRejectsUnknownType(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	service := newTestService(ledger, accel, pub)

	event := validEvent()
	event.Type = "V1_SOMETHING_ELSE"

	err := service.SaveEvent(context.Background(), event)

	require.ErrorIs(t, err, eventstore.ErrUnknownEventType)
	ledger.AssertNotCalled(t, "SaveEvent", mock.Anything, mock.Anything)
}

func TestSaveEventAssignsIDAndTimestamp(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	var saved eventstore.Event
	ledger.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(eventstore.Event)
		}).Return(nil)
	accel.On("SaveEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)
	pub.On("PublishEvent", mock.Anything, mock.AnythingOfType("eventstore.Event")).Return(nil)

	service := newTestService(ledger, accel, pub)

	event := eventstore.Event{
		Type:          eventstore.BillPaid,
		AggregateID:   "bill-9",
		AggregateType: "bill",
		Version:       1,
	}

	require.NoError(t, service.SaveEvent(context.Background(), event))
	require.NotEmpty(t, saved.ID)
	require.False(t, saved.Timestamp.IsZero())
}

func TestGetEventsFallsBackToLedgerWhenAcceleratorEmpty(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	ledgerEvents := []eventstore.Event{
		{ID: "e1", AggregateID: "A1", Version: 1},
		{ID: "e2", AggregateID: "A1", Version: 2},
		{ID: "e3", AggregateID: "A1", Version: 3},
	}

	accel.On("GetEvents", mock.Anything, "A1", 0).Return([]eventstore.Event{}, nil)
	ledger.On("GetEvents", mock.Anything, "A1", 0).Return(ledgerEvents, nil)

	service := newTestService(ledger, accel, pub)

	events, err := service.GetEvents(context.Background(), "A1", 0)

	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, event := range events {
		require.Equal(t, i+1, event.Version)
	}
}

func TestGetEventsAcceleratorHitSkipsLedger(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	cached := []eventstore.Event{{ID: "e1", AggregateID: "A1", Version: 1}}
	accel.On("GetEvents", mock.Anything, "A1", 0).Return(cached, nil)

	service := newTestService(ledger, accel, pub)

	events, err := service.GetEvents(context.Background(), "A1", 0)

	require.NoError(t, err)
	require.Len(t, events, 1)
	ledger.AssertNotCalled(t, "GetEvents", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetEventsFallsBackWhenAcceleratorErrors(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	accel.On("GetEvents", mock.Anything, "A1", 0).
		Return([]eventstore.Event{}, errors.New("redis unreachable"))
	ledger.On("GetEvents", mock.Anything, "A1", 0).
		Return([]eventstore.Event{{ID: "e1", Version: 1}}, nil)

	service := newTestService(ledger, accel, pub)

	events, err := service.GetEvents(context.Background(), "A1", 0)

	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestGetEventsByTypeFallback(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	accel.On("GetEventsByType", mock.Anything, eventstore.BillPaid).Return([]eventstore.Event{}, nil)
	ledger.On("GetEventsByType", mock.Anything, eventstore.BillPaid).
		Return([]eventstore.Event{{ID: "e2", Version: 2}, {ID: "e1", Version: 1}}, nil)

	service := newTestService(ledger, accel, pub)

	events, err := service.GetEventsByType(context.Background(), eventstore.BillPaid)

	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestCreateSnapshotWritesBothTiers(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	state := json.RawMessage(`{"balance":0}`)
	ledger.On("CreateSnapshot", mock.Anything, "A1", 5, state).Return(nil)
	accel.On("CreateSnapshot", mock.Anything, "A1", 5, state).Return(nil)

	service := newTestService(ledger, accel, pub)

	require.NoError(t, service.CreateSnapshot(context.Background(), "A1", 5, state))
	ledger.AssertExpectations(t)
	accel.AssertExpectations(t)
}

func TestCreateSnapshotAcceleratorFailureNonFatal(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	state := json.RawMessage(`{}`)
	ledger.On("CreateSnapshot", mock.Anything, "A1", 5, state).Return(nil)
	accel.On("CreateSnapshot", mock.Anything, "A1", 5, state).Return(errors.New("redis unreachable"))

	service := newTestService(ledger, accel, pub)

	require.NoError(t, service.CreateSnapshot(context.Background(), "A1", 5, state))
}

func TestGetSnapshotFallsBackToLedger(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	snapshot := &eventstore.Snapshot{AggregateID: "A1", Version: 5}
	accel.On("GetSnapshot", mock.Anything, "A1", 7).Return(nil, eventstore.ErrNotFound)
	ledger.On("GetSnapshot", mock.Anything, "A1", 7).Return(snapshot, nil)

	service := newTestService(ledger, accel, pub)

	got, err := service.GetSnapshot(context.Background(), "A1", 7)

	require.NoError(t, err)
	require.Equal(t, 5, got.Version)
}

func TestGetSnapshotNotFoundInEitherTier(t *testing.T) {
	ledger := new(MockStore)
	accel := new(MockStore)
	pub := new(MockPublisher)

	accel.On("GetSnapshot", mock.Anything, "A1", 3).Return(nil, eventstore.ErrNotFound)
	ledger.On("GetSnapshot", mock.Anything, "A1", 3).Return(nil, eventstore.ErrNotFound)

	service := newTestService(ledger, accel, pub)

	_, err := service.GetSnapshot(context.Background(), "A1", 3)

	require.ErrorIs(t, err, eventstore.ErrNotFound)
}
