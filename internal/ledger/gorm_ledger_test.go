package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/carebase/services/eventstore/internal/eventstore"
)

func newMockLedger(t *testing.T) (*GormLedger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dialector := postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	})
	gdb, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)

	return NewGormLedger(gdb), mock
}

func TestSaveEventInsertsRow(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`INSERT INTO "events"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	event := eventstore.NewEvent(
		eventstore.PatientRegistered, "patient-1", "patient", 1,
		json.RawMessage(`{"name":"Ada"}`))

	err := ledger.SaveEvent(context.Background(), event)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEventTranslatesUniqueViolation(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`INSERT INTO "events"`).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_aggregate_version" (SQLSTATE 23505)`))

	event := eventstore.NewEvent(
		eventstore.PatientRegistered, "patient-1", "patient", 1, nil)

	err := ledger.SaveEvent(context.Background(), event)

	require.ErrorIs(t, err, eventstore.ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEventWrapsOtherFailures(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`INSERT INTO "events"`).
		WillReturnError(errors.New("connection reset by peer"))

	event := eventstore.NewEvent(eventstore.BillPaid, "bill-1", "bill", 1, nil)

	err := ledger.SaveEvent(context.Background(), event)

	require.Error(t, err)
	require.NotErrorIs(t, err, eventstore.ErrVersionConflict)
}

func TestGetEventsReturnsAscendingVersions(t *testing.T) {
	ledger, mock := newMockLedger(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"event_id", "aggregate_id", "aggregate_type", "event_type", "version", "timestamp"}).
		AddRow("e1", "A1", "patient", eventstore.PatientRegistered, 1, now).
		AddRow("e2", "A1", "patient", eventstore.PatientUpdated, 2, now.Add(time.Second))

	mock.ExpectQuery(`SELECT (.+) FROM "events" WHERE aggregate_id`).
		WithArgs("A1", 0).
		WillReturnRows(rows)

	events, err := ledger.GetEvents(context.Background(), "A1", 0)

	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e1", events[0].ID)
	require.Equal(t, 1, events[0].Version)
	require.Equal(t, 2, events[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEventsByTypeQueriesByKind(t *testing.T) {
	ledger, mock := newMockLedger(t)

	rows := sqlmock.NewRows([]string{"event_id", "event_type", "version"}).
		AddRow("e2", eventstore.BillPaid, 4).
		AddRow("e1", eventstore.BillPaid, 2)

	mock.ExpectQuery(`SELECT (.+) FROM "events" WHERE event_type`).
		WithArgs(eventstore.BillPaid).
		WillReturnRows(rows)

	events, err := ledger.GetEventsByType(context.Background(), eventstore.BillPaid)

	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e2", events[0].ID)
}

func TestCreateSnapshotUpserts(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`INSERT INTO "snapshots" (.+) ON CONFLICT`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := ledger.CreateSnapshot(context.Background(), "A1", 5, json.RawMessage(`{"balance":10}`))

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSnapshotReturnsGreatestVersionAtOrBefore(t *testing.T) {
	ledger, mock := newMockLedger(t)

	rows := sqlmock.NewRows([]string{"aggregate_id", "version", "state"}).
		AddRow("A1", 5, []byte(`{"balance":10}`))

	mock.ExpectQuery(`SELECT (.+) FROM "snapshots" WHERE aggregate_id`).
		WithArgs("A1", 7, 1).
		WillReturnRows(rows)

	snapshot, err := ledger.GetSnapshot(context.Background(), "A1", 7)

	require.NoError(t, err)
	require.Equal(t, 5, snapshot.Version)
	require.JSONEq(t, `{"balance":10}`, string(snapshot.State))
}

func TestGetSnapshotNotFound(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT (.+) FROM "snapshots" WHERE aggregate_id`).
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_id", "version", "state"}))

	_, err := ledger.GetSnapshot(context.Background(), "A1", 3)

	require.ErrorIs(t, err, eventstore.ErrNotFound)
}

func TestMarkProcessedUpdatesFlag(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec(`UPDATE "events"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := ledger.MarkProcessed(context.Background(), "e1")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
