package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appointmentRow(id, doctor, date, clock, status string) generic.Record {
	return generic.Record{
		"id": id, "doctor_id": doctor, "patient_name": "Patient " + id, "age": 30,
		"condition": "fever", "appointment_date": date, "time": clock,
		"status": status, "payment_status": "Pending",
	}
}

// =============================================================================
// RECORD STORE
// =============================================================================

func TestStore_InsertGet_RoundTripsNormalizedValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, generic.CollectionAppointments, appointmentRow("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	got, err := store.Get(ctx, generic.CollectionAppointments, "a1")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-10", got["appointment_date"])
	assert.Equal(t, int64(30), got["age"])
	assert.Nil(t, got["diagnosis"], "unset columns come back as NULL")
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), generic.CollectionAppointments, "nope")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_Insert_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rec := generic.Record{"id": "i1", "name": "X-Ray", "price": "40.00", "type": "Test"}

	require.NoError(t, store.Insert(ctx, generic.CollectionItems, rec))
	err := store.Insert(ctx, generic.CollectionItems, rec)
	assert.ErrorIs(t, err, generic.ErrDuplicateRecord)
}

func TestStore_Accounts_EmailUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, generic.CollectionAccounts, generic.Record{"id": "u1", "email": "a@clinic.test", "password_hash": "h"}))
	err := store.Insert(ctx, generic.CollectionAccounts, generic.Record{"id": "u2", "email": "a@clinic.test", "password_hash": "h"})
	assert.ErrorIs(t, err, generic.ErrDuplicateRecord)
}

func TestStore_UnknownField_RejectedBeforeSQL(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Find(context.Background(), generic.Query{
		Collection: generic.CollectionAppointments,
		Where:      []generic.Predicate{generic.Eq("1=1; DROP TABLE appointments; --", "x")},
	})
	assert.ErrorIs(t, err, generic.ErrUnknownField)
}

func TestStore_Find_OrderedByDateThenTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertBatch(ctx, generic.CollectionAppointments, []generic.Record{
		appointmentRow("a1", "d1", "2024-01-11", "09:00", "Scheduled"),
		appointmentRow("a2", "d1", "2024-01-10", "14:00", "Scheduled"),
		appointmentRow("a3", "d1", "2024-01-10", "08:30", "Scheduled"),
		appointmentRow("a4", "d1", "2024-01-10", "10:00", "Cancelled"),
	}))

	rows, err := store.Find(ctx, generic.Query{
		Collection: generic.CollectionAppointments,
		Where:      []generic.Predicate{generic.Eq("doctor_id", "d1"), generic.Neq("status", "Cancelled")},
		OrderBy:    []generic.Order{generic.Asc("appointment_date"), generic.Asc("time")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a3", rows[0].ID())
	assert.Equal(t, "a2", rows[1].ID())
	assert.Equal(t, "a1", rows[2].ID())
}

func TestStore_Update_ReturnsAffectedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, generic.CollectionAppointments, appointmentRow("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	where := []generic.Predicate{generic.Eq("id", "a1"), generic.Eq("status", "Scheduled")}
	n, err := store.Update(ctx, generic.CollectionAppointments, where, generic.Record{"status": "Cancelled"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Update(ctx, generic.CollectionAppointments, where, generic.Record{"status": "Completed"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A scheduled appointment
	// WHEN: A transaction inserts orders, flips status, then fails
	// THEN: Neither write is visible

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, generic.CollectionAppointments, appointmentRow("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.InsertBatch(ctx, generic.CollectionOrders, []generic.Record{
			{"id": "o1", "appointment_id": "a1", "item_name": "General Consultation", "price": "100.00", "quantity": 1},
		}))
		_, err := tx.Update(ctx, generic.CollectionAppointments, []generic.Predicate{generic.Eq("id", "a1")}, generic.Record{"status": "Completed"})
		require.NoError(t, err)

		// reads inside the transaction see its own writes
		got, err := tx.Get(ctx, generic.CollectionAppointments, "a1")
		require.NoError(t, err)
		assert.Equal(t, "Completed", got.String("status"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, generic.CollectionAppointments, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Scheduled", got.String("status"))

	orders, err := store.Find(ctx, generic.Query{Collection: generic.CollectionOrders})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, generic.CollectionItems, generic.Record{"id": "i1", "name": "X-Ray", "price": "40.00", "type": "Test"}))

	require.NoError(t, store.Reset(ctx))

	items, err := store.Find(ctx, generic.Query{Collection: generic.CollectionItems})
	require.NoError(t, err)
	assert.Empty(t, items)
}

// =============================================================================
// DRIVER FAILURES (sqlmock)
// =============================================================================

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS profiles").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := sqlite.NewWithDB(db)
	require.NoError(t, err)
	return store, mock
}

func TestStore_InsertBatch_PartialFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO orders").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.InsertBatch(ctx, generic.CollectionOrders, []generic.Record{
		{"id": "o1", "appointment_id": "a1", "item_name": "General Consultation", "price": "100.00", "quantity": 1},
		{"id": "o2", "appointment_id": "a1", "item_name": "Paracetamol", "price": "5.00", "quantity": 2},
	})

	assert.ErrorIs(t, err, generic.ErrExternalStore)
	var storeErr *generic.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "insert", storeErr.Op)
	assert.Equal(t, generic.CollectionOrders, storeErr.Collection)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithTx_UpdateFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE appointments SET").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err := store.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.Insert(ctx, generic.CollectionOrders, generic.Record{"id": "o1", "appointment_id": "a1", "item_name": "Fee", "price": "100.00", "quantity": 1}); err != nil {
			return err
		}
		_, err := tx.Update(ctx, generic.CollectionAppointments,
			[]generic.Predicate{generic.Eq("id", "a1"), generic.Eq("status", "Scheduled")},
			generic.Record{"status": "Completed"})
		return err
	})

	assert.True(t, generic.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Find_QueryFailureWrapped(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM appointments").WillReturnError(errors.New("connection reset"))

	_, err := store.Find(context.Background(), generic.Query{Collection: generic.CollectionAppointments})
	assert.ErrorIs(t, err, generic.ErrExternalStore)
	assert.NoError(t, mock.ExpectationsWereMet())
}
