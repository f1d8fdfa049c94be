package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospiverse/clinic-engine/generic"
	"github.com/hospiverse/clinic-engine/generic/store"
)

func apt(id, doctor, date, clock, status string) generic.Record {
	return generic.Record{
		"id": id, "doctor_id": doctor, "patient_name": "P " + id,
		"appointment_date": date, "time": clock, "status": status, "age": 40,
	}
}

func TestMemory_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	require.NoError(t, m.Insert(ctx, generic.CollectionAppointments, apt("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	got, err := m.Get(ctx, generic.CollectionAppointments, "a1")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.String("doctor_id"))
	assert.Equal(t, int64(40), got["age"], "ints are normalized to int64")

	_, err = m.Get(ctx, generic.CollectionAppointments, "missing")
	assert.True(t, generic.IsNotFound(err))
}

func TestMemory_Insert_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	rec := apt("a1", "d1", "2024-01-10", "09:00", "Scheduled")

	require.NoError(t, m.Insert(ctx, generic.CollectionAppointments, rec))
	err := m.Insert(ctx, generic.CollectionAppointments, rec)
	assert.ErrorIs(t, err, generic.ErrDuplicateRecord)
}

func TestMemory_Insert_UnknownFieldRejected(t *testing.T) {
	m := store.NewMemory()
	err := m.Insert(context.Background(), generic.CollectionOrders, generic.Record{"id": "o1", "colour": "red"})
	assert.ErrorIs(t, err, generic.ErrUnknownField)
}

func TestMemory_InsertBatch_AllOrNothing(t *testing.T) {
	// GIVEN: A batch whose last row collides with an existing id
	// WHEN: Inserting the batch
	// THEN: No row of the batch is visible

	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, generic.CollectionOrders, generic.Record{"id": "o3", "appointment_id": "x"}))

	err := m.InsertBatch(ctx, generic.CollectionOrders, []generic.Record{
		{"id": "o1", "appointment_id": "a1"},
		{"id": "o2", "appointment_id": "a1"},
		{"id": "o3", "appointment_id": "a1"},
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateRecord)

	rows, err := m.Find(ctx, generic.Query{
		Collection: generic.CollectionOrders,
		Where:      []generic.Predicate{generic.Eq("appointment_id", "a1")},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemory_Find_FilterOrderLimit(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.InsertBatch(ctx, generic.CollectionAppointments, []generic.Record{
		apt("a1", "d1", "2024-01-11", "09:00", "Scheduled"),
		apt("a2", "d1", "2024-01-10", "14:00", "Scheduled"),
		apt("a3", "d1", "2024-01-10", "08:30", "Scheduled"),
		apt("a4", "d2", "2024-01-10", "07:00", "Scheduled"),
		apt("a5", "d1", "2024-01-12", "07:00", "Cancelled"),
	}))

	rows, err := m.Find(ctx, generic.Query{
		Collection: generic.CollectionAppointments,
		Where: []generic.Predicate{
			generic.Eq("doctor_id", "d1"),
			generic.Neq("status", "Cancelled"),
			generic.Gte("appointment_date", "2024-01-10"),
		},
		OrderBy: []generic.Order{generic.Asc("appointment_date"), generic.Asc("time")},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a3", "a2", "a1"}, []string{rows[0].ID(), rows[1].ID(), rows[2].ID()})

	limited, err := m.Find(ctx, generic.Query{
		Collection: generic.CollectionAppointments,
		OrderBy:    []generic.Order{generic.Desc("appointment_date")},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a5", limited[0].ID())
}

func TestMemory_Update_ConditionalWrite(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, generic.CollectionAppointments, apt("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	where := []generic.Predicate{generic.Eq("id", "a1"), generic.Eq("status", "Scheduled")}

	n, err := m.Update(ctx, generic.CollectionAppointments, where, generic.Record{"status": "Cancelled"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Update(ctx, generic.CollectionAppointments, where, generic.Record{"status": "Completed"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second write sees the new status and matches nothing")

	got, _ := m.Get(ctx, generic.CollectionAppointments, "a1")
	assert.Equal(t, "Cancelled", got.String("status"))
}

func TestMemory_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, generic.CollectionAppointments, apt("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	got, _ := m.Get(ctx, generic.CollectionAppointments, "a1")
	got["status"] = "Completed"

	again, _ := m.Get(ctx, generic.CollectionAppointments, "a1")
	assert.Equal(t, "Scheduled", again.String("status"))
}

func TestTxMemory_WithTx_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := store.NewTxMemory()
	require.NoError(t, m.Insert(ctx, generic.CollectionAppointments, apt("a1", "d1", "2024-01-10", "09:00", "Scheduled")))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.InsertBatch(ctx, generic.CollectionOrders, []generic.Record{{"id": "o1", "appointment_id": "a1"}}); err != nil {
			return err
		}
		if _, err := tx.Update(ctx, generic.CollectionAppointments, []generic.Predicate{generic.Eq("id", "a1")}, generic.Record{"status": "Completed"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := m.Get(ctx, generic.CollectionAppointments, "a1")
	assert.Equal(t, "Scheduled", got.String("status"))
	orders, _ := m.Find(ctx, generic.Query{Collection: generic.CollectionOrders})
	assert.Empty(t, orders)
}

func TestTxMemory_WithTx_Commit(t *testing.T) {
	ctx := context.Background()
	m := store.NewTxMemory()

	err := m.WithTx(ctx, func(tx generic.Store) error {
		return tx.Insert(ctx, generic.CollectionItems, generic.Record{"id": "i1", "name": "Paracetamol", "price": "5.00", "type": "Medicine"})
	})
	require.NoError(t, err)

	got, err := m.Get(ctx, generic.CollectionItems, "i1")
	require.NoError(t, err)
	price, err := got.Money("price")
	require.NoError(t, err)
	assert.Equal(t, "5.00", price.String())
}
