/*
store.go - Record store contract (the persistent store collaborator)

PURPOSE:
  Defines the interface between the domain logic and the database.
  The core only depends on equality/range/order predicates and
  insert/update mutations, never on a query language.

KEY INTERFACES:
  Store:   Insert, InsertBatch, Update, Find, Get
  TxStore: Store + WithTx (atomic multi-collection writes)

ATOMIC BATCHES:
  InsertBatch() and WithTx() ensure all-or-nothing semantics. Completing a
  consultation writes N orders plus one appointment update; either all of
  them are visible afterwards or none are.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for tests and demos

EXAMPLE:
  rows, err := store.Find(ctx, generic.Query{
      Collection: generic.CollectionAppointments,
      Where:      []generic.Predicate{generic.Eq("doctor_id", "doc-1")},
      OrderBy:    []generic.Order{generic.Asc("appointment_date"), generic.Asc("time")},
  })

SEE ALSO:
  - types.go: Record and value normalization
  - errors.go: StoreError
*/
package generic

import (
	"context"
	"fmt"
)

// =============================================================================
// COLLECTIONS
// =============================================================================

type Collection string

const (
	CollectionAppointments Collection = "appointments"
	CollectionOrders       Collection = "orders"
	CollectionProfiles     Collection = "profiles"
	CollectionItems        Collection = "items"
	CollectionAccounts     Collection = "accounts"
)

// Columns lists the known fields per collection. Store implementations
// reject predicates and mutations naming anything else.
var Columns = map[Collection][]string{
	CollectionAppointments: {
		"id", "doctor_id", "patient_name", "age", "condition", "appointment_date",
		"time", "status", "payment_status", "diagnosis", "prescription",
		"created_at", "updated_at",
	},
	CollectionOrders: {
		"id", "appointment_id", "item_name", "price", "quantity", "dosage", "created_at",
	},
	CollectionProfiles: {
		"id", "email", "full_name", "role", "department", "status", "created_at",
	},
	CollectionItems: {
		"id", "name", "price", "type",
	},
	CollectionAccounts: {
		"id", "email", "password_hash", "created_at",
	},
}

// CheckFields returns ErrUnknownField if any field is not a column of coll.
func CheckFields(coll Collection, fields ...string) error {
	cols, ok := Columns[coll]
	if !ok {
		return fmt.Errorf("%w: collection %q", ErrUnknownField, coll)
	}
	for _, f := range fields {
		found := false
		for _, c := range cols {
			if c == f {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, coll, f)
		}
	}
	return nil
}

// =============================================================================
// PREDICATES
// =============================================================================

type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

type Predicate struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Predicate  { return Predicate{Field: field, Op: OpEq, Value: v} }
func Neq(field string, v any) Predicate { return Predicate{Field: field, Op: OpNeq, Value: v} }
func Gt(field string, v any) Predicate  { return Predicate{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Predicate { return Predicate{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Predicate  { return Predicate{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Predicate { return Predicate{Field: field, Op: OpLte, Value: v} }

// Matches evaluates the predicate against a record.
func (p Predicate) Matches(r Record) bool {
	c := CompareValues(r[p.Field], p.Value)
	switch p.Op {
	case OpEq:
		return c == 0
	case OpNeq:
		return c != 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	default:
		return false
	}
}

// MatchAll reports whether every predicate matches.
func MatchAll(r Record, where []Predicate) bool {
	for _, p := range where {
		if !p.Matches(r) {
			return false
		}
	}
	return true
}

type Order struct {
	Field string
	Desc  bool
}

func Asc(field string) Order  { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

type Query struct {
	Collection Collection
	Where      []Predicate
	OrderBy    []Order
	Limit      int // 0 = no limit
}

// Fields returns every field the query references.
func (q Query) Fields() []string {
	var fields []string
	for _, p := range q.Where {
		fields = append(fields, p.Field)
	}
	for _, o := range q.OrderBy {
		fields = append(fields, o.Field)
	}
	return fields
}

// =============================================================================
// STORE - Interface for record persistence
// =============================================================================

// Store handles persistence of records.
type Store interface {
	// Insert persists a record. The record must carry an "id".
	Insert(ctx context.Context, coll Collection, rec Record) error

	// InsertBatch persists multiple records atomically.
	// Either all succeed or none do.
	InsertBatch(ctx context.Context, coll Collection, recs []Record) error

	// Update sets fields on every record matching where.
	// Returns the number of records changed.
	Update(ctx context.Context, coll Collection, where []Predicate, fields Record) (int, error)

	// Find returns records matching the query, in the requested order.
	Find(ctx context.Context, q Query) ([]Record, error)

	// Get returns a single record by id, or ErrNotFound.
	Get(ctx context.Context, coll Collection, id string) (Record, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
