/*
Package sqlite provides a SQLite-backed implementation of the record store.

PURPOSE:
  Implements generic.TxStore using SQLite. The domain packages only
  speak predicates and records; this package turns them into SQL. In
  production the same patterns apply to PostgreSQL with minor dialect
  differences.

INTERFACES IMPLEMENTED:
  generic.Store:   Insert, InsertBatch, Update, Find, Get
  generic.TxStore: WithTx

KEY TABLES:
  appointments: One row per visit, status + payment_status state machine
  orders:       Billable lines, written once when a consultation completes
  profiles:     Staff identities (role, department, status)
  items:        Catalog of fees, medicines and tests
  accounts:     Credentials owned by the auth provider

IDENTIFIERS:
  Column names come from callers, so every field is checked against
  generic.Columns before it is interpolated into SQL. Values are always
  bound as parameters.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single pooled connection, so
  ":memory:" databases are shared by every query. Inside WithTx the view
  talks to the *sql.Tx directly and never re-enters the mutex.

USAGE:
  store, err := sqlite.New("./data/clinic.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/hospiverse/clinic-engine/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already opened handle and migrates the schema.
func NewWithDB(db *sql.DB) (*Store, error) {
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		email TEXT,
		full_name TEXT,
		role TEXT,
		department TEXT,
		status TEXT,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		doctor_id TEXT NOT NULL,
		patient_name TEXT NOT NULL,
		age INTEGER,
		condition TEXT,
		appointment_date TEXT NOT NULL,
		time TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		diagnosis TEXT,
		prescription TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	-- Hot path: a doctor's schedule for a day, ordered by time
	CREATE INDEX IF NOT EXISTS idx_appointments_doctor_date
		ON appointments(doctor_id, appointment_date, time);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		dosage TEXT,
		created_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_orders_appointment
		ON orders(appointment_id);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		type TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// =============================================================================
// RECORD STORE (generic.Store interface)
// =============================================================================

// Insert adds one record.
func (s *Store) Insert(ctx context.Context, coll generic.Collection, rec generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insert(ctx, s.db, coll, rec)
}

// InsertBatch adds multiple records atomically.
func (s *Store) InsertBatch(ctx context.Context, coll generic.Collection, recs []generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.WrapStore("begin", coll, err)
	}
	defer sqlTx.Rollback()

	for _, rec := range recs {
		if err := insert(ctx, sqlTx, coll, rec); err != nil {
			return err
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return generic.WrapStore("commit", coll, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(ctx, s.db, coll, where, fields)
}

func (s *Store) Find(ctx context.Context, q generic.Query) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(ctx, s.db, q)
}

func (s *Store) Get(ctx context.Context, coll generic.Collection, id string) (generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.db, coll, id)
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.WrapStore("begin", "", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return generic.WrapStore("commit", "", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Insert(ctx context.Context, coll generic.Collection, rec generic.Record) error {
	return insert(ctx, ts.tx, coll, rec)
}

func (ts *txStore) InsertBatch(ctx context.Context, coll generic.Collection, recs []generic.Record) error {
	for _, rec := range recs {
		if err := insert(ctx, ts.tx, coll, rec); err != nil {
			return err
		}
	}
	return nil
}

func (ts *txStore) Update(ctx context.Context, coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	return update(ctx, ts.tx, coll, where, fields)
}

func (ts *txStore) Find(ctx context.Context, q generic.Query) ([]generic.Record, error) {
	return find(ctx, ts.tx, q)
}

func (ts *txStore) Get(ctx context.Context, coll generic.Collection, id string) (generic.Record, error) {
	return get(ctx, ts.tx, coll, id)
}

// =============================================================================
// SQL BUILDERS
// =============================================================================

func insert(ctx context.Context, db execer, coll generic.Collection, rec generic.Record) error {
	if rec.ID() == "" {
		return generic.Invalid("id", "required")
	}
	cols := sortedKeys(rec)
	if err := generic.CheckFields(coll, cols...); err != nil {
		return err
	}

	args := make([]any, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		args[i] = generic.Normalize(rec[c])
		quoted[i] = quote(c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		coll, strings.Join(quoted, ", "), placeholders(len(cols)))

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s/%s", generic.ErrDuplicateRecord, coll, rec.ID())
		}
		return generic.WrapStore("insert", coll, err)
	}
	return nil
}

func update(ctx context.Context, db execer, coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	cols := sortedKeys(fields)
	if err := generic.CheckFields(coll, cols...); err != nil {
		return 0, err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(where))
	for i, c := range cols {
		sets[i] = quote(c) + " = ?"
		args = append(args, generic.Normalize(fields[c]))
	}
	clause, whereArgs, err := whereClause(coll, where)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", coll, strings.Join(sets, ", "), clause)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, generic.WrapStore("update", coll, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, generic.WrapStore("update", coll, err)
	}
	return int(n), nil
}

func find(ctx context.Context, db execer, q generic.Query) ([]generic.Record, error) {
	cols, ok := generic.Columns[q.Collection]
	if !ok {
		return nil, generic.CheckFields(q.Collection)
	}
	if err := generic.CheckFields(q.Collection, q.Fields()...); err != nil {
		return nil, err
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	clause, args, err := whereClause(q.Collection, q.Where)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", strings.Join(quoted, ", "), q.Collection, clause)
	if len(q.OrderBy) > 0 {
		order := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			order[i] = quote(o.Field) + " " + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, generic.WrapStore("find", q.Collection, err)
	}
	defer rows.Close()

	var result []generic.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, generic.WrapStore("find", q.Collection, err)
		}
		rec := make(generic.Record, len(cols))
		for i, c := range cols {
			rec[c] = generic.Normalize(values[i])
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, generic.WrapStore("find", q.Collection, err)
	}
	return result, nil
}

func get(ctx context.Context, db execer, coll generic.Collection, id string) (generic.Record, error) {
	rows, err := find(ctx, db, generic.Query{
		Collection: coll,
		Where:      []generic.Predicate{generic.Eq("id", id)},
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", generic.ErrNotFound, coll, id)
	}
	return rows[0], nil
}

func whereClause(coll generic.Collection, where []generic.Predicate) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(where))
	args := make([]any, 0, len(where))
	for _, p := range where {
		if err := generic.CheckFields(coll, p.Field); err != nil {
			return "", nil, err
		}
		v := generic.Normalize(p.Value)
		if v == nil {
			switch p.Op {
			case generic.OpEq:
				parts = append(parts, quote(p.Field)+" IS NULL")
				continue
			case generic.OpNeq:
				parts = append(parts, quote(p.Field)+" IS NOT NULL")
				continue
			}
		}
		switch p.Op {
		case generic.OpEq, generic.OpNeq, generic.OpGt, generic.OpGte, generic.OpLt, generic.OpLte:
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", p.Op)
		}
		parts = append(parts, fmt.Sprintf("%s %s ?", quote(p.Field), p.Op))
		args = append(args, v)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []generic.Collection{
		generic.CollectionOrders, generic.CollectionAppointments,
		generic.CollectionItems, generic.CollectionProfiles, generic.CollectionAccounts,
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+string(table)); err != nil {
			return generic.WrapStore("reset", table, err)
		}
	}
	return nil
}

func quote(col string) string { return `"` + col + `"` }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func sortedKeys(rec generic.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
