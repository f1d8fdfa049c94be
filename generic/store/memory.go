// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hospiverse/clinic-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	rows map[generic.Collection][]generic.Record
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[generic.Collection][]generic.Record)}
}

// Insert adds a single record. The id must be unique within the collection.
func (m *Memory) Insert(_ context.Context, coll generic.Collection, rec generic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkInsertLocked(coll, []generic.Record{rec}); err != nil {
		return err
	}
	m.insertLocked(coll, rec)
	return nil
}

// InsertBatch adds multiple records atomically.
func (m *Memory) InsertBatch(_ context.Context, coll generic.Collection, recs []generic.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check every row first (atomic check)
	if err := m.checkInsertLocked(coll, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		m.insertLocked(coll, rec)
	}
	return nil
}

func (m *Memory) Update(_ context.Context, coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(coll, where, fields)
}

func (m *Memory) Find(_ context.Context, q generic.Query) ([]generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(q)
}

func (m *Memory) Get(_ context.Context, coll generic.Collection, id string) (generic.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(coll, id)
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[generic.Collection][]generic.Record)
	return nil
}

// =============================================================================
// LOCKED HELPERS - Callers hold mu
// =============================================================================

func (m *Memory) checkInsertLocked(coll generic.Collection, recs []generic.Record) error {
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		fields := make([]string, 0, len(rec))
		for k := range rec {
			fields = append(fields, k)
		}
		if err := generic.CheckFields(coll, fields...); err != nil {
			return err
		}
		id := rec.ID()
		if id == "" {
			return generic.Invalid("id", "required")
		}
		if seen[id] {
			return fmt.Errorf("%w: %s/%s", generic.ErrDuplicateRecord, coll, id)
		}
		seen[id] = true
		for _, existing := range m.rows[coll] {
			if existing.ID() == id {
				return fmt.Errorf("%w: %s/%s", generic.ErrDuplicateRecord, coll, id)
			}
			if coll == generic.CollectionAccounts && existing.String("email") == rec.String("email") {
				return fmt.Errorf("%w: email %s", generic.ErrDuplicateRecord, rec.String("email"))
			}
		}
	}
	return nil
}

func (m *Memory) insertLocked(coll generic.Collection, rec generic.Record) {
	m.rows[coll] = append(m.rows[coll], rec.Clone())
}

func (m *Memory) updateLocked(coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	names := make([]string, 0, len(fields)+len(where))
	for k := range fields {
		names = append(names, k)
	}
	for _, p := range where {
		names = append(names, p.Field)
	}
	if err := generic.CheckFields(coll, names...); err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range m.rows[coll] {
		if !generic.MatchAll(rec, where) {
			continue
		}
		for k, v := range fields {
			rec[k] = generic.Normalize(v)
		}
		n++
	}
	return n, nil
}

func (m *Memory) findLocked(q generic.Query) ([]generic.Record, error) {
	if err := generic.CheckFields(q.Collection, q.Fields()...); err != nil {
		return nil, err
	}
	var result []generic.Record
	for _, rec := range m.rows[q.Collection] {
		if generic.MatchAll(rec, q.Where) {
			result = append(result, rec.Clone())
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(result, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := generic.CompareValues(result[i][o.Field], result[j][o.Field])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (m *Memory) getLocked(coll generic.Collection, id string) (generic.Record, error) {
	for _, rec := range m.rows[coll] {
		if rec.ID() == id {
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", generic.ErrNotFound, coll, id)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() map[generic.Collection][]generic.Record {
	cp := make(map[generic.Collection][]generic.Record, len(tm.rows))
	for coll, rows := range tm.rows {
		out := make([]generic.Record, len(rows))
		for i, r := range rows {
			out[i] = r.Clone()
		}
		cp[coll] = out
	}
	return cp
}

func (tm *TxMemory) restore(s map[generic.Collection][]generic.Record) {
	tm.rows = s
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Insert(_ context.Context, coll generic.Collection, rec generic.Record) error {
	if err := tv.parent.checkInsertLocked(coll, []generic.Record{rec}); err != nil {
		return err
	}
	tv.parent.insertLocked(coll, rec)
	return nil
}

func (tv *txMemoryView) InsertBatch(_ context.Context, coll generic.Collection, recs []generic.Record) error {
	if err := tv.parent.checkInsertLocked(coll, recs); err != nil {
		return err
	}
	for _, rec := range recs {
		tv.parent.insertLocked(coll, rec)
	}
	return nil
}

func (tv *txMemoryView) Update(_ context.Context, coll generic.Collection, where []generic.Predicate, fields generic.Record) (int, error) {
	return tv.parent.updateLocked(coll, where, fields)
}

func (tv *txMemoryView) Find(_ context.Context, q generic.Query) ([]generic.Record, error) {
	return tv.parent.findLocked(q)
}

func (tv *txMemoryView) Get(_ context.Context, coll generic.Collection, id string) (generic.Record, error) {
	return tv.parent.getLocked(coll, id)
}
