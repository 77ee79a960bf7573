package membuf

import (
	"errors"

	"github.com/squidgetx/hekastore/internal/clock"
	"github.com/squidgetx/hekastore/internal/vtable"
)

// ErrSlabExhausted is raised when a worker's per-table record slab has no
// more capacity and no returned records to reuse.
var ErrSlabExhausted = errors.New("membuf: insert buffer manager exhausted")

// InsertBufMgr is a per-(worker, table) slab allocator for record-version
// nodes (Glossary: "Insert buffer manager"). Records are bump-allocated
// out of a preallocated pool and are never released to the Go runtime
// mid-run; an aborted transaction's tentative writes instead go back onto
// a free list for this worker to reuse (§4.3).
type InsertBufMgr struct {
	pool []vtable.Record
	next int
	free []*vtable.Record
}

// NewInsertBufMgr preallocates a slab with room for capacity records.
func NewInsertBufMgr(capacity int) *InsertBufMgr {
	return &InsertBufMgr{pool: make([]vtable.Record, capacity)}
}

// Get returns a fresh, unlinked record stamped with key and value, either
// recycled from the free list or bump-allocated from the pool.
func (m *InsertBufMgr) Get(key clock.CompositeKey, value []byte) (*vtable.Record, error) {
	if n := len(m.free); n > 0 {
		rec := m.free[n-1]
		m.free = m.free[:n-1]
		*rec = vtable.Record{Key: key, Value: value}
		return rec, nil
	}

	if m.next >= len(m.pool) {
		return nil, ErrSlabExhausted
	}
	rec := &m.pool[m.next]
	m.next++
	*rec = vtable.Record{Key: key, Value: value}
	return rec, nil
}

// Return hands a tentatively-inserted record back to the slab after its
// owning transaction aborts.
func (m *InsertBufMgr) Return(rec *vtable.Record) {
	m.free = append(m.free, rec)
}

// Outstanding reports how many records are currently bump-allocated and
// not on the free list.
func (m *InsertBufMgr) Outstanding() int {
	return m.next - len(m.free)
}
