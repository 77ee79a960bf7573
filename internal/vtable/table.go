// Package vtable is the versioned table: a fixed-size array of slots, one
// per primary key, each holding a version chain and a single-bit spin
// latch. Readers never take the latch; writers serialize through it (§4.2).
package vtable

import (
	"errors"
	"sync/atomic"

	"github.com/squidgetx/hekastore/internal/clock"
)

// ErrWriteConflict is raised when InsertVersion loses the latch CAS (§7).
var ErrWriteConflict = errors.New("vtable: write-write conflict on slot latch")

// ErrReadStale is raised when a chain walk exhausts without satisfying ts
// (§7). It is not necessarily fatal — callers decide the policy.
var ErrReadStale = errors.New("vtable: no version satisfies the requested timestamp")

// Slot is one bucket: the head of a version chain plus a spin latch
// protecting writer-writer conflicts. Readers only ever load records and
// records.next; they never acquire latch.
type Slot struct {
	records atomic.Pointer[Record]
	latch   atomic.Bool
}

// Table is a fixed-size array of slots indexed by primary key, one per
// key in [0, NumRecords).
type Table struct {
	ID         uint32
	RecordSize int
	slots      []Slot
	initDone   atomic.Bool
}

// NewTable allocates a table with numRecords slots, all empty.
func NewTable(id uint32, numRecords int, recordSize int) *Table {
	return &Table{
		ID:         id,
		RecordSize: recordSize,
		slots:      make([]Slot, numRecords),
	}
}

func (t *Table) slot(key uint64) *Slot {
	return &t.slots[key]
}

// GetVersion returns the version of key valid at ts, per the lock-free read
// algorithm of §4.2. If a live dependency must be recorded by the caller
// (the returned record is still PREPARING), dep is non-nil.
func (t *Table) GetVersion(key uint64, ts clock.Timestamp) (rec *Record, dep OwnerHandle, err error) {
	s := t.slot(key)

	for {
		cur := s.records.Load()
		if cur == nil {
			return nil, nil, ErrReadStale
		}
		prev := cur.next.Load()

		curBegin := cur.begin.load()
		var prevBegin *tsField
		if prev != nil {
			prevBegin = prev.begin.load()
		}

		// Validate: reject a torn snapshot of a concurrent insert (§4.2 step 2).
		if !(IsTimestamp(curBegin) || prev == nil || IsTimestamp(prevBegin)) {
			continue
		}

		if IsTimestamp(curBegin) {
			if curBegin.time < ts {
				return cur, nil, nil
			}
		} else {
			phase, proposedTS := HekState(curBegin)
			switch phase {
			case clock.Preparing, clock.Committed:
				if proposedTS < ts {
					if phase == clock.Preparing {
						return cur, curBegin.owner, nil
					}
					return cur, nil, nil
				}
			case clock.Active, clock.Aborted:
				// fall through to the committed tail below
			}
		}

		// Walk past the head: find the first committed version satisfying ts.
		for v := prev; v != nil; v = v.next.Load() {
			b := v.begin.load()
			if IsTimestamp(b) && b.time < ts {
				return v, nil, nil
			}
			if !IsTimestamp(b) {
				phase, proposedTS := HekState(b)
				if phase == clock.Preparing && proposedTS < ts {
					return v, b.owner, nil
				}
				if phase == clock.Committed && proposedTS < ts {
					return v, nil, nil
				}
			}
		}
		return nil, nil, ErrReadStale
	}
}

// InsertVersion attempts to link newRec at the head of key's chain, owned
// by owner. It fails with ErrWriteConflict if another writer holds the
// slot latch; the caller's transaction must abort in that case. On
// success the latch remains held until FinalizeVersion or RemoveVersion
// releases it (§4.2).
func (t *Table) InsertVersion(key uint64, newRec *Record, owner OwnerHandle) error {
	s := t.slot(key)
	if !s.latch.CompareAndSwap(false, true) {
		return ErrWriteConflict
	}

	head := s.records.Load()
	if head != nil {
		head.end.store(txnRefField(owner))
	}

	newRec.next.Store(head)
	newRec.begin.store(txnRefField(owner))
	newRec.end.store(committedField(clock.Inf))
	s.records.Store(newRec)
	return nil
}

// RemoveVersion is the abort path: unlink rec, restore the previous head's
// end to ts (typically clock.Inf), and release the latch.
func (t *Table) RemoveVersion(key uint64, rec *Record, ts clock.Timestamp) {
	s := t.slot(key)
	s.records.Store(rec.next.Load())
	if prev := rec.next.Load(); prev != nil {
		prev.end.store(committedField(ts))
	}
	s.latch.Store(false)
}

// FinalizeVersion is the commit path: stamp rec.begin = ts, stamp the
// predecessor's end = ts, and release the latch.
func (t *Table) FinalizeVersion(key uint64, rec *Record, ts clock.Timestamp) {
	rec.begin.store(committedField(ts))
	if prev := rec.next.Load(); prev != nil {
		prev.end.store(committedField(ts))
	}
	s := t.slot(key)
	s.latch.Store(false)
}

// ForceInsert bypasses all concurrency control and is valid only before the
// table is opened to concurrent access (initialization).
func (t *Table) ForceInsert(key uint64, rec *Record) {
	if t.initDone.Load() {
		panic("vtable: ForceInsert called after init_done")
	}
	s := t.slot(key)
	rec.next.Store(s.records.Load())
	rec.begin.store(committedField(clock.Genesis))
	rec.end.store(committedField(clock.Inf))
	s.records.Store(rec)
}

// Open marks initialization complete; ForceInsert panics afterward.
func (t *Table) Open() {
	t.initDone.Store(true)
}

// NumRecords returns the slot count.
func (t *Table) NumRecords() int { return len(t.slots) }
