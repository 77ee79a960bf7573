package vtable

import (
	"sync/atomic"

	"github.com/squidgetx/hekastore/internal/clock"
)

// tsKind distinguishes a committed timestamp from an in-flight transaction
// reference — the two states the source packs into the low bit of a
// begin/end field (§4.1). tsField is allocated once and never mutated, so
// an atomic.Pointer load of it gives a reader both pieces of state from a
// single aligned load, the same guarantee the source gets from tagging a
// machine word.
type tsKind uint8

const (
	kindCommitted tsKind = iota
	kindTxnRef
)

type tsField struct {
	kind  tsKind
	time  clock.Timestamp // valid iff kind == kindCommitted
	owner OwnerHandle      // valid iff kind == kindTxnRef
}

func committedField(ts clock.Timestamp) *tsField {
	return &tsField{kind: kindCommitted, time: ts}
}

func txnRefField(owner OwnerHandle) *tsField {
	return &tsField{kind: kindTxnRef, owner: owner}
}

// IsTimestamp reports whether f holds a committed timestamp rather than a
// live transaction reference.
func IsTimestamp(f *tsField) bool {
	return f.kind == kindCommitted
}

// HekState decodes the phase and proposed/committed time out of a tagged
// field, resolving through the owning transaction when necessary.
func HekState(f *tsField) (clock.Phase, clock.Timestamp) {
	if f.kind == kindCommitted {
		return clock.Committed, f.time
	}
	return f.owner.Snapshot()
}

// HekTime is the time component alone.
func HekTime(f *tsField) clock.Timestamp {
	_, t := HekState(f)
	return t
}

type tsSlot struct {
	v atomic.Pointer[tsField]
}

func (s *tsSlot) load() *tsField     { return s.v.Load() }
func (s *tsSlot) store(f *tsField)   { s.v.Store(f) }

// Record is one version in a key's version chain: a key, an opaque
// fixed-layout payload, and a tagged [begin, end) validity interval.
// Records are allocated from a per-worker slab (internal/membuf) and are
// never freed mid-run; logical deletion is a new version superseding this
// one (§3).
type Record struct {
	Key   clock.CompositeKey
	Value []byte

	begin tsSlot
	end   tsSlot
	next  atomic.Pointer[Record]
}

// Begin exposes the record's begin field for callers that need to print or
// compare it (e.g. tests asserting chain monotonicity). It never exposes
// the raw tagged representation.
func (r *Record) Begin() *tsField { return r.begin.load() }

// End exposes the record's end field, see Begin.
func (r *Record) End() *tsField { return r.end.load() }

// Next returns the next-older record in the chain, or nil at the tail.
func (r *Record) Next() *Record { return r.next.Load() }
