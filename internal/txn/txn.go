package txn

import (
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/squidgetx/hekastore/internal/clock"
	"github.com/squidgetx/hekastore/internal/depqueue"
	"github.com/squidgetx/hekastore/internal/membuf"
	"github.com/squidgetx/hekastore/internal/txapi"
	"github.com/squidgetx/hekastore/internal/vtable"
)

// snapshot is the immutable (phase, timestamp) pair a Txn publishes for
// readers that dereference its uncommitted chain heads; see
// vtable.OwnerHandle.
type snapshot struct {
	phase clock.Phase
	ts    clock.Timestamp
}

// writeEntry is one tentatively-installed version this transaction owns,
// tracked so later-phase can finalize it or an abort can unwind it.
type writeEntry struct {
	table *vtable.Table
	key   uint64
	rec   *vtable.Record
}

// dependent is one (queue, id) pair this transaction must notify once it
// reaches a terminal phase, because the dependent recorded a commit
// dependency on this transaction (§4.3).
type dependent struct {
	queue *depqueue.Queue
	id    uint64
}

// Txn is the engine's internal wrapper around one txapi.Transaction body:
// it tracks MVCC bookkeeping (start/commit timestamp, tentative writes,
// read set) and the commit-dependency graph, and implements both
// vtable.OwnerHandle (what concurrent readers see) and txapi.Context
// (what the body sees during its two phases).
//
// A single Timestamp serves as both the start timestamp (assigned at
// dequeue) and the commit timestamp (once PREPARING): batches are formed
// deterministically ahead of execution, so there is no later draw from
// the clock to make distinct.
type Txn struct {
	ID    uint64
	TS    clock.Timestamp
	Body  txapi.Transaction
	store *vtable.Store
	slabs map[uint32]*membuf.InsertBufMgr
	reads *membuf.VersionBuffer

	homeQueue *depqueue.Queue

	state  atomic.Pointer[snapshot]
	writes []writeEntry

	depsMu      sync.Mutex
	outstanding mapset.Set[uint64]
	aborted     bool
	abortErr    error

	dependentsMu sync.Mutex
	dependents   []dependent
}

// New constructs a Txn ready to run its now-phase. homeQueue is the
// owning worker's inbox: other workers finalizing a dependency post
// outcomes there.
func New(id uint64, ts clock.Timestamp, body txapi.Transaction, store *vtable.Store, slabs map[uint32]*membuf.InsertBufMgr, reads *membuf.VersionBuffer, homeQueue *depqueue.Queue) *Txn {
	t := &Txn{
		ID:        id,
		TS:        ts,
		Body:      body,
		store:     store,
		slabs:     slabs,
		reads:     reads,
		homeQueue: homeQueue,
	}
	t.setPhase(clock.Active)
	return t
}

func (t *Txn) setPhase(p clock.Phase) {
	t.state.Store(&snapshot{phase: p, ts: t.TS})
}

// Snapshot implements vtable.OwnerHandle.
func (t *Txn) Snapshot() (clock.Phase, clock.Timestamp) {
	s := t.state.Load()
	return s.phase, s.ts
}

// Phase reports this transaction's current phase.
func (t *Txn) Phase() clock.Phase {
	p, _ := t.Snapshot()
	return p
}

// Err reports why a terminal transaction aborted, or nil if it
// committed or is still in flight. Only the commit-dependency abort
// path (§7: CommitDependencyAborted) sets a specific cause here; a
// transaction whose own now-phase simply returned false reports nil,
// since the taxonomy's other abort causes (e.g. WriteConflict) are
// already surfaced directly to the body through Context.Write's return
// value at the point they occur.
func (t *Txn) Err() error {
	if t.Phase() != clock.Aborted {
		return nil
	}
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	return t.abortErr
}

// Read implements txapi.Context: resolve key against this transaction's
// start timestamp, recording a read-set entry and, if the observed
// version is still PREPARING, a commit dependency on its writer.
func (t *Txn) Read(key clock.CompositeKey) ([]byte, bool, error) {
	for _, w := range t.writes {
		if w.table.ID == key.TableID && w.key == key.Key {
			if w.rec.Value == nil {
				return nil, false, nil
			}
			return w.rec.Value, true, nil
		}
	}

	rec, dep, err := t.store.GetVersion(key, t.TS)
	if err == vtable.ErrReadStale {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if t.reads != nil {
		_ = t.reads.Append(membuf.ReadSetEntry{Key: key, Version: t.TS})
	}

	if dep != nil {
		if w, ok := dep.(*Txn); ok && w != t {
			t.addDependencyOn(w)
		}
	}

	if rec.Value == nil {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Write implements txapi.Context: stage an insert, update, or (value ==
// nil) tombstone of key, owned by this transaction until it finalizes.
func (t *Txn) Write(key clock.CompositeKey, value []byte) error {
	table, err := t.store.Table(key.TableID)
	if err != nil {
		return err
	}

	mgr, ok := t.slabs[key.TableID]
	if !ok {
		return vtable.ErrWriteConflict
	}
	rec, err := mgr.Get(key, value)
	if err != nil {
		return err
	}

	if err := table.InsertVersion(key.Key, rec, t); err != nil {
		mgr.Return(rec)
		return err
	}

	t.writes = append(t.writes, writeEntry{table: table, key: key.Key, rec: rec})
	return nil
}

// addDependencyOn records that t cannot finalize until w resolves, and
// registers t as w's dependent so w notifies t's home worker on
// finalize. If w has already reached a terminal phase by the time
// registration lands (w may have finalized concurrently and never see
// our entry), the outcome is applied immediately instead of waiting on a
// queue post that will never arrive.
func (t *Txn) addDependencyOn(w *Txn) {
	t.depsMu.Lock()
	if t.outstanding == nil {
		t.outstanding = mapset.NewThreadUnsafeSet[uint64]()
	}
	already := t.outstanding.Contains(w.ID)
	t.outstanding.Add(w.ID)
	t.depsMu.Unlock()
	if already {
		return
	}

	registerDependent(w, t.homeQueue, t.ID)
	if phase := w.Phase(); phase.Terminal() {
		t.resolveOutcome(depqueue.Outcome{WriterID: w.ID, Phase: phase})
	}
}

// registerDependent is called by the worker running t once it has
// identified w as a dependency, passing the queue that belongs to t's
// home worker so w can post its outcome there.
func registerDependent(w *Txn, depQueue *depqueue.Queue, depID uint64) {
	w.dependentsMu.Lock()
	w.dependents = append(w.dependents, dependent{queue: depQueue, id: depID})
	w.dependentsMu.Unlock()
}

// notifyDependents posts this transaction's terminal outcome to every
// registered dependent's home-worker queue (§4.3).
func (t *Txn) notifyDependents(final clock.Phase) {
	t.dependentsMu.Lock()
	deps := t.dependents
	t.dependents = nil
	t.dependentsMu.Unlock()

	for _, d := range deps {
		d.queue.Post(depqueue.Outcome{WriterID: t.ID, Phase: final})
	}
}

// resolveOutcome applies a drained depqueue.Outcome against this
// transaction's outstanding-dependency set. It returns true once every
// dependency has resolved (either because it just did, or already had).
func (t *Txn) resolveOutcome(o depqueue.Outcome) (closed bool) {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()

	if t.outstanding != nil && t.outstanding.Contains(o.WriterID) {
		t.outstanding.Remove(o.WriterID)
		if o.Phase == clock.Aborted {
			t.aborted = true
			t.abortErr = ErrCommitDependencyAborted
		}
	}
	return t.outstanding == nil || t.outstanding.Cardinality() == 0
}

// dependenciesClosed reports whether every recorded dependency has
// resolved, without consuming any queue state.
func (t *Txn) dependenciesClosed() bool {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	return t.outstanding == nil || t.outstanding.Cardinality() == 0
}

// dependencyAborted reports whether a resolved dependency forces this
// transaction to abort.
func (t *Txn) dependencyAborted() bool {
	t.depsMu.Lock()
	defer t.depsMu.Unlock()
	return t.aborted
}
