package txn

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/squidgetx/hekastore/internal/clock"
	"github.com/squidgetx/hekastore/internal/depqueue"
	"github.com/squidgetx/hekastore/internal/membuf"
	"github.com/squidgetx/hekastore/internal/pipeline"
	"github.com/squidgetx/hekastore/internal/vtable"
)

// Worker owns one CPU's share of every batch: its own insert-buffer
// slabs (one per table) and version-buffer allocator, plus the inbox
// other workers post commit/abort outcomes into (§4.3, §5).
type Worker struct {
	id        int
	store     *vtable.Store
	slabs     map[uint32]*membuf.InsertBufMgr
	readAlloc *membuf.VersionBufferAllocator
	maxReadSegs int
	inbox     *depqueue.Queue
}

// WorkerConfig configures one worker's per-table slab capacities and
// version-buffer budget.
type WorkerConfig struct {
	SlabCapacityPerTable int
	ReadBufferBytes      int
	MaxReadSegments      int
	DepQueueCapacity     int
}

// NewWorker builds a worker over every table in store, sized per cfg.
func NewWorker(id int, store *vtable.Store, cfg WorkerConfig) *Worker {
	slabs := make(map[uint32]*membuf.InsertBufMgr)
	for _, t := range store.Tables() {
		slabs[t.ID] = membuf.NewInsertBufMgr(cfg.SlabCapacityPerTable)
	}
	return &Worker{
		id:          id,
		store:       store,
		slabs:       slabs,
		readAlloc:   membuf.NewVersionBufferAllocator(cfg.ReadBufferBytes),
		maxReadSegs: cfg.MaxReadSegments,
		inbox:       depqueue.New(cfg.DepQueueCapacity),
	}
}

func (w *Worker) abortWrites(t *Txn) {
	for _, we := range t.writes {
		we.table.RemoveVersion(we.key, we.rec, t.TS)
		if mgr, ok := w.slabs[we.table.ID]; ok {
			mgr.Return(we.rec)
		}
	}
}

func (w *Worker) finalizeWrites(t *Txn) {
	for _, we := range t.writes {
		we.table.FinalizeVersion(we.key, we.rec, t.TS)
	}
}

// Engine runs whole ActionBatches across a fixed pool of Workers, each
// assigned a contiguous slice of the batch (§4.3: "Each worker owns one
// CPU and processes a contiguous slice of the input batch").
type Engine struct {
	workers []*Worker
	store   *vtable.Store
}

// NewEngine builds numWorkers workers over store, each configured by cfg.
func NewEngine(store *vtable.Store, numWorkers int, cfg WorkerConfig) *Engine {
	e := &Engine{store: store}
	for i := 0; i < numWorkers; i++ {
		e.workers = append(e.workers, NewWorker(i, store, cfg))
	}
	return e
}

// Workers exposes the engine's worker pool, read-only, for diagnostics.
func (e *Engine) Workers() []*Worker { return e.workers }

type chunk struct{ lo, hi int }

// splitContiguous divides n items into up to numWorkers contiguous,
// near-equal ranges.
func splitContiguous(n, numWorkers int) []chunk {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	chunks := make([]chunk, numWorkers)
	base := n / numWorkers
	rem := n % numWorkers
	pos := 0
	for i := 0; i < numWorkers; i++ {
		size := base
		if i < rem {
			size++
		}
		chunks[i] = chunk{lo: pos, hi: pos + size}
		pos += size
	}
	return chunks
}

// RunBatch executes every transaction in batch across the worker pool
// and returns each one's internal Txn wrapper in original batch order,
// with its terminal phase (Committed or Aborted) already resolved.
//
// Each worker runs its slice in two passes: first every now-phase, in
// order, yielding an ACTIVE->PREPARING or ACTIVE->ABORTED transition per
// transaction; then a convergence loop that drains the worker's
// commit/abort inbox and applies outcomes to every still-PREPARING local
// transaction until each has either closed its dependency set or been
// forced to abort by a dependency abort. Because a dependency edge only
// ever points from a higher timestamp to a lower one, the graph across
// one batch is acyclic and this always terminates.
func (e *Engine) RunBatch(ctx context.Context, batch *pipeline.ActionBatch) ([]*Txn, error) {
	n := len(batch.Txns)
	if n == 0 {
		return nil, nil
	}
	chunks := splitContiguous(n, len(e.workers))
	out := make([]*Txn, n)

	var wg sync.WaitGroup
	for wi, c := range chunks {
		if c.lo >= c.hi {
			continue
		}
		wg.Add(1)
		go func(w *Worker, lo, hi int) {
			defer wg.Done()
			local := make([]*Txn, 0, hi-lo)

			for i := lo; i < hi; i++ {
				ts := clock.MakeTimestamp(batch.Epoch, uint32(i))
				readBuf := membuf.NewVersionBuffer(w.readAlloc, w.maxReadSegs)
				t := New(uint64(ts), ts, batch.Txns[i], w.store, w.slabs, readBuf, w.inbox)
				out[i] = t
				local = append(local, t)

				if !t.Body.NowPhase(t) {
					w.abortWrites(t)
					t.setPhase(clock.Aborted)
					t.notifyDependents(clock.Aborted)
					if t.reads != nil {
						t.reads.ReturnBuffers()
					}
					continue
				}
				t.setPhase(clock.Preparing)
			}

			// Converge: any PREPARING local transaction whose
			// dependencies have all resolved finalizes (or aborts)
			// immediately and notifies its own dependents, which may
			// be other local transactions (delivered through this
			// same inbox) or transactions on other workers. Looping
			// this way, rather than waiting for every local
			// transaction to close before finalizing any of them,
			// avoids a same-worker deadlock when one local
			// transaction depends on another earlier in the slice.
			for {
				for _, t := range local {
					if t.Phase() != clock.Preparing || !t.dependenciesClosed() {
						continue
					}
					if t.dependencyAborted() {
						w.abortWrites(t)
						t.setPhase(clock.Aborted)
					} else {
						w.finalizeWrites(t)
						t.setPhase(clock.Committed)
						t.Body.LaterPhase(t)
					}
					t.notifyDependents(t.Phase())
					if t.reads != nil {
						t.reads.ReturnBuffers()
					}
				}

				allDone := true
				for _, t := range local {
					if !t.Phase().Terminal() {
						allDone = false
						break
					}
				}
				if allDone {
					break
				}

				for _, o := range w.inbox.Drain() {
					for _, t := range local {
						if t.Phase() == clock.Preparing {
							t.resolveOutcome(o)
						}
					}
				}
				runtime.Gosched()
			}
		}(e.workers[wi], c.lo, c.hi)
	}
	wg.Wait()

	select {
	case <-ctx.Done():
		return out, fmt.Errorf("txn: batch execution cancelled: %w", ctx.Err())
	default:
		return out, nil
	}
}
