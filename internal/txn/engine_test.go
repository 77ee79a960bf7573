package txn

import (
	"context"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/squidgetx/hekastore/internal/clock"
	"github.com/squidgetx/hekastore/internal/depqueue"
	"github.com/squidgetx/hekastore/internal/pipeline"
	"github.com/squidgetx/hekastore/internal/txapi"
	"github.com/squidgetx/hekastore/internal/vtable"
)

func newStore(numRecords int) *vtable.Store {
	tbl := vtable.NewTable(1, numRecords, 64)
	tbl.Open()
	return vtable.NewStore(tbl)
}

func defaultCfg() WorkerConfig {
	return WorkerConfig{
		SlabCapacityPerTable: 64,
		ReadBufferBytes:      64 * 20,
		MaxReadSegments:      6,
		DepQueueCapacity:     64,
	}
}

type fnTxn struct {
	typeID   uint32
	readOnly bool
	now      func(ctx txapi.Context) bool
	later    func(ctx txapi.Context)
	laterRan bool
}

func (f *fnTxn) Type() uint32 { return f.typeID }
func (f *fnTxn) IsReadOnly() bool {
	return f.readOnly
}
func (f *fnTxn) Serialize(w io.Writer) error { return nil }
func (f *fnTxn) NowPhase(ctx txapi.Context) bool {
	return f.now(ctx)
}
func (f *fnTxn) LaterPhase(ctx txapi.Context) {
	f.laterRan = true
	if f.later != nil {
		f.later(ctx)
	}
}

func key(k uint64) clock.CompositeKey { return clock.CompositeKey{TableID: 1, Key: k} }

func TestSingleInsertThenReadAcrossBatches(t *testing.T) {
	store := newStore(8)
	e := NewEngine(store, 1, defaultCfg())
	ctx := context.Background()

	writer := &fnTxn{typeID: 1, now: func(c txapi.Context) bool {
		return c.Write(key(1), []byte("v1")) == nil
	}}
	txns, err := e.RunBatch(ctx, &pipeline.ActionBatch{Epoch: 0, Txns: []txapi.Transaction{writer}})
	if err != nil {
		t.Fatalf("RunBatch 1: %v", err)
	}
	if txns[0].Phase() != clock.Committed {
		t.Fatalf("expected writer to commit, got %s", txns[0].Phase())
	}

	var gotValue []byte
	var gotOK bool
	reader := &fnTxn{typeID: 2, readOnly: true, now: func(c txapi.Context) bool {
		gotValue, gotOK, _ = c.Read(key(1))
		return true
	}}
	txns2, err := e.RunBatch(ctx, &pipeline.ActionBatch{Epoch: 1, Txns: []txapi.Transaction{reader}})
	if err != nil {
		t.Fatalf("RunBatch 2: %v", err)
	}
	if txns2[0].Phase() != clock.Committed {
		t.Fatalf("expected reader to commit, got %s", txns2[0].Phase())
	}
	if !gotOK || string(gotValue) != "v1" {
		t.Fatalf("expected to read back v1, got ok=%v value=%q", gotOK, gotValue)
	}
}

func TestWriteWriteConflictAbortsLoser(t *testing.T) {
	store := newStore(8)
	e := NewEngine(store, 1, defaultCfg())
	ctx := context.Background()

	first := &fnTxn{typeID: 1, now: func(c txapi.Context) bool {
		return c.Write(key(5), []byte("first")) == nil
	}}
	second := &fnTxn{typeID: 1, now: func(c txapi.Context) bool {
		return c.Write(key(5), []byte("second")) == nil
	}}

	txns, err := e.RunBatch(ctx, &pipeline.ActionBatch{Epoch: 0, Txns: []txapi.Transaction{first, second}})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if txns[0].Phase() != clock.Committed {
		t.Fatalf("expected first writer to commit, got %s", txns[0].Phase())
	}
	if txns[1].Phase() != clock.Aborted {
		t.Fatalf("expected second writer to abort on write-write conflict, got %s", txns[1].Phase())
	}
}

func TestReadSeesPreparedWriterAsCommitDependency(t *testing.T) {
	store := newStore(16)
	e := NewEngine(store, 1, defaultCfg())
	ctx := context.Background()

	writer := &fnTxn{typeID: 1, now: func(c txapi.Context) bool {
		return c.Write(key(9), []byte("w")) == nil
	}}
	var readOK bool
	reader := &fnTxn{typeID: 2, readOnly: true, now: func(c txapi.Context) bool {
		_, ok, _ := c.Read(key(9))
		readOK = ok
		return true
	}}

	txns, err := e.RunBatch(ctx, &pipeline.ActionBatch{Epoch: 0, Txns: []txapi.Transaction{writer, reader}})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if !readOK {
		t.Fatalf("expected the reader to see the writer's prepared version")
	}
	if txns[0].Phase() != clock.Committed {
		t.Fatalf("expected writer to commit, got %s", txns[0].Phase())
	}
	if txns[1].Phase() != clock.Committed {
		t.Fatalf("expected dependent reader to commit once its dependency committed, got %s", txns[1].Phase())
	}
}

// TestDependencyAbortResolution exercises the PREPARING -> ABORTED
// transition directly at the Txn level: a dependency that resolves
// ABORTED forces the dependent to abort once its dependency set closes,
// independent of how the dependency's abort was discovered (§4.3's
// state machine: "PREPARING, dependency resolves ABORTED, -> ABORTED").
func TestDependencyAbortResolution(t *testing.T) {
	store := newStore(8)
	w := NewWorker(0, store, defaultCfg())

	writer := New(1, clock.MakeTimestamp(0, 0), &fnTxn{typeID: 1}, store, w.slabs, nil, w.inbox)
	reader := New(2, clock.MakeTimestamp(0, 1), &fnTxn{typeID: 2, readOnly: true}, store, w.slabs, nil, w.inbox)

	reader.addDependencyOn(writer)
	if reader.dependenciesClosed() {
		t.Fatalf("expected an open dependency before any outcome is posted")
	}

	closed := reader.resolveOutcome(depqueue.Outcome{WriterID: writer.ID, Phase: clock.Aborted})
	if !closed {
		t.Fatalf("expected the dependency set to close once its only entry resolves")
	}
	if !reader.dependencyAborted() {
		t.Fatalf("expected the reader to be marked for abort after its dependency aborted")
	}
}

func TestCrossWorkerDependencyPropagation(t *testing.T) {
	store := newStore(8)
	e := NewEngine(store, 2, defaultCfg())
	ctx := context.Background()

	wrote := make(chan struct{})
	writer := &fnTxn{typeID: 1, now: func(c txapi.Context) bool {
		err := c.Write(key(5), []byte("w"))
		close(wrote)
		return err == nil
	}}
	var readOK bool
	// The reader waits for the writer's Write to land, then retries its
	// read until the writer's version is visible: the writer's head stays
	// ACTIVE (and is skipped by readers) until its now-phase returns. The
	// reader then sees the version either PREPARING, taking a cross-worker
	// dependency, or already committed, depending on scheduling.
	reader := &fnTxn{typeID: 2, readOnly: true, now: func(c txapi.Context) bool {
		<-wrote
		deadline := time.Now().Add(5 * time.Second)
		for {
			_, ok, _ := c.Read(key(5))
			readOK = ok
			if ok || time.Now().After(deadline) {
				return true
			}
			runtime.Gosched()
		}
	}}

	// 2 workers, contiguous split of 2 txns puts writer on worker 0 and
	// reader on worker 1, so any dependency the reader takes crosses
	// workers.
	txns, err := e.RunBatch(ctx, &pipeline.ActionBatch{Epoch: 0, Txns: []txapi.Transaction{writer, reader}})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if !readOK {
		t.Fatalf("expected the cross-worker reader to see the writer's prepared version")
	}
	if txns[0].Phase() != clock.Committed || txns[1].Phase() != clock.Committed {
		t.Fatalf("expected both to commit, got writer=%s reader=%s", txns[0].Phase(), txns[1].Phase())
	}
}

func TestReadOnlyLaterPhaseStillRuns(t *testing.T) {
	store := newStore(8)
	e := NewEngine(store, 1, defaultCfg())
	ctx := context.Background()

	ro := &fnTxn{typeID: 3, readOnly: true, now: func(c txapi.Context) bool { return true }}
	txns, err := e.RunBatch(ctx, &pipeline.ActionBatch{Epoch: 0, Txns: []txapi.Transaction{ro}})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if txns[0].Phase() != clock.Committed {
		t.Fatalf("expected the read-only txn to commit, got %s", txns[0].Phase())
	}
	if !ro.laterRan {
		t.Fatalf("expected later-phase to run even for a read-only transaction")
	}
}
