package txn

import (
	"sync"

	"github.com/squidgetx/hekastore/internal/txapi"
)

// PieceKind tags whether a piece dependency waits on a predecessor's read
// or its write, mirroring dep_tbl's value domain (§4.3).
type PieceKind uint8

const (
	PieceRead PieceKind = iota
	PieceWrite
)

// Piece is one schedulable unit of a pipelined transaction's work.
type Piece func(ctx txapi.Context) error

// PieceWait names one predecessor a piece must wait on: the predecessor
// transaction's index within the batch and the piece number of its that
// must complete first.
type PieceWait struct {
	PredecessorIndex int
	PredecessorPiece int
	Kind             PieceKind
}

// PiecePlan is one transaction's declared piece decomposition: its
// pieces, in order, and for each piece the prior-writer/prior-reader
// waits the executor must honor before running it (§4.3).
type PiecePlan struct {
	TxnIndex int
	Pieces   []Piece
	Waits    [][]PieceWait // Waits[k] applies to Pieces[k]
}

// PieceDependencyTable is dep_tbl[dep_type][dependency_type][piece] ->
// piece: for a pair of transaction types, which piece of the dependent
// must wait on which piece of the dependency, and whether that wait is
// for a read or a write.
type PieceDependencyTable struct {
	waits map[pieceTableKey]pieceTableEntry
}

type pieceTableKey struct {
	depType        uint32
	dependencyType uint32
	piece          int
}

type pieceTableEntry struct {
	waitPiece int
	kind      PieceKind
}

// NewPieceDependencyTable returns an empty table.
func NewPieceDependencyTable() *PieceDependencyTable {
	return &PieceDependencyTable{waits: make(map[pieceTableKey]pieceTableEntry)}
}

// Set records that, for a dependent of depType at piece, it must wait on
// waitPiece of a dependency of dependencyType, via kind (READ or WRITE).
func (d *PieceDependencyTable) Set(depType, dependencyType uint32, piece, waitPiece int, kind PieceKind) {
	d.waits[pieceTableKey{depType, dependencyType, piece}] = pieceTableEntry{waitPiece: waitPiece, kind: kind}
}

// Lookup resolves the predecessor piece (and wait kind) a dependent of
// depType must wait on at piece, given a predecessor of dependencyType.
func (d *PieceDependencyTable) Lookup(depType, dependencyType uint32, piece int) (waitPiece int, kind PieceKind, ok bool) {
	e, ok := d.waits[pieceTableKey{depType, dependencyType, piece}]
	return e.waitPiece, e.kind, ok
}

// PipelinedExecutor runs a batch's worth of PiecePlans with
// intra-transaction parallelism: piece k of one transaction starts as
// soon as every piece it waits on (built from the transaction's
// prior-writer and prior-reader lists) has completed, regardless of
// which other transaction or piece number that predecessor belongs to
// (§4.3). This preserves per-record serialization order while letting
// independent pieces of different transactions run concurrently.
type PipelinedExecutor struct {
	done map[doneKey]chan struct{}
}

type doneKey struct {
	txnIndex int
	piece    int
}

// NewPipelinedExecutor preallocates one completion signal per declared
// piece across all plans.
func NewPipelinedExecutor(plans []*PiecePlan) *PipelinedExecutor {
	e := &PipelinedExecutor{done: make(map[doneKey]chan struct{})}
	for _, p := range plans {
		for k := range p.Pieces {
			e.done[doneKey{p.TxnIndex, k}] = make(chan struct{})
		}
	}
	return e
}

// Run executes every piece of every plan against ctx, returning the
// first error any piece reports (if any), after all pieces finish.
func (e *PipelinedExecutor) Run(ctx txapi.Context, plans []*PiecePlan) error {
	var wg sync.WaitGroup
	errOnce := sync.Once{}
	var firstErr error

	for _, p := range plans {
		for k, piece := range p.Pieces {
			wg.Add(1)
			go func(p *PiecePlan, k int, piece Piece) {
				defer wg.Done()
				for _, w := range p.Waits[k] {
					if ch, ok := e.done[doneKey{w.PredecessorIndex, w.PredecessorPiece}]; ok {
						<-ch
					}
				}
				if err := piece(ctx); err != nil {
					errOnce.Do(func() { firstErr = err })
				}
				close(e.done[doneKey{p.TxnIndex, k}])
			}(p, k, piece)
		}
	}
	wg.Wait()
	return firstErr
}
