// Package recovery implements startup log replay (§4.5): sequentially
// read every record the durable log holds, reconstruct each transaction
// via its registered deserializer, and re-form ActionBatches exactly as
// the normal ingest stage would have produced them.
package recovery

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/squidgetx/hekastore/internal/clock"
	"github.com/squidgetx/hekastore/internal/pipeline"
	"github.com/squidgetx/hekastore/internal/txapi"
	"github.com/squidgetx/hekastore/internal/walog"
)

// BatchFactory accumulates reconstructed transactions and emits a
// completed ActionBatch whenever it reaches batchSize, stamping every
// transaction's slot with (epoch, intra_batch_index) and incrementing
// the epoch at each boundary (§4.5 step 3).
type BatchFactory struct {
	batchSize int
	epoch     uint32
	pending   []txapi.Transaction
}

// NewBatchFactory starts factory state at startEpoch with the given
// batch size (must be > 0).
func NewBatchFactory(batchSize int, startEpoch uint32) *BatchFactory {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &BatchFactory{batchSize: batchSize, epoch: startEpoch}
}

// Add appends one reconstructed transaction, returning a completed batch
// once the factory reaches its configured size. ok is false if no batch
// completed yet.
func (f *BatchFactory) Add(t txapi.Transaction) (batch *pipeline.ActionBatch, ok bool) {
	f.pending = append(f.pending, t)
	if len(f.pending) < f.batchSize {
		return nil, false
	}
	b := &pipeline.ActionBatch{ID: uuid.New(), Epoch: f.epoch, Txns: f.pending}
	f.pending = nil
	f.epoch++
	return b, true
}

// Flush emits whatever transactions remain as a final, possibly
// undersized trailing batch (§4.5: "the source ambiguity is noted" for
// exact boundary policy; this implementation emits the short batch
// rather than discarding it — see the recovery section of DESIGN.md).
func (f *BatchFactory) Flush() (batch *pipeline.ActionBatch, ok bool) {
	if len(f.pending) == 0 {
		return nil, false
	}
	b := &pipeline.ActionBatch{ID: uuid.New(), Epoch: f.epoch, Txns: f.pending}
	f.pending = nil
	f.epoch++
	return b, true
}

// Epoch reports the next epoch the factory will stamp.
func (f *BatchFactory) Epoch() clock.Timestamp { return clock.MakeTimestamp(f.epoch, 0) }

// Manifest summarizes one completed replay run: a fresh RunID correlating
// this restore attempt across diagnostic output, plus counts of what was
// recovered. It is produced entirely in memory; nothing here is written
// back to the log file itself.
type Manifest struct {
	RunID    uuid.UUID
	Existed  bool
	Batches  int
	TxnCount int
}

// Replayer reads one log file end to end at startup, reconstructs every
// transaction via a registry, and re-forms ActionBatches exactly as the
// normal execute stage would have produced them.
type Replayer struct {
	Path       string
	Registry   *txapi.Registry
	BatchSize  int
	StartEpoch uint32
}

// NewReplayer builds a Replayer over path, deserializing record bodies
// via registry and re-batching them at batchSize starting at startEpoch.
func NewReplayer(path string, registry *txapi.Registry, batchSize int, startEpoch uint32) *Replayer {
	return &Replayer{Path: path, Registry: registry, BatchSize: batchSize, StartEpoch: startEpoch}
}

// Run replays the configured log (if present), enqueuing completed
// batches onto out in original order, and returns a Manifest describing
// what it recovered.
func (rp *Replayer) Run(ctx context.Context, out *pipeline.Queue) (Manifest, error) {
	m := Manifest{RunID: uuid.New()}

	r, exists, err := walog.OpenReader(rp.Path)
	if err != nil {
		return m, fmt.Errorf("recovery: open log: %w", err)
	}
	if !exists {
		return m, nil
	}
	defer r.Close()
	m.Existed = true

	factory := NewBatchFactory(rp.BatchSize, rp.StartEpoch)
	for {
		typeID, body, rerr := r.Next()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return m, fmt.Errorf("recovery: replay %s: %w", rp.Path, rerr)
		}

		txn, derr := rp.Registry.Deserialize(typeID, bytes.NewReader(body))
		if derr != nil {
			return m, fmt.Errorf("recovery: deserialize type %d: %w", typeID, derr)
		}
		m.TxnCount++

		if batch, ok := factory.Add(txn); ok {
			if err := out.Enqueue(ctx, batch); err != nil {
				return m, fmt.Errorf("recovery: enqueue replayed batch: %w", err)
			}
			m.Batches++
		}
	}

	if batch, ok := factory.Flush(); ok {
		if err := out.Enqueue(ctx, batch); err != nil {
			return m, fmt.Errorf("recovery: enqueue trailing batch: %w", err)
		}
		m.Batches++
	}
	return m, nil
}
