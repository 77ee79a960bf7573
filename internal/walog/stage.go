package walog

import (
	"context"
	"fmt"

	"github.com/squidgetx/hekastore/internal/pipeline"
)

// Stage is the durable-log pipeline stage: it dequeues committed batches
// from the engine's output queue, appends their non-read-only writes to
// the log, and forwards every batch downstream unchanged. A batch is
// forwarded only after AppendBatch returns, so nothing downstream ever
// observes a batch that isn't yet durable.
type Stage struct {
	log *Log
	in  *pipeline.Queue
	out *pipeline.Queue
}

// NewStage builds a log stage durably appending every batch read from in
// before handing it to out.
func NewStage(log *Log, in, out *pipeline.Queue) *Stage {
	return &Stage{log: log, in: in, out: out}
}

// Run drains in until it closes (or ctx is cancelled), appending each
// batch to the log and forwarding it to out in the same order it was
// received.
func (s *Stage) Run(ctx context.Context) error {
	for {
		batch, ok, err := s.in.Dequeue(ctx)
		if err != nil {
			return err
		}
		if !ok {
			s.out.Close()
			return nil
		}

		if err := s.log.AppendBatch(batch); err != nil {
			return fmt.Errorf("walog: stage append: %w", err)
		}

		if err := s.out.Enqueue(ctx, batch); err != nil {
			return fmt.Errorf("walog: stage forward: %w", err)
		}
	}
}
