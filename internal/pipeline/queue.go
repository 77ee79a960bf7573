// Package pipeline implements the bounded single-producer/single-consumer
// queues that move ActionBatch values between the ingest, execute, log,
// and output stages (§2, §4.6). It is a lightweight collaborator: its
// only correctness requirement is FIFO delivery without spurious
// duplication, which a buffered channel gives for free.
package pipeline

import (
	"context"
	"errors"
)

// DefaultCapacity is the queue's fixed ring size (§4.6: "default 1024").
const DefaultCapacity = 1024

// ErrClosed is returned by Enqueue once the queue has been closed.
var ErrClosed = errors.New("pipeline: queue closed")

// Queue is a bounded SPSC channel of ActionBatch pointers. Enqueue blocks
// while the ring is full; Dequeue blocks while it is empty (§7's
// suspension points (a) and (b)).
type Queue struct {
	ch     chan *ActionBatch
	closed chan struct{}
}

// NewQueue creates a queue with the given capacity (0 selects
// DefaultCapacity).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *ActionBatch, capacity), closed: make(chan struct{})}
}

// Enqueue blocks until there is room, the queue closes, or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, b *ActionBatch) error {
	select {
	case q.ch <- b:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a batch is available, the queue closes and
// drains, or ctx is done. ok is false only once the queue is closed and
// empty.
func (q *Queue) Dequeue(ctx context.Context) (b *ActionBatch, ok bool, err error) {
	select {
	case b := <-q.ch:
		return b, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-q.closed:
		select {
		case b := <-q.ch:
			return b, true, nil
		default:
			return nil, false, nil
		}
	}
}

// Close signals producers that no further Enqueue calls will succeed and,
// once the ring drains, causes Dequeue to report ok=false. Close must be
// called by the producer side exactly once. It never closes the
// underlying channel, so a racing Enqueue can never panic on a send to a
// closed channel.
func (q *Queue) Close() {
	select {
	case <-q.closed:
		// already closed
	default:
		close(q.closed)
	}
}
