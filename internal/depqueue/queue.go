// Package depqueue implements the per-worker commit/abort dependency
// queues described in §4.3: when writer W finalizes, it posts its outcome
// to the home worker queue of every transaction that recorded a
// dependency on W. Each worker drains its own queue between transactions.
package depqueue

import "github.com/squidgetx/hekastore/internal/clock"

// Outcome is one posted (writer id, final state) pair. Phase is always
// Committed or Aborted; nothing else is ever posted.
type Outcome struct {
	WriterID uint64
	Phase    clock.Phase
}

// DefaultCapacity is the queue's ring size, generous enough that a
// worker draining between transactions never forces a producer to block
// (§7: "a bounded lock-free MPSC ring suffices; blocking is undesirable").
const DefaultCapacity = 4096

// Queue is a bounded many-producer, single-consumer channel of Outcome
// values. Producers are any worker finalizing a transaction with remote
// dependents; the single consumer is the queue's owning worker.
type Queue struct {
	ch chan Outcome
}

// New returns an empty queue with the given capacity (0 selects
// DefaultCapacity).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan Outcome, capacity)}
}

// Post enqueues o without blocking. It reports false if the queue is
// full, which a caller should treat as a configuration error (the ring
// is sized well above steady-state depth) rather than retry under load.
func (q *Queue) Post(o Outcome) bool {
	select {
	case q.ch <- o:
		return true
	default:
		return false
	}
}

// Drain removes and returns every outcome currently queued without
// blocking. Called by the owning worker between transactions.
func (q *Queue) Drain() []Outcome {
	var out []Outcome
	for {
		select {
		case o := <-q.ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// DrainInto is the allocation-free variant of Drain, appending into a
// caller-owned slice and returning the extended slice.
func (q *Queue) DrainInto(dst []Outcome) []Outcome {
	for {
		select {
		case o := <-q.ch:
			dst = append(dst, o)
		default:
			return dst
		}
	}
}
