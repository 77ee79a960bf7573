// Package clock implements the engine's logical time: a 64-bit timestamp
// partitioned into a batch epoch and an intra-batch index, and the composite
// key used to address a single record across tables.
//
// What: Timestamp encode/decode, the ACTIVE/PREPARING/COMMITTED/ABORTED
// transaction phase, and CompositeKey.
// How: Epoch occupies the high 32 bits, intra-batch index the low 32 bits,
// so two timestamps compare correctly as plain uint64s: batches order by
// epoch, transactions within a batch order by index.
// Why: A single comparable integer gives total order across the whole run
// without a separate wall-clock or a distributed timestamp oracle.
package clock

import "fmt"

// Timestamp is the engine's logical time: epoch (high 32 bits) and
// intra-batch index (low 32 bits).
type Timestamp uint64

const (
	// Genesis is the sentinel for "created at system genesis" (§3).
	Genesis Timestamp = 0

	// Inf is the sentinel for "not yet ended" (§3). All other valid
	// timestamps compare less than Inf.
	Inf Timestamp = ^Timestamp(0)
)

// MakeTimestamp packs an epoch and an intra-batch index into a Timestamp.
func MakeTimestamp(epoch, index uint32) Timestamp {
	return Timestamp(uint64(epoch)<<32 | uint64(index))
}

// Epoch returns the high 32 bits: the batch epoch this timestamp belongs to.
func (t Timestamp) Epoch() uint32 {
	return uint32(uint64(t) >> 32)
}

// Index returns the low 32 bits: the transaction's position within its batch.
func (t Timestamp) Index() uint32 {
	return uint32(uint64(t))
}

func (t Timestamp) String() string {
	if t == Inf {
		return "INF"
	}
	if t == Genesis {
		return "GENESIS"
	}
	return fmt.Sprintf("%d.%d", t.Epoch(), t.Index())
}

// Phase is a transaction's position in the state machine of §4.3.
type Phase uint8

const (
	Active Phase = iota
	Preparing
	Committed
	Aborted
)

func (p Phase) String() string {
	switch p {
	case Active:
		return "ACTIVE"
	case Preparing:
		return "PREPARING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Terminal reports whether the phase is a final state (§4.3: "Terminal:
// COMMITTED or ABORTED").
func (p Phase) Terminal() bool {
	return p == Committed || p == Aborted
}
