// Package txapi defines the contract a transaction body implements to run
// on the engine, independent of the engine's own internals (§6, "External
// Interfaces"). Both the pipeline package (which only needs to carry a
// batch of transactions) and the txn package (which runs them) depend on
// this package instead of on each other.
package txapi

import (
	"fmt"
	"io"

	"github.com/squidgetx/hekastore/internal/clock"
)

// Context is the read/write surface a Transaction body is given during its
// now-phase and later-phase callbacks. The concrete implementation (owned
// by package txn) is responsible for MVCC visibility, tentative writes,
// and dependency bookkeeping; the transaction body only sees this
// narrow interface.
type Context interface {
	// Read fetches the value visible to this transaction at its
	// timestamp. ok is false if no version is visible (key absent).
	Read(key clock.CompositeKey) (value []byte, ok bool, err error)

	// Write stages an insert, update, or (value == nil) tombstone of
	// key, visible to this transaction's own later reads and to others
	// only after commit.
	Write(key clock.CompositeKey, value []byte) error
}

// Transaction is the body a caller supplies to the engine (§6). Type
// identifies the concrete kind for serialization; Serialize/a matching
// Deserializer round-trip it through the durable log (§4.4); NowPhase runs
// speculatively against the MVCC store and returns whether the body wants
// to commit; LaterPhase runs only for a transaction that commits, once
// all of its commit dependencies have resolved. An aborted transaction's
// LaterPhase is never called.
type Transaction interface {
	Type() uint32
	IsReadOnly() bool
	Serialize(w io.Writer) error
	NowPhase(ctx Context) bool
	LaterPhase(ctx Context)
}

// Deserializer reconstructs a Transaction body of one Type from its
// serialized form, used by recovery (§4.5). The durable log writer takes
// the type id from Transaction.Type and never calls a Deserializer.
type Deserializer func(r io.Reader) (Transaction, error)

// Registry maps transaction type ids to their Deserializer, the "factory
// dispatch table" described in §6.
type Registry struct {
	factories map[uint32]Deserializer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[uint32]Deserializer)}
}

// Register adds or replaces the factory for a type id.
func (r *Registry) Register(typeID uint32, fn Deserializer) {
	r.factories[typeID] = fn
}

// Deserialize looks up typeID's factory and invokes it against r.
func (r *Registry) Deserialize(typeID uint32, body io.Reader) (Transaction, error) {
	fn, ok := r.factories[typeID]
	if !ok {
		return nil, fmt.Errorf("txapi: no deserializer registered for type %d", typeID)
	}
	return fn(body)
}
