package vtable

import "github.com/squidgetx/hekastore/internal/clock"

// OwnerHandle is the view a versioned table needs of a not-yet-finalized
// writer: its phase and the commit time it is proposing. A reader that
// dereferences an uncommitted chain head calls Snapshot to resolve both in
// one shot, mirroring the source's packed state+time field (§4.1) without
// relying on pointer tagging.
type OwnerHandle interface {
	Snapshot() (clock.Phase, clock.Timestamp)
}
