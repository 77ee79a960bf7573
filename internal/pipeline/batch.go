package pipeline

import (
	"github.com/google/uuid"
	"github.com/squidgetx/hekastore/internal/txapi"
)

// ActionBatch is the unit of work moved between pipeline stages: every
// transaction dequeued together, stamped with the epoch they share.
// Transaction order within a batch is its index into Txns, i.e.
// (Epoch, intra-batch index) per §2. ID is a provenance tag for
// diagnostics and log correlation; it plays no role in ordering or
// correctness, which is governed entirely by Epoch and index.
type ActionBatch struct {
	ID    uuid.UUID
	Epoch uint32
	Txns  []txapi.Transaction
}

// Len reports how many transactions the batch carries.
func (b *ActionBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Txns)
}
