package membuf

// DefaultMaxSegments is the version buffer's segment ceiling (§3: "capped
// at a configurable ceiling (default six segments)").
const DefaultMaxSegments = 6

// VersionBuffer is a per-transaction, segmented append-only list of
// read-set entries. It never blocks and never grows past MaxSegments;
// Append fails once the allocator can't supply a fresh segment or the
// ceiling is reached.
type VersionBuffer struct {
	alloc      *VersionBufferAllocator
	maxSegs    int
	head       *segment
	tail       *segment
	count      int
}

// NewVersionBuffer creates an empty buffer served by alloc, capped at
// maxSegments (0 selects DefaultMaxSegments).
func NewVersionBuffer(alloc *VersionBufferAllocator, maxSegments int) *VersionBuffer {
	if maxSegments <= 0 {
		maxSegments = DefaultMaxSegments
	}
	return &VersionBuffer{alloc: alloc, maxSegs: maxSegments}
}

// Append records one read-set entry. It fails with ErrBufferCapacityExceeded
// if the buffer is already at its segment ceiling or the allocator's free
// list is empty.
func (b *VersionBuffer) Append(e ReadSetEntry) error {
	if b.count >= b.maxSegs {
		return ErrBufferCapacityExceeded
	}

	seg, err := b.alloc.GetBuffer()
	if err != nil {
		return err
	}
	e.encode(seg.mem)
	seg.next = nil

	if b.tail == nil {
		b.head, b.tail = seg, seg
	} else {
		b.tail.next = seg
		b.tail = seg
	}
	b.count++
	return nil
}

// Entries decodes every read-set entry currently held, in append order.
func (b *VersionBuffer) Entries() []ReadSetEntry {
	out := make([]ReadSetEntry, 0, b.count)
	for s := b.head; s != nil; s = s.next {
		out = append(out, decodeReadSetEntry(s.mem))
	}
	return out
}

// Len reports the number of entries appended.
func (b *VersionBuffer) Len() int { return b.count }

// ReturnBuffers hands the entire segment chain back to the allocator and
// resets the buffer to empty, ready for reuse (§3: "ReturnBuffers returns
// a whole chain to the free list").
func (b *VersionBuffer) ReturnBuffers() {
	if b.head != nil {
		b.alloc.ReturnBuffers(b.head)
	}
	b.head, b.tail, b.count = nil, nil, 0
}
