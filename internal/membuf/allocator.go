// Package membuf implements the per-transaction version buffer and the
// allocator that backs it, plus the per-worker insert-buffer manager that
// slabs record-version nodes (§3, §4.3, Glossary).
package membuf

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/squidgetx/hekastore/internal/clock"
	"modernc.org/memory"
)

// EntrySize is the encoded width of one ReadSetEntry.
const EntrySize = 20 // 4 (table id) + 8 (key) + 8 (timestamp)

// BufferSize is the capacity, in bytes, of one segment. A segment holds
// exactly one read-set entry, which keeps the worked example in §8
// (capacity expressed as N * BufferSize) exact: every successful Append
// consumes exactly one segment.
const BufferSize = EntrySize

// ReadSetEntry records one key read at a version, for commit-time
// validation and diagnostics.
type ReadSetEntry struct {
	Key     clock.CompositeKey
	Version clock.Timestamp
}

func (e ReadSetEntry) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Key.TableID)
	binary.LittleEndian.PutUint64(buf[4:12], e.Key.Key)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(e.Version))
}

func decodeReadSetEntry(buf []byte) ReadSetEntry {
	return ReadSetEntry{
		Key: clock.CompositeKey{
			TableID: binary.LittleEndian.Uint32(buf[0:4]),
			Key:     binary.LittleEndian.Uint64(buf[4:12]),
		},
		Version: clock.Timestamp(binary.LittleEndian.Uint64(buf[12:20])),
	}
}

// ErrBufferCapacityExceeded is raised when a segment cannot be obtained
// from the allocator's free list (§7).
var ErrBufferCapacityExceeded = errors.New("membuf: buffer capacity exceeded")

// segment is one free-list node: BufferSize bytes of arena-backed storage
// for a single encoded ReadSetEntry, plus the intrusive free-list link.
type segment struct {
	mem  []byte
	next *segment
}

// VersionBufferAllocator owns a fixed pool of segments carved out of a
// single arena allocation and hands them out from a free list. GetBuffer
// never blocks and never grows the pool (§3).
type VersionBufferAllocator struct {
	mu    sync.Mutex
	arena *memory.Allocator
	free  *segment
	all   []*segment // every segment ever carved, for Close
}

// NewVersionBufferAllocator allocates capacityBytes of backing storage,
// split into BufferSize segments, and seeds the free list with all of
// them.
func NewVersionBufferAllocator(capacityBytes int) *VersionBufferAllocator {
	a := &VersionBufferAllocator{arena: &memory.Allocator{}}

	n := capacityBytes / BufferSize
	for i := 0; i < n; i++ {
		mem, err := a.arena.Malloc(BufferSize)
		if err != nil {
			break // pool partially seeded is still a valid, smaller pool
		}
		seg := &segment{mem: mem}
		seg.next = a.free
		a.free = seg
		a.all = append(a.all, seg)
	}
	return a
}

// Close releases the arena's backing memory. The allocator must not be
// used afterward.
func (a *VersionBufferAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for _, seg := range a.all {
		if err := a.arena.Free(seg.mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.all = nil
	a.free = nil
	return firstErr
}

// GetBuffer pops one segment off the free list, or fails with
// ErrBufferCapacityExceeded if the list is empty.
func (a *VersionBufferAllocator) GetBuffer() (*segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.free == nil {
		return nil, ErrBufferCapacityExceeded
	}
	s := a.free
	a.free = s.next
	s.next = nil
	return s, nil
}

// ReturnBuffers pushes an entire chain of segments back onto the free
// list in one step.
func (a *VersionBufferAllocator) ReturnBuffers(chain *segment) {
	if chain == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	tail := chain
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = a.free
	a.free = chain
}

// FreeCount reports the number of segments currently on the free list.
// Diagnostic only.
func (a *VersionBufferAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for s := a.free; s != nil; s = s.next {
		n++
	}
	return n
}
