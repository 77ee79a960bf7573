// Package walog implements the durable batch log (§4.4): a memory buffer
// backed by anonymous-mmap pages that supports length reservations, and
// an append-only log file opened for synchronous writes.
package walog

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize is the size of one mmap'd region the buffer grows by.
const PageSize = 4096

// Reservation marks a byte range inside the buffer set aside by Reserve,
// to be filled in place once its contents are known (used to prefix each
// transaction with a length computed only after serializing its body).
type Reservation struct {
	offset int
	length int
}

// Buffer is an append-only byte buffer whose backing storage is a chain
// of page-sized anonymous memory mappings, gather-written to a file in
// one vectored syscall (§4.4).
type Buffer struct {
	pageSize int
	pages    [][]byte
	pos      int
}

// NewBuffer returns an empty buffer that grows by PageSize.
func NewBuffer() *Buffer {
	return &Buffer{pageSize: PageSize}
}

func (b *Buffer) growPage() error {
	mem, err := unix.Mmap(-1, 0, b.pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("walog: mmap page: %w", err)
	}
	b.pages = append(b.pages, mem)
	return nil
}

// Write appends p to the buffer, satisfying io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	return b.writeAt(&b.pos, p)
}

// writeAt copies p into the buffer starting at *pos, growing pages as
// needed, and advances *pos past the written bytes.
func (b *Buffer) writeAt(pos *int, p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		pageIdx := *pos / b.pageSize
		offInPage := *pos % b.pageSize
		for pageIdx >= len(b.pages) {
			if err := b.growPage(); err != nil {
				return total - len(p), err
			}
		}
		n := copy(b.pages[pageIdx][offInPage:], p)
		p = p[n:]
		*pos += n
	}
	return total, nil
}

// Reserve sets aside n zero bytes at the current position and returns a
// Reservation identifying them, advancing the buffer past the
// reservation as if it had been written.
func (b *Buffer) Reserve(n int) (Reservation, error) {
	off := b.pos
	if _, err := b.Write(make([]byte, n)); err != nil {
		return Reservation{}, err
	}
	return Reservation{offset: off, length: n}, nil
}

// Fill overwrites a previously reserved range in place. len(data) must
// equal the reservation's length.
func (b *Buffer) Fill(r Reservation, data []byte) error {
	if len(data) != r.length {
		return fmt.Errorf("walog: fill length mismatch: reserved %d, got %d", r.length, len(data))
	}
	pos := r.offset
	_, err := b.writeAt(&pos, data)
	return err
}

// Len reports the number of logical bytes written so far.
func (b *Buffer) Len() int { return b.pos }

// Iovecs builds the vectored-write descriptor set covering every byte
// written to the buffer, one entry per backing page.
func (b *Buffer) Iovecs() []unix.Iovec {
	if b.pos == 0 {
		return nil
	}
	full := b.pos / b.pageSize
	rem := b.pos % b.pageSize
	n := full
	if rem > 0 {
		n++
	}
	iovs := make([]unix.Iovec, 0, n)
	for i := 0; i < full; i++ {
		var iov unix.Iovec
		iov.Base = &b.pages[i][0]
		iov.SetLen(b.pageSize)
		iovs = append(iovs, iov)
	}
	if rem > 0 {
		var iov unix.Iovec
		iov.Base = &b.pages[full][0]
		iov.SetLen(rem)
		iovs = append(iovs, iov)
	}
	return iovs
}

// Reset unmaps every backing page and empties the buffer so it can be
// reused for the next batch.
func (b *Buffer) Reset() error {
	var firstErr error
	for _, p := range b.pages {
		if err := unix.Munmap(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.pages = nil
	b.pos = 0
	return firstErr
}
