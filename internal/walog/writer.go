package walog

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/squidgetx/hekastore/internal/pipeline"
	"golang.org/x/sys/unix"
)

// headerSize is the per-transaction frame prefix: [u32 txn_type][u64 length].
const headerSize = 4 + 8

// countingWriter tallies bytes written through it, standing in for the
// "counted buffer proxy" that recovers a transaction's serialized length
// without the transaction body needing to know it in advance (§4.4).
type countingWriter struct {
	buf *Buffer
	n   int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.buf.Write(p)
	c.n += n
	return n, err
}

// Log is the append-only durable batch log. It is opened with
// synchronous-write semantics: every Write to the underlying file blocks
// until the storage device confirms it (§4.4).
//
// RunID identifies this open of the log, not the file itself: it is
// generated fresh on every Open call and carried only in memory. Nothing
// in this repository reads it; a Replayer's Manifest carries its own,
// separately generated RunID. The on-disk record framing has no header of
// its own (§4.4) — RunID never touches the file.
type Log struct {
	f     *os.File
	RunID uuid.UUID
}

// Open creates path if absent and opens it for synchronous append.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: open %s: %w", path, err)
	}
	return &Log{f: f, RunID: uuid.New()}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.f.Close()
}

// AppendBatch serializes every non-read-only transaction in batch into a
// page-backed memory buffer, framed as [u32 type][u64 length][body], and
// gather-writes the whole buffer to the log file in one vectored syscall
// (§4.4). Read-only transactions produce no writes and are elided.
func (l *Log) AppendBatch(batch *pipeline.ActionBatch) error {
	buf := NewBuffer()
	defer buf.Reset()

	for _, txn := range batch.Txns {
		if txn.IsReadOnly() {
			continue
		}

		var typeHdr [4]byte
		binary.LittleEndian.PutUint32(typeHdr[:], txn.Type())
		if _, err := buf.Write(typeHdr[:]); err != nil {
			return fmt.Errorf("walog: write type header: %w", err)
		}

		lenRes, err := buf.Reserve(8)
		if err != nil {
			return fmt.Errorf("walog: reserve length field: %w", err)
		}

		cw := &countingWriter{buf: buf}
		if err := txn.Serialize(cw); err != nil {
			return fmt.Errorf("walog: serialize txn type %d: %w", txn.Type(), err)
		}

		var lenBytes [8]byte
		binary.LittleEndian.PutUint64(lenBytes[:], uint64(cw.n))
		if err := buf.Fill(lenRes, lenBytes[:]); err != nil {
			return fmt.Errorf("walog: fill length field: %w", err)
		}
	}

	if buf.Len() == 0 {
		return nil
	}

	iovs := buf.Iovecs()
	if _, err := unix.Writev(int(l.f.Fd()), iovs); err != nil {
		return fmt.Errorf("walog: writev: %w", err)
	}
	return nil
}
