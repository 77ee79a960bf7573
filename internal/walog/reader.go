package walog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ErrTruncatedRecord is returned when end-of-file is reached mid-record.
// §4.5 treats a truncated trailing transaction as a fatal restore error.
var ErrTruncatedRecord = errors.New("walog: truncated record at end of file")

// PageReader sequentially replays a log file opened read-only and
// memory-mapped in its entirety, matching §4.5's "memory-backed buffered
// reading" restore mode. It is used exclusively by internal/recovery's
// Replayer.
type PageReader struct {
	data []byte
	pos  int
}

// OpenReader opens path for replay. exists is false (with a nil error)
// if the file is absent, letting the caller skip restore mode entirely.
func OpenReader(path string) (r *PageReader, exists bool, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("walog: open %s for replay: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("walog: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return &PageReader{}, true, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, fmt.Errorf("walog: mmap %s for replay: %w", path, err)
	}
	return &PageReader{data: data}, true, nil
}

// Next reads one [u32 type][u64 length][body] record. It returns io.EOF
// once the file is exhausted on a record boundary, or ErrTruncatedRecord
// if end-of-file falls in the middle of a record.
func (r *PageReader) Next() (typeID uint32, body []byte, err error) {
	if r.pos >= len(r.data) {
		return 0, nil, io.EOF
	}
	if r.pos+headerSize > len(r.data) {
		return 0, nil, ErrTruncatedRecord
	}
	typeID = binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	length := binary.LittleEndian.Uint64(r.data[r.pos+4 : r.pos+headerSize])
	r.pos += headerSize

	end := r.pos + int(length)
	if end > len(r.data) {
		return 0, nil, ErrTruncatedRecord
	}
	body = r.data[r.pos:end]
	r.pos = end
	return typeID, body, nil
}

// Close unmaps the replay region, if any.
func (r *PageReader) Close() error {
	if r.data == nil {
		return nil
	}
	return unix.Munmap(r.data)
}
