package walog

import "testing"

func TestWriteSpansMultiplePages(t *testing.T) {
	b := NewBuffer()
	data := make([]byte, PageSize+17)
	for i := range data {
		data[i] = byte(i)
	}

	n, err := b.Write(data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(data) {
		t.Fatalf("expected %d bytes written, got %d", len(data), n)
	}
	if b.Len() != len(data) {
		t.Fatalf("expected Len() == %d, got %d", len(data), b.Len())
	}
	if len(b.pages) != 2 {
		t.Fatalf("expected the write to span 2 pages, got %d", len(b.pages))
	}

	for i := 0; i < len(data); i++ {
		pageIdx := i / b.pageSize
		off := i % b.pageSize
		if got := b.pages[pageIdx][off]; got != data[i] {
			t.Fatalf("byte %d: expected %d, got %d", i, data[i], got)
		}
	}

	if err := b.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
}

func TestReserveAndFillInPlace(t *testing.T) {
	b := NewBuffer()
	defer b.Reset()

	res, err := b.Reserve(8)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := b.Write([]byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := b.Fill(res, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("Fill: %v", err)
	}

	for i, want := range []byte{1, 2, 3, 4, 5, 6, 7, 8} {
		if b.pages[0][i] != want {
			t.Fatalf("reserved byte %d: expected %d, got %d", i, want, b.pages[0][i])
		}
	}
	if string(b.pages[0][8:15]) != "payload" {
		t.Fatalf("expected payload to follow the filled reservation unharmed")
	}
}

func TestFillLengthMismatchFails(t *testing.T) {
	b := NewBuffer()
	defer b.Reset()

	res, err := b.Reserve(4)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := b.Fill(res, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected a length mismatch error")
	}
}

func TestIovecsCoverExactlyWhatWasWritten(t *testing.T) {
	b := NewBuffer()
	defer b.Reset()

	if _, err := b.Write(make([]byte, PageSize+10)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	iovs := b.Iovecs()
	if len(iovs) != 2 {
		t.Fatalf("expected 2 iovecs, got %d", len(iovs))
	}
}
