package membuf

import (
	"errors"
	"testing"

	"github.com/squidgetx/hekastore/internal/clock"
)

func TestInsertBufMgrGetExhaustionAndReuse(t *testing.T) {
	mgr := NewInsertBufMgr(2)
	key := clock.CompositeKey{TableID: 1, Key: 5}

	r1, err := mgr.Get(key, []byte("a"))
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	if _, err := mgr.Get(key, []byte("b")); err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if _, err := mgr.Get(key, []byte("c")); !errors.Is(err, ErrSlabExhausted) {
		t.Fatalf("expected ErrSlabExhausted, got %v", err)
	}

	mgr.Return(r1)
	r3, err := mgr.Get(key, []byte("c"))
	if err != nil {
		t.Fatalf("Get after Return should succeed: %v", err)
	}
	if r3 != r1 {
		t.Fatalf("expected the returned record to be recycled")
	}
	if string(r3.Value) != "c" {
		t.Fatalf("recycled record should carry the new value, got %q", r3.Value)
	}
}
