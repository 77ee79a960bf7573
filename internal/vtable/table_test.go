package vtable

import (
	"testing"

	"github.com/squidgetx/hekastore/internal/clock"
)

// fakeOwner is a minimal OwnerHandle for tests that don't need a full
// transaction engine.
type fakeOwner struct {
	phase clock.Phase
	ts    clock.Timestamp
}

func (f *fakeOwner) Snapshot() (clock.Phase, clock.Timestamp) { return f.phase, f.ts }

func TestInsertAndFinalizeProducesReadableVersion(t *testing.T) {
	tbl := NewTable(1, 4, 8)
	tbl.Open()

	owner := &fakeOwner{phase: clock.Active}
	rec := &Record{Key: clock.CompositeKey{TableID: 1, Key: 0}, Value: []byte("v1")}

	if err := tbl.InsertVersion(0, rec, owner); err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}

	owner.phase = clock.Preparing
	owner.ts = clock.MakeTimestamp(1, 0)
	commitTS := owner.ts
	tbl.FinalizeVersion(0, rec, commitTS)
	owner.phase = clock.Committed

	got, dep, err := tbl.GetVersion(0, clock.MakeTimestamp(1, 1))
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if dep != nil {
		t.Fatalf("expected no dependency on a committed version, got %v", dep)
	}
	if string(got.Value) != "v1" {
		t.Fatalf("got value %q, want v1", got.Value)
	}

	begin := got.Begin()
	if !IsTimestamp(begin) || HekTime(begin) != commitTS {
		t.Fatalf("begin not stamped with commit ts")
	}
}

func TestInsertWriteWriteConflict(t *testing.T) {
	tbl := NewTable(1, 4, 8)
	tbl.Open()

	ownerA := &fakeOwner{phase: clock.Active}
	ownerB := &fakeOwner{phase: clock.Active}
	recA := &Record{Key: clock.CompositeKey{TableID: 1, Key: 3}, Value: []byte("a")}
	recB := &Record{Key: clock.CompositeKey{TableID: 1, Key: 3}, Value: []byte("b")}

	if err := tbl.InsertVersion(3, recA, ownerA); err != nil {
		t.Fatalf("first insert should succeed: %v", err)
	}
	if err := tbl.InsertVersion(3, recB, ownerB); err != ErrWriteConflict {
		t.Fatalf("second insert should conflict, got %v", err)
	}

	// Loser aborts: does not affect the winner's chain.
	ownerA.phase = clock.Preparing
	ownerA.ts = clock.MakeTimestamp(1, 0)
	tbl.FinalizeVersion(3, recA, ownerA.ts)

	got, _, err := tbl.GetVersion(3, clock.MakeTimestamp(1, 1))
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if string(got.Value) != "a" {
		t.Fatalf("chain should hold exactly the winner's version, got %q", got.Value)
	}
}

func TestReadSeesPreparedWriterAsDependency(t *testing.T) {
	tbl := NewTable(1, 16, 8)
	tbl.Open()

	owner := &fakeOwner{phase: clock.Active}
	rec := &Record{Key: clock.CompositeKey{TableID: 1, Key: 9}, Value: []byte("w")}
	if err := tbl.InsertVersion(9, rec, owner); err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}

	owner.phase = clock.Preparing
	owner.ts = clock.MakeTimestamp(1, 0)

	readerTS := clock.MakeTimestamp(1, 5)
	got, dep, err := tbl.GetVersion(9, readerTS)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if got != rec {
		t.Fatalf("expected to observe the prepared version")
	}
	if dep == nil {
		t.Fatalf("expected a recorded commit dependency on the preparing writer")
	}

	// Writer aborts: reader must not see the version as committed.
	owner.phase = clock.Aborted
	phase, _ := dep.Snapshot()
	if phase != clock.Aborted {
		t.Fatalf("dependency snapshot should reflect abort")
	}
}

func TestActiveHeadIsSkipped(t *testing.T) {
	tbl := NewTable(1, 4, 8)

	base := &fakeOwner{phase: clock.Committed, ts: clock.MakeTimestamp(0, 1)}
	baseRec := &Record{Key: clock.CompositeKey{TableID: 1, Key: 2}, Value: []byte("base")}
	tbl.ForceInsert(2, baseRec)
	baseRec.begin.store(committedField(base.ts))
	tbl.Open()

	owner := &fakeOwner{phase: clock.Active}
	headRec := &Record{Key: clock.CompositeKey{TableID: 1, Key: 2}, Value: []byte("head")}
	if err := tbl.InsertVersion(2, headRec, owner); err != nil {
		t.Fatalf("InsertVersion: %v", err)
	}

	got, dep, err := tbl.GetVersion(2, clock.MakeTimestamp(0, 5))
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if dep != nil {
		t.Fatalf("active head should not create a dependency")
	}
	if string(got.Value) != "base" {
		t.Fatalf("expected to see the committed base version, got %q", got.Value)
	}
}

func TestForceInsertPanicsAfterOpen(t *testing.T) {
	tbl := NewTable(1, 2, 8)
	tbl.Open()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic calling ForceInsert after Open")
		}
	}()
	tbl.ForceInsert(0, &Record{})
}
