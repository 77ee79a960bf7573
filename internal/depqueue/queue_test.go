package depqueue

import (
	"sync"
	"testing"

	"github.com/squidgetx/hekastore/internal/clock"
)

func TestPostAndDrainPreservesOrder(t *testing.T) {
	q := New(8)

	for i := uint64(0); i < 3; i++ {
		if !q.Post(Outcome{WriterID: i, Phase: clock.Committed}) {
			t.Fatalf("Post(%d) should not report the queue full", i)
		}
	}

	got := q.Drain()
	if len(got) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(got))
	}
	for i, o := range got {
		if o.WriterID != uint64(i) {
			t.Fatalf("outcome %d: expected writer %d, got %d", i, i, o.WriterID)
		}
	}

	if more := q.Drain(); len(more) != 0 {
		t.Fatalf("second drain should be empty, got %v", more)
	}
}

func TestPostFailsWhenFull(t *testing.T) {
	q := New(1)
	if !q.Post(Outcome{WriterID: 1, Phase: clock.Committed}) {
		t.Fatalf("first post should succeed")
	}
	if q.Post(Outcome{WriterID: 2, Phase: clock.Aborted}) {
		t.Fatalf("post into a full queue should report false")
	}
}

// TestManyProducersOneConsumer exercises the MPSC shape: several workers
// posting concurrently to one dependent's queue, drained once all posts
// land.
func TestManyProducersOneConsumer(t *testing.T) {
	q := New(DefaultCapacity)
	const producers = 16
	const perProducer = 32

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if !q.Post(Outcome{WriterID: uint64(p), Phase: clock.Committed}) {
					t.Errorf("post from producer %d should not fail", p)
				}
			}
		}(p)
	}
	wg.Wait()

	got := q.Drain()
	if len(got) != producers*perProducer {
		t.Fatalf("expected %d outcomes, got %d", producers*perProducer, len(got))
	}
}
