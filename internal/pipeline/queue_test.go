package pipeline

import (
	"context"
	"testing"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	for i := uint32(0); i < 3; i++ {
		if err := q.Enqueue(ctx, &ActionBatch{Epoch: i}); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	for i := uint32(0); i < 3; i++ {
		b, ok, err := q.Dequeue(ctx)
		if err != nil || !ok {
			t.Fatalf("Dequeue(%d): ok=%v err=%v", i, ok, err)
		}
		if b.Epoch != i {
			t.Fatalf("expected epoch %d, got %d", i, b.Epoch)
		}
	}
}

func TestCloseDrainsThenReportsDone(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	if err := q.Enqueue(ctx, &ActionBatch{Epoch: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.Close()

	b, ok, err := q.Dequeue(ctx)
	if err != nil || !ok || b.Epoch != 1 {
		t.Fatalf("expected the buffered batch to drain first, got b=%v ok=%v err=%v", b, ok, err)
	}

	_, ok, err = q.Dequeue(ctx)
	if err != nil || ok {
		t.Fatalf("expected ok=false once the closed queue is empty, got ok=%v err=%v", ok, err)
	}
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := q.Dequeue(ctx)
	if err == nil || ok {
		t.Fatalf("expected a context error on an empty queue with a cancelled context")
	}
}
