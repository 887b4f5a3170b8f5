package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)

	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if !rq.IsFull() {
		t.Fatal("expected queue to be full")
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	front, err := rq.Peek()
	if err != nil || front != 1 {
		t.Fatalf("peek = %d, %v; want 1", front, err)
	}

	for want := 1; want <= 3; want++ {
		got, err := rq.Dequeue()
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Errorf("dequeue = %d; want %d", got, want)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestRingQueueWrapAround(t *testing.T) {
	rq := NewRingQueue[string](2)
	sequence := []string{"a", "b", "c", "d", "e"}

	for _, s := range sequence {
		if err := rq.Enqueue(s); err != nil {
			t.Fatalf("enqueue %s: %v", s, err)
		}
		got, err := rq.Dequeue()
		if err != nil || got != s {
			t.Fatalf("dequeue = %q, %v; want %q", got, err, s)
		}
	}
	if rq.Len() != 0 {
		t.Errorf("expected empty queue, len=%d", rq.Len())
	}
}
