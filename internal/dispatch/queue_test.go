package dispatch

import (
	"testing"
	"time"
)

func TestPriorityQueue_LowerPriorityFirst(t *testing.T) {
	pq := newPriorityQueue()
	done := make(chan struct{})
	defer close(done)

	pq.Push(&queueEntry{Key: "routine-1", Priority: PriorityDefault})
	pq.Push(&queueEntry{Key: "urgent", Priority: PriorityRetry})
	pq.Push(&queueEntry{Key: "routine-2", Priority: PriorityDefault})

	want := []string{"urgent", "routine-1", "routine-2"}
	for _, key := range want {
		entry := pq.Pop(done)
		if entry == nil {
			t.Fatal("Pop returned nil with entries queued")
		}
		if entry.Key != key {
			t.Errorf("popped %s, want %s", entry.Key, key)
		}
	}

	if pq.Len() != 0 {
		t.Errorf("queue should be empty, has %d", pq.Len())
	}
}

func TestPriorityQueue_FIFOWithinPriority(t *testing.T) {
	pq := newPriorityQueue()
	done := make(chan struct{})
	defer close(done)

	for _, key := range []string{"a", "b", "c"} {
		pq.Push(&queueEntry{Key: key, Priority: PriorityDefault})
	}

	for _, key := range []string{"a", "b", "c"} {
		if entry := pq.Pop(done); entry.Key != key {
			t.Errorf("popped %s, want %s", entry.Key, key)
		}
	}
}

func TestPriorityQueue_PopUnblocksOnPush(t *testing.T) {
	pq := newPriorityQueue()
	done := make(chan struct{})
	defer close(done)

	got := make(chan *queueEntry, 1)
	go func() {
		got <- pq.Pop(done)
	}()

	// Give the consumer time to block.
	time.Sleep(20 * time.Millisecond)
	pq.Push(&queueEntry{Key: "late", Priority: PriorityDefault})

	select {
	case entry := <-got:
		if entry == nil || entry.Key != "late" {
			t.Errorf("unexpected entry: %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestPriorityQueue_PopReturnsNilWhenDone(t *testing.T) {
	pq := newPriorityQueue()
	done := make(chan struct{})

	got := make(chan *queueEntry, 1)
	go func() {
		got <- pq.Pop(done)
	}()

	close(done)

	select {
	case entry := <-got:
		if entry != nil {
			t.Errorf("expected nil on shutdown, got %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not return after done closed")
	}
}

func TestPriorityQueue_PushNil(t *testing.T) {
	pq := newPriorityQueue()
	if err := pq.Push(nil); err == nil {
		t.Error("expected an error pushing nil")
	}
}
