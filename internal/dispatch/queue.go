package dispatch

import (
	"container/heap"
	"errors"
	"sync"
)

// ErrNilEntry is returned when attempting to push a nil queue entry.
var ErrNilEntry = errors.New("cannot push nil queue entry")

// queueEntry is a lightweight in-memory pointer to a persisted job record.
// Workers re-read the record on pop, so a removed or superseded key is
// skipped without heap surgery.
type queueEntry struct {
	Key      string
	Priority int
}

// priorityQueue is a thread-safe priority queue of job keys. Entries with
// lower Priority values are dequeued first; equal priorities dequeue FIFO.
type priorityQueue struct {
	mu     sync.Mutex
	items  entryHeap
	seq    uint64
	notify chan struct{}
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{
		items:  make(entryHeap, 0),
		notify: make(chan struct{}, 1), // buffered so Push never blocks
	}
	heap.Init(&pq.items)
	return pq
}

// Push adds an entry to the queue and signals one waiting consumer.
func (pq *priorityQueue) Push(entry *queueEntry) error {
	if entry == nil {
		return ErrNilEntry
	}

	pq.mu.Lock()
	pq.seq++
	heap.Push(&pq.items, &heapItem{entry: entry, seq: pq.seq})
	pq.mu.Unlock()

	select {
	case pq.notify <- struct{}{}:
	default:
		// A notification is already pending.
	}
	return nil
}

// Pop removes and returns the next entry, blocking until one is available or
// done is closed. Returns nil if done closes while waiting.
func (pq *priorityQueue) Pop(done <-chan struct{}) *queueEntry {
	for {
		pq.mu.Lock()
		if pq.items.Len() > 0 {
			item := heap.Pop(&pq.items).(*heapItem)
			pq.mu.Unlock()
			return item.entry
		}
		pq.mu.Unlock()

		select {
		case <-done:
			return nil
		case <-pq.notify:
		}
	}
}

// Len returns the number of queued entries.
func (pq *priorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

type heapItem struct {
	entry *queueEntry
	seq   uint64
}

// entryHeap orders by ascending priority, then FIFO by sequence.
type entryHeap []*heapItem

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].entry.Priority != h[j].entry.Priority {
		return h[i].entry.Priority < h[j].entry.Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*heapItem))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}
