package ingest

import "sync"

// minCompact is the number of consumed slots tolerated before the backing
// slice is compacted.
const minCompact = 64

// Queue is an unbounded FIFO of envelopes.
//
// Thread Safety: Push, TryPop and Len are safe for concurrent use. The lock
// is held only to append or remove one element.
type Queue struct {
	mu    sync.Mutex
	items []Envelope
	head  int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends an envelope. It never blocks on the consumer.
func (q *Queue) Push(e Envelope) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest envelope, or false when empty.
func (q *Queue) TryPop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return Envelope{}, false
	}
	e := q.items[q.head]
	q.items[q.head] = Envelope{}
	q.head++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= minCompact && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return e, true
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
