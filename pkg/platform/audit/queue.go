package audit

import "sync"

// Queue is a bounded, thread-safe FIFO of entries awaiting a retry. Unlike a
// ring buffer it never overwrites: a full queue rejects the newest entry so
// the caller can raise an alarm.
type Queue struct {
	mu       sync.Mutex
	entries  []Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	rejected int64
}

// DefaultQueueCapacity bounds the retry queue when no capacity is configured.
const DefaultQueueCapacity = 1024

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// TryEnqueue adds e, or returns false when the queue is full.
func (q *Queue) TryEnqueue(e Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count >= q.capacity {
		q.rejected++
		return false
	}

	q.entries[q.head] = e
	q.head = (q.head + 1) % q.capacity
	q.count++
	return true
}

// DequeueBatch removes up to n entries in FIFO order.
func (q *Queue) DequeueBatch(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}
	if n <= 0 || n > q.count {
		n = q.count
	}

	result := make([]Entry, n)
	for i := range n {
		result[i] = q.entries[q.tail]
		q.entries[q.tail] = Entry{}
		q.tail = (q.tail + 1) % q.capacity
	}
	q.count -= n
	return result
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Rejected returns how many entries were refused because the queue was full.
func (q *Queue) Rejected() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rejected
}
