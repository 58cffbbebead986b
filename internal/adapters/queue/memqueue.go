package queue

import (
	"sync"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
type MemQueue struct {
	mu    sync.Mutex
	data  []domain.Batch
	cap   int
	ready chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data:  make([]domain.Batch, 0, capacity),
		cap:   capacity,
		ready: make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(b domain.Batch) bool {
	q.mu.Lock()
	if len(q.data) >= q.cap {
		q.mu.Unlock()
		return false
	}
	q.data = append(q.data, b)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// DropOldest discards the head of the queue to make room.
func (q *MemQueue) DropOldest() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return false
	}
	q.data[0] = domain.Batch{}
	q.data = q.data[1:]
	return true
}

func (q *MemQueue) DequeueBatch(max int) []domain.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.Batch, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *MemQueue) Ready() <-chan struct{} { return q.ready }

var _ ports.BatchQueue = (*MemQueue)(nil)
