package driver

import (
	"sync"
	"time"
)

// BatchQueue buffers tag reads between the goroutine that receives them from the link and
// FetchReadBatch callers.
type BatchQueue struct {
	mu      sync.Mutex
	tags    []TagData
	arrived chan struct{}
	limit   int
}

// BatchQueueNew creates a queue holding at most limit reads; the oldest reads are dropped
// once it is full. A limit <= 0 means unbounded.
func BatchQueueNew(limit int) *BatchQueue {
	return &BatchQueue{arrived: make(chan struct{}, 1), limit: limit}
}

func (q *BatchQueue) Push(tags ...TagData) {
	if len(tags) == 0 {
		return
	}

	q.mu.Lock()
	q.tags = append(q.tags, tags...)
	if q.limit > 0 && len(q.tags) > q.limit {
		q.tags = append([]TagData(nil), q.tags[len(q.tags)-q.limit:]...)
	}
	q.mu.Unlock()

	select {
	case q.arrived <- struct{}{}:
	default:
	}
}

func (q *BatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tags)
}

// Fetch returns everything buffered. When the queue is empty it waits up to timeout for the
// next push and returns an empty batch if none arrives.
func (q *BatchQueue) Fetch(timeout time.Duration) []TagData {
	if batch := q.drain(); len(batch) > 0 {
		return batch
	}
	if timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.arrived:
			if batch := q.drain(); len(batch) > 0 {
				return batch
			}
		case <-timer.C:
			return q.drain()
		}
	}
}

func (q *BatchQueue) Reset() {
	q.mu.Lock()
	q.tags = nil
	q.mu.Unlock()
}

func (q *BatchQueue) drain() []TagData {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.tags
	q.tags = nil
	return batch
}
