package pipeline

import (
	"container/heap"
	"context"
	"sync"

	"docpipe/internal/domain"
	"docpipe/internal/metrics"
)

type entry struct {
	id       int64
	priority int
}

// entryHeap orders by (priority, id): lower priority value first, then older files.
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].id < h[j].id
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is the bounded ingest priority queue. A file id is queued at most once.
type Queue struct {
	mu       sync.Mutex
	items    entryHeap
	queued   map[int64]bool
	maxDepth int
	ready    chan struct{}
}

// NewQueue creates a Queue rejecting pushes beyond maxDepth. Zero means unbounded.
func NewQueue(maxDepth int) *Queue {
	return &Queue{
		queued:   make(map[int64]bool),
		maxDepth: maxDepth,
		ready:    make(chan struct{}, 1),
	}
}

// Push queues a new file. It returns domain.ErrQueueFull when the queue is at depth.
func (q *Queue) Push(id int64, priority int) error {
	return q.push(id, priority, false)
}

// Requeue queues a file already accepted by the pipeline, ignoring the depth bound.
func (q *Queue) Requeue(id int64, priority int) {
	_ = q.push(id, priority, true)
}

func (q *Queue) push(id int64, priority int, force bool) error {
	q.mu.Lock()
	if q.queued[id] {
		q.mu.Unlock()
		return nil
	}
	if !force && q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		q.mu.Unlock()
		return domain.ErrQueueFull
	}
	heap.Push(&q.items, entry{id: id, priority: priority})
	q.queued[id] = true
	metrics.SetQueueDepth(len(q.items))
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop blocks until a file is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (int64, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := heap.Pop(&q.items).(entry)
			delete(q.queued, e.id)
			remaining := len(q.items)
			metrics.SetQueueDepth(remaining)
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return e.id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.ready:
		}
	}
}

// Remove drops a queued file. It reports whether the file was queued.
func (q *Queue) Remove(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.queued[id] {
		return false
	}
	for i, e := range q.items {
		if e.id == id {
			heap.Remove(&q.items, i)
			break
		}
	}
	delete(q.queued, id)
	metrics.SetQueueDepth(len(q.items))
	return true
}

// Len returns the number of queued files.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
