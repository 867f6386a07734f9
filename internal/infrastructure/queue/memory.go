package queue

import (
	"container/heap"
	"context"
	"sync"
)

type entry struct {
	jobID    string
	priority int
	seq      uint64
	index    int
}

// before reports whether a is served ahead of b.
func (a *entry) before(b *entry) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// MemoryQueue is a process-local queue. All operations hold one mutex, so a
// job is popped by exactly one caller.
type MemoryQueue struct {
	mu    sync.Mutex
	items entryHeap
	byID  map[string]*entry
	seq   uint64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byID: make(map[string]*entry)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobID string, priority int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e, ok := q.byID[jobID]; ok {
		return q.positionOf(e), nil
	}
	q.seq++
	e := &entry{jobID: jobID, priority: priority, seq: q.seq}
	heap.Push(&q.items, e)
	q.byID[jobID] = e
	return q.positionOf(e), nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return "", false, nil
	}
	e := heap.Pop(&q.items).(*entry)
	delete(q.byID, e.jobID)
	return e.jobID, true, nil
}

func (q *MemoryQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[jobID]
	if !ok {
		return false, nil
	}
	heap.Remove(&q.items, e.index)
	delete(q.byID, jobID)
	return true, nil
}

func (q *MemoryQueue) Position(_ context.Context, jobID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[jobID]
	if !ok {
		return 0, nil
	}
	return q.positionOf(e), nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

// positionOf counts the entries served ahead of e. It is computed on demand
// rather than maintained on every push and pop.
func (q *MemoryQueue) positionOf(e *entry) int {
	pos := 1
	for _, other := range q.items {
		if other != e && other.before(e) {
			pos++
		}
	}
	return pos
}
