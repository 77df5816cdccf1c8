package autonomy

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// priorityKey computes the ordering key for a task. Tasks scheduled in the
// future sort by their scheduled timestamp (earlier first); immediately
// runnable tasks sort by negated priority (higher priority first). Since
// negated priorities are ≤ 0 and timestamps are large positive numbers, one
// min-ordering rule serves both scheduled and immediate work.
func priorityKey(task *Task, now time.Time) float64 {
	if task.ScheduledAt != nil && task.ScheduledAt.After(now) {
		return float64(task.ScheduledAt.Unix())
	}

	return -float64(task.Priority)
}

// queueEntry is a (key, task id) pair in the ready queue. Entries with equal
// keys dispatch in insertion order.
type queueEntry struct {
	key float64
	seq uint64
	id  uuid.UUID
}

// readyQueue is a min-heap of tasks eligible for dispatch. Producers push on
// submission, on dependency satisfaction, and on retry re-arm; the dispatcher
// pops one entry at a time and discards stale ones. Safe for concurrent use.
type readyQueue struct {
	mu      sync.Mutex
	entries entryHeap
	seq     uint64
}

func newReadyQueue() *readyQueue {
	return &readyQueue{}
}

// Push enqueues the task under its current priority key.
func (q *readyQueue) Push(task *Task) {
	q.PushKey(task.ID, priorityKey(task, time.Now()))
}

// PushKey enqueues a task id under an explicit key.
func (q *readyQueue) PushKey(id uuid.UUID, key float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	heap.Push(&q.entries, queueEntry{key: key, seq: q.seq, id: id})
}

// Pop removes and returns the entry with the smallest key.
func (q *readyQueue) Pop() (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() == 0 {
		return queueEntry{}, false
	}

	return heap.Pop(&q.entries).(queueEntry), true
}

// Len returns the number of queued entries, including stale ones not yet
// discarded by the dispatcher.
func (q *readyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.entries.Len()
}

// entryHeap implements heap.Interface ordered by key, then insertion order.
type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(queueEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}
