package core

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// =============================================================================
// globalQueue: shared FIFO run queue
// =============================================================================

// globalQueue receives fresh submissions without a locality hint, yields and
// promoted tasks. Promotion pushes to the front.
type globalQueue struct {
	mu    sync.Mutex
	tasks deque.Deque[*task]
}

func (q *globalQueue) PushBack(t *task) {
	q.mu.Lock()
	t.enqueuedAt.Store(time.Now().UnixNano())
	q.tasks.PushBack(t)
	q.mu.Unlock()
}

func (q *globalQueue) PushFront(t *task) {
	q.mu.Lock()
	t.enqueuedAt.Store(time.Now().UnixNano())
	q.tasks.PushFront(t)
	q.mu.Unlock()
}

// PushFrontAll puts ts at the head of the queue, keeping their order.
// enqueuedAt is left alone so the tasks keep their age.
func (q *globalQueue) PushFrontAll(ts []*task) {
	if len(ts) == 0 {
		return
	}
	q.mu.Lock()
	for i := len(ts) - 1; i >= 0; i-- {
		q.tasks.PushFront(ts[i])
	}
	q.mu.Unlock()
}

func (q *globalQueue) Pop() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tasks.Len() == 0 {
		return nil
	}
	return q.tasks.PopFront()
}

func (q *globalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// PromoteOlderThan moves every task enqueued before cutoff to the front,
// oldest first, and returns how many were behind a younger task.
func (q *globalQueue) PromoteOlderThan(cutoff int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.tasks.Len()
	if n == 0 {
		return 0
	}

	var stale, fresh []*task
	promoted := 0
	for i := 0; i < n; i++ {
		t := q.tasks.PopFront()
		if t.enqueuedAt.Load() < cutoff {
			if len(fresh) > 0 {
				promoted++
			}
			stale = append(stale, t)
		} else {
			fresh = append(fresh, t)
		}
	}
	for _, t := range stale {
		q.tasks.PushBack(t)
	}
	for _, t := range fresh {
		q.tasks.PushBack(t)
	}
	return promoted
}

func (q *globalQueue) Clear() []*task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task, 0, q.tasks.Len())
	for q.tasks.Len() > 0 {
		out = append(out, q.tasks.PopFront())
	}
	return out
}

// =============================================================================
// workDeque: per-carrier deque
// =============================================================================

// workDeque is owned by one carrier, which pushes and pops at the back.
// Other carriers steal from the front, taking the oldest work.
type workDeque struct {
	mu    sync.Mutex
	tasks deque.Deque[*task]
}

func (d *workDeque) Push(t *task) {
	d.mu.Lock()
	t.enqueuedAt.Store(time.Now().UnixNano())
	d.tasks.PushBack(t)
	d.mu.Unlock()
}

// TryPush pushes t unless the deque already holds max tasks.
func (d *workDeque) TryPush(t *task, max int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tasks.Len() >= max {
		return false
	}
	t.enqueuedAt.Store(time.Now().UnixNano())
	d.tasks.PushBack(t)
	return true
}

func (d *workDeque) Pop() *task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tasks.Len() == 0 {
		return nil
	}
	return d.tasks.PopBack()
}

func (d *workDeque) Steal() *task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tasks.Len() == 0 {
		return nil
	}
	return d.tasks.PopFront()
}

func (d *workDeque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks.Len()
}

// TakeOlderThan removes the tasks at the front that were enqueued before
// cutoff. The front holds the oldest entries, so the scan stops at the
// first young one.
func (d *workDeque) TakeOlderThan(cutoff int64) []*task {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*task
	for d.tasks.Len() > 0 && d.tasks.Front().enqueuedAt.Load() < cutoff {
		out = append(out, d.tasks.PopFront())
	}
	return out
}

func (d *workDeque) Clear() []*task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*task, 0, d.tasks.Len())
	for d.tasks.Len() > 0 {
		out = append(out, d.tasks.PopFront())
	}
	return out
}
