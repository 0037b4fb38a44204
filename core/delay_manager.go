package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// delayedFunc is a callback scheduled for the future
type delayedFunc struct {
	RunAt time.Time
	ID    uint64
	Fn    func()
	index int // for heap interface
}

// delayedFuncHeap implements heap.Interface
type delayedFuncHeap []*delayedFunc

func (h delayedFuncHeap) Len() int { return len(h) }
func (h delayedFuncHeap) Less(i, j int) bool {
	if h[i].RunAt.Equal(h[j].RunAt) {
		return h[i].ID < h[j].ID
	}
	return h[i].RunAt.Before(h[j].RunAt)
}
func (h delayedFuncHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedFuncHeap) Push(x any) {
	item := x.(*delayedFunc)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayedFuncHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *delayedFuncHeap) Peek() *delayedFunc {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager runs callbacks after a delay from a single timer goroutine.
// Sleep uses it to unpark tasks.
type DelayManager struct {
	pq     delayedFuncHeap
	byID   map[uint64]*delayedFunc
	nextID uint64
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(delayedFuncHeap, 0),
		byID:   make(map[uint64]*delayedFunc),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// AfterFunc schedules fn to run on the timer goroutine after delay and
// returns an id for Cancel. fn must not block.
func (dm *DelayManager) AfterFunc(delay time.Duration, fn func()) uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.nextID++
	item := &delayedFunc{
		RunAt: time.Now().Add(delay),
		ID:    dm.nextID,
		Fn:    fn,
	}
	heap.Push(&dm.pq, item)
	dm.byID[item.ID] = item

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return item.ID
}

// Cancel removes a pending callback. It returns false if the callback has
// already been taken for execution or was never scheduled.
func (dm *DelayManager) Cancel(id uint64) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item, ok := dm.byID[id]
	if !ok {
		return false
	}
	delete(dm.byID, id)
	heap.Remove(&dm.pq, item.index)
	return true
}

func (dm *DelayManager) loop() {
	defer close(dm.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := dm.calculateNextRun()
		if nextRun < 0 {
			// No callbacks, wait for a wakeup
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun returns how long to wait for the earliest callback,
// 0 if it is already due and -1 if nothing is scheduled.
func (dm *DelayManager) calculateNextRun() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return -1
	}

	d := time.Until(item.RunAt)
	if d < 0 {
		return 0
	}
	return d
}

func (dm *DelayManager) processExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*delayedFunc
	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		delete(dm.byID, item.ID)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	// Run outside the lock; callbacks may schedule new timers
	for _, item := range expired {
		item.Fn()
	}
}

// Stop terminates the timer goroutine and drops pending callbacks.
func (dm *DelayManager) Stop() {
	dm.cancel()
	<-dm.done

	dm.mu.Lock()
	dm.pq = make(delayedFuncHeap, 0)
	dm.byID = make(map[uint64]*delayedFunc)
	dm.mu.Unlock()
}

func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
