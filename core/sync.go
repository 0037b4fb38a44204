package core

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
)

// syncWaiter is one blocked Lock or Acquire call. A task waiter parks on
// the waiter itself as key; a goroutine waiter blocks on ch.
type syncWaiter struct {
	t       *task
	ch      chan struct{}
	granted bool // guarded by the owning primitive's mutex
}

func newSyncWaiter(ctx context.Context) *syncWaiter {
	if t := taskFromContext(ctx); t != nil {
		return &syncWaiter{t: t}
	}
	return &syncWaiter{ch: make(chan struct{})}
}

func (w *syncWaiter) wake() {
	if w.t != nil {
		w.t.s.Unpark(w)
		return
	}
	close(w.ch)
}

// wait blocks until wake. With interruptible set it also returns when ctx
// is done or the task is cancelled.
func (w *syncWaiter) wait(ctx context.Context, interruptible bool) error {
	if w.t != nil {
		return w.t.s.park(ctx, w.t, w, interruptible)
	}
	if !interruptible {
		<-w.ch
		return nil
	}
	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// absorb consumes a wake that raced with an interrupted wait.
func (w *syncWaiter) absorb(ctx context.Context) {
	_ = w.wait(context.WithoutCancel(ctx), false)
}

// removeWaiter deletes w from q, preserving order. It reports whether w was found.
func removeWaiter(q *deque.Deque[*syncWaiter], w *syncWaiter) bool {
	found := false
	for i, n := 0, q.Len(); i < n; i++ {
		x := q.PopFront()
		if x == w && !found {
			found = true
			continue
		}
		q.PushBack(x)
	}
	return found
}

// =============================================================================
// Mutex
// =============================================================================

// Mutex is a FIFO lock whose Lock suspends the calling task instead of
// blocking its carrier. Unlock hands ownership directly to the oldest
// waiter. The zero value is unlocked. It also works from ordinary
// goroutines, which block normally.
//
// A Mutex must not be copied after first use.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters deque.Deque[*syncWaiter]
}

// Lock acquires m. It is not interruptible, like sync.Mutex.
func (m *Mutex) Lock(ctx context.Context) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return
	}
	w := newSyncWaiter(ctx)
	m.waiters.PushBack(w)
	m.mu.Unlock()

	_ = w.wait(ctx, false)
}

// TryLock acquires m if it is free.
func (m *Mutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	return true
}

// Unlock releases m, or passes it to the next waiter.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	if !m.locked {
		m.mu.Unlock()
		panic("vthread: unlock of unlocked Mutex")
	}
	if m.waiters.Len() == 0 {
		m.locked = false
		m.mu.Unlock()
		return
	}
	w := m.waiters.PopFront()
	w.granted = true
	m.mu.Unlock()

	w.wake()
}

// Waiters returns the number of blocked Lock calls.
func (m *Mutex) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiters.Len()
}

// =============================================================================
// Semaphore
// =============================================================================

// Semaphore bounds concurrency across tasks. Acquire suspends the task
// while no permit is free; permits are granted in FIFO order.
type Semaphore struct {
	mu      sync.Mutex
	permits int
	waiters deque.Deque[*syncWaiter]
}

func NewSemaphore(permits int) *Semaphore {
	if permits < 0 {
		permits = 0
	}
	return &Semaphore{permits: permits}
}

// Acquire takes a permit. It returns ErrCancelled or ctx's error, without a
// permit, if the task is cancelled or ctx is done while waiting.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.permits > 0 && s.waiters.Len() == 0 {
		s.permits--
		s.mu.Unlock()
		return nil
	}
	w := newSyncWaiter(ctx)
	s.waiters.PushBack(w)
	s.mu.Unlock()

	err := w.wait(ctx, true)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	if removeWaiter(&s.waiters, w) {
		s.mu.Unlock()
		return err
	}
	granted := w.granted
	s.mu.Unlock()
	if granted {
		// a permit was handed over while we gave up
		w.absorb(ctx)
		s.Release()
	}
	return err
}

// TryAcquire takes a permit if one is free and nobody is waiting.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permits > 0 && s.waiters.Len() == 0 {
		s.permits--
		return true
	}
	return false
}

// Release returns a permit, handing it to the oldest waiter if any.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if s.waiters.Len() == 0 {
		s.permits++
		s.mu.Unlock()
		return
	}
	w := s.waiters.PopFront()
	w.granted = true
	s.mu.Unlock()

	w.wake()
}

// Available returns the number of free permits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permits
}
