package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WaitKey names the condition a parked task waits for. Any comparable value
// works; at most one waiter may be parked on a key at a time.
type WaitKey any

// Park states of a task. The transitions pending->notified (by a waker) and
// pending->parked (by the releasing carrier) race; whichever CAS loses knows
// the other side happened first, so a wakeup is never lost.
const (
	parkIdle int32 = iota
	parkPending
	parkParked
	parkNotified
	parkPinned
)

const (
	wokenByUnpark int32 = iota + 1
	wokenByInterrupt
)

// internal keys
type (
	sleepKey struct {
		s  *Scheduler
		id uint64
	}
	joinKey struct {
		s      *Scheduler
		target TaskID
		waiter TaskID
	}
	offloadKey struct {
		s  *Scheduler
		id uint64
	}
)

func (k sleepKey) String() string   { return fmt.Sprintf("sleep#%d", k.id) }
func (k joinKey) String() string    { return fmt.Sprintf("join(%s)", k.target) }
func (k offloadKey) String() string { return fmt.Sprintf("offload#%d", k.id) }

// waiter is either a parked task or an ordinary goroutine blocked on ch.
type waiter struct {
	t  *task
	ch chan struct{}
}

// parker is the wait registry. A wake for a key with no waiter is kept as
// a permit and consumed by the next Park on that key.
type parker struct {
	s       *Scheduler
	mu      sync.Mutex
	waiters map[WaitKey]waiter
	permits map[WaitKey]struct{}
}

func newParker(s *Scheduler) *parker {
	return &parker{
		s:       s,
		waiters: make(map[WaitKey]waiter),
		permits: make(map[WaitKey]struct{}),
	}
}

// registerTask records t as the waiter for key. It returns false, with t
// untouched, when a permit was consumed instead.
func (p *parker) registerTask(t *task, key WaitKey, pinned bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.permits[key]; ok {
		delete(p.permits, key)
		return false, nil
	}
	if w, ok := p.waiters[key]; ok && w.t != t {
		return false, ErrWaitKeyInUse
	}
	if t.aborted.Load() {
		return false, ErrCancelled
	}
	p.waiters[key] = waiter{t: t}
	t.parkKey = key
	t.wokenBy.Store(0)
	if pinned {
		t.parkState.Store(parkPinned)
	} else {
		t.parkState.Store(parkPending)
	}
	return true, nil
}

// registerChan is registerTask for goroutines outside the scheduler.
func (p *parker) registerChan(key WaitKey) (chan struct{}, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.permits[key]; ok {
		delete(p.permits, key)
		return nil, false, nil
	}
	if _, ok := p.waiters[key]; ok {
		return nil, false, ErrWaitKeyInUse
	}
	ch := make(chan struct{})
	p.waiters[key] = waiter{ch: ch}
	return ch, true, nil
}

func (p *parker) unpark(key WaitKey) {
	p.mu.Lock()
	w, ok := p.waiters[key]
	if !ok {
		p.permits[key] = struct{}{}
		p.mu.Unlock()
		return
	}
	delete(p.waiters, key)
	if w.t != nil {
		w.t.wokenBy.Store(wokenByUnpark)
	}
	p.mu.Unlock()

	if w.ch != nil {
		close(w.ch)
		return
	}
	p.s.wake(w.t)
}

// interrupt wakes t if it is still the waiter for key.
func (p *parker) interrupt(key WaitKey, t *task) {
	p.mu.Lock()
	w, ok := p.waiters[key]
	if !ok || w.t != t {
		p.mu.Unlock()
		return
	}
	delete(p.waiters, key)
	t.wokenBy.Store(wokenByInterrupt)
	p.mu.Unlock()

	p.s.wake(t)
}

// cancelChan removes an external waiter that gave up. It returns false if
// the waiter was already woken.
func (p *parker) cancelChan(key WaitKey, ch chan struct{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.waiters[key]; ok && w.ch == ch {
		delete(p.waiters, key)
		return true
	}
	return false
}

// removeTask drops any registration held by t. Used on abort.
func (p *parker) removeTask(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.parkKey == nil {
		return
	}
	if w, ok := p.waiters[t.parkKey]; ok && w.t == t {
		delete(p.waiters, t.parkKey)
	}
}

func (p *parker) permitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.permits)
}

func (p *parker) waitingOn(t *task) WaitKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.waiters[t.parkKey]; ok && w.t == t {
		return t.parkKey
	}
	return nil
}

// wake makes a registered task runnable again. The caller must have removed
// the registration, which makes it the only waker for this park.
func (s *Scheduler) wake(t *task) {
	for {
		switch t.parkState.Load() {
		case parkPending:
			if t.parkState.CompareAndSwap(parkPending, parkNotified) {
				return
			}
		case parkParked:
			if t.parkState.CompareAndSwap(parkParked, parkIdle) {
				s.resumeSuspended(t)
				return
			}
		case parkPinned:
			if t.parkState.CompareAndSwap(parkPinned, parkIdle) {
				t.resume <- resumeSignal{}
				return
			}
		default:
			return
		}
	}
}

// park suspends the current task until key is unparked. When interruptible
// is set, cancelling ctx (or the task) also wakes it and park returns the
// cancellation error. A pinned task waits in place and keeps its carrier.
func (s *Scheduler) park(ctx context.Context, t *task, key WaitKey, interruptible bool) error {
	t.checkAbort()
	if interruptible {
		if err := t.cancelErr(ctx); err != nil {
			return err
		}
	}

	pinned := t.pinDepth > 0
	registered, err := s.parker.registerTask(t, key, pinned)
	if err != nil {
		if IsCancelled(err) {
			t.checkAbort()
		}
		return err
	}
	if !registered {
		return nil
	}

	t.parks.Add(1)
	stop := func() bool { return false }
	if interruptible {
		stop = context.AfterFunc(ctx, func() { s.parker.interrupt(key, t) })
	}

	if !pinned {
		t.handback <- handoffPark
	}
	t.waitResume()
	stop()

	if interruptible && t.wokenBy.Load() == wokenByInterrupt {
		if err := t.cancelErr(ctx); err != nil {
			return err
		}
		return ErrCancelled
	}
	return nil
}

// commitPark runs on the carrier after a task handed back with handoffPark.
func (s *Scheduler) commitPark(t *task, w *worker) {
	t.requeues = 0
	t.setState(TaskStateSuspended)
	t.parkedAt.Store(time.Now().UnixNano())
	s.suspended.Add(1)
	if t.parkState.CompareAndSwap(parkPending, parkParked) {
		return
	}
	// the wake arrived before the carrier let go
	t.parkState.Store(parkIdle)
	s.suspended.Add(-1)
	t.setState(TaskStateRunnable)
	s.enqueue(t, w.id)
}

func (s *Scheduler) resumeSuspended(t *task) {
	s.suspended.Add(-1)
	t.reported.Store(false)
	t.setState(TaskStateRunnable)
	s.enqueue(t, int(t.lastWorker.Load()))
}

// =============================================================================
// Public park/unpark
// =============================================================================

// Park blocks until Unpark(key) is called on the task's scheduler. A pending
// permit for key is consumed without blocking. Inside a task the carrier is
// released while waiting; outside a task the calling goroutine blocks on
// the scheduler attached with WithScheduler.
//
// Park returns ErrCancelled if the task is cancelled, ctx's error if ctx is
// done first, and ErrWaitKeyInUse if another waiter holds key.
func Park(ctx context.Context, key WaitKey) error {
	if t := taskFromContext(ctx); t != nil {
		return t.s.park(ctx, t, key, true)
	}
	s := schedulerFromContext(ctx)
	if s == nil {
		return ErrNotStarted
	}
	return s.parkExternal(ctx, key)
}

func (s *Scheduler) parkExternal(ctx context.Context, key WaitKey) error {
	ch, registered, err := s.parker.registerChan(key)
	if err != nil || !registered {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		if s.parker.cancelChan(key, ch) {
			return ctx.Err()
		}
		return nil
	}
}

// Unpark wakes the waiter parked on key, or leaves a permit if there is none.
// Repeated unparks without an intervening park leave a single permit.
func (s *Scheduler) Unpark(key WaitKey) {
	s.parker.unpark(key)
}

// ParkOn parks the current goroutine or task on s. It is Park for callers
// that hold the scheduler rather than a context carrying it.
func (s *Scheduler) ParkOn(ctx context.Context, key WaitKey) error {
	if t := taskFromContext(ctx); t != nil && t.s == s {
		return s.park(ctx, t, key, true)
	}
	return s.parkExternal(ctx, key)
}
