package core

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Yield gives up the carrier and requeues the current task at the tail of
// the global queue. It is a no-op outside a task and inside a pinned region.
// It returns ErrCancelled if the task has been cancelled.
func Yield(ctx context.Context) error {
	t := taskFromContext(ctx)
	if t == nil {
		return nil
	}
	return t.s.yield(t)
}

func (s *Scheduler) yield(t *task) error {
	t.checkAbort()
	if t.pinDepth > 0 {
		return nil
	}
	if t.cancelRequested.Load() {
		return ErrCancelled
	}
	t.yields.Add(1)
	t.handback <- handoffYield
	t.waitResume()
	if t.cancelRequested.Load() {
		return ErrCancelled
	}
	return nil
}

// ShouldYield reports whether the current slice has used up the fairness
// quota. It is always false when the quota is disabled.
func ShouldYield(ctx context.Context) bool {
	t := taskFromContext(ctx)
	if t == nil || t.pinDepth > 0 || t.s.cfg.FairnessQuota <= 0 {
		return false
	}
	start := t.sliceStart.Load()
	return start != 0 && time.Since(time.Unix(0, start)) >= t.s.cfg.FairnessQuota
}

// Checkpoint yields if the current slice has used up the fairness quota.
// Long CPU-bound loops call it so other tasks get a turn.
func Checkpoint(ctx context.Context) error {
	if !ShouldYield(ctx) {
		t := taskFromContext(ctx)
		if t != nil && t.cancelRequested.Load() {
			return ErrCancelled
		}
		return nil
	}
	return Yield(ctx)
}

// Sleep suspends the current task for d without holding its carrier.
// Outside a task it sleeps the calling goroutine. It returns early with an
// error if ctx is done or the task is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := taskFromContext(ctx)
	if t == nil {
		return sleepGoroutine(ctx, d)
	}
	if d <= 0 {
		return t.cancelErr(ctx)
	}
	s := t.s
	key := sleepKey{s: s, id: s.timerSeq.Add(1)}
	timerID := s.timers.AfterFunc(d, func() { s.Unpark(key) })
	if err := s.park(ctx, t, key, true); err != nil {
		if !s.timers.Cancel(timerID) {
			// the timer already fired; take its unpark
			_ = s.park(ctx, t, key, false)
		}
		return err
	}
	return nil
}

func sleepGoroutine(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Offload runs fn on a separate goroutine and suspends the current task
// until it returns. Use it for calls that block at the OS level (cgo, file
// I/O, third-party clients without context support) so the carrier stays
// free. Panics in fn are returned as *PanicError. If the task is cancelled
// while waiting, Offload returns at once and fn's result is discarded.
func Offload[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	t := taskFromContext(ctx)
	if t == nil || t.pinDepth > 0 {
		return fn()
	}

	s := t.s
	key := offloadKey{s: s, id: s.timerSeq.Add(1)}

	const (
		running int32 = iota
		finished
		abandoned
	)
	var (
		state atomic.Int32
		value T
		err   error
	)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Value: rec, Stack: debug.Stack()}
			}
			if state.CompareAndSwap(running, finished) {
				s.Unpark(key)
			}
		}()
		value, err = fn()
	}()

	if perr := s.park(ctx, t, key, true); perr != nil {
		if state.CompareAndSwap(running, abandoned) {
			return zero, perr
		}
		_ = s.park(ctx, t, key, false)
		return zero, perr
	}
	return value, err
}

// Spawn submits work to the scheduler running the current task, preferring
// the current carrier. Outside a task it uses the scheduler attached with
// WithScheduler.
func Spawn(ctx context.Context, work Work, opts ...SubmitOption) (*Handle, error) {
	s := schedulerFromContext(ctx)
	if s == nil {
		return nil, ErrNotStarted
	}
	return s.Submit(work, append([]SubmitOption{WithParent(ctx)}, opts...)...)
}
