package core

import (
	"context"

	"github.com/pkg/errors"
)

// Handle refers to a submitted task. It is safe for concurrent use and can
// be awaited any number of times.
type Handle struct {
	t *task
}

func (h *Handle) ID() TaskID       { return h.t.id }
func (h *Handle) Name() string     { return h.t.name }
func (h *Handle) State() TaskState { return h.t.State() }

// Done is closed when the task reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Result returns the task's outcome once it is terminal.
func (h *Handle) Result() (Result, bool) { return h.t.terminalResult() }

// Await waits for the task to finish and returns its value and error.
//
// Called from inside a task, Await parks the caller and frees its carrier.
// Called from an ordinary goroutine, it blocks that goroutine. Cancelling
// ctx returns ctx's error without affecting the awaited task.
func (h *Handle) Await(ctx context.Context) (any, error) {
	target := h.t
	if r, ok := target.terminalResult(); ok {
		return r.Value, r.Err
	}

	cur := taskFromContext(ctx)
	if cur == nil {
		select {
		case <-target.done:
			r, _ := target.terminalResult()
			return r.Value, r.Err
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		}
	}
	if cur == target {
		return nil, ErrSelfAwait
	}

	key := joinKey{target: target.id, waiter: cur.id, s: target.s}
	id, ok := target.addCallback(func(Result) { cur.s.Unpark(key) })
	if !ok {
		r, _ := target.terminalResult()
		return r.Value, r.Err
	}
	if err := cur.s.park(ctx, cur, key, true); err != nil {
		if !target.removeCallback(id) {
			// completion already fired; absorb its unpark
			_ = cur.s.park(ctx, cur, key, false)
		}
		return nil, err
	}
	r, _ := target.terminalResult()
	return r.Value, r.Err
}

// OnComplete registers fn to run once the task is terminal. If it already
// is, fn runs immediately on the calling goroutine. Callbacks run in
// registration order on the goroutine that finishes the task and must not
// block.
func (h *Handle) OnComplete(fn func(Result)) {
	if _, ok := h.t.addCallback(fn); !ok {
		h.t.runCallback(fn)
	}
}

// Cancel asks the task to stop. A task that has not started is finished
// as cancelled without running. A running task observes the cancellation
// through its context, and interruptible waits (Park, Sleep, Await,
// Semaphore.Acquire) return ErrCancelled.
func (h *Handle) Cancel() {
	h.t.requestCancel()
}
