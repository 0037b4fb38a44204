package core

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Work is the body of a task. ctx is cancelled by Handle.Cancel and carries
// the task, so the blocking helpers in this package (Park, Sleep, Yield,
// Mutex, Await, ...) suspend the task instead of its carrier.
type Work func(ctx context.Context) (any, error)

// TaskID identifies a task within its scheduler. IDs are never reused.
type TaskID uint64

func (id TaskID) String() string { return fmt.Sprintf("task-%d", uint64(id)) }

// TaskState is the lifecycle state of a task.
type TaskState int32

const (
	TaskStateCreated TaskState = iota
	TaskStateRunnable
	TaskStateRunning
	TaskStateSuspended
	TaskStatePinned
	TaskStateCompleted
	TaskStateFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskStateCreated:
		return "created"
	case TaskStateRunnable:
		return "runnable"
	case TaskStateRunning:
		return "running"
	case TaskStateSuspended:
		return "suspended"
	case TaskStatePinned:
		return "pinned"
	case TaskStateCompleted:
		return "completed"
	case TaskStateFailed:
		return "failed"
	}
	return fmt.Sprintf("TaskState(%d)", int32(s))
}

// IsTerminal reports whether the state is Completed or Failed.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// Result is the outcome of a finished task.
type Result struct {
	Value any
	Err   error
	State TaskState
}

// Cancelled reports whether the task ended by cancellation.
func (r Result) Cancelled() bool { return IsCancelled(r.Err) }

// =============================================================================
// Carrier handoff
// =============================================================================

type handoffKind int

const (
	handoffPark handoffKind = iota
	handoffYield
	handoffDone
)

type resumeSignal struct {
	abort bool
}

// =============================================================================
// task
// =============================================================================

type completionCallback struct {
	id uint64
	fn func(Result)
}

type task struct {
	id   TaskID
	name string
	work Work
	s    *Scheduler

	mu        sync.Mutex
	state     TaskState
	started   bool
	ctx       context.Context
	cancelFn  context.CancelFunc
	result    Result
	callbacks []completionCallback
	nextCB    uint64
	done      chan struct{}

	// resume carries the baton from a carrier (or a waker, for pinned waits)
	// to the task goroutine. handback returns it. Both hold at most one signal.
	resume   chan resumeSignal
	handback chan handoffKind

	parkState atomic.Int32
	parkKey   WaitKey // guarded by parker.mu
	parkedAt  atomic.Int64
	wokenBy   atomic.Int32
	reported  atomic.Bool

	lastWorker atomic.Int32
	enqueuedAt atomic.Int64
	sliceStart atomic.Int64
	requeues   int // carrier-owned, serialized by the baton

	pinDepth int // task goroutine only
	pinStart time.Time

	cancelRequested atomic.Bool
	aborted         atomic.Bool
	running         atomic.Int32

	submittedAt time.Time
	startedAt   atomic.Int64
	runTime     atomic.Int64
	slices      atomic.Int32
	parks       atomic.Int32
	yields      atomic.Int32
	pinnedTime  atomic.Int64
	panicked    atomic.Bool
}

func newTask(s *Scheduler, id TaskID, name string, work Work) *task {
	t := &task{
		id:          id,
		name:        name,
		work:        work,
		s:           s,
		state:       TaskStateCreated,
		done:        make(chan struct{}),
		resume:      make(chan resumeSignal, 1),
		handback:    make(chan handoffKind, 1),
		submittedAt: time.Now(),
	}
	t.lastWorker.Store(-1)
	return t
}

func (t *task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState moves a live task between non-terminal states.
func (t *task) setState(state TaskState) {
	t.mu.Lock()
	if !t.state.IsTerminal() {
		t.state = state
	}
	t.mu.Unlock()
}

// claim moves a dequeued task from Runnable to Running. first is true when
// the task has never run, in which case its context is created here.
func (t *task) claim(base context.Context) (ok bool, first bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TaskStateRunnable {
		return false, false
	}
	t.state = TaskStateRunning
	if !t.started {
		t.started = true
		first = true
		ctx, cancel := context.WithCancel(base)
		t.ctx = context.WithValue(ctx, taskKey, t)
		t.cancelFn = cancel
	}
	return true, first
}

// main is the body of the task goroutine.
func (t *task) main() {
	var (
		value    any
		err      error
		returned bool
	)
	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			err = &PanicError{Value: rec, Stack: stack}
			t.panicked.Store(true)
			t.s.reportPanic(t, rec, stack)
		} else if !returned {
			// runtime.Goexit from an abort or from user code
			err = ErrCancelled
		}
		t.finish(value, err)
		if t.aborted.Load() {
			return
		}
		t.handback <- handoffDone
	}()

	value, err = t.work(t.ctx)
	returned = true
}

// finish records the terminal result once. It reports whether this call
// was the one that terminated the task.
func (t *task) finish(value any, err error) bool {
	t.mu.Lock()
	if t.state.IsTerminal() {
		t.mu.Unlock()
		return false
	}
	cbs := t.terminateLocked(value, err)
	t.mu.Unlock()

	t.afterTerminal(cbs)
	return true
}

func (t *task) terminateLocked(value any, err error) []completionCallback {
	state := TaskStateCompleted
	if err != nil {
		state = TaskStateFailed
	}
	t.result = Result{Value: value, Err: err, State: state}
	t.state = state
	cbs := t.callbacks
	t.callbacks = nil
	return cbs
}

// afterTerminal settles the scheduler's books before done is closed, so an
// awaiter that wakes up sees consistent Stats.
func (t *task) afterTerminal(cbs []completionCallback) {
	t.mu.Lock()
	cancel := t.cancelFn
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	t.s.onTerminal(t)
	close(t.done)

	for _, cb := range cbs {
		t.runCallback(cb.fn)
	}
}

func (t *task) runCallback(fn func(Result)) {
	defer func() {
		if rec := recover(); rec != nil {
			t.s.logger.Error("completion callback panicked",
				F("scheduler", t.s.name),
				F("task", t.id),
				F("panic", rec),
			)
		}
	}()
	fn(t.result)
}

// addCallback registers fn to run on completion. If the task is already
// terminal it returns false and fn is not registered.
func (t *task) addCallback(fn func(Result)) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return 0, false
	}
	t.nextCB++
	t.callbacks = append(t.callbacks, completionCallback{id: t.nextCB, fn: fn})
	return t.nextCB, true
}

// removeCallback unregisters a callback. It returns false when the callback
// has already been taken by finish.
func (t *task) removeCallback(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cb := range t.callbacks {
		if cb.id == id {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

func (t *task) terminalResult() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.state.IsTerminal()
}

// requestCancel cancels the task context. A task that has not started yet
// is finished immediately without running.
func (t *task) requestCancel() {
	t.cancelRequested.Store(true)

	t.mu.Lock()
	if t.state == TaskStateRunnable && !t.started {
		cbs := t.terminateLocked(nil, ErrCancelled)
		t.mu.Unlock()
		t.afterTerminal(cbs)
		return
	}
	cancel := t.cancelFn
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// checkAbort terminates the task goroutine if the scheduler has aborted it.
func (t *task) checkAbort() {
	if t.aborted.Load() {
		runtime.Goexit()
	}
}

// waitResume blocks the task goroutine until it is handed the baton again.
func (t *task) waitResume() {
	sig := <-t.resume
	if sig.abort {
		runtime.Goexit()
	}
	t.checkAbort()
}

func (t *task) cancelErr(ctx context.Context) error {
	if t.cancelRequested.Load() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (t *task) record(finishedAt time.Time) TaskExecutionRecord {
	var startedAt time.Time
	if ns := t.startedAt.Load(); ns != 0 {
		startedAt = time.Unix(0, ns)
	}
	run := time.Duration(t.runTime.Load())
	if ns := t.sliceStart.Load(); ns != 0 && t.running.Load() > 0 {
		run += finishedAt.Sub(time.Unix(0, ns))
	}
	return TaskExecutionRecord{
		TaskID:        t.id,
		Name:          t.name,
		SchedulerName: t.s.name,
		State:         t.result.State,
		Err:           t.result.Err,
		SubmittedAt:   t.submittedAt,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		WallTime:      finishedAt.Sub(t.submittedAt),
		RunTime:       run,
		Slices:        int(t.slices.Load()),
		Parks:         int(t.parks.Load()),
		Yields:        int(t.yields.Load()),
		PinnedTime:    time.Duration(t.pinnedTime.Load()),
		Panicked:      t.panicked.Load(),
	}
}

// =============================================================================
// Context Helper
// =============================================================================

type taskKeyType struct{}

var taskKey taskKeyType

func taskFromContext(ctx context.Context) *task {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(taskKey); v != nil {
		return v.(*task)
	}
	return nil
}

// TaskInfo describes the task a context belongs to.
type TaskInfo struct {
	ID        TaskID
	Name      string
	Scheduler string
	WorkerID  int
}

// CurrentTask returns the task running with ctx, if any.
func CurrentTask(ctx context.Context) (TaskInfo, bool) {
	t := taskFromContext(ctx)
	if t == nil {
		return TaskInfo{}, false
	}
	return TaskInfo{
		ID:        t.id,
		Name:      t.name,
		Scheduler: t.s.name,
		WorkerID:  int(t.lastWorker.Load()),
	}, true
}

// InTask reports whether ctx belongs to a running task.
func InTask(ctx context.Context) bool {
	return taskFromContext(ctx) != nil
}
