package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Scheduler runs tasks on a fixed pool of carriers. Tasks that block through
// this package's primitives release their carrier and are resumed later,
// possibly on another carrier.
type Scheduler struct {
	cfg  Config
	name string

	logger       Logger
	panicHandler PanicHandler
	metrics      Metrics
	rejected     RejectedTaskHandler
	diagnostics  DiagnosticHandler

	global  globalQueue
	workers []*worker
	signal  chan struct{}

	parker  *parker
	timers  *DelayManager
	pins    *pinTracker
	locals  *localStore
	history executionHistory

	registry sync.Map // TaskID -> *task, every non-terminal task
	nextID   atomic.Uint64
	timerSeq atomic.Uint64

	submitted     atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
	cancelled     atomic.Int64
	inflight      atomic.Int64
	stolen        atomic.Int64
	yields        atomic.Int64
	promoted      atomic.Int64
	suspended     atomic.Int64
	activeWorkers atomic.Int64
	starvation    atomic.Int64
	rejectedCount atomic.Int64

	// Lifecycle
	stateMu      sync.Mutex
	started      bool
	baseCtx      context.Context
	submitMu     sync.RWMutex
	closed       atomic.Bool
	forceStop    chan struct{}
	drained      chan struct{}
	drainOnce    sync.Once
	stopped      chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
	wg           sync.WaitGroup
}

// New creates a scheduler. It does not start any goroutine besides the
// timer goroutine; tasks submitted before Start wait in the global queue.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	name := cfg.Name
	if name == "" {
		name = "vthread-" + uuid.NewString()[:8]
	}

	s := &Scheduler{
		cfg:          cfg,
		name:         name,
		logger:       cfg.Logger,
		panicHandler: cfg.PanicHandler,
		metrics:      cfg.Metrics,
		rejected:     cfg.RejectedTaskHandler,
		diagnostics:  cfg.DiagnosticHandler,
		signal:       make(chan struct{}, cfg.WorkerCount*2),
		timers:       NewDelayManager(),
		pins:         newPinTracker(),
		locals:       newLocalStore(),
		history:      newExecutionHistory(cfg.HistoryCapacity),
		baseCtx:      context.Background(),
		forceStop:    make(chan struct{}),
		drained:      make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	s.parker = newParker(s)
	s.workers = make([]*worker, cfg.WorkerCount)
	for i := range s.workers {
		s.workers[i] = &worker{id: i, s: s}
	}
	return s, nil
}

// Start launches the carriers and the monitor. ctx becomes the parent of
// every task context: its values are visible to tasks and cancelling it
// cancels them. Shutdown, not ctx, stops the carriers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if s.closed.Load() {
		return ErrSchedulerClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.baseCtx = WithScheduler(ctx, s)
	s.started = true

	for _, w := range s.workers {
		s.wg.Add(1)
		go w.run()
	}
	s.wg.Add(1)
	go s.monitor()

	s.logger.Info("scheduler started",
		F("scheduler", s.name),
		F("workers", len(s.workers)),
	)
	return nil
}

func (s *Scheduler) baseContext() context.Context {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.baseCtx
}

// Name returns the scheduler's name.
func (s *Scheduler) Name() string { return s.name }

// Config returns the effective configuration, defaults applied.
func (s *Scheduler) Config() Config { return s.cfg }

// =============================================================================
// Submission
// =============================================================================

// SubmitOption customizes a submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	name   string
	parent context.Context
}

// WithName labels the task in logs, history and diagnostics.
func WithName(name string) SubmitOption {
	return func(o *submitOptions) { o.name = name }
}

// WithParent marks the submission as coming from the task running with ctx,
// so the child is queued on the same carrier when affinity allows.
func WithParent(ctx context.Context) SubmitOption {
	return func(o *submitOptions) { o.parent = ctx }
}

// Submit creates a task for work and makes it runnable. It fails with
// ErrSchedulerClosed once Shutdown has begun.
func (s *Scheduler) Submit(work Work, opts ...SubmitOption) (*Handle, error) {
	if work == nil {
		return nil, ErrNilWork
	}
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.submitMu.RLock()
	if s.closed.Load() {
		s.submitMu.RUnlock()
		s.rejectedCount.Add(1)
		s.rejected.HandleRejectedTask(s.name, "shutting down")
		s.metrics.RecordTaskRejected(s.name, "shutting down")
		return nil, ErrSchedulerClosed
	}
	id := TaskID(s.nextID.Add(1))
	name := o.name
	if name == "" {
		name = id.String()
	}
	t := newTask(s, id, name, work)
	s.registry.Store(id, t)
	s.submitted.Add(1)
	s.inflight.Add(1)
	s.submitMu.RUnlock()

	t.setState(TaskStateRunnable)

	hint := -1
	if parent := taskFromContext(o.parent); parent != nil && parent.s == s {
		hint = int(parent.lastWorker.Load())
	}
	s.enqueue(t, hint)
	return &Handle{t: t}, nil
}

// SubmitNamed is Submit with WithName(name).
func (s *Scheduler) SubmitNamed(name string, work Work) (*Handle, error) {
	return s.Submit(work, WithName(name))
}

// SubmitFunc submits a function without a result value.
func (s *Scheduler) SubmitFunc(fn func(ctx context.Context) error, opts ...SubmitOption) (*Handle, error) {
	if fn == nil {
		return nil, ErrNilWork
	}
	return s.Submit(func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	}, opts...)
}

// enqueue makes t available to carriers, on the hinted carrier's deque
// when affinity is enabled and that deque is not overloaded.
func (s *Scheduler) enqueue(t *task, hint int) {
	if s.cfg.AffinityEnabled && hint >= 0 && hint < len(s.workers) {
		if s.workers[hint].local.TryPush(t, s.cfg.AffinityMaxQueueDepth) {
			s.notify()
			return
		}
	}
	s.global.PushBack(t)
	s.notify()
}

func (s *Scheduler) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full; idle carriers also poll
	}
}

// requeueYield puts a yielding task at the tail of the global queue, or at
// its head once it has yielded StarvationRequeueLimit times in a row.
func (s *Scheduler) requeueYield(t *task) {
	t.setState(TaskStateRunnable)
	s.yields.Add(1)
	t.requeues++
	if s.cfg.StarvationRequeueLimit > 0 && t.requeues >= s.cfg.StarvationRequeueLimit {
		t.requeues = 0
		s.promoted.Add(1)
		s.global.PushFront(t)
	} else {
		s.global.PushBack(t)
	}
	s.notify()
}

// =============================================================================
// Completion
// =============================================================================

func (s *Scheduler) onTerminal(t *task) {
	s.registry.Delete(t.id)
	s.locals.clear(t.id)

	rec := t.record(time.Now())
	outcome := "completed"
	switch {
	case rec.Err == nil:
		s.completed.Add(1)
	case IsCancelled(rec.Err) || (t.cancelRequested.Load() && errors.Is(rec.Err, context.Canceled)):
		outcome = "cancelled"
		s.failed.Add(1)
		s.cancelled.Add(1)
	default:
		outcome = "failed"
		s.failed.Add(1)
	}
	s.history.Add(rec)
	s.metrics.RecordTaskDuration(s.name, outcome, rec.WallTime)

	if s.inflight.Add(-1) == 0 && s.closed.Load() {
		s.signalDrained()
	}
}

func (s *Scheduler) signalDrained() {
	s.drainOnce.Do(func() { close(s.drained) })
}

func (s *Scheduler) reportPanic(t *task, rec any, stack []byte) {
	s.metrics.RecordTaskPanic(s.name, rec)
	s.logger.Error("task panicked",
		F("scheduler", s.name),
		F("task", t.id),
		F("name", t.name),
		F("panic", rec),
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic handler panicked", F("scheduler", s.name), F("panic", r))
			}
		}()
		s.panicHandler.HandlePanic(t.ctx, s.name, int(t.lastWorker.Load()), rec, stack)
	}()
}

// invariant reports a bookkeeping violation.
func (s *Scheduler) invariant(format string, args ...any) {
	v := &InvariantViolation{Msg: fmt.Sprintf(format, args...)}
	if s.cfg.StrictInvariants {
		panic(v)
	}
	s.logger.Error("invariant violation", F("scheduler", s.name), F("detail", v.Msg))
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown stops accepting work and waits up to drainTimeout for in-flight
// tasks to finish. On timeout the remaining tasks are cancelled and the
// returned error wraps ErrDrainTimeout. Shutdown is idempotent; concurrent
// and later calls wait for the first one and return its result.
func (s *Scheduler) Shutdown(drainTimeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(drainTimeout)
		close(s.stopped)
	})
	<-s.stopped
	return s.shutdownErr
}

// Close is Shutdown with the configured DrainTimeout.
func (s *Scheduler) Close() error {
	return s.Shutdown(s.cfg.DrainTimeout)
}

// Stopped is closed once Shutdown has completed.
func (s *Scheduler) Stopped() <-chan struct{} { return s.stopped }

func (s *Scheduler) shutdown(drainTimeout time.Duration) error {
	s.submitMu.Lock()
	s.closed.Store(true)
	s.submitMu.Unlock()

	s.stateMu.Lock()
	started := s.started
	s.stateMu.Unlock()

	s.logger.Info("scheduler shutting down",
		F("scheduler", s.name),
		F("in_flight", s.inflight.Load()),
		F("drain_timeout", drainTimeout),
	)

	if s.inflight.Load() == 0 {
		s.signalDrained()
	}

	var err error
	if started {
		timer := time.NewTimer(drainTimeout)
		select {
		case <-s.drained:
		case <-timer.C:
			err = ErrDrainTimeout
		}
		timer.Stop()
	} else if s.inflight.Load() > 0 {
		err = ErrDrainTimeout
	}

	close(s.forceStop)
	s.wg.Wait()
	s.timers.Stop()

	if err == nil {
		s.logger.Info("scheduler stopped", F("scheduler", s.name))
		return nil
	}

	n := s.abortAll()
	s.logger.Warn("drain timeout, remaining tasks cancelled",
		F("scheduler", s.name),
		F("cancelled", n),
	)
	return errors.Wrapf(ErrDrainTimeout, "%d tasks cancelled after %s", n, drainTimeout)
}

// abortAll cancels every non-terminal task. Carriers have exited, so the
// only other parties are task goroutines and wakers.
func (s *Scheduler) abortAll() int {
	n := 0
	s.registry.Range(func(_, v any) bool {
		if s.abort(v.(*task)) {
			n++
		}
		return true
	})

	s.global.Clear()
	for _, w := range s.workers {
		w.local.Clear()
	}
	return n
}

func (s *Scheduler) abort(t *task) bool {
	t.aborted.Store(true)
	s.parker.removeTask(t)
	if t.parkState.Swap(parkIdle) == parkParked {
		s.suspended.Add(-1)
	}

	if !t.finish(nil, ErrCancelled) {
		return false
	}

	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if started {
		select {
		case t.resume <- resumeSignal{abort: true}:
		default:
		}
	}
	return true
}

// =============================================================================
// Context Helper
// =============================================================================

type schedulerKeyType struct{}

var schedulerKey schedulerKeyType

// WithScheduler attaches s to ctx. Task contexts carry their scheduler
// already; this is for goroutines outside the scheduler that call Park.
func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey, s)
}

func schedulerFromContext(ctx context.Context) *Scheduler {
	if t := taskFromContext(ctx); t != nil {
		return t.s
	}
	if v := ctx.Value(schedulerKey); v != nil {
		return v.(*Scheduler)
	}
	return nil
}

// FromContext returns the scheduler attached to ctx, if any.
func FromContext(ctx context.Context) (*Scheduler, bool) {
	s := schedulerFromContext(ctx)
	return s, s != nil
}
