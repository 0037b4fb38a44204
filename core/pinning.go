package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type pinRecord struct {
	t        *task
	workerID int
	start    time.Time
	reported bool
}

// pinTracker counts carriers held by pinned tasks and accumulates how long
// they were held.
type pinTracker struct {
	pinned     atomic.Int64
	total      atomic.Int64
	violations atomic.Int64

	mu     sync.Mutex
	active map[TaskID]*pinRecord
}

func newPinTracker() *pinTracker {
	return &pinTracker{active: make(map[TaskID]*pinRecord)}
}

func (p *pinTracker) enter(t *task, workerID int, now time.Time) {
	p.pinned.Add(1)
	p.mu.Lock()
	p.active[t.id] = &pinRecord{t: t, workerID: workerID, start: now}
	p.mu.Unlock()
}

// exit returns whether the monitor already reported this region as ongoing.
func (p *pinTracker) exit(t *task, d time.Duration) (reported bool) {
	p.mu.Lock()
	if rec, ok := p.active[t.id]; ok {
		reported = rec.reported
		delete(p.active, t.id)
	}
	p.mu.Unlock()
	p.total.Add(int64(d))
	p.pinned.Add(-1)
	return reported
}

// overdue returns the regions that have exceeded threshold and were not
// reported before, marking them reported.
func (p *pinTracker) overdue(now time.Time, threshold time.Duration) []*PinningViolation {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*PinningViolation
	for _, rec := range p.active {
		held := now.Sub(rec.start)
		if rec.reported || held <= threshold {
			continue
		}
		rec.reported = true
		out = append(out, &PinningViolation{
			TaskID:    rec.t.id,
			TaskName:  rec.t.name,
			WorkerID:  rec.workerID,
			Duration:  held,
			Threshold: threshold,
			Ongoing:   true,
		})
	}
	return out
}

func (p *pinTracker) Count() int           { return int(p.pinned.Load()) }
func (p *pinTracker) Total() time.Duration { return time.Duration(p.total.Load()) }
func (p *pinTracker) Violations() int64    { return p.violations.Load() }

// enterPinned marks the start of a region that holds the carrier. Nested
// regions count once.
func (s *Scheduler) enterPinned(t *task) {
	t.pinDepth++
	if t.pinDepth > 1 {
		return
	}
	now := time.Now()
	t.pinStart = now
	t.setState(TaskStatePinned)
	s.pins.enter(t, int(t.lastWorker.Load()), now)
}

func (s *Scheduler) exitPinned(t *task) {
	t.pinDepth--
	if t.pinDepth > 0 {
		return
	}
	d := time.Since(t.pinStart)
	reported := s.pins.exit(t, d)
	t.pinnedTime.Add(int64(d))
	t.setState(TaskStateRunning)

	violation := d > s.cfg.PinnedThreshold
	s.metrics.RecordPinned(s.name, d, violation)
	if !violation {
		return
	}
	s.pins.violations.Add(1)
	if reported {
		return
	}
	s.diagnostics.HandleDiagnostic(s.name, &PinningViolation{
		TaskID:    t.id,
		TaskName:  t.name,
		WorkerID:  int(t.lastWorker.Load()),
		Duration:  d,
		Threshold: s.cfg.PinnedThreshold,
	})
}

// Pin runs fn with the current task pinned to its carrier: the task cannot
// yield and any park inside fn blocks the carrier instead of releasing it.
// The pinned count is restored even if fn panics. Outside a task fn simply
// runs.
func Pin(ctx context.Context, fn func() error) error {
	t := taskFromContext(ctx)
	if t == nil {
		return fn()
	}
	t.s.enterPinned(t)
	defer t.s.exitPinned(t)
	return fn()
}

// LockPinned acquires l, runs fn and releases l, with the task pinned for
// the whole time. It is how code that must hold an OS-level lock across a
// blocking call runs on a carrier.
func LockPinned(ctx context.Context, l sync.Locker, fn func() error) error {
	return Pin(ctx, func() error {
		l.Lock()
		defer l.Unlock()
		return fn()
	})
}

// IsPinned reports whether the task running with ctx is inside a pinned region.
func IsPinned(ctx context.Context) bool {
	t := taskFromContext(ctx)
	return t != nil && t.pinDepth > 0
}
