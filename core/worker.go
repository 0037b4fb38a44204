package core

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// worker is a carrier: one goroutine that runs tasks one slice at a time.
// It owns the back of its deque; other carriers steal from the front.
type worker struct {
	id    int
	s     *Scheduler
	local workDeque

	current  atomic.Pointer[task]
	executed atomic.Int64
	stolen   atomic.Int64
}

// run is the main loop for each carrier
func (w *worker) run() {
	defer w.s.wg.Done()

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case <-w.s.forceStop:
			return
		default:
		}

		if t := w.findRunnable(); t != nil {
			w.execute(t)
			continue
		}

		idle.Reset(w.s.cfg.IdlePollInterval)
		select {
		case <-w.s.forceStop:
			return
		case <-w.s.signal:
		case <-idle.C:
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
	}
}

// findRunnable looks at the local deque, then the global queue, then the
// other carriers' deques starting from a random victim.
func (w *worker) findRunnable() *task {
	if t := w.local.Pop(); t != nil {
		return t
	}
	if t := w.s.global.Pop(); t != nil {
		return t
	}
	return w.steal()
}

func (w *worker) steal() *task {
	workers := w.s.workers
	n := len(workers)
	if n < 2 {
		return nil
	}
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		victim := workers[(start+i)%n]
		if victim == w {
			continue
		}
		if t := victim.local.Steal(); t != nil {
			w.stolen.Add(1)
			w.s.stolen.Add(1)
			w.s.metrics.RecordSteal(w.s.name)
			return t
		}
	}
	return nil
}

// execute hands the baton to t and waits for it to come back.
func (w *worker) execute(t *task) {
	s := w.s

	ok, first := t.claim(s.baseContext())
	if !ok {
		if st := t.State(); !st.IsTerminal() {
			s.invariant("task %s dequeued in state %s", t.id, st)
		}
		return
	}
	if first && t.cancelRequested.Load() {
		t.finish(nil, ErrCancelled)
		return
	}

	if n := t.running.Add(1); n > 1 {
		t.running.Add(-1)
		s.invariant("task %s run by two carriers", t.id)
		return
	}

	w.current.Store(t)
	s.activeWorkers.Add(1)
	t.lastWorker.Store(int32(w.id))
	start := time.Now()
	t.sliceStart.Store(start.UnixNano())
	t.slices.Add(1)

	if first {
		t.startedAt.Store(start.UnixNano())
		go t.main()
	} else {
		t.resume <- resumeSignal{}
	}

	var kind handoffKind
	select {
	case kind = <-t.handback:
	case <-s.forceStop:
		// the task keeps running unattended and is aborted by Shutdown
		w.release(t)
		return
	}

	t.runTime.Add(int64(time.Since(start)))
	w.release(t)
	w.executed.Add(1)

	switch kind {
	case handoffPark:
		s.commitPark(t, w)
	case handoffYield:
		s.requeueYield(t)
	case handoffDone:
	}
}

func (w *worker) release(t *task) {
	t.sliceStart.Store(0)
	t.running.Add(-1)
	w.current.Store(nil)
	w.s.activeWorkers.Add(-1)
}
