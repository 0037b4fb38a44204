package core

import (
	"sync"
)

const defaultTaskHistoryCapacity = 100

type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == 0 {
		return
	}

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskExecutionRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// =============================================================================
// Scheduler accessors
// =============================================================================

// RecentTasks returns up to limit finished tasks, newest first. limit <= 0
// returns everything retained.
func (s *Scheduler) RecentTasks(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// LastTask returns the most recently finished task.
func (s *Scheduler) LastTask() (TaskExecutionRecord, bool) {
	return s.history.Last()
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.stateMu.Lock()
	started := s.started
	s.stateMu.Unlock()

	runnable := s.global.Len()
	for _, w := range s.workers {
		runnable += w.local.Len()
	}
	active := int(s.activeWorkers.Load())
	pinned := s.pins.Count()

	return Stats{
		Name:               s.name,
		Workers:            len(s.workers),
		ActiveWorkers:      active,
		RunningCount:       max(active-pinned, 0),
		RunnableCount:      runnable,
		SuspendedCount:     int(s.suspended.Load()),
		PinnedCount:        pinned,
		SubmittedCount:     s.submitted.Load(),
		CompletedCount:     s.completed.Load(),
		FailedCount:        s.failed.Load(),
		CancelledCount:     s.cancelled.Load(),
		RejectedCount:      s.rejectedCount.Load(),
		InFlight:           s.inflight.Load(),
		StolenCount:        s.stolen.Load(),
		YieldCount:         s.yields.Load(),
		PromotedCount:      s.promoted.Load(),
		StarvationWarnings: s.starvation.Load(),
		PinnedDuration:     s.pins.Total(),
		PinningViolations:  s.pins.Violations(),
		DelayedCount:       s.timers.TaskCount(),
		PendingPermits:     s.parker.permitCount(),
		LocalSlots:         s.locals.Len(),
		Started:            started,
		Closed:             s.closed.Load(),
	}
}

// WorkerStats returns one entry per carrier.
func (s *Scheduler) WorkerStats() []WorkerStats {
	out := make([]WorkerStats, len(s.workers))
	for i, w := range s.workers {
		ws := WorkerStats{
			ID:          w.id,
			QueueLength: w.local.Len(),
			Executed:    w.executed.Load(),
			Stolen:      w.stolen.Load(),
		}
		if t := w.current.Load(); t != nil {
			ws.CurrentTask = t.id
		}
		out[i] = ws
	}
	return out
}
