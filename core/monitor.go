package core

import (
	"time"
)

// monitor periodically rescues starving runnable tasks, reports pinned
// regions and suspensions that run too long, and samples queue depths.
func (s *Scheduler) monitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	deadlockEvery := s.cfg.DeadlockThreshold / 4
	var lastDeadlockScan time.Time

	for {
		select {
		case <-s.forceStop:
			return
		case now := <-ticker.C:
			s.promoteStarving(now)
			s.checkPinned(now)
			if now.Sub(lastDeadlockScan) >= deadlockEvery {
				lastDeadlockScan = now
				s.checkSuspended(now)
			}
			s.sampleQueues()
		}
	}
}

// promoteStarving moves tasks that have waited longer than the starvation
// threshold to the head of the global queue, taking them out of carrier
// deques where the owner's LIFO order could leave them behind indefinitely.
func (s *Scheduler) promoteStarving(now time.Time) {
	cutoff := now.Add(-s.cfg.StarvationThreshold).UnixNano()

	var stale []*task
	for _, w := range s.workers {
		stale = append(stale, w.local.TakeOlderThan(cutoff)...)
	}
	n := s.global.PromoteOlderThan(cutoff)
	if len(stale) > 0 {
		s.global.PushFrontAll(stale)
		s.notify()
	}
	if total := n + len(stale); total > 0 {
		s.promoted.Add(int64(total))
		s.starvation.Add(int64(total))
		s.logger.Debug("promoted starving tasks",
			F("scheduler", s.name),
			F("count", total),
		)
	}
}

func (s *Scheduler) checkPinned(now time.Time) {
	for _, v := range s.pins.overdue(now, s.cfg.PinnedThreshold) {
		s.diagnostics.HandleDiagnostic(s.name, v)
	}
}

// checkSuspended reports tasks parked for longer than the deadlock
// threshold. Each suspension is reported once.
func (s *Scheduler) checkSuspended(now time.Time) {
	threshold := s.cfg.DeadlockThreshold
	s.registry.Range(func(_, v any) bool {
		t := v.(*task)
		if t.parkState.Load() != parkParked {
			return true
		}
		parkedAt := t.parkedAt.Load()
		waited := now.Sub(time.Unix(0, parkedAt))
		if parkedAt == 0 || waited < threshold {
			return true
		}
		if !t.reported.CompareAndSwap(false, true) {
			return true
		}
		s.diagnostics.HandleDiagnostic(s.name, &StarvationDiagnostic{
			TaskID:   t.id,
			TaskName: t.name,
			Key:      s.parker.waitingOn(t),
			Waited:   waited,
		})
		return true
	})
}

func (s *Scheduler) sampleQueues() {
	s.metrics.RecordQueueDepth(s.name, "global", s.global.Len())
	local := 0
	for _, w := range s.workers {
		local += w.local.Len()
	}
	s.metrics.RecordQueueDepth(s.name, "local", local)
}
