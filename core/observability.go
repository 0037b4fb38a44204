package core

import "time"

// TaskExecutionRecord captures a finished task.
type TaskExecutionRecord struct {
	TaskID        TaskID
	Name          string
	SchedulerName string
	State         TaskState
	Err           error
	SubmittedAt   time.Time
	StartedAt     time.Time // zero if the task never ran
	FinishedAt    time.Time
	WallTime      time.Duration
	RunTime       time.Duration // time spent holding a carrier
	Slices        int
	Parks         int
	Yields        int
	PinnedTime    time.Duration
	Panicked      bool
}

// Stats is a point-in-time snapshot of a scheduler. Counters are read
// independently and may be mutually inconsistent by a few tasks while the
// scheduler is busy; once it is quiescent,
// SubmittedCount == CompletedCount + FailedCount + InFlight.
type Stats struct {
	Name    string
	Workers int

	// ActiveWorkers is the number of carriers currently holding a task.
	// RunningCount excludes the pinned ones.
	ActiveWorkers  int
	RunningCount   int
	RunnableCount  int
	SuspendedCount int
	PinnedCount    int

	SubmittedCount int64
	CompletedCount int64
	FailedCount    int64 // includes CancelledCount
	CancelledCount int64
	RejectedCount  int64
	InFlight       int64

	StolenCount        int64
	YieldCount         int64
	PromotedCount      int64
	StarvationWarnings int64

	PinnedDuration    time.Duration
	PinningViolations int64

	DelayedCount   int
	PendingPermits int
	LocalSlots     int

	Started bool
	Closed  bool
}

// PinnedRatio is the fraction of carriers held by pinned tasks.
func (s Stats) PinnedRatio() float64 {
	if s.Workers == 0 {
		return 0
	}
	return float64(s.PinnedCount) / float64(s.Workers)
}

// WorkerStats describes one carrier.
type WorkerStats struct {
	ID          int
	QueueLength int
	Executed    int64
	Stolen      int64
	CurrentTask TaskID // zero when idle
}
