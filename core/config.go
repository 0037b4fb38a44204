package core

import (
	"runtime"
	"time"

	"github.com/pkg/errors"
)

// Config holds configuration options for a Scheduler. Start from
// DefaultConfig and override fields.
//
// New fills zero durations, zero counts and nil handlers with their
// defaults, with three exceptions: FairnessQuota and
// StarvationRequeueLimit treat 0 as "disabled", and AffinityEnabled is a
// plain bool, so a bare Config{} runs without affinity.
type Config struct {
	// Name labels logs, metrics and diagnostics. Defaults to "vthread-<id>".
	Name string

	// WorkerCount is the number of carriers. Defaults to runtime.NumCPU().
	WorkerCount int

	// FairnessQuota is the run-time slice after which Checkpoint yields.
	// 0 disables the quota: ShouldYield is always false.
	FairnessQuota time.Duration

	// DrainTimeout is used by Close; Shutdown takes its own timeout.
	DrainTimeout time.Duration

	// AffinityEnabled lets woken and spawned tasks go to the carrier that
	// last ran them (or their parent) while its deque is shorter than
	// AffinityMaxQueueDepth.
	AffinityEnabled       bool
	AffinityMaxQueueDepth int

	// StarvationRequeueLimit is the number of consecutive yields after which
	// a task is requeued at the head of the global queue. Parking resets the
	// count. 0 disables promotion on yield.
	StarvationRequeueLimit int

	// StarvationThreshold is the queue wait after which the monitor moves a
	// runnable task to the head of the global queue.
	StarvationThreshold time.Duration

	// PinnedThreshold is the pinned-region length reported as a violation.
	PinnedThreshold time.Duration

	// DeadlockThreshold is the suspension length reported as a possible deadlock.
	DeadlockThreshold time.Duration

	MonitorInterval  time.Duration
	IdlePollInterval time.Duration

	// HistoryCapacity bounds RecentTasks.
	HistoryCapacity int

	// StrictInvariants panics on bookkeeping violations instead of logging them.
	StrictInvariants bool

	Logger              Logger
	PanicHandler        PanicHandler
	Metrics             Metrics
	RejectedTaskHandler RejectedTaskHandler
	DiagnosticHandler   DiagnosticHandler
}

// DefaultConfig returns a config with default values and handlers.
func DefaultConfig() Config {
	logger := NewDefaultLogger()
	return Config{
		WorkerCount:            runtime.NumCPU(),
		FairnessQuota:          10 * time.Millisecond,
		DrainTimeout:           5 * time.Second,
		AffinityEnabled:        true,
		AffinityMaxQueueDepth:  64,
		StarvationRequeueLimit: 8,
		StarvationThreshold:    50 * time.Millisecond,
		PinnedThreshold:        100 * time.Millisecond,
		DeadlockThreshold:      30 * time.Second,
		MonitorInterval:        5 * time.Millisecond,
		IdlePollInterval:       10 * time.Millisecond,
		HistoryCapacity:        defaultTaskHistoryCapacity,
		Logger:                 logger,
		PanicHandler:           &DefaultPanicHandler{},
		Metrics:                &NilMetrics{},
		RejectedTaskHandler:    &DefaultRejectedTaskHandler{},
		DiagnosticHandler:      &LoggingDiagnosticHandler{Logger: logger},
	}
}

// Validate rejects negative values. Zero values are legal.
func (c Config) Validate() error {
	switch {
	case c.WorkerCount < 0:
		return errors.Wrapf(ErrInvalidConfig, "worker count %d", c.WorkerCount)
	case c.FairnessQuota < 0:
		return errors.Wrapf(ErrInvalidConfig, "fairness quota %s", c.FairnessQuota)
	case c.DrainTimeout < 0:
		return errors.Wrapf(ErrInvalidConfig, "drain timeout %s", c.DrainTimeout)
	case c.AffinityMaxQueueDepth < 0:
		return errors.Wrapf(ErrInvalidConfig, "affinity max queue depth %d", c.AffinityMaxQueueDepth)
	case c.StarvationRequeueLimit < 0:
		return errors.Wrapf(ErrInvalidConfig, "starvation requeue limit %d", c.StarvationRequeueLimit)
	case c.StarvationThreshold < 0, c.PinnedThreshold < 0, c.DeadlockThreshold < 0:
		return errors.Wrap(ErrInvalidConfig, "negative diagnostic threshold")
	case c.MonitorInterval < 0, c.IdlePollInterval < 0:
		return errors.Wrap(ErrInvalidConfig, "negative poll interval")
	case c.HistoryCapacity < 0:
		return errors.Wrapf(ErrInvalidConfig, "history capacity %d", c.HistoryCapacity)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerCount == 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.AffinityMaxQueueDepth == 0 {
		c.AffinityMaxQueueDepth = d.AffinityMaxQueueDepth
	}
	if c.StarvationThreshold == 0 {
		c.StarvationThreshold = d.StarvationThreshold
	}
	if c.PinnedThreshold == 0 {
		c.PinnedThreshold = d.PinnedThreshold
	}
	if c.DeadlockThreshold == 0 {
		c.DeadlockThreshold = d.DeadlockThreshold
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.IdlePollInterval == 0 {
		c.IdlePollInterval = d.IdlePollInterval
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = d.HistoryCapacity
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.PanicHandler == nil {
		c.PanicHandler = d.PanicHandler
	}
	if c.Metrics == nil {
		c.Metrics = d.Metrics
	}
	if c.RejectedTaskHandler == nil {
		c.RejectedTaskHandler = d.RejectedTaskHandler
	}
	if c.DiagnosticHandler == nil {
		c.DiagnosticHandler = &LoggingDiagnosticHandler{Logger: c.Logger}
	}
	return c
}
