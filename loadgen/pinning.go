package loadgen

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Swind/go-vthread/core"
)

// PinningOptions configures RunPinning. Each of Tasks tasks does Iterations
// rounds of WorkTime outside the lock and CriticalTime inside it.
type PinningOptions struct {
	Workers      int
	Tasks        int
	Iterations   int
	WorkTime     time.Duration
	CriticalTime time.Duration

	// PinnedThreshold is passed to the scheduler; regions held longer are
	// reported as violations.
	PinnedThreshold time.Duration

	Logger core.Logger
}

// DefaultPinningOptions is 1000 tasks of 5 iterations on 4 carriers, with
// 1ms of work and a 10ms critical section.
func DefaultPinningOptions() PinningOptions {
	return PinningOptions{
		Workers:         4,
		Tasks:           1000,
		Iterations:      5,
		WorkTime:        time.Millisecond,
		CriticalTime:    10 * time.Millisecond,
		PinnedThreshold: 20 * time.Millisecond,
	}
}

// PinningRun is one half of a pinning comparison.
type PinningRun struct {
	Result
	Count          int64
	PinnedDuration time.Duration
	Violations     int64
	MaxSuspended   int
}

// PinningReport compares a counter guarded by a pinned sync.Mutex with one
// guarded by core.Mutex.
type PinningReport struct {
	Pinned   PinningRun
	Unpinned PinningRun
}

// counter does a little arithmetic and waits inside the critical section.
type counter struct {
	count int64
	dummy float64
}

func (c *counter) increment(ctx context.Context, hold time.Duration) error {
	c.count++
	for i := 0; i < 100; i++ {
		c.dummy += math.Sin(float64(c.count)) * math.Cos(float64(c.count))
	}
	return core.Sleep(ctx, hold)
}

// RunPinning runs the pinned counter and then the suspending one, each on
// its own scheduler.
func RunPinning(ctx context.Context, opts PinningOptions) (PinningReport, error) {
	if opts.Tasks <= 0 || opts.Iterations <= 0 {
		return PinningReport{}, errors.New("loadgen: tasks and iterations must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}

	var report PinningReport
	var err error

	logger.Info("running pinned counter", core.F("tasks", opts.Tasks), core.F("iterations", opts.Iterations))
	var mu sync.Mutex
	pinned := &counter{}
	report.Pinned, err = runCounter(ctx, "Pinned", opts, logger, func(ctx context.Context) error {
		return core.LockPinned(ctx, &mu, func() error {
			return pinned.increment(ctx, opts.CriticalTime)
		})
	})
	if err != nil {
		return report, err
	}
	report.Pinned.Count = pinned.count

	logger.Info("running suspending counter", core.F("tasks", opts.Tasks), core.F("iterations", opts.Iterations))
	var m core.Mutex
	unpinned := &counter{}
	report.Unpinned, err = runCounter(ctx, "Mutex", opts, logger, func(ctx context.Context) error {
		m.Lock(ctx)
		defer m.Unlock()
		return unpinned.increment(ctx, opts.CriticalTime)
	})
	if err != nil {
		return report, err
	}
	report.Unpinned.Count = unpinned.count

	logger.Info("pinning comparison finished",
		core.F("pinned", report.Pinned.Duration),
		core.F("unpinned", report.Unpinned.Duration),
		core.F("violations", report.Pinned.Violations),
	)
	return report, nil
}

func runCounter(ctx context.Context, name string, opts PinningOptions, logger core.Logger, increment func(context.Context) error) (PinningRun, error) {
	cfg := core.DefaultConfig()
	cfg.Name = "pinning-" + name
	cfg.WorkerCount = opts.Workers
	cfg.Logger = logger
	if opts.PinnedThreshold > 0 {
		cfg.PinnedThreshold = opts.PinnedThreshold
	}
	// one report per violation would flood the log
	cfg.DiagnosticHandler = core.DiagnosticHandlerFunc(func(string, core.Diagnostic) {})
	s, err := core.New(cfg)
	if err != nil {
		return PinningRun{}, err
	}
	if err := s.Start(ctx); err != nil {
		return PinningRun{}, err
	}
	defer s.Shutdown(cfg.DrainTimeout)

	run := PinningRun{Result: newResult(name)}
	work := func(ctx context.Context) (any, error) {
		for j := 0; j < opts.Iterations; j++ {
			if err := core.Sleep(ctx, opts.WorkTime); err != nil {
				return nil, err
			}
			if err := increment(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	start := time.Now()
	handles := make([]*core.Handle, 0, opts.Tasks)
	for i := 0; i < opts.Tasks; i++ {
		h, err := s.Submit(work, core.WithName(name))
		if err != nil {
			return run, errors.Wrapf(err, "submit task %d", i)
		}
		handles = append(handles, h)
	}

	sample := time.NewTicker(5 * time.Millisecond)
	defer sample.Stop()
	for _, h := range handles {
	wait:
		for {
			select {
			case <-h.Done():
				break wait
			case <-sample.C:
				if n := s.Stats().SuspendedCount; n > run.MaxSuspended {
					run.MaxSuspended = n
				}
			case <-ctx.Done():
				return run, errors.Wrapf(ctx.Err(), "pinning run %s", name)
			}
		}
		if _, err := h.Await(ctx); err != nil {
			run.Errors++
			continue
		}
		run.Success++
	}
	run.Duration = time.Since(start)

	st := s.Stats()
	run.PinnedDuration = st.PinnedDuration
	run.Violations = st.PinningViolations
	return run, nil
}
