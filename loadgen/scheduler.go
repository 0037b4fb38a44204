package loadgen

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/Swind/go-vthread/core"
)

// SchedulerOptions configures a scheduler load run: Tasks tasks that each
// wait Latency.
type SchedulerOptions struct {
	Tasks   int
	Latency time.Duration

	// Blocking makes each task wait with time.Sleep, holding its carrier,
	// instead of suspending through core.Sleep.
	Blocking bool

	Logger core.Logger
}

func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{Tasks: 10_000, Latency: 10 * time.Millisecond}
}

// RunScheduler submits the tasks to s and waits for all of them.
func RunScheduler(ctx context.Context, name string, s *core.Scheduler, opts SchedulerOptions) (Result, error) {
	if opts.Tasks <= 0 {
		return Result{}, errors.New("loadgen: tasks must be positive")
	}
	res := newResult(name)

	work := func(ctx context.Context) (any, error) {
		if opts.Blocking {
			time.Sleep(opts.Latency)
			return nil, nil
		}
		return nil, core.Sleep(ctx, opts.Latency)
	}

	start := time.Now()
	handles := make([]*core.Handle, 0, opts.Tasks)
	for i := 0; i < opts.Tasks; i++ {
		h, err := s.Submit(work, core.WithName(name))
		if err != nil {
			return res, errors.Wrapf(err, "submit task %d", i)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		if _, err := h.Await(ctx); err != nil {
			if ctx.Err() != nil {
				return res, errors.Wrapf(ctx.Err(), "load run %s", name)
			}
			res.Errors++
			continue
		}
		res.Success++
	}
	res.Duration = time.Since(start)
	return res, nil
}

// CompareWorkers runs the same load on a fresh scheduler per worker count,
// one after another.
func CompareWorkers(ctx context.Context, opts SchedulerOptions, workers ...int) ([]Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}

	results := make([]Result, 0, len(workers))
	for _, n := range workers {
		r, err := runOnFresh(ctx, n, opts, logger)
		if err != nil {
			return results, err
		}
		logger.Info("scheduler load run finished",
			core.F("workers", n),
			core.F("tasks", r.Total()),
			core.F("duration", r.Duration),
		)
		results = append(results, r)
	}
	return results, nil
}

func runOnFresh(ctx context.Context, workers int, opts SchedulerOptions, logger core.Logger) (Result, error) {
	cfg := core.DefaultConfig()
	cfg.Name = fmt.Sprintf("loadgen-%d", workers)
	cfg.WorkerCount = workers
	cfg.Logger = logger
	s, err := core.New(cfg)
	if err != nil {
		return Result{}, err
	}
	if err := s.Start(ctx); err != nil {
		return Result{}, err
	}
	defer s.Shutdown(cfg.DrainTimeout)

	return RunScheduler(ctx, fmt.Sprintf("%d workers", workers), s, opts)
}
