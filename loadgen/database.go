package loadgen

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Swind/go-vthread/core"
	"github.com/Swind/go-vthread/simdb"
)

// DatabaseOptions configures RunDatabase. Each operation reads a random
// user and then that user's orders.
type DatabaseOptions struct {
	Operations int

	// PoolWorkers is the size of the fixed goroutine pool baseline. Its
	// goroutines block for the whole query.
	PoolWorkers int

	// SchedulerWorkers is the carrier count for the scheduler run.
	SchedulerWorkers int

	Logger core.Logger
}

func DefaultDatabaseOptions() DatabaseOptions {
	return DatabaseOptions{Operations: 1000, PoolWorkers: 50, SchedulerWorkers: 4}
}

// DatabaseReport compares the fixed pool with the scheduler.
type DatabaseReport struct {
	Pool      Result
	Scheduler Result

	// Estimate is how long the pool would take for the scheduler run's
	// work if it could only overlap PoolWorkers operations.
	Estimate time.Duration
}

// RunDatabase runs the operations against db, first on a fixed pool and
// then as scheduler tasks.
func RunDatabase(ctx context.Context, db *simdb.DB, opts DatabaseOptions) (DatabaseReport, error) {
	if opts.Operations <= 0 || opts.PoolWorkers <= 0 {
		return DatabaseReport{}, errors.New("loadgen: operations and pool workers must be positive")
	}
	if db.UserCount() == 0 {
		return DatabaseReport{}, errors.New("loadgen: database has no users")
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}

	var report DatabaseReport
	var err error

	logger.Info("database run on fixed pool", core.F("operations", opts.Operations), core.F("pool", opts.PoolWorkers))
	report.Pool, err = runPool(ctx, db, opts)
	if err != nil {
		return report, err
	}

	logger.Info("database run on scheduler", core.F("operations", opts.Operations), core.F("workers", opts.SchedulerWorkers))
	report.Scheduler, err = runTasks(ctx, db, opts, logger)
	if err != nil {
		return report, err
	}

	batches := (opts.Operations + opts.PoolWorkers - 1) / opts.PoolWorkers
	report.Estimate = report.Scheduler.Duration * time.Duration(batches)
	logger.Info("database comparison finished",
		core.F("pool", report.Pool.Duration),
		core.F("scheduler", report.Scheduler.Duration),
		core.F("pool_estimate", report.Estimate),
	)
	return report, nil
}

func readUserAndOrders(ctx context.Context, db *simdb.DB) error {
	id := db.RandomUserID()
	if _, err := db.GetUser(ctx, id); err != nil {
		return err
	}
	_, err := db.GetOrders(ctx, id)
	return err
}

func runPool(ctx context.Context, db *simdb.DB, opts DatabaseOptions) (Result, error) {
	res := newResult("Fixed pool")
	var success, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.PoolWorkers)

	start := time.Now()
	for i := 0; i < opts.Operations; i++ {
		g.Go(func() error {
			if err := readUserAndOrders(gctx, db); err != nil {
				failed.Add(1)
				return nil
			}
			success.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = time.Since(start)
	res.Success, res.Errors = success.Load(), failed.Load()
	if err := ctx.Err(); err != nil {
		return res, errors.Wrap(err, "fixed pool run")
	}
	return res, nil
}

func runTasks(ctx context.Context, db *simdb.DB, opts DatabaseOptions, logger core.Logger) (Result, error) {
	cfg := core.DefaultConfig()
	cfg.Name = "database"
	if opts.SchedulerWorkers > 0 {
		cfg.WorkerCount = opts.SchedulerWorkers
	}
	cfg.Logger = logger
	s, err := core.New(cfg)
	if err != nil {
		return Result{}, err
	}
	if err := s.Start(ctx); err != nil {
		return Result{}, err
	}
	defer s.Shutdown(cfg.DrainTimeout)

	res := newResult("Scheduler")
	start := time.Now()
	handles := make([]*core.Handle, 0, opts.Operations)
	for i := 0; i < opts.Operations; i++ {
		h, err := s.SubmitFunc(func(ctx context.Context) error {
			return readUserAndOrders(ctx, db)
		}, core.WithName("db-op"))
		if err != nil {
			return res, errors.Wrapf(err, "submit operation %d", i)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		if _, err := h.Await(ctx); err != nil {
			if ctx.Err() != nil {
				return res, errors.Wrap(ctx.Err(), "scheduler run")
			}
			res.Errors++
			continue
		}
		res.Success++
	}
	res.Duration = time.Since(start)
	return res, nil
}
