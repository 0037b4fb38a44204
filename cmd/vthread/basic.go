package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v2"

	vthread "github.com/Swind/go-vthread"
	"github.com/Swind/go-vthread/core"
	"github.com/Swind/go-vthread/loadgen"
)

func BasicCommand() *cli.Command {
	return &cli.Command{
		Name:    "basic",
		Aliases: []string{"b"},
		Usage:   "start tasks three ways, then compare suspending tasks with a blocking pool",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "tasks",
				Value: 10_000,
				Usage: "tasks per run",
			},
			&cli.DurationFlag{
				Name:  "latency",
				Value: 10 * time.Millisecond,
				Usage: "how long each task waits",
			},
			&cli.IntFlag{
				Name:  "pool",
				Value: 200,
				Usage: "carriers for the blocking run",
			},
		},
		Action: basicAction,
	}
}

func basicAction(c *cli.Context) error {
	tasks := c.Int("tasks")
	if tasks <= 0 {
		return fail("tasks must be positive")
	}
	e, err := setup(c)
	if err != nil {
		return fail("setup: %v", err)
	}
	defer e.close()

	s, err := e.newScheduler(c.Context, "basic", nil)
	if err != nil {
		return fail("scheduler: %v", err)
	}
	defer s.Shutdown(e.cfg.Core().DrainTimeout)

	out := c.App.Writer

	// 1. Submit and Await.
	h, err := s.SubmitNamed("example-task", func(ctx context.Context) (any, error) {
		return core.InTask(ctx), nil
	})
	if err != nil {
		return fail("submit: %v", err)
	}
	inTask, err := h.Await(c.Context)
	if err != nil {
		return fail("await: %v", err)
	}
	fmt.Fprintf(out, "Running in a task (Submit): %v\n", inTask)

	// 2. A typed future.
	f, err := vthread.Go(s, func(ctx context.Context) (string, error) {
		info, _ := core.CurrentTask(ctx)
		return info.Name, nil
	}, vthread.WithName("typed-future"))
	if err != nil {
		return fail("go: %v", err)
	}
	name, err := f.Await(c.Context)
	if err != nil {
		return fail("await: %v", err)
	}
	fmt.Fprintf(out, "Running in a task (Go): %s\n", name)

	// 3. A child spawned from inside a task.
	parent, err := s.Submit(func(ctx context.Context) (any, error) {
		child, err := core.Spawn(ctx, func(ctx context.Context) (any, error) {
			return core.InTask(ctx), nil
		})
		if err != nil {
			return nil, err
		}
		return child.Await(ctx)
	})
	if err != nil {
		return fail("submit: %v", err)
	}
	inChild, err := parent.Await(c.Context)
	if err != nil {
		return fail("await: %v", err)
	}
	fmt.Fprintf(out, "Running in a task (Spawn): %v\n", inChild)

	// Suspending tasks on the configured carriers, then blocking tasks on a
	// much larger pool.
	opts := loadgen.SchedulerOptions{Tasks: tasks, Latency: c.Duration("latency"), Logger: e.logger}
	suspending, err := loadgen.RunScheduler(c.Context, fmt.Sprintf("Suspending (%d carriers)", s.Stats().Workers), s, opts)
	if err != nil {
		return fail("suspending run: %v", err)
	}

	pool := c.Int("pool")
	blockCfg := e.cfg.Core()
	blockCfg.Name = "basic-blocking"
	blockCfg.WorkerCount = pool
	blockCfg.Logger = e.logger
	blocking, err := core.New(blockCfg)
	if err != nil {
		return fail("scheduler: %v", err)
	}
	if err := blocking.Start(c.Context); err != nil {
		return fail("scheduler: %v", err)
	}
	defer blocking.Shutdown(blockCfg.DrainTimeout)

	opts.Blocking = true
	blocked, err := loadgen.RunScheduler(c.Context, fmt.Sprintf("Blocking (%d carriers)", pool), blocking, opts)
	if err != nil {
		return fail("blocking run: %v", err)
	}

	fmt.Fprint(out, "\n"+loadgen.Report("BASIC COMPARISON", suspending, blocked))
	fmt.Fprintf(out, "(%d CPUs)\n", runtime.NumCPU())
	return nil
}
