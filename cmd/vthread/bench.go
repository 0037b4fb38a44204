package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-vthread/loadgen"
	"github.com/Swind/go-vthread/simdb"
)

func PinningCommand() *cli.Command {
	def := loadgen.DefaultPinningOptions()
	return &cli.Command{
		Name:    "pinning",
		Aliases: []string{"p"},
		Usage:   "compare a counter behind a pinned lock with one behind a suspending lock",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "carriers", Value: def.Workers},
			&cli.IntFlag{Name: "tasks", Value: def.Tasks},
			&cli.IntFlag{Name: "iterations", Value: def.Iterations},
			&cli.DurationFlag{Name: "work", Value: def.WorkTime, Usage: "time outside the lock per iteration"},
			&cli.DurationFlag{Name: "critical", Value: def.CriticalTime, Usage: "time inside the lock per iteration"},
			&cli.DurationFlag{Name: "pinned-threshold", Value: def.PinnedThreshold},
		},
		Action: pinningAction,
	}
}

func pinningAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return fail("setup: %v", err)
	}
	defer e.close()

	report, err := loadgen.RunPinning(c.Context, loadgen.PinningOptions{
		Workers:         c.Int("carriers"),
		Tasks:           c.Int("tasks"),
		Iterations:      c.Int("iterations"),
		WorkTime:        c.Duration("work"),
		CriticalTime:    c.Duration("critical"),
		PinnedThreshold: c.Duration("pinned-threshold"),
		Logger:          e.logger,
	})
	if err != nil {
		return fail("pinning: %v", err)
	}

	out := c.App.Writer
	fmt.Fprint(out, loadgen.Report("PINNING", report.Unpinned.Result, report.Pinned.Result))
	for _, r := range []loadgen.PinningRun{report.Pinned, report.Unpinned} {
		fmt.Fprintf(out, "%s: count %d, pinned for %s, %d violations, at most %d suspended\n",
			r.Name, r.Count, r.PinnedDuration.Round(time.Millisecond), r.Violations, r.MaxSuspended)
	}
	fmt.Fprintln(out, "\nAvoiding pinning:")
	fmt.Fprintln(out, "1. Guard critical sections with core.Mutex instead of LockPinned")
	fmt.Fprintln(out, "2. Wait with Park/Unpark or core.Sleep, not channel receives or time.Sleep")
	fmt.Fprintln(out, "3. Move blocking calls into core.Offload")
	fmt.Fprintln(out, "4. Keep Pin regions short and unnested")
	fmt.Fprintln(out, "5. Watch pinning diagnostics and the pinned_seconds histogram")
	return nil
}

func DatabaseCommand() *cli.Command {
	def := loadgen.DefaultDatabaseOptions()
	return &cli.Command{
		Name:    "database",
		Aliases: []string{"d"},
		Usage:   "compare a fixed goroutine pool with tasks on simulated database reads",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "operations", Value: def.Operations},
			&cli.IntFlag{Name: "pool", Value: def.PoolWorkers, Usage: "fixed pool size"},
		},
		Action: databaseAction,
	}
}

func databaseAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return fail("setup: %v", err)
	}
	defer e.close()

	db := simdb.New(simdb.Options{
		MinLatency: time.Duration(e.cfg.DB.MinLatency),
		MaxLatency: time.Duration(e.cfg.DB.MaxLatency),
		PoolSize:   e.cfg.DB.PoolSize,
	})
	db.Seed(e.cfg.DB.Users, e.cfg.DB.OrdersPerUser)
	fmt.Fprintf(c.App.Writer, "Database seeded with %d users and %d orders\n", db.UserCount(), db.OrderCount())

	report, err := loadgen.RunDatabase(c.Context, db, loadgen.DatabaseOptions{
		Operations:       c.Int("operations"),
		PoolWorkers:      c.Int("pool"),
		SchedulerWorkers: e.cfg.Scheduler.Workers,
		Logger:           e.logger,
	})
	if err != nil {
		return fail("database: %v", err)
	}

	out := c.App.Writer
	fmt.Fprint(out, loadgen.Report("DATABASE", report.Scheduler, report.Pool))
	fmt.Fprintf(out, "A pool of %d would need about %s for the scheduler run's work\n",
		c.Int("pool"), report.Estimate.Round(time.Millisecond))
	return nil
}
