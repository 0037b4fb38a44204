package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/go-vthread/loadgen"
)

func LoadTestCommand() *cli.Command {
	return &cli.Command{
		Name:    "loadtest",
		Aliases: []string{"l"},
		Usage:   "load an HTTP server, or compare carrier counts on a task burst",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Value: "http",
				Usage: "http or scheduler",
			},
			&cli.StringFlag{
				Name:  "url",
				Usage: "server to load; empty starts one in process",
			},
			&cli.IntFlag{
				Name:    "requests",
				Aliases: []string{"n"},
				Value:   500,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: 100,
				Usage: "requests in flight for the bounded run",
			},
			&cli.Float64Flag{
				Name:  "rate",
				Usage: "requests started per second, 0 for unpaced",
			},
			&cli.IntFlag{
				Name:  "slow-every",
				Value: 3,
				Usage: "send every n-th request to /api/slow",
			},
			&cli.IntFlag{
				Name:  "tasks",
				Value: 10_000,
				Usage: "scheduler mode: tasks per run",
			},
			&cli.DurationFlag{
				Name:  "latency",
				Value: 10 * time.Millisecond,
				Usage: "scheduler mode: how long each task waits",
			},
			&cli.IntSliceFlag{
				Name:  "compare-workers",
				Value: cli.NewIntSlice(1, 2, 4, 8),
				Usage: "scheduler mode: carrier counts to compare",
			},
			&cli.BoolFlag{
				Name:  "blocking",
				Usage: "scheduler mode: tasks hold their carrier while waiting",
			},
		},
		Action: loadTestAction,
	}
}

func loadTestAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return fail("setup: %v", err)
	}
	defer e.close()

	switch mode := c.String("mode"); mode {
	case "http":
		return e.loadHTTP(c)
	case "scheduler":
		results, err := loadgen.CompareWorkers(c.Context, loadgen.SchedulerOptions{
			Tasks:    c.Int("tasks"),
			Latency:  c.Duration("latency"),
			Blocking: c.Bool("blocking"),
			Logger:   e.logger,
		}, c.IntSlice("compare-workers")...)
		if err != nil {
			return fail("load test: %v", err)
		}
		fmt.Fprint(c.App.Writer, loadgen.Report("SCHEDULER LOAD TEST RESULTS", results...))
		return nil
	default:
		return fail("unknown mode %q", mode)
	}
}

func (e *env) loadHTTP(c *cli.Context) error {
	opts := loadgen.HTTPOptions{
		BaseURL:     c.String("url"),
		Requests:    c.Int("requests"),
		Concurrency: c.Int("concurrency"),
		Rate:        c.Float64("rate"),
		SlowEvery:   c.Int("slow-every"),
		Timeout:     2 * time.Minute,
		Logger:      e.logger,
	}

	if opts.BaseURL == "" {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fail("listen: %v", err)
		}
		stack, err := e.startServer()
		if err != nil {
			_ = ln.Close()
			return fail("%v", err)
		}
		defer stack.stop()

		ctx, cancel := context.WithCancel(c.Context)
		served := make(chan error, 1)
		go func() { served <- stack.srv.Serve(ctx, ln) }()
		defer func() {
			cancel()
			<-served
		}()
		opts.BaseURL = "http://" + ln.Addr().String()
	}

	results, err := loadgen.CompareHTTP(c.Context, opts)
	if err != nil {
		return fail("load test: %v", err)
	}
	fmt.Fprint(c.App.Writer, loadgen.Report("HTTP LOAD TEST RESULTS", results...))
	return nil
}
