// Command vthread runs the scheduler demos: a task burst, an HTTP server,
// load tests, and the pinning and database benchmarks.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-vthread/config"
	"github.com/Swind/go-vthread/core"
	"github.com/Swind/go-vthread/observability/zaplog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "vthread",
		Usage:  "virtual-thread scheduler demos and benchmarks",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML config file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "carrier count (default: number of CPUs)",
			},
		},
		Commands: []*cli.Command{
			BasicCommand(),
			ServeCommand(),
			LoadTestCommand(),
			PinningCommand(),
			DatabaseCommand(),
			ConfigCommand(),
		},
	}
}

// env is what every command needs: the effective config and a logger.
type env struct {
	cfg    *config.Config
	logger *zaplog.Logger
}

// setup builds the config from defaults, the file, VTHREAD_* variables and
// flags, in that order of precedence.
func setup(c *cli.Context) (*env, error) {
	cfg := config.NewConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("workers") {
		cfg.Scheduler.Workers = c.Int("workers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := zaplog.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, errors.Wrap(err, "logger")
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// newScheduler starts a scheduler from the config. name overrides the
// configured one when set.
func (e *env) newScheduler(ctx context.Context, name string, metrics core.Metrics) (*core.Scheduler, error) {
	cfg := e.cfg.Core()
	if name != "" {
		cfg.Name = name
	}
	cfg.Logger = e.logger
	if metrics != nil {
		cfg.Metrics = metrics
	}
	s, err := core.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}

func fail(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), 1)
}
