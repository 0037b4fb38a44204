package main

import (
	"context"
	"net"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/Swind/go-vthread/config"
	"github.com/Swind/go-vthread/core"
	"github.com/Swind/go-vthread/httpserver"
	"github.com/Swind/go-vthread/observability/prometheus"
	"github.com/Swind/go-vthread/simdb"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "serve /api/hello, /api/slow, /api/stats, /api/users and /metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bind",
				Usage: "listen address (default from config, :8080)",
			},
			&cli.DurationFlag{
				Name:  "slow-delay",
				Usage: "how long /api/slow sleeps (default from config, 2s)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return fail("setup: %v", err)
	}
	defer e.close()

	if c.IsSet("bind") {
		e.cfg.Server.Bind = c.String("bind")
	}
	if c.IsSet("slow-delay") {
		e.cfg.Server.SlowDelay = config.Duration(c.Duration("slow-delay"))
	}

	ln, err := net.Listen("tcp", e.cfg.Server.Bind)
	if err != nil {
		return fail("listen: %v", err)
	}

	stack, err := e.startServer()
	if err != nil {
		_ = ln.Close()
		return fail("%v", err)
	}
	defer stack.stop()

	return stack.srv.Serve(c.Context, ln)
}

// serverStack is a scheduler, its metrics and the HTTP server on top.
type serverStack struct {
	s      *core.Scheduler
	srv    *httpserver.Server
	db     *simdb.DB
	poller *prometheus.SnapshotPoller
	drain  time.Duration
	logger core.Logger
}

func (e *env) startServer() (*serverStack, error) {
	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	ns := e.cfg.Metrics.Namespace
	exporter, err := prometheus.NewMetricsExporter(ns, reg, prometheus.ExporterOptions{})
	if err != nil {
		return nil, err
	}
	poller, err := prometheus.NewSnapshotPoller(ns, reg, time.Duration(e.cfg.Metrics.PollInterval))
	if err != nil {
		return nil, err
	}

	// Requests must be able to finish after a signal, so tasks do not
	// inherit the command's context.
	s, err := e.newScheduler(context.Background(), "", exporter)
	if err != nil {
		return nil, err
	}
	poller.AddScheduler(s.Name(), s)
	poller.Start(context.Background())

	db := simdb.New(simdb.Options{
		MinLatency: time.Duration(e.cfg.DB.MinLatency),
		MaxLatency: time.Duration(e.cfg.DB.MaxLatency),
		PoolSize:   e.cfg.DB.PoolSize,
	})
	db.Seed(e.cfg.DB.Users, e.cfg.DB.OrdersPerUser)
	e.logger.Info("database seeded",
		core.F("users", db.UserCount()),
		core.F("orders", db.OrderCount()),
	)

	srv := httpserver.New(s, httpserver.Options{
		SlowDelay: time.Duration(e.cfg.Server.SlowDelay),
		DB:        db,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:    e.logger,
	})
	return &serverStack{
		s:      s,
		srv:    srv,
		db:     db,
		poller: poller,
		drain:  time.Duration(e.cfg.Scheduler.DrainTimeout),
		logger: e.logger,
	}, nil
}

func (st *serverStack) stop() {
	st.poller.Stop()
	if err := st.s.Shutdown(st.drain); err != nil {
		st.logger.Warn("scheduler shutdown", core.F("error", err))
	}
}
