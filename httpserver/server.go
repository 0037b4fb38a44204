// Package httpserver serves HTTP requests with one scheduler task per
// request. Slow handlers suspend their task, so a handful of carriers can
// keep thousands of slow requests open.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/Swind/go-vthread/core"
	"github.com/Swind/go-vthread/simdb"
)

// Options configures a Server. Only the scheduler is required.
type Options struct {
	// SlowDelay is how long /api/slow sleeps. Defaults to 2s.
	SlowDelay time.Duration

	// DB backs /api/users. Without it those routes return 503.
	DB *simdb.DB

	// Metrics, when set, is served at /metrics.
	Metrics http.Handler

	Logger core.Logger
}

// Server routes requests into tasks on a scheduler.
type Server struct {
	s      *core.Scheduler
	opts   Options
	logger core.Logger
	router *mux.Router

	active atomic.Int64
	total  atomic.Int64
	fast   atomic.Int64
	slow   atomic.Int64
	failed atomic.Int64
}

// Counters are the request counters shown by /api/stats.
type Counters struct {
	Total  int64 `json:"total"`
	Fast   int64 `json:"fast"`
	Slow   int64 `json:"slow"`
	Active int64 `json:"active"`
	Failed int64 `json:"failed"`
}

func New(s *core.Scheduler, opts Options) *Server {
	if opts.SlowDelay <= 0 {
		opts.SlowDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	srv := &Server{s: s, opts: opts, logger: logger}
	srv.router = srv.routes()
	return srv
}

func (srv *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/hello", srv.handleHello).Methods(http.MethodGet)
	api.HandleFunc("/slow", srv.handleSlow).Methods(http.MethodGet)
	api.HandleFunc("/stats", srv.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/users", srv.handleUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", srv.handleUser).Methods(http.MethodGet)
	if srv.opts.Metrics != nil {
		r.Handle("/metrics", srv.opts.Metrics)
	}
	return r
}

// Handler returns the HTTP handler.
func (srv *Server) Handler() http.Handler { return srv.router }

// Counters returns a snapshot of the request counters.
func (srv *Server) Counters() Counters {
	return Counters{
		Total:  srv.total.Load(),
		Fast:   srv.fast.Load(),
		Slow:   srv.slow.Load(),
		Active: srv.active.Load(),
		Failed: srv.failed.Load(),
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts the HTTP
// server down gracefully.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return srv.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener, which it closes.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	srv.logger.Info("http server started", core.F("addr", ln.Addr().String()), core.F("scheduler", srv.s.Name()))

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	c := srv.Counters()
	srv.logger.Info("http server stopped",
		core.F("total", c.Total),
		core.F("fast", c.Fast),
		core.F("slow", c.Slow),
	)
	return nil
}

// =============================================================================
// Task plumbing
// =============================================================================

type response struct {
	status      int
	contentType string
	body        []byte
}

func text(status int, format string, args ...any) response {
	return response{status: status, contentType: "text/plain; charset=utf-8", body: []byte(fmt.Sprintf(format, args...))}
}

func jsonBody(status int, v any) response {
	b, err := json.Marshal(v)
	if err != nil {
		return text(http.StatusInternalServerError, "encoding response: %v", err)
	}
	return response{status: status, contentType: "application/json", body: b}
}

// serve runs fn as a task and writes its response. A client that goes away
// cancels the task.
func (srv *Server) serve(w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context, active int64) (response, error)) {
	active := srv.active.Add(1)
	defer srv.active.Add(-1)

	h, err := srv.s.Submit(func(ctx context.Context) (any, error) {
		resp, err := fn(ctx, active)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}, core.WithName(name))
	if err != nil {
		srv.failed.Add(1)
		http.Error(w, "scheduler unavailable", http.StatusServiceUnavailable)
		return
	}

	v, err := h.Await(r.Context())
	if err != nil {
		h.Cancel()
		srv.failed.Add(1)
		status := http.StatusInternalServerError
		if core.IsCancelled(err) || errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		srv.logger.Warn("request failed", core.F("route", name), core.F("error", err))
		http.Error(w, err.Error(), status)
		return
	}

	resp := v.(response)
	w.Header().Set("Content-Type", resp.contentType)
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// =============================================================================
// Handlers
// =============================================================================

func (srv *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	srv.serve(w, r, "hello", func(ctx context.Context, active int64) (response, error) {
		srv.total.Add(1)
		srv.fast.Add(1)
		return text(http.StatusOK, "Hello from a virtual thread! Active requests: %d", active), nil
	})
}

// handleSlow sleeps SlowDelay, or ?delay=<duration> when given.
func (srv *Server) handleSlow(w http.ResponseWriter, r *http.Request) {
	delay := srv.opts.SlowDelay
	if q := r.URL.Query().Get("delay"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d < 0 {
			http.Error(w, "bad delay", http.StatusBadRequest)
			return
		}
		delay = d
	}

	srv.serve(w, r, "slow", func(ctx context.Context, active int64) (response, error) {
		if err := core.Sleep(ctx, delay); err != nil {
			return response{}, err
		}
		srv.total.Add(1)
		srv.slow.Add(1)
		return text(http.StatusOK, "Slow response from a virtual thread after %s! Active: %d", delay, active), nil
	})
}

type statsResponse struct {
	Requests  Counters   `json:"requests"`
	Scheduler core.Stats `json:"scheduler"`
}

func (srv *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	wantJSON := strings.Contains(r.Header.Get("Accept"), "application/json")
	srv.serve(w, r, "stats", func(ctx context.Context, _ int64) (response, error) {
		c := srv.Counters()
		st := srv.s.Stats()
		if wantJSON {
			return jsonBody(http.StatusOK, statsResponse{Requests: c, Scheduler: st}), nil
		}
		var b strings.Builder
		b.WriteString("Server Statistics:\n\n")
		fmt.Fprintf(&b, "Total requests: %d\n", c.Total)
		fmt.Fprintf(&b, "Fast requests: %d\n", c.Fast)
		fmt.Fprintf(&b, "Slow requests: %d\n", c.Slow)
		fmt.Fprintf(&b, "Active requests: %d\n", c.Active)
		fmt.Fprintf(&b, "\nScheduler %s: %d workers, %d suspended, %d pinned, %d completed\n",
			st.Name, st.Workers, st.SuspendedCount, st.PinnedCount, st.CompletedCount)
		return text(http.StatusOK, "%s", b.String()), nil
	})
}

func (srv *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	srv.serve(w, r, "users", func(ctx context.Context, _ int64) (response, error) {
		if srv.opts.DB == nil {
			return text(http.StatusServiceUnavailable, "no database"), nil
		}
		return jsonBody(http.StatusOK, srv.opts.DB.UserIDs()), nil
	})
}

type userResponse struct {
	User   simdb.User    `json:"user"`
	Orders []simdb.Order `json:"orders"`
	Total  float64       `json:"total"`
}

func (srv *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	srv.serve(w, r, "user", func(ctx context.Context, _ int64) (response, error) {
		db := srv.opts.DB
		if db == nil {
			return text(http.StatusServiceUnavailable, "no database"), nil
		}
		u, err := db.GetUser(ctx, id)
		if errors.Is(err, simdb.ErrNotFound) {
			return text(http.StatusNotFound, "user %s not found", id), nil
		}
		if err != nil {
			return response{}, err
		}
		orders, err := db.GetOrders(ctx, id)
		if err != nil {
			return response{}, err
		}
		resp := userResponse{User: u, Orders: orders}
		for _, o := range orders {
			resp.Total += o.Amount
		}
		srv.total.Add(1)
		return jsonBody(http.StatusOK, resp), nil
	})
}
