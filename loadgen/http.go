package loadgen

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Swind/go-vthread/core"
)

// HTTPOptions configures RunHTTP.
type HTTPOptions struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string

	Requests int

	// Concurrency caps requests in flight. Zero issues every request at once.
	Concurrency int

	// Rate paces request starts per second. Zero means unpaced.
	Rate float64

	// SlowEvery sends every n-th request to /api/slow, the rest to
	// /api/hello. Zero sends none to /api/slow.
	SlowEvery int

	Timeout time.Duration
	Client  *http.Client
	Logger  core.Logger
}

// DefaultHTTPOptions sends 500 requests, 100 at a time, one in three slow.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		BaseURL:     "http://localhost:8080",
		Requests:    500,
		Concurrency: 100,
		SlowEvery:   3,
		Timeout:     2 * time.Minute,
	}
}

func (o HTTPOptions) path(i int) string {
	if o.SlowEvery > 0 && i%o.SlowEvery == 0 {
		return "/api/slow"
	}
	return "/api/hello"
}

// RunHTTP sends the configured requests and counts non-200 responses and
// transport failures as errors. It fails only when ctx ends first.
func RunHTTP(ctx context.Context, name string, opts HTTPOptions) (Result, error) {
	if opts.Requests <= 0 {
		return Result{}, errors.New("loadgen: requests must be positive")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var limiter *rate.Limiter
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	res := newResult(name)
	logger.Info("http load test starting",
		core.F("run", res.RunID),
		core.F("name", name),
		core.F("requests", opts.Requests),
		core.F("concurrency", opts.Concurrency),
	)

	base := strings.TrimRight(opts.BaseURL, "/")
	var success, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	start := time.Now()
	for i := 0; i < opts.Requests; i++ {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		url := base + opts.path(i)
		g.Go(func() error {
			if err := get(gctx, client, url); err != nil {
				failed.Add(1)
				logger.Debug("request failed", core.F("url", url), core.F("error", err))
				return nil
			}
			success.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(start)
	res.Success = success.Load()
	res.Errors = failed.Load()
	logger.Info("http load test finished",
		core.F("run", res.RunID),
		core.F("name", name),
		core.F("duration", res.Duration),
		core.F("success", res.Success),
		core.F("errors", res.Errors),
	)
	if err := ctx.Err(); err != nil {
		return res, errors.Wrapf(err, "load test %s", name)
	}
	return res, nil
}

func get(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// CompareHTTP runs the same load twice: unbounded, then capped at
// opts.Concurrency. The unbounded result comes first.
func CompareHTTP(ctx context.Context, opts HTTPOptions) ([]Result, error) {
	unbounded := opts
	unbounded.Concurrency = 0
	a, err := RunHTTP(ctx, "Unbounded", unbounded)
	if err != nil {
		return nil, err
	}
	b, err := RunHTTP(ctx, "Bounded", opts)
	if err != nil {
		return nil, err
	}
	return []Result{a, b}, nil
}
