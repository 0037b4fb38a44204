package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-vthread/core"
	"github.com/Swind/go-vthread/simdb"
)

func newScheduler(t *testing.T, workers int) *core.Scheduler {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Name = "http-test"
	cfg.WorkerCount = workers
	cfg.Logger = core.NewNoOpLogger()
	s, err := core.New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })
	return s
}

func get(t *testing.T, url string, header ...string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHello(t *testing.T) {
	srv := New(newScheduler(t, 2), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/api/hello")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Hello from a virtual thread! Active requests: 1")

	c := srv.Counters()
	assert.EqualValues(t, 1, c.Total)
	assert.EqualValues(t, 1, c.Fast)
	assert.Zero(t, c.Active)
}

// TestSlow_ManyConcurrentOnFewCarriers keeps 100 slow requests open on two carriers
func TestSlow_ManyConcurrentOnFewCarriers(t *testing.T) {
	s := newScheduler(t, 2)
	srv := New(s, Options{SlowDelay: 100 * time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	const n = 100
	start := time.Now()
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, body := get(t, ts.URL+"/api/slow")
			assert.Equal(t, http.StatusOK, code)
			assert.Contains(t, body, "after 100ms")
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.EqualValues(t, n, srv.Counters().Slow)
	assert.EqualValues(t, n, s.Stats().CompletedCount)
}

func TestSlow_DelayParam(t *testing.T) {
	srv := New(newScheduler(t, 1), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/api/slow?delay=5ms")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "after 5ms")

	code, _ = get(t, ts.URL+"/api/slow?delay=soon")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSlow_ClientGoneCancelsTask(t *testing.T) {
	s := newScheduler(t, 1)
	srv := New(s, Options{SlowDelay: time.Hour})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/slow", nil)
	require.NoError(t, err)
	_, err = http.DefaultClient.Do(req)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return s.Stats().CancelledCount == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.Stats().DelayedCount)
}

func TestStats(t *testing.T) {
	srv := New(newScheduler(t, 2), Options{SlowDelay: time.Millisecond})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get(t, ts.URL+"/api/hello")
	get(t, ts.URL+"/api/hello")
	get(t, ts.URL+"/api/slow")

	code, body := get(t, ts.URL+"/api/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Server Statistics:")
	assert.Contains(t, body, "Total requests: 3")
	assert.Contains(t, body, "Fast requests: 2")
	assert.Contains(t, body, "Slow requests: 1")
	assert.Contains(t, body, "Scheduler http-test: 2 workers")

	code, body = get(t, ts.URL+"/api/stats", "Accept", "application/json")
	assert.Equal(t, http.StatusOK, code)
	var got statsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.EqualValues(t, 3, got.Requests.Total)
	assert.Equal(t, "http-test", got.Scheduler.Name)
	assert.GreaterOrEqual(t, got.Scheduler.CompletedCount, int64(3))
}

func TestUsers(t *testing.T) {
	db := simdb.New(simdb.Options{MinLatency: time.Millisecond, MaxLatency: 2 * time.Millisecond})
	db.Seed(3, 4)
	srv := New(newScheduler(t, 2), Options{DB: db})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/api/users")
	require.Equal(t, http.StatusOK, code)
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(body), &ids))
	require.Len(t, ids, 3)

	code, body = get(t, ts.URL+"/api/users/"+ids[0])
	require.Equal(t, http.StatusOK, code)
	var user userResponse
	require.NoError(t, json.Unmarshal([]byte(body), &user))
	assert.Equal(t, ids[0], user.User.ID)
	assert.Len(t, user.Orders, 4)
	assert.Equal(t, 100.0, user.Total)

	code, _ = get(t, ts.URL+"/api/users/user-missing")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUsers_NoDB(t *testing.T) {
	srv := New(newScheduler(t, 1), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, _ := get(t, ts.URL+"/api/users/anyone")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMetricsRoute(t *testing.T) {
	reg := prom.NewRegistry()
	hits := prom.NewCounter(prom.CounterOpts{Name: "test_hits_total", Help: "hits"})
	reg.MustRegister(hits)
	hits.Inc()

	srv := New(newScheduler(t, 1), Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "test_hits_total 1")

	code, _ = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestClosedScheduler(t *testing.T) {
	s := newScheduler(t, 1)
	srv := New(s, Options{})
	require.NoError(t, s.Shutdown(time.Second))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/hello", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t, 1, srv.Counters().Failed)
}

func TestListenAndServe(t *testing.T) {
	srv := New(newScheduler(t, 1), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
