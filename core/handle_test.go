package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestHandle_AwaitRepeatable verifies Await returns the same outcome every time
func TestHandle_AwaitRepeatable(t *testing.T) {
	s := newTestScheduler(t, 2)

	h := mustSubmit(t, s, func(ctx context.Context) (any, error) { return 42, nil })
	for i := range 3 {
		v, err := awaitWithin(t, h, time.Second)
		if err != nil || v != 42 {
			t.Fatalf("Await() #%d = %v, %v, want 42, nil", i, v, err)
		}
	}
	if r, ok := h.Result(); !ok || r.State != TaskStateCompleted {
		t.Errorf("Result() = %+v, %v", r, ok)
	}
}

// TestHandle_AwaitInsideTask verifies a task awaiting another frees its carrier
// Given: 1 carrier and a parent that awaits a child it spawned
// When: The parent runs
// Then: The child still gets the carrier and the parent sees its value
func TestHandle_AwaitInsideTask(t *testing.T) {
	s := newTestScheduler(t, 1)

	parent := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		child, err := Spawn(ctx, func(ctx context.Context) (any, error) {
			if err := Sleep(ctx, 5*time.Millisecond); err != nil {
				return nil, err
			}
			return "child", nil
		})
		if err != nil {
			return nil, err
		}
		v, err := child.Await(ctx)
		if err != nil {
			return nil, err
		}
		return v.(string) + "+parent", nil
	})

	v, err := awaitWithin(t, parent, time.Second)
	if err != nil || v != "child+parent" {
		t.Errorf("Await() = %v, %v, want child+parent", v, err)
	}
}

// TestHandle_AwaitPropagatesFailure verifies child errors reach the awaiter
func TestHandle_AwaitPropagatesFailure(t *testing.T) {
	s := newTestScheduler(t, 2)
	boom := errors.New("boom")

	parent := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		child, _ := Spawn(ctx, func(ctx context.Context) (any, error) { return nil, boom })
		return child.Await(ctx)
	})
	if _, err := awaitWithin(t, parent, time.Second); !errors.Is(err, boom) {
		t.Errorf("Await() error = %v, want boom", err)
	}
}

// TestHandle_AwaitContextDone verifies giving up on Await leaves the target alone
func TestHandle_AwaitContextDone(t *testing.T) {
	s := newTestScheduler(t, 2)

	target := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return "late", Park(ctx, "release")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := target.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await() error = %v, want deadline exceeded", err)
	}
	if st := target.State(); st.IsTerminal() {
		t.Fatalf("target state = %s after caller gave up", st)
	}

	// an awaiting task that gives up also leaves no registration behind
	waiter := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := target.Await(ctx)
		return nil, err
	})
	if _, err := awaitWithin(t, waiter, time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("in-task Await() error = %v, want deadline exceeded", err)
	}

	s.Unpark("release")
	if v, err := awaitWithin(t, target, time.Second); err != nil || v != "late" {
		t.Errorf("target Await() = %v, %v", v, err)
	}
	if got := s.Stats().PendingPermits; got != 0 {
		t.Errorf("PendingPermits = %d, want 0", got)
	}
}

func TestHandle_SelfAwait(t *testing.T) {
	s := newTestScheduler(t, 1)

	self := make(chan *Handle, 1)
	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return (<-self).Await(ctx)
	})
	self <- h
	if _, err := awaitWithin(t, h, time.Second); !errors.Is(err, ErrSelfAwait) {
		t.Errorf("Await() error = %v, want ErrSelfAwait", err)
	}
}

// TestHandle_OnComplete verifies callbacks run once, before and after completion
func TestHandle_OnComplete(t *testing.T) {
	s := newTestScheduler(t, 1)

	var calls atomic.Int32
	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, Park(ctx, "finish")
	})
	h.OnComplete(func(r Result) {
		if r.State == TaskStateCompleted {
			calls.Add(1)
		}
	})
	s.Unpark("finish")
	if _, err := awaitWithin(t, h, time.Second); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if !waitFor(t, time.Second, func() bool { return calls.Load() == 1 }) {
		t.Fatalf("callback calls = %d, want 1", calls.Load())
	}

	// registered after completion: runs at once on this goroutine
	h.OnComplete(func(Result) { calls.Add(1) })
	if calls.Load() != 2 {
		t.Errorf("callback calls = %d, want 2", calls.Load())
	}
}

// TestHandle_CancelBeforeStart verifies a queued task is cancelled without running
func TestHandle_CancelBeforeStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCount = 1
	cfg.Logger = NewNoOpLogger()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(time.Second) })

	var ran atomic.Bool
	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	h.Cancel()

	if r, ok := h.Result(); !ok || !r.Cancelled() {
		t.Fatalf("Result() = %+v, %v, want cancelled", r, ok)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	probe := mustSubmit(t, s, func(ctx context.Context) (any, error) { return nil, nil })
	if _, err := awaitWithin(t, probe, time.Second); err != nil {
		t.Fatalf("probe Await() error = %v", err)
	}
	if ran.Load() {
		t.Error("cancelled task ran")
	}
	if got := s.Stats().CancelledCount; got != 1 {
		t.Errorf("CancelledCount = %d, want 1", got)
	}
}

// TestHandle_CancelRunning verifies a running task sees its context cancelled
func TestHandle_CancelRunning(t *testing.T) {
	s := newTestScheduler(t, 1)

	started := make(chan struct{})
	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		close(started)
		for {
			if err := Checkpoint(ctx); err != nil {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			time.Sleep(100 * time.Microsecond)
		}
	})
	<-started
	h.Cancel()

	_, err := awaitWithin(t, h, time.Second)
	if err == nil {
		t.Fatal("Await() error = nil, want cancellation")
	}
	if got := s.Stats().CancelledCount; got != 1 {
		t.Errorf("CancelledCount = %d, want 1", got)
	}
}
