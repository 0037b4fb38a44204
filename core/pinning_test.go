package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestPin_CountRestoredAfterPanic verifies the pinned count survives a panic
// Given: A task that panics inside a pinned region
// When: It fails
// Then: PinnedCount returns to 0 and the task is recorded as a panic
func TestPin_CountRestoredAfterPanic(t *testing.T) {
	s := newTestScheduler(t, 2)

	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, Pin(ctx, func() error {
			panic("inside pin")
		})
	})
	_, err := awaitWithin(t, h, time.Second)
	if _, ok := IsPanic(err); !ok {
		t.Fatalf("Await() error = %v, want *PanicError", err)
	}
	if got := s.Stats().PinnedCount; got != 0 {
		t.Errorf("PinnedCount = %d, want 0", got)
	}
}

// TestPin_NestedCountsOnce verifies nested regions pin once
func TestPin_NestedCountsOnce(t *testing.T) {
	s := newTestScheduler(t, 1)

	seen := make(chan int, 2)
	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, Pin(ctx, func() error {
			seen <- s.Stats().PinnedCount
			return Pin(ctx, func() error {
				seen <- s.Stats().PinnedCount
				if !IsPinned(ctx) {
					return errors.New("IsPinned() = false inside Pin")
				}
				return nil
			})
		})
	})
	if _, err := awaitWithin(t, h, time.Second); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if a, b := <-seen, <-seen; a != 1 || b != 1 {
		t.Errorf("PinnedCount outer/inner = %d/%d, want 1/1", a, b)
	}
	if got := s.Stats().PinnedCount; got != 0 {
		t.Errorf("PinnedCount after exit = %d, want 0", got)
	}
}

// TestPin_ParkHoldsCarrier verifies a pinned park keeps the carrier
// Given: 1 carrier and a task that sleeps inside a pinned region
// When: A second task is submitted during the sleep
// Then: The second task only runs after the pinned task releases the carrier
func TestPin_ParkHoldsCarrier(t *testing.T) {
	s := newTestScheduler(t, 1)

	var mu sync.Mutex
	var events []string
	add := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	pinned := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, Pin(ctx, func() error {
			add("pinned-start")
			err := Sleep(ctx, 30*time.Millisecond)
			add("pinned-end")
			return err
		})
	})
	if !waitFor(t, time.Second, func() bool { return pinned.State() == TaskStatePinned }) {
		t.Fatalf("State() = %s, want pinned", pinned.State())
	}
	other := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		add("other")
		return nil, nil
	})

	for _, h := range []*Handle{pinned, other} {
		if _, err := awaitWithin(t, h, time.Second); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"pinned-start", "pinned-end", "other"}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

// TestPin_ViolationReported verifies long pinned regions are diagnosed
func TestPin_ViolationReported(t *testing.T) {
	metrics := NewTestMetrics()
	s := newTestScheduler(t, 1, func(c *Config) {
		c.PinnedThreshold = 10 * time.Millisecond
		c.Metrics = metrics
	})

	var mu sync.Mutex
	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, LockPinned(ctx, &mu, func() error {
			time.Sleep(30 * time.Millisecond)
			return nil
		})
	}, WithName("slow-holder"))
	if _, err := awaitWithin(t, h, time.Second); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	st := s.Stats()
	if st.PinningViolations != 1 {
		t.Errorf("PinningViolations = %d, want 1", st.PinningViolations)
	}
	if st.PinnedDuration < 30*time.Millisecond {
		t.Errorf("PinnedDuration = %v, want >= 30ms", st.PinnedDuration)
	}
	regions, violations := metrics.PinnedRegions()
	if regions != 1 || violations != 1 {
		t.Errorf("metrics regions/violations = %d/%d, want 1/1", regions, violations)
	}

	diags := s.diagnostics.(*TestDiagnosticHandler).ByKind("pinning")
	if len(diags) != 1 {
		t.Fatalf("pinning diagnostics = %d, want 1", len(diags))
	}
	v := diags[0].(*PinningViolation)
	if v.TaskName != "slow-holder" || v.Duration < 10*time.Millisecond {
		t.Errorf("violation = %+v", v)
	}

	rec, _ := s.LastTask()
	if rec.PinnedTime < 30*time.Millisecond {
		t.Errorf("record PinnedTime = %v, want >= 30ms", rec.PinnedTime)
	}
}

// TestPin_YieldIsNoOp verifies yields inside a pinned region do not release the carrier
func TestPin_YieldIsNoOp(t *testing.T) {
	s := newTestScheduler(t, 1)

	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, Pin(ctx, func() error {
			for range 10 {
				if err := Yield(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if _, err := awaitWithin(t, h, time.Second); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got := s.Stats().YieldCount; got != 0 {
		t.Errorf("YieldCount = %d, want 0", got)
	}
}

func TestPin_OutsideTask(t *testing.T) {
	ran := false
	err := Pin(context.Background(), func() error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("Pin outside task = %v, ran %v", err, ran)
	}
	if IsPinned(context.Background()) {
		t.Error("IsPinned(Background) = true")
	}
}

// TestPin_CostScalesWithCarriers verifies pinned sleeps serialize per carrier
// Given: 4 carriers and 40 tasks that each sleep 10ms
// When: The sleeps run inside a pinned region, then outside one
// Then: The pinned run takes at least 40/4 * 10ms, the unpinned run far less
func TestPin_CostScalesWithCarriers(t *testing.T) {
	run := func(pinned bool) time.Duration {
		s := newTestScheduler(t, 4, func(c *Config) {
			c.PinnedThreshold = time.Second
		})
		start := time.Now()
		handles := make([]*Handle, 0, 40)
		for range 40 {
			handles = append(handles, mustSubmit(t, s, func(ctx context.Context) (any, error) {
				if !pinned {
					return nil, Sleep(ctx, 10*time.Millisecond)
				}
				return nil, Pin(ctx, func() error {
					return Sleep(ctx, 10*time.Millisecond)
				})
			}))
		}
		for _, h := range handles {
			if _, err := awaitWithin(t, h, 5*time.Second); err != nil {
				t.Fatalf("Await() error = %v", err)
			}
		}
		return time.Since(start)
	}

	pinned := run(true)
	unpinned := run(false)
	if pinned < 100*time.Millisecond {
		t.Errorf("pinned run took %v, want >= 100ms", pinned)
	}
	if unpinned >= pinned/2 {
		t.Errorf("unpinned run took %v, pinned %v; want unpinned well under half", unpinned, pinned)
	}
}
