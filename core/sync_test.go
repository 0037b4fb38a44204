package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestMutex_MutualExclusion verifies at most one holder at a time
// Given: 200 tasks on 4 carriers, each sleeping while holding the lock
// When: All contend for the same Mutex
// Then: The observed concurrency inside the critical section never exceeds 1
func TestMutex_MutualExclusion(t *testing.T) {
	s := newTestScheduler(t, 4)

	var mu Mutex
	var inside, maxInside atomic.Int32
	var total int
	handles := make([]*Handle, 0, 200)
	for range 200 {
		handles = append(handles, mustSubmit(t, s, func(ctx context.Context) (any, error) {
			mu.Lock(ctx)
			defer mu.Unlock()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			if err := Sleep(ctx, 100*time.Microsecond); err != nil {
				return nil, err
			}
			total++
			inside.Add(-1)
			return nil, nil
		}))
	}

	for _, h := range handles {
		if _, err := awaitWithin(t, h, 10*time.Second); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}
	if maxInside.Load() != 1 {
		t.Errorf("max holders = %d, want 1", maxInside.Load())
	}
	if total != 200 {
		t.Errorf("total = %d, want 200", total)
	}
}

// TestMutex_WaitersDoNotHoldCarriers verifies blocked Lock calls release carriers
// Given: 1 carrier, a holder sleeping with the lock, and 5 waiters
// When: An unrelated task is submitted
// Then: It completes while the waiters are still queued
func TestMutex_WaitersDoNotHoldCarriers(t *testing.T) {
	s := newTestScheduler(t, 1)

	var mu Mutex
	release := make(chan struct{})
	holder := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		mu.Lock(ctx)
		defer mu.Unlock()
		_, err := Offload(ctx, func() (struct{}, error) {
			<-release
			return struct{}{}, nil
		})
		return nil, err
	})
	var waiters []*Handle
	for range 5 {
		waiters = append(waiters, mustSubmit(t, s, func(ctx context.Context) (any, error) {
			mu.Lock(ctx)
			mu.Unlock()
			return nil, nil
		}))
	}
	if !waitFor(t, time.Second, func() bool { return mu.Waiters() == 5 }) {
		t.Fatalf("Waiters() = %d, want 5", mu.Waiters())
	}

	free := mustSubmit(t, s, func(ctx context.Context) (any, error) { return "free", nil })
	if v, err := awaitWithin(t, free, time.Second); err != nil || v != "free" {
		t.Fatalf("unrelated task Await() = %v, %v", v, err)
	}

	close(release)
	for _, h := range append(waiters, holder) {
		if _, err := awaitWithin(t, h, time.Second); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}
}

// TestMutex_FIFOHandoff verifies waiters acquire in arrival order
func TestMutex_FIFOHandoff(t *testing.T) {
	s := newTestScheduler(t, 1)

	var mu Mutex
	mu.Lock(context.Background())

	var order []int
	var handles []*Handle
	for i := range 5 {
		handles = append(handles, mustSubmit(t, s, func(ctx context.Context) (any, error) {
			mu.Lock(ctx)
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}))
		want := i + 1
		if !waitFor(t, time.Second, func() bool { return mu.Waiters() == want }) {
			t.Fatalf("Waiters() = %d, want %d", mu.Waiters(), want)
		}
	}

	mu.Unlock()
	for _, h := range handles {
		if _, err := awaitWithin(t, h, time.Second); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want 0..4", order)
		}
	}
}

func TestMutex_TryLockAndGoroutines(t *testing.T) {
	var mu Mutex
	if !mu.TryLock() {
		t.Fatal("TryLock() on free mutex = false")
	}
	if mu.TryLock() {
		t.Fatal("TryLock() on held mutex = true")
	}

	var wg sync.WaitGroup
	var count int
	wg.Add(1)
	go func() {
		defer wg.Done()
		mu.Lock(context.Background())
		count++
		mu.Unlock()
	}()
	time.Sleep(5 * time.Millisecond)
	mu.Unlock()
	wg.Wait()

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestMutex_UnlockUnlockedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Unlock of unlocked Mutex did not panic")
		}
	}()
	var mu Mutex
	mu.Unlock()
}

// TestSemaphore_BoundsConcurrency verifies permits cap concurrent holders
func TestSemaphore_BoundsConcurrency(t *testing.T) {
	s := newTestScheduler(t, 4)

	sem := NewSemaphore(3)
	var inside, maxInside atomic.Int32
	var handles []*Handle
	for range 60 {
		handles = append(handles, mustSubmit(t, s, func(ctx context.Context) (any, error) {
			if err := sem.Acquire(ctx); err != nil {
				return nil, err
			}
			defer sem.Release()
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			err := Sleep(ctx, time.Millisecond)
			inside.Add(-1)
			return nil, err
		}))
	}

	for _, h := range handles {
		if _, err := awaitWithin(t, h, 5*time.Second); err != nil {
			t.Fatalf("Await() error = %v", err)
		}
	}
	if got := maxInside.Load(); got > 3 || got == 0 {
		t.Errorf("max holders = %d, want 1..3", got)
	}
	if sem.Available() != 3 {
		t.Errorf("Available() = %d, want 3", sem.Available())
	}
}

// TestSemaphore_AcquireCancelled verifies a cancelled waiter leaves no trace
func TestSemaphore_AcquireCancelled(t *testing.T) {
	s := newTestScheduler(t, 2)

	sem := NewSemaphore(1)
	if !sem.TryAcquire() {
		t.Fatal("TryAcquire() = false, want true")
	}

	h := mustSubmit(t, s, func(ctx context.Context) (any, error) {
		return nil, sem.Acquire(ctx)
	})
	if !waitFor(t, time.Second, func() bool { return h.State() == TaskStateSuspended }) {
		t.Fatal("waiter did not suspend")
	}
	h.Cancel()
	if _, err := awaitWithin(t, h, time.Second); !IsCancelled(err) {
		t.Fatalf("Await() error = %v, want ErrCancelled", err)
	}

	sem.Release()
	if sem.Available() != 1 {
		t.Errorf("Available() = %d after release, want 1", sem.Available())
	}
}

func TestSemaphore_GoroutineTimeout(t *testing.T) {
	sem := NewSemaphore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := sem.Acquire(ctx); err == nil {
		t.Fatal("Acquire() with no permits = nil, want timeout")
	}
	sem.Release()
	if !sem.TryAcquire() {
		t.Error("TryAcquire() after Release = false, want true")
	}
}
