package vthread

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// TestGlobalScheduler_Lifecycle verifies init, reuse and shutdown of the global scheduler
// Given: An initialized global scheduler
// When: It is initialized again, used and shut down
// Then: The second init is a no-op and Get panics after shutdown
func TestGlobalScheduler_Lifecycle(t *testing.T) {
	InitGlobalScheduler(2)
	first := GetGlobalScheduler()
	InitGlobalScheduler(8)
	if GetGlobalScheduler() != first {
		t.Fatal("second InitGlobalScheduler replaced the scheduler")
	}
	if got := first.Stats().Workers; got != 2 {
		t.Errorf("Workers = %d, want 2", got)
	}

	var ran atomic.Int32
	h, err := Submit(func(ctx context.Context) (any, error) {
		ran.Add(1)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Await(ctx); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	if err := ShutdownGlobalScheduler(); err != nil {
		t.Fatalf("ShutdownGlobalScheduler() error = %v", err)
	}
	if err := ShutdownGlobalScheduler(); err != nil {
		t.Errorf("second ShutdownGlobalScheduler() error = %v", err)
	}
	if ran.Load() != 1 {
		t.Errorf("ran = %d, want 1", ran.Load())
	}

	defer func() {
		if recover() == nil {
			t.Error("GetGlobalScheduler() after shutdown did not panic")
		}
	}()
	GetGlobalScheduler()
}

func TestNewScheduler_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerCount = -1
	if _, err := NewScheduler(cfg); err == nil {
		t.Error("NewScheduler() with negative workers error = nil")
	}
}
