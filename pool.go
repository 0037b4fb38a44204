package vthread

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-vthread/core"
)

// NewScheduler creates a scheduler from cfg and starts it.
func NewScheduler(cfg Config) (*Scheduler, error) {
	s, err := core.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Start(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// =============================================================================
// Global Scheduler Helper (Singleton)
// =============================================================================

const globalDrainTimeout = 5 * time.Second

var (
	globalScheduler *Scheduler
	globalMu        sync.Mutex
)

// InitGlobalScheduler initializes the global scheduler with the given number
// of carriers and starts it. Later calls are no-ops until
// ShutdownGlobalScheduler.
//
// The global scheduler is a convenience for small programs and examples.
// Libraries and collaborators should take an explicit *Scheduler, the way
// httpserver.New and the loadgen runners do.
func InitGlobalScheduler(workers int) {
	cfg := DefaultConfig()
	cfg.Name = "global"
	cfg.WorkerCount = workers
	InitGlobalSchedulerWithConfig(cfg)
}

// InitGlobalSchedulerWithConfig is InitGlobalScheduler with a full config.
// It panics if cfg is invalid.
func InitGlobalSchedulerWithConfig(cfg Config) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler != nil {
		return // Already initialized
	}

	s, err := NewScheduler(cfg)
	if err != nil {
		panic("vthread: global scheduler: " + err.Error())
	}
	globalScheduler = s
}

// GetGlobalScheduler returns the global scheduler.
// It panics if InitGlobalScheduler has not been called.
func GetGlobalScheduler() *Scheduler {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalScheduler == nil {
		panic("GlobalScheduler not initialized. Call InitGlobalScheduler() first.")
	}
	return globalScheduler
}

// ShutdownGlobalScheduler drains and stops the global scheduler.
func ShutdownGlobalScheduler() error {
	globalMu.Lock()
	s := globalScheduler
	globalScheduler = nil
	globalMu.Unlock()

	if s == nil {
		return nil
	}
	return s.Shutdown(globalDrainTimeout)
}

// Submit runs work on the global scheduler.
func Submit(work Work, opts ...SubmitOption) (*Handle, error) {
	return GetGlobalScheduler().Submit(work, opts...)
}
