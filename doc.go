// Package vthread runs many lightweight tasks on a small, fixed set of
// carrier goroutines.
//
// A task that blocks through this package (Sleep, Park, Await, Mutex,
// Semaphore, Offload) is suspended and gives its carrier back, so a few
// carriers can keep thousands of waiting tasks moving. Ready tasks are
// spread over per-carrier deques with work stealing; long waits, pinned
// regions and starving tasks are reported as diagnostics.
//
// # Quick Start
//
// Initialize the global scheduler at application startup:
//
//	vthread.InitGlobalScheduler(4) // 4 carriers
//	defer vthread.ShutdownGlobalScheduler()
//
// Submit work and wait for it:
//
//	s := vthread.GetGlobalScheduler()
//	f, _ := vthread.Go(s, func(ctx context.Context) (string, error) {
//		if err := vthread.Sleep(ctx, 50*time.Millisecond); err != nil {
//			return "", err
//		}
//		return "done", nil
//	})
//	v, err := f.Await(context.Background())
//
// # Key Concepts
//
// Scheduler: owns the carriers, the run queues, the timer loop and the
// monitor. Create one with NewScheduler or use the global one.
//
// Task: a unit of work submitted with Submit or Go. Each task has a Handle
// (or a typed Future) to await, cancel or observe it.
//
// Pinning: code that must hold an OS-level lock across a blocking call runs
// inside Pin or LockPinned. A pinned task keeps its carrier while it waits;
// Stats reports how often and for how long that happens.
//
// # Cancellation
//
// Handle.Cancel cancels the task's context. Interruptible waits return
// ErrCancelled. Shutdown cancels whatever is still running once its drain
// timeout passes.
package vthread
