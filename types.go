package vthread

import (
	"context"

	"github.com/Swind/go-vthread/core"
)

// Re-export commonly used types from core package for convenience.
// This allows users to import only the vthread package for most use cases.

// Scheduler runs tasks on a fixed pool of carriers
type Scheduler = core.Scheduler

// Config configures a Scheduler
type Config = core.Config

// Work is the body of a task
type Work = core.Work

// Handle refers to a submitted task
type Handle = core.Handle

// Result is the outcome of a finished task
type Result = core.Result

type (
	TaskID              = core.TaskID
	TaskState           = core.TaskState
	TaskInfo            = core.TaskInfo
	WaitKey             = core.WaitKey
	SubmitOption        = core.SubmitOption
	Stats               = core.Stats
	WorkerStats         = core.WorkerStats
	TaskExecutionRecord = core.TaskExecutionRecord
)

// Suspension-aware primitives
type (
	Mutex     = core.Mutex
	Semaphore = core.Semaphore
)

// Errors and diagnostics
type (
	PanicError           = core.PanicError
	PinningViolation     = core.PinningViolation
	StarvationDiagnostic = core.StarvationDiagnostic
	Diagnostic           = core.Diagnostic
)

// Task states
const (
	TaskStateCreated   = core.TaskStateCreated
	TaskStateRunnable  = core.TaskStateRunnable
	TaskStateRunning   = core.TaskStateRunning
	TaskStateSuspended = core.TaskStateSuspended
	TaskStatePinned    = core.TaskStatePinned
	TaskStateCompleted = core.TaskStateCompleted
	TaskStateFailed    = core.TaskStateFailed
)

var (
	ErrSchedulerClosed = core.ErrSchedulerClosed
	ErrCancelled       = core.ErrCancelled
	ErrDrainTimeout    = core.ErrDrainTimeout
	ErrWaitKeyInUse    = core.ErrWaitKeyInUse
	ErrNotStarted      = core.ErrNotStarted
	ErrAlreadyStarted  = core.ErrAlreadyStarted
	ErrInvalidConfig   = core.ErrInvalidConfig
)

var (
	DefaultConfig = core.DefaultConfig
	WithName      = core.WithName
	WithParent    = core.WithParent
	NewSemaphore  = core.NewSemaphore
	IsCancelled   = core.IsCancelled
	IsPanic       = core.IsPanic
)

// Task-side helpers. All of them take the task's context.
var (
	Yield         = core.Yield
	ShouldYield   = core.ShouldYield
	Checkpoint    = core.Checkpoint
	Sleep         = core.Sleep
	Park          = core.Park
	Pin           = core.Pin
	LockPinned    = core.LockPinned
	IsPinned      = core.IsPinned
	Spawn         = core.Spawn
	SetLocal      = core.SetLocal
	Local         = core.Local
	CurrentTask   = core.CurrentTask
	InTask        = core.InTask
	FromContext   = core.FromContext
	WithScheduler = core.WithScheduler
)

// Offload runs fn on a helper goroutine while the current task is suspended.
func Offload[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return core.Offload(ctx, fn)
}
