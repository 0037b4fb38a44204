package core

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task's work panics. The panic has already
// been recovered and the task is recorded as failed with a *PanicError.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called on the panicking task's goroutine.
	//
	// Parameters:
	// - ctx: The task's context (CurrentTask works on it)
	// - schedulerName: The name of the owning scheduler
	// - workerID: The carrier that was running the task
	// - panicInfo: The recovered panic value
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs the panic and its stack through the standard logger.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, schedulerName string, workerID int, panicInfo any, stackTrace []byte) {
	name := ""
	if info, ok := CurrentTask(ctx); ok {
		name = info.Name
	}
	log.Printf("[Worker %d @ %s] task %q panicked: %v\nStack trace:\n%s",
		workerID, schedulerName, name, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics receives scheduler events. Methods are called on hot paths and
// must be non-blocking.
type Metrics interface {
	// RecordTaskDuration records the wall time of a finished task.
	// outcome is one of "completed", "failed" or "cancelled".
	RecordTaskDuration(schedulerName string, outcome string, duration time.Duration)

	RecordTaskPanic(schedulerName string, panicInfo any)

	// RecordQueueDepth is called by the monitor for the "global" and "local" scopes.
	RecordQueueDepth(schedulerName string, scope string, depth int)

	RecordTaskRejected(schedulerName string, reason string)

	// RecordPinned records the length of an exited pinned region.
	RecordPinned(schedulerName string, duration time.Duration, violation bool)

	RecordSteal(schedulerName string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(schedulerName string, outcome string, duration time.Duration) {
}

func (m *NilMetrics) RecordTaskPanic(schedulerName string, panicInfo any) {}

func (m *NilMetrics) RecordQueueDepth(schedulerName string, scope string, depth int) {}

func (m *NilMetrics) RecordTaskRejected(schedulerName string, reason string) {}

func (m *NilMetrics) RecordPinned(schedulerName string, duration time.Duration, violation bool) {}

func (m *NilMetrics) RecordSteal(schedulerName string) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when Submit refuses work, currently only
// because the scheduler is shutting down.
type RejectedTaskHandler interface {
	HandleRejectedTask(schedulerName string, reason string)
}

// DefaultRejectedTaskHandler provides a basic handler that logs rejected tasks.
type DefaultRejectedTaskHandler struct{}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(schedulerName string, reason string) {
	log.Printf("[Scheduler %s] task rejected: %s", schedulerName, reason)
}

// =============================================================================
// DiagnosticHandler: pinning and starvation reports
// =============================================================================

// DiagnosticHandler receives *PinningViolation and *StarvationDiagnostic
// reports from the monitor. It is called from the monitor goroutine or from
// the task that exits a pinned region.
type DiagnosticHandler interface {
	HandleDiagnostic(schedulerName string, d Diagnostic)
}

// LoggingDiagnosticHandler writes diagnostics to a Logger at warn level.
type LoggingDiagnosticHandler struct {
	Logger Logger
}

func (h *LoggingDiagnosticHandler) HandleDiagnostic(schedulerName string, d Diagnostic) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn(fmt.Sprintf("%s diagnostic", d.Kind()),
		F("scheduler", schedulerName),
		F("detail", d.Error()),
	)
}

// DiagnosticHandlerFunc adapts a function to DiagnosticHandler.
type DiagnosticHandlerFunc func(schedulerName string, d Diagnostic)

func (f DiagnosticHandlerFunc) HandleDiagnostic(schedulerName string, d Diagnostic) {
	f(schedulerName, d)
}
