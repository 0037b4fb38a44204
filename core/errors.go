package core

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrSchedulerClosed is returned by Submit once Shutdown has begun.
	ErrSchedulerClosed = errors.New("vthread: scheduler closed")

	// ErrCancelled is the failure recorded for tasks that were cancelled,
	// either cooperatively through Handle.Cancel or forcibly when a drain
	// timed out.
	ErrCancelled = errors.New("vthread: task cancelled")

	// ErrDrainTimeout is returned by Shutdown when in-flight tasks did not
	// finish within the drain timeout.
	ErrDrainTimeout = errors.New("vthread: drain timeout exceeded")

	// ErrWaitKeyInUse is returned when a second task tries to park on a key
	// that already has a waiter.
	ErrWaitKeyInUse = errors.New("vthread: wait key already has a waiter")

	ErrAlreadyStarted = errors.New("vthread: scheduler already started")
	ErrNotStarted     = errors.New("vthread: scheduler not started")
	ErrInvalidConfig  = errors.New("vthread: invalid config")
	ErrNilWork        = errors.New("vthread: nil work")
	ErrSelfAwait      = errors.New("vthread: task awaited itself")
)

// PanicError is the failure recorded for a task whose work panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("vthread: task panicked: %v", e.Value)
}

// Diagnostic is a non-fatal report raised by the scheduler's monitor.
type Diagnostic interface {
	error
	Kind() string
}

// PinningViolation reports a task that kept its carrier pinned longer than
// the configured threshold. Ongoing is set when the region had not yet
// exited at the time of the report.
type PinningViolation struct {
	TaskID    TaskID
	TaskName  string
	WorkerID  int
	Duration  time.Duration
	Threshold time.Duration
	Ongoing   bool
}

func (v *PinningViolation) Error() string {
	state := "held"
	if v.Ongoing {
		state = "still holding"
	}
	return fmt.Sprintf("vthread: task %s (%s) %s worker %d pinned for %s (threshold %s)",
		v.TaskID, v.TaskName, state, v.WorkerID, v.Duration, v.Threshold)
}

func (v *PinningViolation) Kind() string { return "pinning" }

// StarvationDiagnostic reports a task that has been suspended for longer
// than the deadlock threshold without being unparked.
type StarvationDiagnostic struct {
	TaskID   TaskID
	TaskName string
	Key      WaitKey
	Waited   time.Duration
}

func (d *StarvationDiagnostic) Error() string {
	return fmt.Sprintf("vthread: task %s (%s) suspended for %s on %v",
		d.TaskID, d.TaskName, d.Waited, d.Key)
}

func (d *StarvationDiagnostic) Kind() string { return "starvation" }

// InvariantViolation is raised (or logged, when StrictInvariants is off)
// when scheduler bookkeeping detects an impossible state.
type InvariantViolation struct {
	Msg string
}

func (v *InvariantViolation) Error() string { return "vthread: invariant violated: " + v.Msg }

// IsCancelled reports whether err records a cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsPanic reports whether err records a panicking task and returns the
// recovered value.
func IsPanic(err error) (*PanicError, bool) {
	var pe *PanicError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
