package vthread

import (
	"context"
)

// Future is a typed view of a task's Handle.
type Future[T any] struct {
	h *Handle
}

// Go submits fn to s and returns a Future for its value.
func Go[T any](s *Scheduler, fn func(ctx context.Context) (T, error), opts ...SubmitOption) (*Future[T], error) {
	h, err := s.Submit(func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &Future[T]{h: h}, nil
}

// GoChild is Go for tasks that spawn children: the child prefers the
// parent's carrier.
func GoChild[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...SubmitOption) (*Future[T], error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNotStarted
	}
	return Go(s, fn, append([]SubmitOption{WithParent(ctx)}, opts...)...)
}

// Handle returns the underlying task handle.
func (f *Future[T]) Handle() *Handle { return f.h }

// Await waits for the task and returns its value. A task that failed
// returns the zero T and its error.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	v, err := f.h.Await(ctx)
	return typed[T](v, err)
}

// Done is closed when the task finishes.
func (f *Future[T]) Done() <-chan struct{} { return f.h.Done() }

// Cancel cancels the task.
func (f *Future[T]) Cancel() { f.h.Cancel() }

func typed[T any](v any, err error) (T, error) {
	var zero T
	if err != nil || v == nil {
		return zero, err
	}
	return v.(T), nil
}

// AwaitAll waits for every future and returns the values in order. It stops
// at the first error.
func AwaitAll[T any](ctx context.Context, fs ...*Future[T]) ([]T, error) {
	out := make([]T, len(fs))
	for i, f := range fs {
		v, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
