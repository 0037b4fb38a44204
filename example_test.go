package vthread_test

import (
	"context"
	"fmt"
	"time"

	vthread "github.com/Swind/go-vthread"
)

// ExampleGo demonstrates the basic usage with only one import.
func ExampleGo() {
	vthread.InitGlobalScheduler(2)
	defer vthread.ShutdownGlobalScheduler()

	s := vthread.GetGlobalScheduler()
	f, err := vthread.Go(s, func(ctx context.Context) (string, error) {
		if err := vthread.Sleep(ctx, 10*time.Millisecond); err != nil {
			return "", err
		}
		return "hello from a task", nil
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	v, err := f.Await(context.Background())
	fmt.Println(v, err)

	// Output:
	// hello from a task <nil>
}

// ExampleMutex shows tasks taking turns on a Mutex without holding carriers.
func ExampleMutex() {
	vthread.InitGlobalScheduler(1)
	defer vthread.ShutdownGlobalScheduler()

	var mu vthread.Mutex
	counter := 0

	var handles []*vthread.Handle
	for range 100 {
		h, _ := vthread.Submit(func(ctx context.Context) (any, error) {
			mu.Lock(ctx)
			defer mu.Unlock()
			counter++
			return nil, vthread.Yield(ctx)
		})
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, _ = h.Await(context.Background())
	}
	fmt.Println("counter:", counter)

	// Output:
	// counter: 100
}

// ExamplePark shows a task waiting on a key until another party unparks it.
func ExamplePark() {
	vthread.InitGlobalScheduler(1)
	defer vthread.ShutdownGlobalScheduler()

	s := vthread.GetGlobalScheduler()
	h, _ := s.Submit(func(ctx context.Context) (any, error) {
		if err := vthread.Park(ctx, "order-ready"); err != nil {
			return nil, err
		}
		return "picked up", nil
	})

	s.Unpark("order-ready")
	v, _ := h.Await(context.Background())
	fmt.Println(v)

	// Output:
	// picked up
}
