// Package utils contains small helpers shared by the botlab packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers owns the background goroutines of a component, such as the bus dispatcher or
// a websocket writer. Every worker receives the same context, which is cancelled by Stop.
type StoppableWorkers struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStoppableWorkers starts one goroutine per function.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.Add(funcs...)
	return sw
}

// Add starts more workers. It does nothing once Stop has been called. A panicking worker is
// logged and counted as finished.
func (sw *StoppableWorkers) Add(funcs ...func(context.Context)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.ctx.Err() != nil {
		return
	}
	for _, f := range funcs {
		sw.wg.Add(1)
		goutils.PanicCapturingGo(func() {
			defer sw.wg.Done()
			f(sw.ctx)
		})
	}
}

// Stop cancels the workers' context and waits for all of them to return.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	sw.cancel()
	sw.mu.Unlock()
	sw.wg.Wait()
}

// Context is the context passed to every worker.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}
