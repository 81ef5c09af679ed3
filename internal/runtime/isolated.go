package runtime

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dagucloud/forge/internal/core"
)

// IsolatedPool runs work on dedicated execution contexts. Every context is a
// goroutine locked to its own OS thread. It is created lazily for one run,
// accepts exactly one job through a single-slot channel and is torn down
// when the job returns.
type IsolatedPool struct {
	startTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	active  int
	wg      sync.WaitGroup
	created atomic.Int64
}

// NewIsolatedPool creates a pool. startTimeout bounds how long Run waits for
// a context to come up; zero waits for as long as ctx allows.
func NewIsolatedPool(startTimeout time.Duration) *IsolatedPool {
	return &IsolatedPool{startTimeout: startTimeout}
}

type isolatedContext struct {
	jobs  chan func()
	ready chan struct{}
	done  chan struct{}
}

// Run executes fn on a fresh isolated context and blocks until fn returns or
// ctx is done. fn must not panic.
func (p *IsolatedPool) Run(ctx context.Context, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return core.ErrIsolatedContextUnavailable
	}
	p.active++
	p.wg.Add(1)
	p.mu.Unlock()

	ic := &isolatedContext{
		jobs:  make(chan func(), 1),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	p.created.Add(1)
	go p.serve(ic)

	var timeout <-chan time.Time
	if p.startTimeout > 0 {
		timer := time.NewTimer(p.startTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ic.ready:
	case <-ctx.Done():
		close(ic.jobs)
		return ctx.Err()
	case <-timeout:
		close(ic.jobs)
		return fmt.Errorf("%w: not started within %s", core.ErrIsolatedContextUnavailable, p.startTimeout)
	}

	ic.jobs <- fn
	close(ic.jobs)

	select {
	case <-ic.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *IsolatedPool) serve(ic *isolatedContext) {
	defer p.release()
	defer close(ic.done)
	// The thread is never unlocked, so it exits together with the goroutine.
	goruntime.LockOSThread()
	close(ic.ready)
	for job := range ic.jobs {
		job()
	}
}

func (p *IsolatedPool) release() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	p.wg.Done()
}

// Active returns the number of live contexts.
func (p *IsolatedPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Created returns the number of contexts created so far.
func (p *IsolatedPool) Created() int64 {
	return p.created.Load()
}

// Close rejects new runs and waits for live contexts to finish.
func (p *IsolatedPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
