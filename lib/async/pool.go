// Package async provides bounded worker pool utilities.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/groundfault/groundfault/errs"
)

// Task represents a unit of work executed by the pool workers.
type Task func(context.Context) error

// Pool is a bounded worker pool. Submit never blocks: a saturated queue is
// reported to the caller, which makes the pool usable as a lossy send queue.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan Task
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a worker pool with the given concurrency and queue depth.
// A single worker preserves submission order.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(chan Task, queue),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the task for execution. A closed pool or a full queue
// yields an unavailable error immediately; Submit is safe to race with Close.
func (p *Pool) Submit(fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	// The read lock holds the jobs channel open: Close closes it only under
	// the write lock, so the send below can never hit a closed channel.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.wg.Add(1)
	select {
	case p.jobs <- fn:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks and cancels workers.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	close(p.jobs)
}

// Shutdown waits for in-flight tasks to complete or until the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for fn := range p.jobs {
		func() {
			defer func() {
				// Keep the worker alive through task panics; the task owns
				// its own diagnostics.
				_ = recover()
			}()
			_ = fn(p.ctx)
		}()
		p.wg.Done()
	}
}
