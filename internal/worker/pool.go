// Package worker runs jobs on a fixed set of goroutines and hands callers
// a Future for each job's result.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after Shutdown was called.
var ErrClosed = errors.New("worker pool is closed")

// Job is a unit of work. The context passed to a job is detached from the
// submitter's cancellation but keeps its values.
type Job func(ctx context.Context)

type task struct {
	ctx context.Context
	run Job
}

// Pool is a bounded worker pool with an explicit lifecycle:
// NewPool, Start, any number of Submit calls, then Shutdown, which stops
// intake and waits for every queued job to finish.
type Pool struct {
	size  int
	queue chan task
	done  chan struct{}
	lg    *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	// sending counts Submit calls that may still write to queue; queue is
	// closed only once it drops to zero.
	sending sync.WaitGroup
}

// NewPool creates a pool of size workers with room for queue pending jobs.
func NewPool(size, queue int, lg *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Pool{
		size:  size,
		queue: make(chan task, queue),
		done:  make(chan struct{}),
		lg:    lg,
	}
}

// Start launches the workers. Calling Start more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := range p.size {
		p.wg.Add(1)
		go p.work(i)
	}
	p.lg.Info("Worker pool started", zap.Int("workers", p.size), zap.Int("queue", cap(p.queue)))
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.exec(id, t)
	}
}

func (p *Pool) exec(id int, t task) {
	defer func() {
		if r := recover(); r != nil {
			p.lg.Error("Job panicked",
				zap.Int("worker", id),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	t.run(t.ctx)
}

// Submit queues a job, blocking while the queue is full. ctx only bounds
// the wait for a queue slot; it does not cancel the job once queued.
// A Submit blocked when Shutdown starts returns ErrClosed.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.sending.Add(1)
	p.mu.RUnlock()
	defer p.sending.Done()

	t := task{ctx: context.WithoutCancel(ctx), run: job}
	select {
	case p.queue <- t:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for queue slot")
	}
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// complete, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	first := !p.closed
	if first {
		p.closed = true
		close(p.done)
		if !p.started {
			// Drain without workers would block forever.
			p.started = true
			for i := range p.size {
				p.wg.Add(1)
				go p.work(i)
			}
		}
	}
	p.mu.Unlock()
	if first {
		p.sending.Wait()
		close(p.queue)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.lg.Info("Worker pool drained")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain worker pool")
	}
}

// PanicError is the error a Future reports for a job that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}
