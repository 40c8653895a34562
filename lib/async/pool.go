// Package async runs the engine's stop-time export jobs on a bounded worker
// pool, so acquisition lifecycle calls are never serialized behind disk or
// network IO.
package async

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/benchsync/benchsync/errs"
	"github.com/benchsync/benchsync/internal/observability"
)

// Job is one unit of export work. Name identifies the job in logs, usually
// the acquisition ID whose buffer is being written out.
type Job struct {
	Name    string
	Timeout time.Duration
	Run     func(context.Context) error
}

// Pool executes export jobs on a fixed set of workers with a bounded queue.
// Submissions beyond the queue depth are rejected rather than blocked on; a
// caller that cannot export immediately still holds the buffer snapshot and
// may retry.
type Pool struct {
	mu     sync.Mutex
	closed bool
	jobs   chan Job
	wg     sync.WaitGroup
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("exports", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{jobs: make(chan Job, queue)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit queues a job for execution. It never blocks: a saturated queue or a
// closed pool rejects the job with CodeUnavailable.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return errs.New("exports", errs.CodeInvalid, errs.WithMessage("job must have a Run function"))
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("submit context: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.New("exports", errs.CodeUnavailable, errs.WithMessage("export pool closed"))
	}
	p.wg.Add(1)
	select {
	case p.jobs <- job:
		return nil
	default:
		p.wg.Done()
		return errs.New("exports", errs.CodeUnavailable, errs.WithMessage("export queue full"))
	}
}

// Close stops accepting jobs. Queued jobs still run to completion.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

// Shutdown closes the pool and waits for queued and in-flight jobs to finish,
// or until the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("export pool shutdown: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer p.wg.Done()

	ctx := context.Background()
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 8192)
			n := runtime.Stack(stack, false)
			observability.Log().Error("export job panic",
				observability.F("job", job.Name),
				observability.F("panic", fmt.Sprint(r)),
				observability.F("stack", string(stack[:n])))
		}
	}()

	if err := job.Run(ctx); err != nil {
		observability.Log().Warn("export job failed",
			observability.F("job", job.Name),
			observability.F("error", err.Error()))
	}
}
