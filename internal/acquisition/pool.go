package acquisition

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Runner executes one job. *Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, job *Job) (Result, error)
}

// Pool bounds the number of jobs running at once.
type Pool struct {
	runner   Runner
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// NewPool sizes the pool; size <= 0 uses the number of CPUs.
func NewPool(runner Runner, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{runner: runner, sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Submit waits for a free slot, then runs job to completion. It returns the
// context error if ctx ends while waiting.
func (p *Pool) Submit(ctx context.Context, job *Job) (Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	p.wg.Add(1)
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
		p.wg.Done()
	}()
	return p.runner.Run(ctx, job)
}

// Size is the maximum number of concurrent jobs.
func (p *Pool) Size() int { return p.size }

// InFlight is the number of jobs currently running.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Wait blocks until every running job has returned.
func (p *Pool) Wait() { p.wg.Wait() }
