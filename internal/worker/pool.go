// Package worker provides a fixed-size goroutine pool fed by a bounded queue.
package worker

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Submit and Do once the pool has been drained.
	ErrClosed = errors.New("worker pool closed")
	// ErrFull is returned by Submit when the queue has no free slot.
	ErrFull = errors.New("worker pool queue full")
)

// job is the unit of work dispatched to a worker.
type job[T, R any] struct {
	ctx     context.Context
	payload T
	result  chan<- jobResult[R]
}

type jobResult[R any] struct {
	value R
	err   error
}

// Pool is a fixed-size goroutine pool with a bounded input queue.
//
// Submit is fire-and-forget and never blocks; Do blocks until a worker has
// processed the payload. Both are safe for concurrent use.
type Pool[T, R any] struct {
	queue   chan job[T, R]
	process func(ctx context.Context, t T) (R, error)
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates and starts a pool with n goroutines and queue capacity depth.
// Workers stop when ctx is cancelled or the pool is drained.
func New[T, R any](ctx context.Context, n, depth int, fn func(context.Context, T) (R, error)) *Pool[T, R] {
	if n < 1 {
		n = 1
	}
	if depth < 0 {
		depth = 0
	}
	p := &Pool[T, R]{
		queue:   make(chan job[T, R], depth),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *Pool[T, R]) run(ctx context.Context) {
	for {
		select {
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			jctx := j.ctx
			if jctx == nil {
				jctx = ctx
			}
			v, err := p.process(jctx, j.payload)
			if j.result != nil {
				j.result <- jobResult[R]{value: v, err: err}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues a job without blocking. It returns ErrFull when the queue
// has no room and ErrClosed after Drain.
func (p *Pool[T, R]) Submit(t T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job[T, R]{payload: t}:
		return nil
	default:
		return ErrFull
	}
}

// Do enqueues t, waiting for queue space if necessary, and returns the
// worker's result. It gives up when ctx is done.
func (p *Pool[T, R]) Do(ctx context.Context, t T) (R, error) {
	var zero R
	resultC := make(chan jobResult[R], 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return zero, ErrClosed
	}
	select {
	case p.queue <- job[T, R]{ctx: ctx, payload: t, result: resultC}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return zero, ctx.Err()
	}

	select {
	case res := <-resultC:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Drain closes the queue and waits for all workers to finish what is queued.
// Calling Drain more than once is a no-op.
func (p *Pool[T, R]) Drain() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (p *Pool[T, R]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *Pool[T, R]) QueueCap() int {
	return cap(p.queue)
}

// Utilization returns queue used / capacity (0–1).
func (p *Pool[T, R]) Utilization() float64 {
	if cap(p.queue) == 0 {
		return 0
	}
	return float64(len(p.queue)) / float64(cap(p.queue))
}
