// Package queue implements a bounded-concurrency task queue: FIFO
// admission, per-task future resolution, backed by github.com/alitto/pond/v2
// the way canopy-network-canopyx uses it for batch scheduling.
package queue

import (
	"context"
	"sync/atomic"

	"github.com/alitto/pond/v2"
)

// Future resolves with the result of a single Enqueue call.
type Future[T any] struct {
	done   chan struct{}
	value  T
	err    error
}

// Wait blocks until the task completes (or ctx is done) and returns its
// result.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Pool is a named, bounded-concurrency worker pool. The cache engine keeps
// two: a "build" pool (concurrency 2) and a "repair" pool (concurrency 5).
type Pool struct {
	name    string
	pool    pond.Pool
	pending atomic.Int64
}

// New creates a Pool with the given name and maximum concurrency.
func New(name string, concurrency int) *Pool {
	return &Pool{
		name: name,
		pool: pond.NewPool(concurrency),
	}
}

// Enqueue admits fn to the pool in FIFO order and returns a Future that
// resolves with its result. Enqueue never blocks on fn's completion.
func Enqueue[T any](p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	p.pending.Add(1)

	fut := &Future[T]{done: make(chan struct{})}
	p.pool.Submit(func() {
		defer p.pending.Add(-1)
		fut.value, fut.err = fn(context.Background())
		close(fut.done)
	})

	return fut
}

// Len returns the count of tasks admitted but not yet completed, which
// includes both queued and currently-running tasks. Combined with the
// pool's fixed concurrency this gives callers (e.g. Stats) an occupancy
// gauge.
func (p *Pool) Len() int64 {
	return p.pending.Load()
}

// Name returns the pool's configured name (used to label metrics).
func (p *Pool) Name() string { return p.name }

// StopAndWait drains the pool, waiting for in-flight tasks to complete and
// rejecting further submissions.
func (p *Pool) StopAndWait() {
	p.pool.StopAndWait()
}
