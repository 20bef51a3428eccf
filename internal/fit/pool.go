// Package fit estimates drift-diffusion parameters by exhaustive search over
// a finite candidate set. It provides the aggregate likelihood objective,
// coarse-to-fine grid search and sequential Bayesian model averaging, all
// built on a bounded worker pool that evaluates independent trials in
// parallel.
package fit

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of concurrent likelihood evaluations.
type Pool struct {
	workers int
}

// NewPool returns a pool with the given number of workers. A non-positive
// value uses one worker per CPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	if p == nil || p.workers <= 0 {
		return 1
	}
	return p.workers
}

// Map applies fn to every item on the pool and returns the results in input
// order. Tasks run in any order; the first error cancels the remaining tasks
// and is returned once all started tasks have finished.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers())
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
