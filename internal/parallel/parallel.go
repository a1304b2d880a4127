// Package parallel splits index ranges across GOMAXPROCS workers.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ElementGrain is the smallest chunk worth a goroutine for elementwise loops.
const ElementGrain = 2048

// For calls fn over [0, n) split into contiguous chunks, one per worker.
func For(n int, fn func(start, end int)) {
	ForGrain(n, 1, fn)
}

// ForGrain is For with a minimum chunk size; ranges shorter than two grains
// run on the calling goroutine.
func ForGrain(n, grain int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if grain < 1 {
		grain = 1
	}
	workers := runtime.GOMAXPROCS(0)
	if limit := n / grain; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += chunk {
		start, end := start, min(start+chunk, n)
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}
