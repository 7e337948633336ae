// Package parallel provides a bounded parallel-for over index ranges.
//
// Row-wise work in rowcache (masked copies, per-index admission lookups)
// has no cross-row ordering requirement, so it can be chunked across
// workers. Chunking keeps per-goroutine overhead amortized over many rows.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minGrain is the smallest chunk worth dispatching to a worker. Below
// this the goroutine overhead dominates the copy work.
const minGrain = 256

// For runs fn over [0, n) split into contiguous chunks, using at most
// GOMAXPROCS workers. fn receives a half-open range [lo, hi). If any fn
// returns an error, For returns the first one; remaining chunks may still
// run to completion.
func For(n int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}

	workers := runtime.GOMAXPROCS(0)
	if n <= minGrain || workers <= 1 {
		return fn(0, n)
	}

	grain := (n + workers - 1) / workers
	if grain < minGrain {
		grain = minGrain
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for lo := 0; lo < n; lo += grain {
		hi := lo + grain
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			return fn(lo, hi)
		})
	}

	return g.Wait()
}
