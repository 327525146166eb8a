// Package parallel splits CPU kernel loops across a bounded set of goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config bounds the goroutines used by For.
type Config struct {
	Workers  int // at most this many goroutines; <= 1 runs inline
	MinChunk int // smallest range handed to one goroutine
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), MinChunk: 1}
}

// Sequential runs every loop on the calling goroutine.
func Sequential() Config {
	return Config{Workers: 1, MinChunk: 1}
}

// chunk returns the range length per goroutine for n items, or n when the
// loop should run inline.
func (c Config) chunk(n int) int {
	minChunk := max(c.MinChunk, 1)
	if c.Workers <= 1 || n < 2*minChunk {
		return n
	}
	return max((n+c.Workers-1)/c.Workers, minChunk)
}

// For calls f(i) for every i in [0, n). Indices are split into contiguous
// ranges; f must be safe to call concurrently for distinct i.
func For(n int, f func(i int), cfg Config) {
	size := cfg.chunk(n)
	if size >= n {
		for i := range n {
			f(i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				f(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}
