// Package parallel splits index ranges across a bounded set of goroutines for
// the CPU kernels.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Maximum number of concurrent goroutines.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// WithWorkers returns cfg with n workers. n <= 0 keeps the CPU count,
// and n == 1 disables parallelism.
func (c Config) WithWorkers(n int) Config {
	if n <= 0 {
		return c
	}
	c.NumWorkers = n
	c.Enabled = n > 1
	return c
}

// Sequential reports whether work of size n runs on the calling goroutine.
func (c Config) Sequential(n int) bool {
	return !c.Enabled || c.NumWorkers <= 1 || n < c.MinChunkSize
}

// ForRange calls f on disjoint [start, end) chunks that cover [0, n).
// Falls back to a single call if parallelism is disabled or n is too small.
func ForRange(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	if cfg.Sequential(n) {
		f(0, n)
		return
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize, 1)

	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			f(start, end)
			return nil
		})
	}
	_ = g.Wait() // chunks never fail
}

// For executes f(i) for i in [0, n) with optional parallelism.
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}

// ForBatch is For over a batch x channels grid.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
