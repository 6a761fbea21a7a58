// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs CPU bound work in parallel, bounded by a maximum parallelism.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers. The zero value is not usable, create it with New or NewWithParallelism.
type Pool struct {
	// maxParallelism is the number of tasks that can run in parallel, besides the caller's goroutine.
	// If 0 parallelism is disabled, if < 0 it is unlimited.
	maxParallelism int

	// slots has maxParallelism capacity if parallelism is limited.
	slots chan struct{}
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return NewWithParallelism(runtime.NumCPU())
}

// NewWithParallelism returns a new Pool that runs at most maxParallelism tasks in parallel.
// If set to 0 parallelism is disabled, and if set to -1 parallelism is unlimited.
func NewWithParallelism(maxParallelism int) *Pool {
	p := &Pool{maxParallelism: maxParallelism}
	if maxParallelism > 0 {
		p.slots = make(chan struct{}, maxParallelism)
	}
	return p
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (p *Pool) IsEnabled() bool {
	return p.maxParallelism != 0
}

// MaxParallelism returns the maximum number of tasks run in parallel: 0 if disabled, -1 if unlimited.
func (p *Pool) MaxParallelism() int {
	return p.maxParallelism
}

// StartIfAvailable runs the task in a separate goroutine, if there is a worker available.
// It returns true if it found a worker to run the function, false otherwise.
//
// It's up to the client to synchronize the end of the function execution.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.maxParallelism < 0 {
		go task()
		return true
	}
	select {
	case p.slots <- struct{}{}:
		go func() {
			defer func() { <-p.slots }()
			task()
		}()
		return true
	default:
		// Also taken if slots is nil: parallelism disabled.
		return false
	}
}

// ForChunks splits the range [0, n) in chunks of at least minChunk elements, and calls fn on each of them.
// Chunks run in parallel on the available workers, and the remaining ones on the caller's goroutine.
// It returns when all chunks are done.
func (p *Pool) ForChunks(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	numChunks := (n + minChunk - 1) / minChunk
	maxChunks := p.maxParallelism + 1 // Workers plus the caller.
	if p.maxParallelism < 0 {
		maxChunks = runtime.NumCPU()
	}
	numChunks = min(numChunks, maxChunks)
	if numChunks <= 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + numChunks - 1) / numChunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		task := func() {
			defer wg.Done()
			fn(start, end)
		}
		if !p.StartIfAvailable(task) {
			task()
		}
	}
	wg.Wait()
}
