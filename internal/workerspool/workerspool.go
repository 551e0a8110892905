// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool limits the number of goroutines running independent tasks, e.g. evaluating the perplexity
// of many texts with the same (read-only) model.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers with a limit on the number of tasks running in parallel.
type Pool struct {
	// maxParallelism is the limit of tasks running in parallel.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the given parallelism.
// If maxParallelism is 0, runtime.NumCPU() is used. If it is < 0, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{maxParallelism: maxParallelism}
	if maxParallelism == 0 {
		w.maxParallelism = runtime.NumCPU()
	}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of tasks running in parallel, or -1 if unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available and runs the task in a new goroutine.
//
// It's up to the client to synchronize the end of the task execution. See Map.
func (w *Pool) WaitToStart(task func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.lockedRunTaskInGoroutine(task)
}

// lockedRunTaskInGoroutine and keep tabs on w.numRunning.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedRunTaskInGoroutine(task func()) {
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// Map runs fn(i) for every i in [0, n), using the pool workers, and waits for all of them to finish.
//
// It returns the error of the lowest index i that failed, or nil. All tasks are run, even if some fail.
// fn must not panic.
func (w *Pool) Map(n int, fn func(i int) error) error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		w.WaitToStart(func() {
			defer wg.Done()
			errs[i] = fn(i)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
