// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the number of generations running at the same time.
//
// The server uses TryAcquire to reject requests when all slots are taken, and the command line
// tool uses WaitToStart to run a batch of samples with limited parallelism.
package workerspool

import (
	"context"
	"runtime"
	"sync"

	"github.com/gomlx/storygen/pkg/support/xsync"
)

// Pool of worker slots.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int

	// running tracks every task started, for Wait.
	running *xsync.DynamicWaitGroup
}

// New returns a new Pool with maxParallelism slots.
//
// If maxParallelism is 0, runtime.NumCPU() is used. If it is negative, parallelism is unlimited.
func New(maxParallelism int) *Pool {
	w := &Pool{
		maxParallelism: maxParallelism,
		running:        xsync.NewDynamicWaitGroup(),
	}
	if w.maxParallelism == 0 {
		w.maxParallelism = runtime.NumCPU()
	}
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the number of slots, or -1 if unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// NumRunning returns the number of slots currently in use.
func (w *Pool) NumRunning() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numRunning
}

// lockedIsFull returns whether all available slots are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// lockedAcquire takes a slot, it must be called with Pool.mu acquired and the pool not full.
func (w *Pool) lockedAcquire() {
	w.numRunning++
	w.running.Add(1)
}

func (w *Pool) release() {
	w.mu.Lock()
	w.numRunning--
	w.cond.Signal()
	w.mu.Unlock()
	w.running.Done()
}

// TryAcquire takes a slot for work done in the calling goroutine, if one is available.
//
// If ok is true, the caller must call release exactly once when finished. Extra calls to release
// are ignored.
func (w *Pool) TryAcquire() (release func(), ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return nil, false
	}
	w.lockedAcquire()
	return sync.OnceFunc(w.release), true
}

// WaitToStart waits until there is a slot available and then runs the task in a new goroutine.
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
	w.lockedAcquire()
	go func() {
		defer w.release()
		task()
	}()
}

// StartIfAvailable runs the task in a separate goroutine, if there is a slot left.
// It returns true if it found a slot to run the function, false otherwise.
func (w *Pool) StartIfAvailable(task func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lockedIsFull() {
		return false
	}
	w.lockedRunTaskInGoroutine(task)
	return true
}

// Wait blocks until all tasks started (or slots acquired) have finished.
// Tasks may be started while waiting.
func (w *Pool) Wait() {
	w.running.Wait()
}

// WaitContext is like Wait, but returns ctx.Err() if ctx is done before the tasks finish.
func (w *Pool) WaitContext(ctx context.Context) error {
	return w.running.WaitContext(ctx)
}
