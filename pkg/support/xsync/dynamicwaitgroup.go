// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is like sync.WaitGroup, but the counter can be incremented while others are
// waiting, and the wait can be cancelled with a context.
//
// The zero value is not usable, create it with NewDynamicWaitGroup.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	count int

	// idle is closed whenever count is 0, and replaced by a new one when it becomes positive.
	idle chan struct{}
}

// NewDynamicWaitGroup creates a DynamicWaitGroup with a zero counter.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	idle := make(chan struct{})
	close(idle)
	return &DynamicWaitGroup{idle: idle}
}

// Add changes the counter by delta. It panics if the counter becomes negative.
func (wg *DynamicWaitGroup) Add(delta int) {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	previous := wg.count
	wg.count += delta
	switch {
	case wg.count < 0:
		wg.count = previous
		panic(errors.Errorf("DynamicWaitGroup: negative counter (%d%+d)", previous, delta))
	case previous == 0 && wg.count > 0:
		wg.idle = make(chan struct{})
	case previous > 0 && wg.count == 0:
		close(wg.idle)
	}
}

// Done decrements the counter by one.
func (wg *DynamicWaitGroup) Done() {
	wg.Add(-1)
}

// Count returns the current value of the counter.
func (wg *DynamicWaitGroup) Count() int {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	return wg.count
}

// Wait blocks until the counter is zero.
func (wg *DynamicWaitGroup) Wait() {
	_ = wg.WaitContext(context.Background())
}

// WaitContext blocks until the counter is zero, or ctx is done, in which case it returns ctx.Err().
//
// If the counter is incremented again right after reaching zero, a waiter may keep waiting for
// the new count.
func (wg *DynamicWaitGroup) WaitContext(ctx context.Context) error {
	for {
		wg.mu.Lock()
		if wg.count == 0 {
			wg.mu.Unlock()
			return nil
		}
		idle := wg.idle
		wg.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
