package xsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.WaitContext(ctx), context.DeadlineExceeded)

	go l.Trigger()
	l.Wait()
	assert.True(t, l.Test())
	l.Trigger() // No-op.
	require.NoError(t, l.WaitContext(context.Background()))
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Zero count returns immediately.

	wg.Add(2)
	done := NewLatch()
	go func() {
		wg.Wait()
		done.Trigger()
	}()
	wg.Done()
	wg.Add(1) // Added while someone waits.
	wg.Done()
	assert.False(t, done.Test())
	wg.Done()
	select {
	case <-done.WaitChan():
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for DynamicWaitGroup")
	}
	assert.Panics(t, func() { wg.Done() })
	assert.Equal(t, 0, wg.Count())
}

func TestDynamicWaitGroup_WaitContext(t *testing.T) {
	wg := NewDynamicWaitGroup()
	require.NoError(t, wg.WaitContext(context.Background()))
	wg.Add(1)
	assert.Equal(t, 1, wg.Count())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, wg.WaitContext(ctx), context.DeadlineExceeded)

	go wg.Done()
	require.NoError(t, wg.WaitContext(context.Background()))
}
