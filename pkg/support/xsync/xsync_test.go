package xsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())
	require.False(t, l.WaitTimeout(time.Millisecond))
	go func() { l.Trigger() }()
	l.Wait()
	require.True(t, l.Test())
	require.True(t, l.WaitTimeout(time.Millisecond))
	require.False(t, l.Trigger(), "second trigger should be a no-op")
	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan should be closed after trigger")
	}
}

func TestLatchWithValue(t *testing.T) {
	l := NewLatchWithValue[int]()
	_, ok := l.WaitTimeout(time.Millisecond)
	require.False(t, ok)
	go func() { l.Trigger(7) }()
	assert.Equal(t, 7, l.Wait())
	assert.False(t, l.Trigger(11))
	value, ok := l.WaitTimeout(0)
	require.True(t, ok)
	assert.Equal(t, 7, value)
}

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	wg.Wait() // Zero count returns immediately.

	var count atomic.Int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		wg.Add(1)
		go func() {
			defer wg.Done()
			count.Add(1)
		}()
		count.Add(1)
	}()
	wg.Wait()
	assert.Equal(t, int32(2), count.Load())
	assert.Equal(t, 0, wg.Count())
	assert.Panics(t, func() { wg.Done() })
	assert.Equal(t, 0, wg.Count())
}
