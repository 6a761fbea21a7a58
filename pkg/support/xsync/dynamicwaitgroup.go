package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is like sync.WaitGroup, but Add can be called concurrently with Wait, also
// when the counter is zero: a Wait only returns once the counter is zero at the time it is observed.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	count int

	// zero is closed when count drops to 0. It is replaced when count becomes positive again.
	zero chan struct{}
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup with a zero counter.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	wg := &DynamicWaitGroup{zero: make(chan struct{})}
	close(wg.zero)
	return wg
}

// Add delta to the counter. It panics if the counter becomes negative.
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
		wg.zero = make(chan struct{})
	case previous > 0 && wg.count == 0:
		close(wg.zero)
	}
}

// Done decrements the counter by one.
func (wg *DynamicWaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks until the counter is zero.
func (wg *DynamicWaitGroup) Wait() {
	for {
		wg.mu.Lock()
		if wg.count == 0 {
			wg.mu.Unlock()
			return
		}
		zero := wg.zero
		wg.mu.Unlock()
		<-zero
	}
}

// Count returns the current value of the counter.
func (wg *DynamicWaitGroup) Count() int {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	return wg.count
}
