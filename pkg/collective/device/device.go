// Package device implements the pool of per-device execution contexts.
//
// Each device has one compute stream, where the kernels of the device are executed in order. Collective
// operators that need to be ordered with the compute kernels run on it (see ops.SelectStream).
package device

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/collective/backends"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Context is the execution context of one device.
type Context struct {
	device backends.DeviceNum
	stream backends.Stream
}

// Device returns the device of the context.
func (c *Context) Device() backends.DeviceNum { return c.device }

// Stream returns the compute stream of the device.
func (c *Context) Stream() backends.Stream { return c.stream }

// String implements fmt.Stringer.
func (c *Context) String() string {
	return fmt.Sprintf("device.Context(device=%d)", c.device)
}

// Pool of device contexts, created on first use. It is safe for concurrent use.
type Pool struct {
	backend backends.Backend

	mu       sync.Mutex
	contexts map[backends.DeviceNum]*Context
}

// NewPool creates a pool of device contexts for the backend.
func NewPool(backend backends.Backend) *Pool {
	return &Pool{
		backend:  backend,
		contexts: make(map[backends.DeviceNum]*Context),
	}
}

// Backend returns the backend used by the pool.
func (p *Pool) Backend() backends.Backend { return p.backend }

// Get returns the context of the device, creating its compute stream on the first call.
func (p *Pool) Get(device backends.DeviceNum) (*Context, error) {
	if p == nil || p.backend == nil {
		return nil, errors.New("device pool has no backend")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx, found := p.contexts[device]; found {
		return ctx, nil
	}
	if device < 0 || int(device) >= p.backend.NumDevices() {
		return nil, errors.Errorf("device %d out of range, backend %q has %d devices",
			device, p.backend.Name(), p.backend.NumDevices())
	}
	stream, status := p.backend.NewStream(device)
	if !status.Ok() {
		return nil, errors.WithMessagef(status.Err(), "failed to create compute stream for device %d", device)
	}
	ctx := &Context{device: device, stream: stream}
	p.contexts[device] = ctx
	klog.V(1).Infof("created %s", ctx)
	return ctx, nil
}

// Devices returns the sorted list of devices with a context.
func (p *Pool) Devices() []backends.DeviceNum {
	p.mu.Lock()
	defer p.mu.Unlock()
	devices := lo.Keys(p.contexts)
	slices.Sort(devices)
	return devices
}

// Synchronize waits for the compute streams of all devices, and returns their combined errors.
func (p *Pool) Synchronize() error {
	var err error
	for _, device := range p.Devices() {
		p.mu.Lock()
		ctx := p.contexts[device]
		p.mu.Unlock()
		err = multierr.Append(err, errors.WithMessagef(ctx.stream.Synchronize(), "device %d", device))
	}
	return err
}
