// Package ops implements the point-to-point transfer operators, send_v2 and recv_v2, over a collective
// backend that only has collective primitives.
//
// A transfer is addressed by a ring id. The ring id is resolved first as a communication group
// (package group), to which the transfer is delegated. Otherwise, it is resolved with the communicator
// registry (package comm), whose communicator must have exactly 2 ranks: the transfer is then a broadcast
// rooted at the sender.
//
// The operators run within a Runtime, which owns the backend and the registries.
package ops

import (
	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/collective/comm"
	"github.com/gomlx/collective/pkg/collective/device"
	"github.com/gomlx/collective/pkg/collective/group"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Kernel is an operator implementation.
type Kernel interface {
	// Name of the operator.
	Name() string

	// Compute executes the operator with the given context.
	Compute(ctx *ExecutionContext) error
}

// Runtime owns what the operators need: the backend, the device pool, the communicator registry and the
// communication group registry.
//
// In a multi-process setting there is one Runtime per process. The loopback backend can be shared by many
// Runtimes in the same process, each one playing the role of a process.
type Runtime struct {
	// Backend is nil if no collective backend is available, in which case all operators fail
	// with ErrPreconditionNotMet.
	Backend backends.Backend

	Devices *device.Pool
	Comms   *comm.Registry
	Groups  *group.Registry

	// Resolvers are tried in order to resolve a ring id.
	Resolvers []Resolver
}

// NewRuntime creates a Runtime for the backend, whose communicators are created by factory.
// backend can be nil, see Runtime.Backend.
func NewRuntime(backend backends.Backend, factory comm.Factory) *Runtime {
	rt := &Runtime{
		Backend: backend,
		Devices: device.NewPool(backend),
		Comms:   comm.NewRegistry(backend, factory),
		Groups:  group.NewRegistry(),
	}
	rt.Resolvers = []Resolver{
		&GroupResolver{Groups: rt.Groups},
		&LegacyResolver{Backend: backend, Comms: rt.Comms},
	}
	return rt
}

// NewDefaultRuntime creates a Runtime with the default backend (see backends.New). If no backend is
// available, e.g. when built with the "nocollective" tag, the Runtime has no backend.
func NewDefaultRuntime(factory comm.Factory) *Runtime {
	backend, err := backends.TryNew()
	if err != nil {
		klog.Warningf("no collective backend available, collective operators will fail: %v", err)
		backend = nil
	}
	return NewRuntime(backend, factory)
}

// Send returns the send_v2 kernel of the runtime.
func (rt *Runtime) Send() *SendKernel { return &SendKernel{rt: rt} }

// Recv returns the recv_v2 kernel of the runtime.
func (rt *Runtime) Recv() *RecvKernel { return &RecvKernel{rt: rt} }

// checkBackend fails if no backend is available.
func (rt *Runtime) checkBackend(opName string) error {
	if rt == nil || rt.Backend == nil {
		return categoryf(ErrPreconditionNotMet, "%s requires a collective backend, and none was compiled in or registered", opName)
	}
	return nil
}

// resolve tries the resolvers in order until one handles the request.
func (rt *Runtime) resolve(req *Request, try func(r Resolver, req *Request) (bool, error)) error {
	for _, r := range rt.Resolvers {
		handled, err := try(r, req)
		if handled {
			return errors.WithMessagef(err, "ring %d resolved by %s", req.RingID, r.Name())
		}
	}
	return categoryf(ErrPreconditionNotMet, "ring %d not resolved by any of the %d resolvers", req.RingID, len(rt.Resolvers))
}

// Finalize closes the communication groups and destroys the communicators. The backend is not finalized.
func (rt *Runtime) Finalize() error {
	var err error
	err = multierr.Append(err, rt.Groups.Finalize())
	err = multierr.Append(err, rt.Comms.Finalize())
	err = multierr.Append(err, rt.Devices.Synchronize())
	return err
}

// MustCompute runs the kernel, and panics with an error if it fails. Use it within RunStep.
func MustCompute(k Kernel, ctx *ExecutionContext) {
	if err := k.Compute(ctx); err != nil {
		panic(errors.WithMessagef(err, "kernel %s on device %d", k.Name(), ctx.Device))
	}
}

// RunStep runs a step, where kernels are executed with MustCompute: the first kernel failure aborts the
// step, and is returned as an error.
func RunStep(step func()) error {
	return exceptions.TryCatch[error](step)
}
