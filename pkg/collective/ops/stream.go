package ops

import (
	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/collective/comm"
	"github.com/pkg/errors"
)

// SelectStream returns the stream where a transfer of the communicator c should be enqueued.
//
// If useComputeStream is true, it is the compute stream of the current device, so the transfer is ordered
// with the kernels that produce and consume its data. Otherwise, it is the communicator's own stream,
// and the caller is responsible for synchronizing it with the compute stream.
func SelectStream(ctx *ExecutionContext, useComputeStream bool, c *comm.Communicator) (backends.Stream, error) {
	if useComputeStream {
		if ctx.Devices == nil {
			return nil, categoryf(ErrPreconditionNotMet, "no device pool to get the compute stream of device %d", ctx.Device)
		}
		devCtx, err := ctx.Devices.Get(ctx.Device)
		if err != nil {
			return nil, categorize(ErrPreconditionNotMet,
				errors.WithMessagef(err, "no device context for device %d", ctx.Device))
		}
		return devCtx.Stream(), nil
	}
	if c == nil || c.Stream == nil {
		return nil, categoryf(ErrPreconditionNotMet, "communicator %v has no stream", c)
	}
	return c.Stream, nil
}
