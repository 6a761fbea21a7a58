package ops

import (
	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/gomlx/collective/pkg/core/shapes"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/pkg/errors"
)

// RecvGroupPeer is the peer rank of recv_v2 when delegating to a communication group: the mirror of SendPeer.
const RecvGroupPeer = 0

// RecvKernel implements the recv_v2 operator, the mirror of send_v2: it allocates the output "Out" and
// receives into it the tensor sent by the peer.
//
// Attributes:
//   - "ring_id" (int): communication group id, or ring id of the communicator registry.
//   - "peer" (int): rank of the sender in the ring.
//   - "use_calc_stream" (bool): enqueue on the device's compute stream instead of the communicator's stream.
//   - "dtype" (dtypes.DType): dtype of the output.
//   - "out_shape" ([]int): dimensions of the output.
//
// The output contents are only valid after the stream used is synchronized.
type RecvKernel struct {
	rt *Runtime
}

var _ Kernel = &RecvKernel{}

// Name implements Kernel.
func (k *RecvKernel) Name() string { return "recv_v2" }

// Compute implements Kernel.
func (k *RecvKernel) Compute(ctx *ExecutionContext) error {
	if err := k.rt.checkBackend(k.Name()); err != nil {
		return err
	}
	dtype, err := Attr[dtypes.DType](ctx, "dtype")
	if err != nil {
		return err
	}
	dims, err := Attr[[]int](ctx, "out_shape")
	if err != nil {
		return err
	}
	shape, err := shapes.FromDimensions(dtype, dims...)
	if err != nil || !dtype.IsValid() {
		return categorize(ErrInvalidArgument, errors.Errorf("invalid output shape %v of dtype %s", dims, dtype))
	}
	out := tensors.FromShape(shape).OnDevice(ctx.Device)
	dataType, err := dataTypeOf(out)
	if err != nil {
		return err
	}
	ringID, err := Attr[int](ctx, "ring_id")
	if err != nil {
		return err
	}
	peer, err := Attr[int](ctx, "peer")
	if err != nil {
		return err
	}
	useComputeStream, err := Attr[bool](ctx, "use_calc_stream")
	if err != nil {
		return err
	}

	req := &Request{
		Ctx:              ctx,
		RingID:           ringID,
		Tensor:           out,
		DataType:         dataType,
		Peer:             peer,
		GroupPeer:        RecvGroupPeer,
		UseComputeStream: useComputeStream,
	}
	if err := k.rt.resolve(req, Resolver.TryRecv); err != nil {
		return err
	}
	ctx.SetOutput("Out", out)
	return nil
}
