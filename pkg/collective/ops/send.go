package ops

// SendPeer is the peer rank of send_v2 when delegating to a communication group: the operator always
// pairs rank 0 with rank 1.
const SendPeer = 1

// SendKernel implements the send_v2 operator: it sends the input "X" to the peer of the ring "ring_id".
//
// Attributes:
//   - "ring_id" (int): communication group id, or ring id of the communicator registry.
//   - "use_calc_stream" (bool): enqueue on the device's compute stream instead of the communicator's stream.
//
// The transfer is only enqueued: Compute returns before the data is received.
type SendKernel struct {
	rt *Runtime
}

var _ Kernel = &SendKernel{}

// Name implements Kernel.
func (k *SendKernel) Name() string { return "send_v2" }

// Compute implements Kernel.
func (k *SendKernel) Compute(ctx *ExecutionContext) error {
	if err := k.rt.checkBackend(k.Name()); err != nil {
		return err
	}
	x, err := ctx.Input("X")
	if err != nil {
		return err
	}
	dataType, err := dataTypeOf(x)
	if err != nil {
		return err
	}
	ringID, err := Attr[int](ctx, "ring_id")
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
		Tensor:           x,
		DataType:         dataType,
		Peer:             SendPeer,
		GroupPeer:        SendPeer,
		UseComputeStream: useComputeStream,
	}
	return k.rt.resolve(req, Resolver.TrySend)
}
