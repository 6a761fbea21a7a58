package backends

// CollectiveOps is an interface for collective operations, that is, operations executed across multiple devices.
//
// All operations are "blocking-enqueue": the arguments are validated and the operation is enqueued on the given
// stream before returning. The returned Status only reports the enqueue; errors that happen during the execution
// on the stream are reported by Stream.Synchronize.
//
// Every rank of a communicator must issue the collective operations on it in the same order.
type CollectiveOps interface {
	// Broadcast copies count elements of dtype from the buffer of the root rank into the buffer of every
	// other rank of the communicator.
	//
	// - buffer: the raw bytes of the data, it must hold at least count*dtype.Size() bytes. It is read on the root
	//   rank and written on the others.
	// - root: the rank (in comm) that originates the data.
	Broadcast(buffer []byte, count int, dtype DataType, root int, comm Comm, stream Stream) Status

	// AllReduce reduces count elements of dtype from the sendBuffer of every rank, and writes the result to
	// the recvBuffer of every rank. sendBuffer and recvBuffer may be the same.
	AllReduce(sendBuffer, recvBuffer []byte, count int, dtype DataType, op ReduceOpType, comm Comm, stream Stream) Status
}

// ReduceOpType select among the basic types of reduction supported by AllReduce.
type ReduceOpType int

const (
	// ReduceOpUndefined is the zero value, and not a valid reduction.
	ReduceOpUndefined ReduceOpType = iota

	// ReduceOpSum reduces by summing all elements being reduced.
	ReduceOpSum

	// ReduceOpProduct reduces by multiplying all elements being reduced.
	ReduceOpProduct

	// ReduceOpMax reduces by taking the maximum value.
	ReduceOpMax

	// ReduceOpMin reduces by taking the minimum value.
	ReduceOpMin
)

// String implements fmt.Stringer.
func (op ReduceOpType) String() string {
	switch op {
	case ReduceOpSum:
		return "Sum"
	case ReduceOpProduct:
		return "Product"
	case ReduceOpMax:
		return "Max"
	case ReduceOpMin:
		return "Min"
	default:
		return "Undefined"
	}
}
