package ops

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Transfer describes one broadcast-based transfer of a tensor: built for one kernel invocation and not
// kept afterward.
type Transfer struct {
	// Buffer is the raw view of the tensor contents.
	Buffer []byte

	// Count is the number of elements, and DataType their backend type.
	Count    int
	DataType backends.DataType

	// Stream where the transfer is enqueued, and Root the rank that originates the data.
	Stream backends.Stream
	Root   int
}

// String implements fmt.Stringer.
func (tr *Transfer) String() string {
	return fmt.Sprintf("Transfer(%d x %s, %s, root=%d)", tr.Count, tr.DataType,
		humanize.Bytes(uint64(len(tr.Buffer))), tr.Root)
}

// dataTypeOf translates the tensor's dtype to the backend data type.
func dataTypeOf(t *tensors.Tensor) (backends.DataType, error) {
	dt, err := backends.ToDataType(t.DType())
	if err != nil {
		return backends.DataInvalid, categorize(ErrUnsupportedDType, err)
	}
	return dt, nil
}

// newTransfer creates the transfer of the tensor's raw contents.
func newTransfer(t *tensors.Tensor, dataType backends.DataType, stream backends.Stream, root int) (*Transfer, error) {
	buffer, err := t.RawBytes()
	if err != nil {
		return nil, categorize(ErrInvalidArgument, err)
	}
	return &Transfer{
		Buffer:   buffer,
		Count:    t.Size(),
		DataType: dataType,
		Stream:   stream,
		Root:     root,
	}, nil
}

// Broadcast enqueues the transfer on the communicator. A non-success status is returned as ErrTransport.
func (tr *Transfer) Broadcast(backend backends.Backend, comm backends.Comm) error {
	status := backend.Broadcast(tr.Buffer, tr.Count, tr.DataType, tr.Root, comm, tr.Stream)
	if !status.Ok() {
		return categorize(ErrTransport, errors.WithMessagef(status.Err(), "broadcast of %s", tr))
	}
	return nil
}
