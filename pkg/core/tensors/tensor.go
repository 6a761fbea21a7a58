// Package tensors implement a `Tensor`, a representation of a multidimensional array resident on one device.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes' dimensions) and their actual content, stored as a flat slice of the
// Go type corresponding to the dtype.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
// Collective operations move the raw contents of a tensor between devices: see Tensor.RawBytes for the view of the
// storage the backend reads from and writes to.
package tensors

import (
	"fmt"
	"sync"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/gomlx/collective/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor represents a multidimensional array, defined by its shape (a dtypes.DType and its axes' dimensions), and
// its actual content stored as a flat (1D) array of values.
//
// A Tensor is always associated to a DeviceNum, the device that "owns" its storage.
type Tensor struct {
	// shape of the tensor, immutable.
	shape shapes.Shape

	// mu protects flat.
	mu sync.Mutex

	// flat holds the array with actual data: a slice of the Go type for the dtype of the shape.
	flat any

	// device holding the tensor storage.
	device backends.DeviceNum
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
// It is a shortcut to `Tensor.Shape().Size()`.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Device returns the device holding the tensor storage.
func (t *Tensor) Device() backends.DeviceNum { return t.device }

// OnDevice sets the device the tensor storage belongs to, and returns the tensor itself.
func (t *Tensor) OnDevice(device backends.DeviceNum) *Tensor {
	t.device = device
	return t
}

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && t.flat != nil
}

// CheckValid returns an error if the tensor is nil, has an invalid shape or was finalized.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("tensor is nil")
	}
	if !t.shape.Ok() {
		return errors.New("tensor has an invalid shape")
	}
	if t.flat == nil {
		return errors.Errorf("tensor %s has been finalized", t.shape)
	}
	return nil
}

// Finalize releases the memory associated with the tensor. It becomes invalid afterward.
func (t *Tensor) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	if t.flat == nil {
		return fmt.Sprintf("%s: <finalized>", t.shape)
	}
	return fmt.Sprintf("%s@device#%d: %v", t.shape, t.device, t.flat)
}
