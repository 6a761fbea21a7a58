package ops

import (
	"fmt"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/collective/device"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ExecutionContext holds what a kernel invocation gets from the surrounding runtime: the current device,
// its named inputs and outputs, its attributes and the device pool.
type ExecutionContext struct {
	Device  backends.DeviceNum
	Inputs  map[string]*tensors.Tensor
	Outputs map[string]*tensors.Tensor
	Attrs   map[string]any
	Devices *device.Pool
}

// NewExecutionContext returns an ExecutionContext for the device, with empty inputs, outputs and attributes.
func NewExecutionContext(dev backends.DeviceNum, devices *device.Pool) *ExecutionContext {
	return &ExecutionContext{
		Device:  dev,
		Inputs:  make(map[string]*tensors.Tensor),
		Outputs: make(map[string]*tensors.Tensor),
		Attrs:   make(map[string]any),
		Devices: devices,
	}
}

// WithInput sets an input and returns the context, for chaining.
func (ctx *ExecutionContext) WithInput(name string, t *tensors.Tensor) *ExecutionContext {
	ctx.Inputs[name] = t
	return ctx
}

// WithAttr sets an attribute and returns the context, for chaining.
func (ctx *ExecutionContext) WithAttr(name string, value any) *ExecutionContext {
	ctx.Attrs[name] = value
	return ctx
}

// Input returns the named input, which must be present and valid.
func (ctx *ExecutionContext) Input(name string) (*tensors.Tensor, error) {
	t, found := ctx.Inputs[name]
	if !found || t == nil {
		return nil, categoryf(ErrInvalidArgument, "input %q not given", name)
	}
	if err := t.CheckValid(); err != nil {
		return nil, categorize(ErrInvalidArgument, errors.WithMessagef(err, "input %q", name))
	}
	return t, nil
}

// SetOutput sets the named output.
func (ctx *ExecutionContext) SetOutput(name string, t *tensors.Tensor) {
	if ctx.Outputs == nil {
		ctx.Outputs = make(map[string]*tensors.Tensor)
	}
	ctx.Outputs[name] = t
}

// Attr returns the named attribute converted to T.
//
// Integer attributes given with a different integer type are converted to T if it is also an integer type.
func Attr[T any](ctx *ExecutionContext, name string) (T, error) {
	var zero T
	value, found := ctx.Attrs[name]
	if !found {
		return zero, categoryf(ErrInvalidArgument, "attribute %q not given", name)
	}
	if v, ok := value.(T); ok {
		return v, nil
	}
	if converted, ok := convertInt[T](value); ok {
		return converted, nil
	}
	return zero, categoryf(ErrInvalidArgument, "attribute %q has type %T, expected %s", name, value, typeName[T]())
}

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

func convertInt[T any](value any) (T, bool) {
	var zero T
	var i int64
	switch v := value.(type) {
	case int:
		i = int64(v)
	case int32:
		i = int64(v)
	case int64:
		i = v
	default:
		return zero, false
	}
	switch any(zero).(type) {
	case int:
		return any(int(i)).(T), true
	case int32:
		return any(int32(i)).(T), true
	case int64:
		return any(i).(T), true
	}
	return zero, false
}
