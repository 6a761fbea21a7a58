package loopback

import (
	"unsafe"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

type reducible interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// viewAs reinterprets the raw bytes as a slice of count elements of T.
func viewAs[T any](data []byte, count int) []T {
	if count == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), count)
}

func combineFn[T reducible](op backends.ReduceOpType) func(a, b T) T {
	switch op {
	case backends.ReduceOpSum:
		return func(a, b T) T { return a + b }
	case backends.ReduceOpProduct:
		return func(a, b T) T { return a * b }
	case backends.ReduceOpMax:
		return func(a, b T) T { return max(a, b) }
	case backends.ReduceOpMin:
		return func(a, b T) T { return min(a, b) }
	}
	return nil
}

func reduceTyped[T reducible](dst []byte, srcs [][]byte, count int, op backends.ReduceOpType) {
	if len(srcs) == 0 || count == 0 {
		return
	}
	combine := combineFn[T](op)
	out := viewAs[T](dst, count)
	copy(out, viewAs[T](srcs[0], count))
	for _, src := range srcs[1:] {
		in := viewAs[T](src, count)
		for i := range out {
			out[i] = combine(out[i], in[i])
		}
	}
}

// reduceHalf reduces 16-bits floats by converting them to float32.
func reduceHalf(dst []byte, srcs [][]byte, count int, op backends.ReduceOpType,
	toFloat32 func(bits uint16) float32, fromFloat32 func(v float32) uint16) {
	if len(srcs) == 0 || count == 0 {
		return
	}
	combine := combineFn[float32](op)
	acc := make([]float32, count)
	for i, bits := range viewAs[uint16](srcs[0], count) {
		acc[i] = toFloat32(bits)
	}
	for _, src := range srcs[1:] {
		for i, bits := range viewAs[uint16](src, count) {
			acc[i] = combine(acc[i], toFloat32(bits))
		}
	}
	out := viewAs[uint16](dst, count)
	for i, v := range acc {
		out[i] = fromFloat32(v)
	}
}

// reducer reduces count elements of every srcs buffer into dst.
type reducer func(dst []byte, srcs [][]byte, count int)

// reducerFor returns the reducer for the data type and operation.
func reducerFor(dtype backends.DataType, op backends.ReduceOpType) (reducer, error) {
	if combineFn[int32](op) == nil {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "unknown reduce operation %s", op)
	}
	switch dtype {
	case backends.DataInt8:
		return typedReducer[int8](op), nil
	case backends.DataInt16:
		return typedReducer[int16](op), nil
	case backends.DataInt32:
		return typedReducer[int32](op), nil
	case backends.DataInt64:
		return typedReducer[int64](op), nil
	case backends.DataUint8:
		return typedReducer[uint8](op), nil
	case backends.DataUint16:
		return typedReducer[uint16](op), nil
	case backends.DataUint32:
		return typedReducer[uint32](op), nil
	case backends.DataUint64:
		return typedReducer[uint64](op), nil
	case backends.DataFloat32:
		return typedReducer[float32](op), nil
	case backends.DataFloat64:
		return typedReducer[float64](op), nil
	case backends.DataFloat16:
		return func(dst []byte, srcs [][]byte, count int) {
			reduceHalf(dst, srcs, count, op,
				func(bits uint16) float32 { return float16.Frombits(bits).Float32() },
				func(v float32) uint16 { return float16.Fromfloat32(v).Bits() })
		}, nil
	case backends.DataBFloat16:
		return func(dst []byte, srcs [][]byte, count int) {
			reduceHalf(dst, srcs, count, op,
				func(bits uint16) float32 { return bfloat16.FromBits(bits).Float32() },
				func(v float32) uint16 { return bfloat16.FromFloat32(v).Bits() })
		}, nil
	default:
		return nil, backends.Errorf(backends.StatusNotSupported, "reduction of %s not supported", dtype)
	}
}

func typedReducer[T reducible](op backends.ReduceOpType) reducer {
	return func(dst []byte, srcs [][]byte, count int) {
		reduceTyped[T](dst, srcs, count, op)
	}
}
