// Package dtypes defines DType, the data types a buffer exchanged between devices can hold, and
// its conversion to/from Go types.
package dtypes

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gomlx/collective/pkg/core/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// class of a dtype, used by the Is* predicates.
type class int

const (
	classBool class = iota
	classSigned
	classUnsigned
	classFloat
	classComplex
)

type dtypeInfo struct {
	goType reflect.Type
	class  class
}

// infos has the properties of every valid DType.
var infos = map[DType]dtypeInfo{
	Bool:       {reflect.TypeFor[bool](), classBool},
	Int8:       {reflect.TypeFor[int8](), classSigned},
	Int16:      {reflect.TypeFor[int16](), classSigned},
	Int32:      {reflect.TypeFor[int32](), classSigned},
	Int64:      {reflect.TypeFor[int64](), classSigned},
	Uint8:      {reflect.TypeFor[uint8](), classUnsigned},
	Uint16:     {reflect.TypeFor[uint16](), classUnsigned},
	Uint32:     {reflect.TypeFor[uint32](), classUnsigned},
	Uint64:     {reflect.TypeFor[uint64](), classUnsigned},
	Float16:    {reflect.TypeFor[float16.Float16](), classFloat},
	Float32:    {reflect.TypeFor[float32](), classFloat},
	Float64:    {reflect.TypeFor[float64](), classFloat},
	BFloat16:   {reflect.TypeFor[bfloat16.BFloat16](), classFloat},
	Complex64:  {reflect.TypeFor[complex64](), classComplex},
	Complex128: {reflect.TypeFor[complex128](), classComplex},
}

// fromGoType is the reverse of infos. The 16 bits floats are named types and are matched
// before the kind based lookup.
var fromGoType = make(map[reflect.Type]DType, len(infos))

func init() {
	for dtype, info := range infos {
		fromGoType[info.goType] = dtype
	}
	for dtype, name := range dtypeNames {
		if _, found := MapOfNames[name]; !found {
			MapOfNames[name] = dtype
		}
	}
	for name, dtype := range MapOfNames {
		lower := strings.ToLower(name)
		if _, found := MapOfNames[lower]; !found {
			MapOfNames[lower] = dtype
		}
	}
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return fmt.Sprintf("DType(%d)", int32(dtype))
}

// FromName returns the DType for the given name or alias (case-insensitive), e.g. "float32", "F32" or "f16".
func FromName(name string) (DType, error) {
	if dtype, found := MapOfNames[name]; found {
		return dtype, nil
	}
	if dtype, found := MapOfNames[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype name %q", name)
}

// Supported lists the Go types that can be stored in a tensor. Used as traits for generics.
//
// Go's `int` maps to Int32 or Int64 depending on the platform.
type Supported interface {
	bool | float16.Float16 | bfloat16.BFloat16 |
		float32 | float64 | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		complex64 | complex128
}

// FromGenericsType returns the DType for T.
func FromGenericsType[T Supported]() DType {
	return FromGoType(reflect.TypeFor[T]())
}

// FromGoType returns the DType for the given type, or InvalidDType if it is not supported.
//
// Named types (e.g. `type Celsius float32`) map to the DType of their underlying kind.
func FromGoType(t reflect.Type) DType {
	if t == nil {
		return InvalidDType
	}
	if dtype, found := fromGoType[t]; found {
		return dtype
	}
	if t.Kind() == reflect.Int {
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	}
	for dtype, info := range infos {
		if info.goType.Kind() == t.Kind() && info.goType.PkgPath() == "" {
			return dtype
		}
	}
	return InvalidDType
}

// FromAny returns the DType of the value, or InvalidDType for non-scalar or unsupported values.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// GoType returns the Go type used to store values of dtype. It panics for invalid dtypes.
func (dtype DType) GoType() reflect.Type {
	info, found := infos[dtype]
	if !found {
		panic(errors.Errorf("unknown dtype %s in DType.GoType", dtype))
	}
	return info.goType
}

// IsValid returns whether dtype is one of the known data types.
func (dtype DType) IsValid() bool {
	_, found := infos[dtype]
	return found
}

// Size returns the number of bytes of one element. It panics for invalid dtypes.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Bits returns the number of bits of one element.
func (dtype DType) Bits() int {
	return dtype.Size() * 8
}

// Memory is Size as an uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

func (dtype DType) is(c class) bool {
	info, found := infos[dtype]
	return found && info.class == c
}

// IsFloat returns whether dtype is a float. It returns false for complex numbers.
func (dtype DType) IsFloat() bool { return dtype.is(classFloat) }

// IsFloat16 returns whether dtype is a float with 16 bits: [Float16] or [BFloat16].
func (dtype DType) IsFloat16() bool { return dtype == Float16 || dtype == BFloat16 }

// IsComplex returns whether dtype is a complex number type.
func (dtype DType) IsComplex() bool { return dtype.is(classComplex) }

// IsInt returns whether dtype is an integer type, signed or not.
func (dtype DType) IsInt() bool { return dtype.is(classSigned) || dtype.is(classUnsigned) }

// IsUnsigned returns whether dtype is one of the unsigned integer types.
func (dtype DType) IsUnsigned() bool { return dtype.is(classUnsigned) }
