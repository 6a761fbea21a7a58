package backends

import (
	"fmt"

	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// DataType is the backend's enumeration of element types it knows how to move and reduce.
//
// It is a separate enumeration from dtypes.DType, and the translation is done by ToDataType: not every
// runtime dtype has a backend counterpart (e.g., booleans and complex numbers).
type DataType int32

// The values follow the usual accelerator collective library numbering.
const (
	DataInt8     DataType = 0
	DataInt16    DataType = 1
	DataInt32    DataType = 2
	DataFloat16  DataType = 3
	DataFloat32  DataType = 4
	DataInt64    DataType = 5
	DataUint64   DataType = 6
	DataUint8    DataType = 7
	DataUint16   DataType = 8
	DataUint32   DataType = 9
	DataFloat64  DataType = 10
	DataBFloat16 DataType = 11

	// DataInvalid is returned for dtypes with no backend counterpart.
	DataInvalid DataType = -1
)

var dataTypeNames = map[DataType]string{
	DataInt8:     "int8",
	DataInt16:    "int16",
	DataInt32:    "int32",
	DataFloat16:  "fp16",
	DataFloat32:  "fp32",
	DataInt64:    "int64",
	DataUint64:   "uint64",
	DataUint8:    "uint8",
	DataUint16:   "uint16",
	DataUint32:   "uint32",
	DataFloat64:  "fp64",
	DataBFloat16: "bfp16",
}

// String implements fmt.Stringer.
func (dt DataType) String() string {
	if name, found := dataTypeNames[dt]; found {
		return name
	}
	return fmt.Sprintf("DataType(%d)", int32(dt))
}

// IsValid returns whether the data type is one of the known values.
func (dt DataType) IsValid() bool {
	_, found := dataTypeNames[dt]
	return found
}

// dtypeTable is the fixed translation from the runtime dtypes to the backend data types.
var dtypeTable = map[dtypes.DType]DataType{
	dtypes.Int8:     DataInt8,
	dtypes.Int16:    DataInt16,
	dtypes.Int32:    DataInt32,
	dtypes.Int64:    DataInt64,
	dtypes.Uint8:    DataUint8,
	dtypes.Uint16:   DataUint16,
	dtypes.Uint32:   DataUint32,
	dtypes.Uint64:   DataUint64,
	dtypes.Float16:  DataFloat16,
	dtypes.BFloat16: DataBFloat16,
	dtypes.Float32:  DataFloat32,
	dtypes.Float64:  DataFloat64,
}

// ErrUnmappedDType is returned (wrapped) by ToDataType for dtypes that have no backend DataType.
var ErrUnmappedDType = errors.New("dtype has no collective backend data type")

// ToDataType translates a runtime dtype to the backend's DataType.
// It returns an error wrapping ErrUnmappedDType if there is no translation.
func ToDataType(dtype dtypes.DType) (DataType, error) {
	dt, found := dtypeTable[dtype]
	if !found {
		return DataInvalid, errors.Wrapf(ErrUnmappedDType, "dtype %s", dtype)
	}
	return dt, nil
}

// MappedDTypes returns the runtime dtypes that have a backend DataType, in increasing order.
func MappedDTypes() []dtypes.DType {
	mapped := make([]dtypes.DType, 0, len(dtypeTable))
	for dtype := dtypes.Bool; dtype <= dtypes.Complex128; dtype++ {
		if _, found := dtypeTable[dtype]; found {
			mapped = append(mapped, dtype)
		}
	}
	return mapped
}

// DType returns the runtime dtype corresponding to the backend data type, or dtypes.InvalidDType.
func (dt DataType) DType() dtypes.DType {
	for dtype, mapped := range dtypeTable {
		if mapped == dt {
			return dtype
		}
	}
	return dtypes.InvalidDType
}

// Size returns the number of bytes of one element of the data type, or 0 if it is not valid.
func (dt DataType) Size() int {
	dtype := dt.DType()
	if dtype == dtypes.InvalidDType {
		return 0
	}
	return dtype.Size()
}
