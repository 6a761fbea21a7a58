package dtypes

// The values follow the PJRT buffer type enumeration (pjrt_c_api.h), the same numbering used by
// github.com/gomlx/go-xla/pkg/types/dtypes, so tensors exchanged with XLA based runtimes keep their dtype.

// DType is an enum represents the data type of a buffer or a scalar.
type DType int32

const (
	// InvalidDType is the zero value, it is never a valid buffer type.
	InvalidDType DType = 0

	// Bool is a two-state boolean (PRED), stored in one byte.
	Bool DType = 1

	// Int8 is a signed integral value of 8 bits (S8).
	Int8 DType = 2

	// Int16 is a signed integral value of 16 bits (S16).
	Int16 DType = 3

	// Int32 is a signed integral value of 32 bits (S32).
	Int32 DType = 4

	// Int64 is a signed integral value of 64 bits (S64).
	Int64 DType = 5

	// Uint8 is an unsigned integral value of 8 bits (U8).
	Uint8 DType = 6

	// Uint16 is an unsigned integral value of 16 bits (U16).
	Uint16 DType = 7

	// Uint32 is an unsigned integral value of 32 bits (U32).
	Uint32 DType = 8

	// Uint64 is an unsigned integral value of 64 bits (U64).
	Uint64 DType = 9

	// Float16 is an IEEE 754 half precision float (F16).
	Float16 DType = 10

	// Float32 is an IEEE 754 single precision float (F32).
	Float32 DType = 11

	// Float64 is an IEEE 754 double precision float (F64).
	Float64 DType = 12

	// BFloat16 is the truncated 16 bits "brain" float (BF16): 1 bit for the sign, 8 bits for the exponent
	// and 7 bits for the mantissa.
	BFloat16 DType = 13

	// Complex64 is a pair of F32 (real, imag).
	Complex64 DType = 14

	// Complex128 is a pair of F64 (real, imag).
	Complex128 DType = 15
)

// Aliases from the PJRT C API.
const (
	PRED = Bool
	S8   = Int8
	S16  = Int16
	S32  = Int32
	S64  = Int64
	U8   = Uint8
	U16  = Uint16
	U32  = Uint32
	U64  = Uint64
	F16  = Float16
	F32  = Float32
	F64  = Float64
	BF16 = BFloat16
	C64  = Complex64
	C128 = Complex128
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	BFloat16:     "BFloat16",
	Complex64:    "Complex64",
	Complex128:   "Complex128",
}

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"INVALID": InvalidDType,
	"PRED":    Bool,
	"S8":      Int8,
	"S16":     Int16,
	"S32":     Int32,
	"S64":     Int64,
	"U8":      Uint8,
	"U16":     Uint16,
	"U32":     Uint32,
	"U64":     Uint64,
	"F16":     Float16,
	"F32":     Float32,
	"F64":     Float64,
	"BF16":    BFloat16,
	"C64":     Complex64,
	"C128":    Complex128,
}
