// Package tensor provides the dense tensor type and shape arithmetic used by the
// fused convolution kernels.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
//
// Only Float32 is accepted by the convolution kernels. Int32 exists so callers
// can hold integer data and have it rejected with a descriptive error instead of
// being silently cast.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// ParseDataType maps a dtype name to a DataType.
func ParseDataType(name string) (DataType, bool) {
	switch name {
	case "", "float32":
		return Float32, true
	case "int32":
		return Int32, true
	default:
		return 0, false
	}
}
