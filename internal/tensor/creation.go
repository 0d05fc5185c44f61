package tensor

import "fmt"

// FromFloat32 creates a float32 tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat32(), data)
	return raw, nil
}

// FromInt32 creates an int32 tensor from a Go slice.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, Int32)
	if err != nil {
		return nil, err
	}
	copy(raw.AsInt32(), data)
	return raw, nil
}

// Zeros creates a float32 tensor filled with zeros.
func Zeros(shape Shape) (*RawTensor, error) {
	return NewRaw(shape, Float32)
}

// Full creates a float32 tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := raw.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return raw, nil
}

// Ones creates a float32 tensor filled with ones.
func Ones(shape Shape) (*RawTensor, error) {
	return Full(shape, 1)
}

// Scalar creates a rank-0 float32 tensor.
func Scalar(value float32) *RawTensor {
	raw := MustNewRaw(Shape{}, Float32)
	raw.AsFloat32()[0] = value
	return raw
}
