// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/fusedconv/internal/tensor"
)

// RawTensor is a dense row-major tensor.
type RawTensor = tensor.RawTensor

// Shape lists the size of every dimension.
type Shape = tensor.Shape

// DataType identifies the element type of a tensor.
type DataType = tensor.DataType

// Backend is implemented by compute backends.
type Backend = tensor.Backend

// Supported data types.
const (
	Float32 = tensor.Float32
	Int32   = tensor.Int32
)

// FromFloat32 creates a float32 tensor, copying data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromInt32 creates an int32 tensor, copying data.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	return tensor.FromInt32(data, shape)
}

// Zeros creates a float32 tensor filled with zeros.
func Zeros(shape Shape) (*RawTensor, error) {
	return tensor.Zeros(shape)
}

// Ones creates a float32 tensor filled with ones.
func Ones(shape Shape) (*RawTensor, error) {
	return tensor.Ones(shape)
}

// Full creates a float32 tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	return tensor.Full(shape, value)
}

// Scalar creates a rank-0 float32 tensor.
func Scalar(value float32) *RawTensor {
	return tensor.Scalar(value)
}

// ParseDataType converts a name such as "float32" to a DataType.
func ParseDataType(name string) (DataType, bool) {
	return tensor.ParseDataType(name)
}
