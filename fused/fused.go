// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package fused computes 2-D convolutions with a fused bias and activation:
//
//	y = activation(conv2d(x, filter) + bias)
//
// Inputs are NHWC or NCHW, rank 4 or rank 3 (an implicit batch of one).
// Filters are always [filterHeight, filterWidth, inChannels, outChannels].
// Every argument is validated and errors can be classified with errors.Is
// against ErrDType, ErrConfig and ErrShape.
//
// Gradients are available by running the same call on an autodiff backend;
// see the autodiff package.
package fused

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/fused"
	"github.com/born-ml/fusedconv/tensor"
)

// Conv2DConfig holds the arguments of a fused convolution.
type Conv2DConfig = fused.Conv2DConfig

// Conv2D computes activation(conv2d(x, filter) + bias) on b.
func Conv2D(b tensor.Backend, cfg Conv2DConfig) (*tensor.RawTensor, error) {
	return fused.Conv2D(b, cfg)
}

// DepthwiseConv2D computes activation(depthwiseConv2d(x, filter) + bias) on b.
// The filter is [filterHeight, filterWidth, inChannels, channelMultiplier].
func DepthwiseConv2D(b tensor.Backend, cfg Conv2DConfig) (*tensor.RawTensor, error) {
	return fused.DepthwiseConv2D(b, cfg)
}

// Error classes.
var (
	ErrDType  = conv.ErrDType
	ErrConfig = conv.ErrConfig
	ErrShape  = conv.ErrShape
)

// Error is the error type returned by Conv2D and DepthwiseConv2D.
type Error = conv.Error

// Padding selects how the input is padded.
type Padding = conv.Padding

// Valid applies no padding.
func Valid() Padding { return conv.Valid() }

// Same pads so that the output size is ceil(in / stride).
// The odd pixel goes to the bottom and right.
func Same() Padding { return conv.Same() }

// Number pads every spatial side by p.
func Number(p float64) Padding { return conv.Number(p) }

// Explicit pads with one [before, after] pair per dimension, in the order of
// the data format.
func Explicit(pairs [4][2]float64) Padding { return conv.Explicit(pairs) }

// DataFormat is the memory layout of x and the output.
type DataFormat = conv.DataFormat

// Data formats.
const (
	NHWC = conv.NHWC
	NCHW = conv.NCHW
)

// ParseDataFormat converts "NHWC" or "NCHW" to a DataFormat.
func ParseDataFormat(s string) (DataFormat, error) { return conv.ParseDataFormat(s) }

// RoundingMode rounds output sizes computed from a numeric pad.
type RoundingMode = conv.RoundingMode

// Rounding modes.
const (
	RoundNone  = conv.RoundNone
	RoundFloor = conv.RoundFloor
	RoundRound = conv.RoundRound
	RoundCeil  = conv.RoundCeil
)

// ParseRoundingMode converts "floor", "round" or "ceil" to a RoundingMode.
func ParseRoundingMode(s string) (RoundingMode, error) { return conv.ParseRoundingMode(s) }

// Activation is the element-wise function applied after the bias.
type Activation = activation.Activation

// Activations.
type (
	Linear    = activation.Linear
	ReLU      = activation.ReLU
	ReLU6     = activation.ReLU6
	ELU       = activation.ELU
	Sigmoid   = activation.Sigmoid
	LeakyReLU = activation.LeakyReLU
	PReLU     = activation.PReLU
)

// ParseActivation returns the activation with the given name. alpha is the
// LeakyReLU slope; nil selects the default of 0.2.
func ParseActivation(name string, alpha *float32) (Activation, error) {
	return activation.Parse(name, alpha)
}
