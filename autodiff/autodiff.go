// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides gradients for the fused convolutions.
//
// It wraps any backend and records operations on a gradient tape.
//
// Example:
//
//	import (
//	    "github.com/born-ml/fusedconv/autodiff"
//	    "github.com/born-ml/fusedconv/backend/cpu"
//	    "github.com/born-ml/fusedconv/fused"
//	    "github.com/born-ml/fusedconv/tensor"
//	)
//
//	func main() {
//	    backend := autodiff.New(cpu.New())
//	    grads, err := backend.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
//	        return fused.Conv2D(backend, fused.Conv2DConfig{X: in[0], Filter: in[1], Bias: in[2], Pad: fused.Same()})
//	    }, []*tensor.RawTensor{x, filter, bias}, dy)
//	    // grads[0] is dx, grads[1] is dFilter, grads[2] is dBias.
//	}
package autodiff

import (
	"github.com/born-ml/fusedconv/internal/autodiff"
	"github.com/born-ml/fusedconv/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// Func is a differentiable computation passed to Backend.Grads.
type Func = autodiff.Func

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}
