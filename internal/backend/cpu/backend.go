// Package cpu implements the pure-Go CPU backend for fused convolutions.
package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/parallel"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// CPUBackend implements tensor operations on the CPU.
//
//nolint:revive // CPUBackend reads better than Backend at call sites outside the package.
type CPUBackend struct {
	par parallel.Config
}

// New creates a CPU backend using every available core.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit parallel configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Parallel returns the backend's parallel configuration.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.par
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binaryOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binaryOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Reshape returns a copy of t with a new shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result, err := t.Clone().View(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return result
}

// Transpose transposes the tensor by permuting its dimensions.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	// Default: reverse all dimensions
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result := tensor.MustNewRaw(newShape, t.DType())
	transposeFloat32(result.AsFloat32(), t.AsFloat32(), shape, axes)
	return result
}

// transposeFloat32 writes src (of shape srcShape) permuted by axes into dst.
func transposeFloat32(dst, src []float32, srcShape tensor.Shape, axes []int) {
	ndim := len(srcShape)
	srcStrides := srcShape.ComputeStrides()
	dstShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		dstShape[i] = srcShape[ax]
	}

	coord := make([]int, ndim)
	for i := range dst {
		srcIdx := 0
		for d := 0; d < ndim; d++ {
			srcIdx += coord[d] * srcStrides[axes[d]]
		}
		dst[i] = src[srcIdx]

		for d := ndim - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < dstShape[d] {
				break
			}
			coord[d] = 0
		}
	}
}
