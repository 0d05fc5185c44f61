// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps any Backend implementation and adds gradient
// tracking through a GradientTape.
//
// Architecture:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: Records operations during forward pass
//   - Operation interface: Each op implements its backward pass
//   - Reverse-mode AD: Computes gradients efficiently using chain rule
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	grads, err := backend.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
//		return fused.Conv2D(backend, fused.Conv2DConfig{X: in[0], Filter: in[1], ...})
//	}, []*tensor.RawTensor{x, filter}, dy)
package autodiff

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/autodiff/ops"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records operations in a GradientTape.
//
// An AutodiffBackend is not safe for concurrent use: the tape is shared.
//
//nolint:revive // AutodiffBackend mirrors CPUBackend naming.
type AutodiffBackend[B tensor.Backend] struct {
	inner B             // Wrapped backend
	tape  *GradientTape // Records operations for backpropagation
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B) *AutodiffBackend[B] {
	return &AutodiffBackend[B]{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(x, y)
	b.tape.Record(ops.NewAddOp(x, y, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(x, y)
	b.tape.Record(ops.NewMulOp(x, y, result))
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(x, y *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(x, y)
	b.tape.Record(ops.NewMatMulOp(x, y, result))
	return result
}

// Reshape reshapes and records the operation.
func (b *AutodiffBackend[B]) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(t, newShape)
	b.tape.Record(ops.NewReshapeOp(t, result))
	return result
}

// Transpose permutes dimensions and records the operation.
func (b *AutodiffBackend[B]) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	if len(axes) == 0 {
		axes = make([]int, t.Rank())
		for i := range axes {
			axes[i] = t.Rank() - 1 - i
		}
	}
	result := b.inner.Transpose(t, axes...)
	b.tape.Record(ops.NewTransposeOp(t, result, axes))
	return result
}

// SumTo is not differentiated; it only appears in backward passes.
func (b *AutodiffBackend[B]) SumTo(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	return b.inner.SumTo(x, shape)
}

// Activate applies act and records the operation.
func (b *AutodiffBackend[B]) Activate(x, weights *tensor.RawTensor, act activation.Activation) *tensor.RawTensor {
	result := b.inner.Activate(x, weights, act)
	b.tape.Record(ops.NewActivationOp(x, weights, result, act))
	return result
}

// ActivationBackward delegates without recording.
func (b *AutodiffBackend[B]) ActivationBackward(grad, z, weights *tensor.RawTensor, act activation.Activation) *tensor.RawTensor {
	return b.inner.ActivationBackward(grad, z, weights, act)
}

// Conv2D convolves and records the operation.
func (b *AutodiffBackend[B]) Conv2D(x, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	result := b.inner.Conv2D(x, filter, info)
	b.tape.Record(ops.NewConv2DOp(x, filter, result, info))
	return result
}

// Conv2DInputBackward delegates without recording.
func (b *AutodiffBackend[B]) Conv2DInputBackward(dy, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(dy, filter, info)
}

// Conv2DFilterBackward delegates without recording.
func (b *AutodiffBackend[B]) Conv2DFilterBackward(x, dy *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	return b.inner.Conv2DFilterBackward(x, dy, info)
}

// DepthwiseConv2D convolves and records the operation.
func (b *AutodiffBackend[B]) DepthwiseConv2D(x, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	result := b.inner.DepthwiseConv2D(x, filter, info)
	b.tape.Record(ops.NewConv2DOp(x, filter, result, info))
	return result
}

// DepthwiseConv2DInputBackward delegates without recording.
func (b *AutodiffBackend[B]) DepthwiseConv2DInputBackward(dy, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	return b.inner.DepthwiseConv2DInputBackward(dy, filter, info)
}

// DepthwiseConv2DFilterBackward delegates without recording.
func (b *AutodiffBackend[B]) DepthwiseConv2DFilterBackward(x, dy *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	return b.inner.DepthwiseConv2DFilterBackward(x, dy, info)
}

// FusedConv2D runs the fused kernel and records a single fused node.
func (b *AutodiffBackend[B]) FusedConv2D(x, filter, bias, weights *tensor.RawTensor, info *conv.Info, act activation.Activation) *tensor.RawTensor {
	result := b.inner.FusedConv2D(x, filter, bias, weights, info, act)
	b.tape.Record(ops.NewFusedConv2DOp(x, filter, bias, weights, result, info, act))
	return result
}

// FusedDepthwiseConv2D runs the fused depthwise kernel and records a single fused node.
func (b *AutodiffBackend[B]) FusedDepthwiseConv2D(x, filter, bias, weights *tensor.RawTensor, info *conv.Info, act activation.Activation) *tensor.RawTensor {
	result := b.inner.FusedDepthwiseConv2D(x, filter, bias, weights, info, act)
	b.tape.Record(ops.NewFusedConv2DOp(x, filter, bias, weights, result, info, act))
	return result
}
