// Package ops defines operation interfaces and implementations for automatic differentiation.
//
// Each operation implements the Operation interface, which provides:
//   - Forward pass: computed by the backend
//   - Backward pass: computes gradients for inputs given output gradient
//
// Supported operations:
//   - AddOp, MulOp: element-wise arithmetic with broadcasting
//   - MatMulOp, ReshapeOp, TransposeOp: linear algebra and layout
//   - ActivationOp: element-wise fused activations
//   - Conv2DOp: regular and depthwise 2D convolutions
//   - FusedConv2DOp: act(conv2d(x, filter) + bias) as a single node
package ops

import "github.com/born-ml/fusedconv/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor.
	// A nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	// Optional inputs that were not supplied are nil.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
