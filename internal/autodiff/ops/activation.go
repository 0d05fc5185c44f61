package ops

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// ActivationOp records output = act(x). Inputs are [x, weights]; weights
// is nil unless act is PReLU.
//
// Backward: grad_x = outputGrad * act'(x). PReLU weights receive no gradient.
type ActivationOp struct {
	x       *tensor.RawTensor
	weights *tensor.RawTensor
	output  *tensor.RawTensor
	act     activation.Activation
}

// NewActivationOp creates a new ActivationOp.
func NewActivationOp(x, weights, output *tensor.RawTensor, act activation.Activation) *ActivationOp {
	return &ActivationOp{x: x, weights: weights, output: output, act: activation.OrLinear(act)}
}

// Backward computes the input gradient.
func (op *ActivationOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.ActivationBackward(outputGrad, op.x, op.weights, op.act),
		nil,
	}
}

// Inputs returns [x, weights].
func (op *ActivationOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.x, op.weights}
}

// Output returns act(x).
func (op *ActivationOp) Output() *tensor.RawTensor {
	return op.output
}
