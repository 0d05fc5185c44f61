package ops

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// FusedConv2DOp records output = act(conv2d(x, filter) + bias) as a single
// node. Inputs are [x, filter, bias, weights]; bias and weights may be nil.
//
// Backward:
//  1. dz = outputGrad * act'(z), where z is the pre-activation sum. z is
//     recomputed with a linear fused call since the forward pass never
//     materialized it
//  2. d_bias = dz summed over the axes the bias was broadcast along
//  3. d_x and d_filter are the convolution gradients of dz
//
// The PReLU weights receive no gradient.
type FusedConv2DOp struct {
	x, filter, bias, weights *tensor.RawTensor
	output                   *tensor.RawTensor
	info                     *conv.Info
	act                      activation.Activation
}

// NewFusedConv2DOp creates a new fused convolution operation.
func NewFusedConv2DOp(x, filter, bias, weights, output *tensor.RawTensor, info *conv.Info, act activation.Activation) *FusedConv2DOp {
	return &FusedConv2DOp{
		x:       x,
		filter:  filter,
		bias:    bias,
		weights: weights,
		output:  output,
		info:    info,
		act:     activation.OrLinear(act),
	}
}

// Inputs returns [x, filter, bias, weights].
func (op *FusedConv2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.x, op.filter, op.bias, op.weights}
}

// Output returns the fused result.
func (op *FusedConv2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes gradients for x, filter and bias.
func (op *FusedConv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dz := outputGrad
	if !activation.IsLinear(op.act) {
		dz = backend.ActivationBackward(outputGrad, op.preActivation(backend), op.weights, op.act)
	}

	var dBias *tensor.RawTensor
	if op.bias != nil {
		dBias = reduceBroadcast(dz, op.bias.Shape(), backend)
	}

	dx, dFilter := convBackward(op.x, op.filter, dz, op.info, backend)
	return []*tensor.RawTensor{dx, dFilter, dBias, nil}
}

// preActivation recomputes conv2d(x, filter) + bias.
func (op *FusedConv2DOp) preActivation(backend tensor.Backend) *tensor.RawTensor {
	if op.info.Depthwise {
		return backend.FusedDepthwiseConv2D(op.x, op.filter, op.bias, nil, op.info, activation.Linear{})
	}
	return backend.FusedConv2D(op.x, op.filter, op.bias, nil, op.info, activation.Linear{})
}
