package ops

import (
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// Conv2DOp records a 2D convolution operation for autodiff.
//
// Forward: output = Conv2D(x, filter, info)
//
// Backward (gradients):
//   - d_x:      transposed convolution of d_output with the filter
//   - d_filter: correlation of x with d_output
//
// Depthwise selects the depthwise kernels for both directions.
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
type Conv2DOp struct {
	x      *tensor.RawTensor
	filter *tensor.RawTensor
	output *tensor.RawTensor
	info   *conv.Info
}

// NewConv2DOp creates a new Conv2D operation. info.Depthwise selects the
// depthwise backward kernels.
func NewConv2DOp(x, filter, output *tensor.RawTensor, info *conv.Info) *Conv2DOp {
	return &Conv2DOp{x: x, filter: filter, output: output, info: info}
}

// Inputs returns [x, filter].
func (op *Conv2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.x, op.filter}
}

// Output returns the output tensor.
func (op *Conv2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward delegates both gradients to the backend.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	dx, dFilter := convBackward(op.x, op.filter, outputGrad, op.info, backend)
	return []*tensor.RawTensor{dx, dFilter}
}

// convBackward returns the input and filter gradients of a plain or
// depthwise convolution.
func convBackward(x, filter, dy *tensor.RawTensor, info *conv.Info, backend tensor.Backend) (dx, dFilter *tensor.RawTensor) {
	if info.Depthwise {
		return backend.DepthwiseConv2DInputBackward(dy, filter, info),
			backend.DepthwiseConv2DFilterBackward(x, dy, info)
	}
	return backend.Conv2DInputBackward(dy, filter, info),
		backend.Conv2DFilterBackward(x, dy, info)
}
