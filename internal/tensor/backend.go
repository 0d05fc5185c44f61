package tensor

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
)

// Backend defines the interface that compute backends implement.
//
// Inputs are validated before they reach a backend: shapes are known to be
// compatible and dtypes are Float32. Backends panic on contract violations.
//
// Implementations:
//   - CPU: pure Go, im2row convolutions with a parallel matmul
//   - Autodiff: decorator that records operations on a gradient tape
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor

	// MatMul multiplies [M, K] by [K, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Shape operations
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// SumTo reduces a broadcast result back to shape, undoing the broadcast.
	SumTo(x *RawTensor, shape Shape) *RawTensor

	// Activate applies act element-wise. weights broadcasts against x and
	// is only read for PReLU; it may be nil otherwise.
	Activate(x, weights *RawTensor, act activation.Activation) *RawTensor
	// ActivationBackward returns grad * act'(z).
	ActivationBackward(grad, z, weights *RawTensor, act activation.Activation) *RawTensor

	// Convolutions. Shapes are in info.DataFormat; filters are
	// [fh, fw, inC, outC] (or [fh, fw, inC, multiplier] for depthwise).
	Conv2D(x, filter *RawTensor, info *conv.Info) *RawTensor
	Conv2DInputBackward(dy, filter *RawTensor, info *conv.Info) *RawTensor
	Conv2DFilterBackward(x, dy *RawTensor, info *conv.Info) *RawTensor

	DepthwiseConv2D(x, filter *RawTensor, info *conv.Info) *RawTensor
	DepthwiseConv2DInputBackward(dy, filter *RawTensor, info *conv.Info) *RawTensor
	DepthwiseConv2DFilterBackward(x, dy *RawTensor, info *conv.Info) *RawTensor

	// FusedConv2D computes act(conv2d(x, filter) + bias) in one pass.
	// bias and weights may be nil and broadcast against the output.
	FusedConv2D(x, filter, bias, weights *RawTensor, info *conv.Info, act activation.Activation) *RawTensor
	FusedDepthwiseConv2D(x, filter, bias, weights *RawTensor, info *conv.Info, act activation.Activation) *RawTensor

	// Metadata
	Name() string
}
