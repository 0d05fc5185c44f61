package ops

import "github.com/born-ml/fusedconv/internal/tensor"

// binaryOp is the shared state of the broadcasting element-wise ops.
type binaryOp struct {
	a, b, output *tensor.RawTensor
}

func (op *binaryOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.a, op.b} }

func (op *binaryOp) Output() *tensor.RawTensor { return op.output }

// AddOp records output = a + b. Each operand receives the output gradient
// summed over the axes it was broadcast along, so a bias [C] added to an
// [N,H,W,C] activation gets a [C] gradient.
type AddOp struct{ binaryOp }

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{binaryOp{a: a, b: b, output: output}}
}

// Backward implements Operation.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, op.a.Shape(), backend),
		reduceBroadcast(outputGrad, op.b.Shape(), backend),
	}
}

// MulOp records output = a * b; dA = dy*b and dB = dy*a, reduced like AddOp.
type MulOp struct{ binaryOp }

// NewMulOp creates a new MulOp.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{binaryOp{a: a, b: b, output: output}}
}

// Backward implements Operation.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		reduceBroadcast(backend.Mul(outputGrad, op.b), op.a.Shape(), backend),
		reduceBroadcast(backend.Mul(outputGrad, op.a), op.b.Shape(), backend),
	}
}
