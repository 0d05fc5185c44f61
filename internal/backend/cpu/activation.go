package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// Activate applies act element-wise to x.
func (cpu *CPUBackend) Activate(x, weights *tensor.RawTensor, act activation.Activation) *tensor.RawTensor {
	act = activation.OrLinear(act)
	result := x.Clone()
	if activation.IsLinear(act) {
		return result
	}
	applyEpilogue(result, nil, weights, act)
	return result
}

// ActivationBackward returns grad * act'(z).
func (cpu *CPUBackend) ActivationBackward(grad, z, weights *tensor.RawTensor, act activation.Activation) *tensor.RawTensor {
	act = activation.OrLinear(act)
	if !grad.Shape().Equal(z.Shape()) {
		panic(fmt.Sprintf("activationBackward: grad shape %v != input shape %v", grad.Shape(), z.Shape()))
	}
	result := grad.Clone()
	if activation.IsLinear(act) {
		return result
	}

	dst := result.AsFloat32()
	zData := z.AsFloat32()
	slope := slopeReader("activationBackward", weights, z.Shape(), act)
	for i := range dst {
		dst[i] *= act.Derivative(zData[i], slope(i))
	}
	return result
}

// slopeReader returns the per-element slope source for act over outShape.
func slopeReader(op string, weights *tensor.RawTensor, outShape tensor.Shape, act activation.Activation) func(int) float32 {
	if !activation.NeedsWeights(act) {
		return func(int) float32 { return 0 }
	}
	if weights == nil {
		panic(fmt.Sprintf("%s: prelu requires weights", op))
	}
	if _, _, err := tensor.BroadcastShapes(weights.Shape(), outShape); err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
	w := weights.AsFloat32()
	idx := newIndexer(weights.Shape(), outShape)
	return func(i int) float32 { return w[idx(i)] }
}

// applyEpilogue adds bias and applies act to out in place.
// bias and weights may be nil and broadcast against out.
func applyEpilogue(out, bias, weights *tensor.RawTensor, act activation.Activation) {
	data := out.AsFloat32()
	shape := out.Shape()

	if bias != nil {
		b := bias.AsFloat32()
		idx := newIndexer(bias.Shape(), shape)
		for i := range data {
			data[i] += b[idx(i)]
		}
	}

	act = activation.OrLinear(act)
	if activation.IsLinear(act) {
		return
	}
	slope := slopeReader("epilogue", weights, shape, act)
	for i, z := range data {
		data[i] = act.Forward(z, slope(i))
	}
}
