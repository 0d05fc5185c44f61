package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// FusedConv2D computes act(conv2d(x, filter) + bias) without materializing
// the intermediate sums as separate tensors. The bias add and activation
// run as an epilogue over the convolution output buffer.
func (cpu *CPUBackend) FusedConv2D(x, filter, bias, weights *tensor.RawTensor, info *conv.Info, act activation.Activation) *tensor.RawTensor {
	checkEpilogueArgs("fusedConv2d", bias, weights, info, act)
	out := cpu.Conv2D(x, filter, info)
	applyEpilogue(out, bias, weights, act)
	return out
}

// FusedDepthwiseConv2D is FusedConv2D for depthwise convolutions.
func (cpu *CPUBackend) FusedDepthwiseConv2D(x, filter, bias, weights *tensor.RawTensor, info *conv.Info, act activation.Activation) *tensor.RawTensor {
	checkEpilogueArgs("fusedDepthwiseConv2d", bias, weights, info, act)
	out := cpu.DepthwiseConv2D(x, filter, info)
	applyEpilogue(out, bias, weights, act)
	return out
}

func checkEpilogueArgs(op string, bias, weights *tensor.RawTensor, info *conv.Info, act activation.Activation) {
	if bias != nil {
		if _, _, err := tensor.BroadcastShapes(bias.Shape(), info.OutShape); err != nil {
			panic(fmt.Sprintf("%s: bias: %v", op, err))
		}
	}
	if activation.NeedsWeights(act) && weights == nil {
		panic(fmt.Sprintf("%s: prelu requires weights", op))
	}
}
