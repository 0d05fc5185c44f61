package fused

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// RunUnfused computes the same result as Run with one backend op per step,
// so an autodiff backend records the conv, the bias add and the activation
// as separate nodes. Pointwise convolutions run as a matrix product over
// the flattened pixels. PReLU is expanded to relu(z) + w*(z - relu(z)).
func (p *Prepared) RunUnfused(b tensor.Backend) *tensor.RawTensor {
	z := p.convolve(b)
	if p.Bias != nil {
		z = b.Add(z, p.Bias)
	}

	var y *tensor.RawTensor
	if activation.NeedsWeights(p.Activation) {
		pos := b.Activate(z, nil, activation.ReLU{})
		neg := b.Add(z, b.Mul(pos, tensor.Scalar(-1)))
		y = b.Add(pos, b.Mul(neg, p.Weights))
	} else {
		y = b.Activate(z, nil, p.Activation)
	}

	if p.Squeeze {
		y = b.Reshape(y, tensor.Shape(p.Info.OutShape)[1:])
	}
	return y
}

func (p *Prepared) convolve(b tensor.Backend) *tensor.RawTensor {
	info := p.Info
	switch {
	case info.Depthwise:
		return b.DepthwiseConv2D(p.X, p.Filter, info)
	case !info.IsPointwise():
		return b.Conv2D(p.X, p.Filter, info)
	}

	x := p.X
	if info.ChannelsFirst() {
		x = b.Transpose(x, 0, 2, 3, 1)
	}
	pixels := info.BatchSize * info.OutHeight * info.OutWidth
	rows := b.MatMul(
		b.Reshape(x, tensor.Shape{pixels, info.InChannels}),
		b.Reshape(p.Filter, tensor.Shape{info.InChannels, info.OutChannels}),
	)
	out := b.Reshape(rows, tensor.Shape{info.BatchSize, info.OutHeight, info.OutWidth, info.OutChannels})
	if info.ChannelsFirst() {
		out = b.Transpose(out, 0, 3, 1, 2)
	}
	return out
}
