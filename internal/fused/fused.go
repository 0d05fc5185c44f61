// Package fused implements convolutions with a fused bias and activation
// epilogue: act(conv2d(x, filter) + bias).
//
// The functions validate every argument and return errors classified by
// conv.ErrDType, conv.ErrConfig and conv.ErrShape. They run on any
// tensor.Backend; on an autodiff backend the whole computation is recorded
// as a single differentiable node.
package fused

import (
	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// Op names used in error messages.
const (
	OpConv2D          = "conv2d"
	OpDepthwiseConv2D = "depthwiseConv2d"
)

// Conv2DConfig holds the arguments of a fused convolution.
type Conv2DConfig struct {
	X      *tensor.RawTensor // [batch, h, w, c] or [h, w, c] (NHWC); NCHW analogous
	Filter *tensor.RawTensor // [fh, fw, inC, outC] or [fh, fw, inC, multiplier]

	Strides         []int // 1 or 2 values, empty means 1
	Pad             conv.Padding
	DataFormat      conv.DataFormat
	Dilations       []int // 1 or 2 values, empty means 1
	DimRoundingMode conv.RoundingMode

	Bias         *tensor.RawTensor     // optional, broadcasts to the output
	Activation   activation.Activation // nil means linear
	PreluWeights *tensor.RawTensor     // required for PReLU
}

// Conv2D computes act(conv2d(x, filter) + bias).
func Conv2D(b tensor.Backend, cfg Conv2DConfig) (*tensor.RawTensor, error) {
	return run(b, cfg, OpConv2D)
}

// DepthwiseConv2D computes act(depthwiseConv2d(x, filter) + bias).
func DepthwiseConv2D(b tensor.Backend, cfg Conv2DConfig) (*tensor.RawTensor, error) {
	return run(b, cfg, OpDepthwiseConv2D)
}

// Prepared is a validated fused convolution ready to dispatch.
type Prepared struct {
	X, Filter, Bias, Weights *tensor.RawTensor
	Info                     *conv.Info
	Activation               activation.Activation
	Squeeze                  bool // input was rank 3
}

// Prepare validates cfg and resolves the geometry without running anything.
// Rank-3 inputs are reshaped to a batch of one through b, so on an autodiff
// backend gradients flow back to the caller's tensor.
func Prepare(b tensor.Backend, cfg Conv2DConfig, op string) (*Prepared, error) {
	if cfg.X == nil {
		return nil, conv.Errorf(conv.KindConfig, op, "x is required")
	}
	if cfg.Filter == nil {
		return nil, conv.Errorf(conv.KindConfig, op, "filter is required")
	}
	if err := checkFloat32(cfg.X, "x", op); err != nil {
		return nil, err
	}
	if err := checkFloat32(cfg.Filter, "filter", op); err != nil {
		return nil, err
	}
	if cfg.Bias != nil {
		if err := checkFloat32(cfg.Bias, "bias", op); err != nil {
			return nil, err
		}
	}
	if cfg.PreluWeights != nil {
		if err := checkFloat32(cfg.PreluWeights, "preluActivationWeights", op); err != nil {
			return nil, err
		}
	}

	rank := cfg.X.Rank()
	if rank != 3 && rank != 4 {
		return nil, conv.Errorf(conv.KindShape, op, "x must be rank 4 or 3, but got rank %d.", rank)
	}
	if cfg.Filter.Rank() != 4 {
		return nil, conv.Errorf(conv.KindShape, op, "filter must be rank 4, but got rank %d.", cfg.Filter.Rank())
	}

	act := activation.OrLinear(cfg.Activation)
	if activation.NeedsWeights(act) && cfg.PreluWeights == nil {
		return nil, conv.Errorf(conv.KindConfig, op, "prelu activation requires preluActivationWeights")
	}

	inShape := cfg.X.Shape()
	if rank == 3 {
		inShape = append(tensor.Shape{1}, inShape...)
	}

	info, err := conv.Compute2DInfo(inShape, cfg.Filter.Shape(), conv.Params{
		Op:           op,
		Strides:      cfg.Strides,
		Dilations:    cfg.Dilations,
		Pad:          cfg.Pad,
		RoundingMode: cfg.DimRoundingMode,
		DataFormat:   cfg.DataFormat,
		Depthwise:    op == OpDepthwiseConv2D,
	})
	if err != nil {
		return nil, err
	}

	outShape := tensor.Shape(info.OutShape)
	if rank == 3 {
		outShape = outShape[1:]
	}

	p := &Prepared{
		Filter:     cfg.Filter,
		Info:       info,
		Activation: act,
		Squeeze:    rank == 3,
	}

	if cfg.Bias != nil {
		p.Bias, err = alignEpilogueArg(b, cfg.Bias, "bias", op, info, outShape)
		if err != nil {
			return nil, err
		}
	}
	if activation.NeedsWeights(act) {
		p.Weights, err = alignEpilogueArg(b, cfg.PreluWeights, "preluActivationWeights", op, info, outShape)
		if err != nil {
			return nil, err
		}
	}

	p.X = cfg.X
	if p.Squeeze {
		p.X = b.Reshape(cfg.X, inShape)
	}
	return p, nil
}

// Run dispatches a prepared convolution to b.
func (p *Prepared) Run(b tensor.Backend) *tensor.RawTensor {
	var out *tensor.RawTensor
	if p.Info.Depthwise {
		out = b.FusedDepthwiseConv2D(p.X, p.Filter, p.Bias, p.Weights, p.Info, p.Activation)
	} else {
		out = b.FusedConv2D(p.X, p.Filter, p.Bias, p.Weights, p.Info, p.Activation)
	}
	if p.Squeeze {
		out = b.Reshape(out, tensor.Shape(p.Info.OutShape)[1:])
	}
	return out
}

func run(b tensor.Backend, cfg Conv2DConfig, op string) (*tensor.RawTensor, error) {
	p, err := Prepare(b, cfg, op)
	if err != nil {
		return nil, err
	}
	return p.Run(b), nil
}

func checkFloat32(t *tensor.RawTensor, arg, op string) error {
	if t.DType() != tensor.Float32 {
		return conv.DTypeError(arg, op, tensor.Float32.String(), t.DType().String())
	}
	return nil
}

// alignEpilogueArg checks that t broadcasts to the output and returns it
// shaped for the rank-4 kernel output.
//
// In NCHW a 1-D tensor with more than one element applies per channel: its
// length must be outC and it is viewed as [outC, 1, 1]. Everything else
// follows trailing-dimension broadcasting against the caller's output shape.
func alignEpilogueArg(b tensor.Backend, t *tensor.RawTensor, arg, op string, info *conv.Info, outShape tensor.Shape) (*tensor.RawTensor, error) {
	shape := t.Shape()
	if info.ChannelsFirst() && shape.Rank() == 1 && shape[0] != 1 {
		if shape[0] != info.OutChannels {
			return nil, conv.Errorf(conv.KindShape, op, "%s of shape %v must have one value per output channel (%d) in NCHW", arg, shape, info.OutChannels)
		}
		return b.Reshape(t, tensor.Shape{info.OutChannels, 1, 1}), nil
	}

	full, _, err := tensor.BroadcastShapes(shape, outShape)
	if err != nil {
		return nil, conv.Errorf(conv.KindShape, op, "%s of shape %v is not broadcastable to output shape %v", arg, shape, outShape)
	}
	if !full.Equal(outShape) {
		return nil, conv.Errorf(conv.KindShape, op, "%s of shape %v would broadcast the output shape %v to %v", arg, shape, outShape, full)
	}
	return t, nil
}
