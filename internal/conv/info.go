// Package conv computes 2D convolution geometry: padding resolution, output
// sizes, and the validation that must pass before a kernel runs.
package conv

import "math"

// Params are the convolution attributes that do not depend on tensor data.
type Params struct {
	Op           string // op name used in error messages
	Strides      []int  // 1 or 2 values, empty means 1
	Dilations    []int  // 1 or 2 values, empty means 1
	Pad          Padding
	RoundingMode RoundingMode
	DataFormat   DataFormat
	Depthwise    bool
}

// Info is the resolved geometry of a 2D convolution.
//
// Spatial fields are layout independent. InShape and OutShape are in the
// caller's data format. The filter is always [fh, fw, inC, outC] (or
// [fh, fw, inC, multiplier] for depthwise convolutions).
type Info struct {
	BatchSize   int
	InHeight    int
	InWidth     int
	InChannels  int
	OutHeight   int
	OutWidth    int
	OutChannels int

	FilterHeight          int
	FilterWidth           int
	EffectiveFilterHeight int
	EffectiveFilterWidth  int
	ChannelMultiplier     int // depthwise only

	StrideHeight   int
	StrideWidth    int
	DilationHeight int
	DilationWidth  int

	PadTop    int
	PadBottom int
	PadLeft   int
	PadRight  int
	PadKind   PadKind

	DataFormat DataFormat
	Depthwise  bool

	InShape     []int
	OutShape    []int
	FilterShape []int
}

// IsPointwise reports whether the convolution is a plain matrix product:
// a 1x1 filter, unit strides and no padding.
func (i *Info) IsPointwise() bool {
	return !i.Depthwise &&
		i.FilterHeight == 1 && i.FilterWidth == 1 &&
		i.StrideHeight == 1 && i.StrideWidth == 1 &&
		i.PadTop == 0 && i.PadBottom == 0 && i.PadLeft == 0 && i.PadRight == 0
}

// ChannelsFirst reports whether the layout is NCHW.
func (i *Info) ChannelsFirst() bool {
	return i.DataFormat == NCHW
}

// NHWCInShape returns the input shape in NHWC order.
func (i *Info) NHWCInShape() []int {
	return []int{i.BatchSize, i.InHeight, i.InWidth, i.InChannels}
}

// NHWCOutShape returns the output shape in NHWC order.
func (i *Info) NHWCOutShape() []int {
	return []int{i.BatchSize, i.OutHeight, i.OutWidth, i.OutChannels}
}

// parsePair normalizes a strides or dilations argument.
func parsePair(op, name string, v []int) (int, int, error) {
	switch len(v) {
	case 0:
		return 1, 1, nil
	case 1:
		if v[0] <= 0 {
			return 0, 0, Errorf(KindConfig, op, "%s must be positive, got %v", name, v)
		}
		return v[0], v[0], nil
	case 2:
		if v[0] <= 0 || v[1] <= 0 {
			return 0, 0, Errorf(KindConfig, op, "%s must be positive, got %v", name, v)
		}
		return v[0], v[1], nil
	default:
		return 0, 0, Errorf(KindConfig, op, "%s must have 1 or 2 values, got %v", name, v)
	}
}

// EffectiveFilterSize is the receptive field of a dilated filter:
// (size - 1) * dilation + 1.
func EffectiveFilterSize(size, dilation int) int {
	if dilation <= 1 {
		return size
	}
	return size + (size-1)*(dilation-1)
}

// Compute2DInfo validates the attributes against the input and filter shapes
// and resolves the full convolution geometry.
//
//nolint:gocognit,gocyclo // validation order follows the op contract
func Compute2DInfo(inShape, filterShape []int, p Params) (*Info, error) {
	op := p.Op
	if op == "" {
		op = "conv2d"
	}
	if len(inShape) != 4 {
		return nil, Errorf(KindShape, op, "input must be rank 4, but got rank %d.", len(inShape))
	}
	if len(filterShape) != 4 {
		return nil, Errorf(KindShape, op, "filter must be rank 4, but got rank %d.", len(filterShape))
	}
	if err := CheckPadOnDimRoundingMode(op, p.Pad, p.RoundingMode); err != nil {
		return nil, err
	}

	info := &Info{
		DataFormat:  p.DataFormat,
		Depthwise:   p.Depthwise,
		PadKind:     p.Pad.kind,
		InShape:     append([]int(nil), inShape...),
		FilterShape: append([]int(nil), filterShape...),
	}

	switch p.DataFormat {
	case NHWC:
		info.BatchSize, info.InHeight, info.InWidth, info.InChannels = inShape[0], inShape[1], inShape[2], inShape[3]
	case NCHW:
		info.BatchSize, info.InChannels, info.InHeight, info.InWidth = inShape[0], inShape[1], inShape[2], inShape[3]
	default:
		return nil, Errorf(KindConfig, op, "Unknown dataFormat %s", p.DataFormat)
	}

	if info.InChannels != filterShape[2] {
		return nil, Errorf(KindShape, op, "depth of input (%d) must match input depth for filter %d.",
			info.InChannels, filterShape[2])
	}

	var err error
	if info.StrideHeight, info.StrideWidth, err = parsePair(op, "strides", p.Strides); err != nil {
		return nil, err
	}
	if info.DilationHeight, info.DilationWidth, err = parsePair(op, "dilations", p.Dilations); err != nil {
		return nil, err
	}
	stridesOne := info.StrideHeight == 1 && info.StrideWidth == 1
	dilationsOne := info.DilationHeight == 1 && info.DilationWidth == 1
	if !stridesOne && !dilationsOne {
		return nil, Errorf(KindConfig, op, "Either strides or dilations must be 1. Got strides %v and dilations '%v'",
			p.Strides, p.Dilations)
	}

	info.FilterHeight, info.FilterWidth = filterShape[0], filterShape[1]
	info.EffectiveFilterHeight = EffectiveFilterSize(info.FilterHeight, info.DilationHeight)
	info.EffectiveFilterWidth = EffectiveFilterSize(info.FilterWidth, info.DilationWidth)

	if p.Depthwise {
		info.ChannelMultiplier = filterShape[3]
		info.OutChannels = filterShape[3] * info.InChannels
	} else {
		info.OutChannels = filterShape[3]
	}

	if err := resolvePadding(info, p.Pad, p.RoundingMode, op); err != nil {
		return nil, err
	}

	if info.OutHeight <= 0 || info.OutWidth <= 0 {
		return nil, Errorf(KindShape, op, "output spatial size must be positive, got %dx%d", info.OutHeight, info.OutWidth)
	}

	if p.DataFormat == NCHW {
		info.OutShape = []int{info.BatchSize, info.OutChannels, info.OutHeight, info.OutWidth}
	} else {
		info.OutShape = []int{info.BatchSize, info.OutHeight, info.OutWidth, info.OutChannels}
	}
	return info, nil
}

// resolvePadding fills the pad and output size fields of info.
func resolvePadding(info *Info, pad Padding, mode RoundingMode, op string) error {
	inH, inW := info.InHeight, info.InWidth
	sH, sW := info.StrideHeight, info.StrideWidth
	fH, fW := info.EffectiveFilterHeight, info.EffectiveFilterWidth

	switch pad.kind {
	case PadValid:
		info.OutHeight = ceilDiv(inH-fH+1, sH)
		info.OutWidth = ceilDiv(inW-fW+1, sW)

	case PadSame:
		info.OutHeight = ceilDiv(inH, sH)
		info.OutWidth = ceilDiv(inW, sW)
		padH := max(0, (info.OutHeight-1)*sH+fH-inH)
		padW := max(0, (info.OutWidth-1)*sW+fW-inW)
		// Odd totals put the extra pixel at the bottom/right.
		info.PadTop = padH / 2
		info.PadBottom = padH - info.PadTop
		info.PadLeft = padW / 2
		info.PadRight = padW - info.PadLeft

	case PadNumber:
		if !isInt(pad.value) || pad.value < 0 {
			return Errorf(KindConfig, op, "pad must be a non-negative integer, got %g", pad.value)
		}
		n := int(pad.value)
		info.PadTop, info.PadBottom, info.PadLeft, info.PadRight = n, n, n, n
		info.OutHeight = mode.apply(float64(inH-fH+2*n)/float64(sH) + 1)
		info.OutWidth = mode.apply(float64(inW-fW+2*n)/float64(sW) + 1)
		if n == 0 {
			info.PadKind = PadValid
		}

	case PadExplicit:
		hIdx, wIdx := 1, 2
		if info.DataFormat == NCHW {
			hIdx, wIdx = 2, 3
		}
		vals := [4]float64{pad.explicit[hIdx][0], pad.explicit[hIdx][1], pad.explicit[wIdx][0], pad.explicit[wIdx][1]}
		for _, v := range vals {
			if !isInt(v) || v < 0 {
				return Errorf(KindConfig, op, "explicit pad values must be non-negative integers, got %s", pad)
			}
		}
		info.PadTop, info.PadBottom = int(vals[0]), int(vals[1])
		info.PadLeft, info.PadRight = int(vals[2]), int(vals[3])
		info.OutHeight = mode.apply(float64(inH-fH+info.PadTop+info.PadBottom)/float64(sH) + 1)
		info.OutWidth = mode.apply(float64(inW-fW+info.PadLeft+info.PadRight)/float64(sW) + 1)
		if info.PadTop == 0 && info.PadBottom == 0 && info.PadLeft == 0 && info.PadRight == 0 {
			info.PadKind = PadValid
		}

	default:
		return Errorf(KindConfig, op, "Unknown padding parameter: %s", pad)
	}
	return nil
}

func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}
