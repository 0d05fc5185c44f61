package cpu

import (
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/parallel"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// DepthwiseConv2D convolves every input channel with its own set of
// ChannelMultiplier filters. Output channel c*multiplier+q reads input
// channel c and filter[:, :, c, q].
func (cpu *CPUBackend) DepthwiseConv2D(x, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	checkConvArgs("depthwiseConv2d", x, filter, info, true)
	out := depthwiseNHWC(nhwcInput(x, info), filter.AsFloat32(), info, cpu.par)
	return fromNHWC(out, info)
}

// DepthwiseConv2DInputBackward computes the gradient with respect to the input.
func (cpu *CPUBackend) DepthwiseConv2DInputBackward(dy, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	checkConvArgs("depthwiseConv2dInputBackward", nil, filter, info, true)
	checkGradArg("depthwiseConv2dInputBackward", dy, info)

	dyData := nhwcOutput(dy, info)
	f := filter.AsFloat32()
	c, mult := info.InChannels, info.ChannelMultiplier
	dx := make([]float32, info.BatchSize*info.InHeight*info.InWidth*c)

	// Each (batch, channel) task owns a disjoint strided slice of dx.
	parallel.ForBatch(info.BatchSize, c, func(b, ci int) {
		forEachTap(info, func(oh, ow, kh, kw, ih, iw int) {
			src := dyData[((b*info.OutHeight+oh)*info.OutWidth+ow)*c*mult+ci*mult:]
			taps := f[(kh*info.FilterWidth+kw)*c*mult+ci*mult:]
			var sum float32
			for q := 0; q < mult; q++ {
				sum += src[q] * taps[q]
			}
			dx[((b*info.InHeight+ih)*info.InWidth+iw)*c+ci] += sum
		})
	}, singleItemChunks(cpu.par))

	return fromNHWCInput(dx, info)
}

// DepthwiseConv2DFilterBackward computes the gradient with respect to the filter.
func (cpu *CPUBackend) DepthwiseConv2DFilterBackward(x, dy *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	checkConvArgs("depthwiseConv2dFilterBackward", x, nil, info, true)
	checkGradArg("depthwiseConv2dFilterBackward", dy, info)

	xData := nhwcInput(x, info)
	dyData := nhwcOutput(dy, info)
	c, mult := info.InChannels, info.ChannelMultiplier

	result := tensor.MustNewRaw(info.FilterShape, tensor.Float32)
	df := result.AsFloat32()

	// Channels own disjoint filter slices.
	parallel.For(c, func(ci int) {
		for b := 0; b < info.BatchSize; b++ {
			forEachTap(info, func(oh, ow, kh, kw, ih, iw int) {
				xv := xData[((b*info.InHeight+ih)*info.InWidth+iw)*c+ci]
				src := dyData[((b*info.OutHeight+oh)*info.OutWidth+ow)*c*mult+ci*mult:]
				dst := df[((kh*info.FilterWidth+kw)*c+ci)*mult:]
				for q := 0; q < mult; q++ {
					dst[q] += xv * src[q]
				}
			})
		}
	}, singleItemChunks(cpu.par))

	return result
}

// depthwiseNHWC returns the NHWC depthwise convolution of an NHWC input.
func depthwiseNHWC(x, f []float32, info *conv.Info, cfg parallel.Config) []float32 {
	c, mult := info.InChannels, info.ChannelMultiplier
	out := make([]float32, info.BatchSize*info.OutHeight*info.OutWidth*c*mult)

	parallel.For(info.BatchSize*info.OutHeight, func(bo int) {
		b, oh := bo/info.OutHeight, bo%info.OutHeight
		for ow := 0; ow < info.OutWidth; ow++ {
			dst := out[(bo*info.OutWidth+ow)*c*mult:]
			forEachTapAt(info, oh, ow, func(kh, kw, ih, iw int) {
				src := x[((b*info.InHeight+ih)*info.InWidth+iw)*c:]
				taps := f[(kh*info.FilterWidth+kw)*c*mult:]
				for ci := 0; ci < c; ci++ {
					xv := src[ci]
					for q := 0; q < mult; q++ {
						dst[ci*mult+q] += xv * taps[ci*mult+q]
					}
				}
			})
		}
	}, cfg)
	return out
}

// forEachTap visits every (output position, filter tap) pair whose input
// position lies inside the image.
func forEachTap(info *conv.Info, fn func(oh, ow, kh, kw, ih, iw int)) {
	for oh := 0; oh < info.OutHeight; oh++ {
		for ow := 0; ow < info.OutWidth; ow++ {
			forEachTapAt(info, oh, ow, func(kh, kw, ih, iw int) {
				fn(oh, ow, kh, kw, ih, iw)
			})
		}
	}
}

func forEachTapAt(info *conv.Info, oh, ow int, fn func(kh, kw, ih, iw int)) {
	ih0 := oh*info.StrideHeight - info.PadTop
	iw0 := ow*info.StrideWidth - info.PadLeft
	for kh := 0; kh < info.FilterHeight; kh++ {
		ih := ih0 + kh*info.DilationHeight
		if ih < 0 || ih >= info.InHeight {
			continue
		}
		for kw := 0; kw < info.FilterWidth; kw++ {
			iw := iw0 + kw*info.DilationWidth
			if iw < 0 || iw >= info.InWidth {
				continue
			}
			fn(kh, kw, ih, iw)
		}
	}
}

func singleItemChunks(cfg parallel.Config) parallel.Config {
	cfg.MinChunkSize = 1
	return cfg
}
