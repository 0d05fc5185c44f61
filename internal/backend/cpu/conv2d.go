package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/parallel"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// Conv2D performs 2D convolution using the im2row algorithm.
//
// Input shape: info.InShape (NHWC or NCHW)
// Filter shape: [fh, fw, inC, outC]
// Output shape: info.OutShape
//
// Algorithm: im2row
//  1. Gather every receptive field into one row of a patch matrix
//     [batch*outH*outW, fh*fw*inC]
//  2. View the filter as a [fh*fw*inC, outC] matrix
//  3. Multiply, which yields the NHWC output directly
//
// A 1x1 filter with unit strides and no padding skips step 1: the NHWC
// input already is the patch matrix.
func (cpu *CPUBackend) Conv2D(x, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	checkConvArgs("conv2d", x, filter, info, false)
	out := conv2dNHWC(nhwcInput(x, info), filter.AsFloat32(), info, cpu.par)
	return fromNHWC(out, info)
}

// WorkspaceBytes returns the size of the temporary patch matrix Conv2D
// allocates for info. Pointwise and depthwise convolutions need none.
func WorkspaceBytes(info *conv.Info) int {
	if info.Depthwise || info.IsPointwise() {
		return 0
	}
	rows := info.BatchSize * info.OutHeight * info.OutWidth
	cols := info.FilterHeight * info.FilterWidth * info.InChannels
	return rows * cols * tensor.Float32.Size()
}

// conv2dNHWC returns the NHWC convolution of an NHWC input.
func conv2dNHWC(x, filter []float32, info *conv.Info, cfg parallel.Config) []float32 {
	rows := info.BatchSize * info.OutHeight * info.OutWidth
	k := info.FilterHeight * info.FilterWidth * info.InChannels
	out := make([]float32, rows*info.OutChannels)

	patches := x
	if !info.IsPointwise() {
		patches = im2row(x, info, cfg)
	}
	matmulFloat32(out, patches, filter, rows, k, info.OutChannels, cfg)
	return out
}

// im2row transforms an NHWC input into the patch matrix
// [batch*outH*outW, fh*fw*inC]. Column (kh*fw+kw)*inC+c of a row holds
// input channel c under filter tap (kh, kw), or zero in the padding.
func im2row(x []float32, info *conv.Info, cfg parallel.Config) []float32 {
	c := info.InChannels
	k := info.FilterHeight * info.FilterWidth * c
	patches := make([]float32, info.BatchSize*info.OutHeight*info.OutWidth*k)

	parallel.For(info.BatchSize*info.OutHeight, func(bo int) {
		b, oh := bo/info.OutHeight, bo%info.OutHeight
		ih0 := oh*info.StrideHeight - info.PadTop
		for ow := 0; ow < info.OutWidth; ow++ {
			iw0 := ow*info.StrideWidth - info.PadLeft
			row := patches[(bo*info.OutWidth+ow)*k:]
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
					src := ((b*info.InHeight+ih)*info.InWidth + iw) * c
					dst := (kh*info.FilterWidth + kw) * c
					copy(row[dst:dst+c], x[src:src+c])
				}
			}
		}
	}, cfg)
	return patches
}

// row2im scatter-adds a patch-gradient matrix back into an NHWC input
// gradient. It is the adjoint of im2row. Work is split by batch so that
// writes never overlap.
func row2im(dPatches []float32, info *conv.Info, cfg parallel.Config) []float32 {
	c := info.InChannels
	k := info.FilterHeight * info.FilterWidth * c
	dx := make([]float32, info.BatchSize*info.InHeight*info.InWidth*c)

	parallel.For(info.BatchSize, func(b int) {
		for oh := 0; oh < info.OutHeight; oh++ {
			ih0 := oh*info.StrideHeight - info.PadTop
			for ow := 0; ow < info.OutWidth; ow++ {
				iw0 := ow*info.StrideWidth - info.PadLeft
				row := dPatches[((b*info.OutHeight+oh)*info.OutWidth+ow)*k:]
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
						dst := dx[((b*info.InHeight+ih)*info.InWidth+iw)*c:]
						src := row[(kh*info.FilterWidth+kw)*c:]
						for ci := 0; ci < c; ci++ {
							dst[ci] += src[ci]
						}
					}
				}
			}
		}
	}, singleItemChunks(cfg))
	return dx
}

// nhwcInput returns x's data in NHWC order.
func nhwcInput(x *tensor.RawTensor, info *conv.Info) []float32 {
	if !info.ChannelsFirst() {
		return x.AsFloat32()
	}
	out := make([]float32, x.NumElements())
	transposeFloat32(out, x.AsFloat32(), x.Shape(), []int{0, 2, 3, 1})
	return out
}

// nhwcOutput returns dy's data in NHWC order.
func nhwcOutput(dy *tensor.RawTensor, info *conv.Info) []float32 {
	if !info.ChannelsFirst() {
		return dy.AsFloat32()
	}
	out := make([]float32, dy.NumElements())
	transposeFloat32(out, dy.AsFloat32(), dy.Shape(), []int{0, 2, 3, 1})
	return out
}

// fromNHWC wraps NHWC output data as a tensor in the caller's layout.
func fromNHWC(data []float32, info *conv.Info) *tensor.RawTensor {
	return wrapNHWC(data, info.NHWCOutShape(), info.OutShape, info.ChannelsFirst())
}

// fromNHWCInput wraps NHWC input-gradient data in the caller's layout.
func fromNHWCInput(data []float32, info *conv.Info) *tensor.RawTensor {
	return wrapNHWC(data, info.NHWCInShape(), info.InShape, info.ChannelsFirst())
}

func wrapNHWC(data []float32, nhwc, target []int, channelsFirst bool) *tensor.RawTensor {
	result := tensor.MustNewRaw(target, tensor.Float32)
	if channelsFirst {
		transposeFloat32(result.AsFloat32(), data, nhwc, []int{0, 3, 1, 2})
	} else {
		copy(result.AsFloat32(), data)
	}
	return result
}

// checkConvArgs panics when tensors disagree with the precomputed geometry.
func checkConvArgs(op string, x, filter *tensor.RawTensor, info *conv.Info, depthwise bool) {
	if info.Depthwise != depthwise {
		panic(fmt.Sprintf("%s: info depthwise=%v", op, info.Depthwise))
	}
	if x != nil && !x.Shape().Equal(info.InShape) {
		panic(fmt.Sprintf("%s: input shape %v does not match %v", op, x.Shape(), info.InShape))
	}
	if filter != nil && !filter.Shape().Equal(info.FilterShape) {
		panic(fmt.Sprintf("%s: filter shape %v does not match %v", op, filter.Shape(), info.FilterShape))
	}
}

func checkGradArg(op string, dy *tensor.RawTensor, info *conv.Info) {
	if !dy.Shape().Equal(info.OutShape) {
		panic(fmt.Sprintf("%s: dy shape %v does not match %v", op, dy.Shape(), info.OutShape))
	}
}
