package cpu

import (
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// Conv2DInputBackward computes the gradient with respect to the input.
//
// Algorithm: transposed im2row.
//  1. dPatches = dy @ filterᵀ, shape [batch*outH*outW, fh*fw*inC]
//  2. Scatter-add every patch row back to the input positions it was
//     gathered from (row2im), honoring strides, dilations and padding
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
func (cpu *CPUBackend) Conv2DInputBackward(dy, filter *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	checkConvArgs("conv2dInputBackward", nil, filter, info, false)
	checkGradArg("conv2dInputBackward", dy, info)

	rows := info.BatchSize * info.OutHeight * info.OutWidth
	k := info.FilterHeight * info.FilterWidth * info.InChannels
	dPatches := make([]float32, rows*k)
	matmulTransBFloat32(dPatches, nhwcOutput(dy, info), filter.AsFloat32(), rows, info.OutChannels, k, cpu.par)

	if info.IsPointwise() {
		return fromNHWCInput(dPatches, info)
	}
	return fromNHWCInput(row2im(dPatches, info, cpu.par), info)
}

// Conv2DFilterBackward computes the gradient with respect to the filter:
// dFilter = patchesᵀ @ dy, shape [fh*fw*inC, outC].
func (cpu *CPUBackend) Conv2DFilterBackward(x, dy *tensor.RawTensor, info *conv.Info) *tensor.RawTensor {
	checkConvArgs("conv2dFilterBackward", x, nil, info, false)
	checkGradArg("conv2dFilterBackward", dy, info)

	rows := info.BatchSize * info.OutHeight * info.OutWidth
	k := info.FilterHeight * info.FilterWidth * info.InChannels

	xData := nhwcInput(x, info)
	patches := xData
	if !info.IsPointwise() {
		patches = im2row(xData, info, cpu.par)
	}

	result := tensor.MustNewRaw(info.FilterShape, tensor.Float32)
	matmulTransAFloat32(result.AsFloat32(), patches, nhwcOutput(dy, info), k, rows, info.OutChannels, cpu.par)
	return result
}
