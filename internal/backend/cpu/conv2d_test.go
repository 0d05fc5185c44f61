package cpu

import (
	"testing"

	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustInfo(t *testing.T, x, filter *tensor.RawTensor, p conv.Params) *conv.Info {
	t.Helper()
	info, err := conv.Compute2DInfo(x.Shape(), filter.Shape(), p)
	require.NoError(t, err)
	return info
}

func assertInDeltaSlice(t *testing.T, want, got []float32, delta float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], delta, "index %d", i)
	}
}

// basicInputs is a [2,2,2,2] NHWC input with a pointwise [1,1,2,2] filter.
func basicInputs(t *testing.T) (*tensor.RawTensor, *tensor.RawTensor) {
	x := mustFromFloat32(t, iota32(16), 2, 2, 2, 2)
	w := mustFromFloat32(t, []float32{-1, 1, -2, 0.5}, 1, 1, 2, 2)
	return x, w
}

func TestConv2D_Pointwise(t *testing.T) {
	backend := newTestBackend()
	x, w := basicInputs(t)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Valid()})
	require.True(t, info.IsPointwise())

	out := backend.Conv2D(x, w, info)
	assert.Equal(t, tensor.Shape{2, 2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{-5, 2, -11, 5, -17, 8, -23, 11, -29, 14, -35, 17, -41, 20, -47, 23}, out.AsFloat32())
}

func TestConv2D_NCHW(t *testing.T) {
	backend := newTestBackend()
	x := mustFromFloat32(t, []float32{1, 3, 5, 7, 2, 4, 6, 8}, 1, 2, 2, 2)
	w := mustFromFloat32(t, []float32{-1, 1, -2, 0.5}, 1, 1, 2, 2)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Valid(), DataFormat: conv.NCHW})

	out := backend.Conv2D(x, w, info)
	assert.Equal(t, tensor.Shape{1, 2, 2, 2}, out.Shape())
	assert.Equal(t, []float32{-5, -11, -17, -23, 2, 5, 8, 11}, out.AsFloat32())
}

func TestConv2D_ExplicitPadding(t *testing.T) {
	backend := newTestBackend()
	x := mustFromFloat32(t, iota32(8), 1, 4, 2, 1)
	w := mustFromFloat32(t, []float32{3, 1, 5, 0, 2, 7, 8, 9}, 4, 2, 1, 1)
	pad := conv.Explicit([4][2]float64{{0, 0}, {1, 2}, {0, 1}, {0, 0}})
	info := mustInfo(t, x, w, conv.Params{Pad: pad})

	out := backend.Conv2D(x, w, info)
	assert.Equal(t, tensor.Shape{1, 4, 2, 1}, out.Shape())
	assert.Equal(t, []float32{133, 66, 200, 102, 108, 58, 56, 58}, out.AsFloat32())
}

func TestConv2D_StridedIm2Row(t *testing.T) {
	backend := newTestBackend()
	x := mustFromFloat32(t, []float32{
		10, 30, 50, 70, 20, 40, 60, 80, -10, -30, -50, -70, -20, -40, -60, -80,
	}, 1, 4, 4, 1)
	w := mustFromFloat32(t, []float32{1, 0.5, 1}, 1, 1, 1, 3)
	info := mustInfo(t, x, w, conv.Params{Strides: []int{2}, Pad: conv.Same()})
	require.False(t, info.IsPointwise())

	out := backend.Conv2D(x, w, info)
	assert.Equal(t, tensor.Shape{1, 2, 2, 3}, out.Shape())
	assert.Equal(t, []float32{10, 5, 10, 50, 25, 50, -10, -5, -10, -50, -25, -50}, out.AsFloat32())
}

func TestFusedConv2D_StridedSameReLU(t *testing.T) {
	backend := newTestBackend()
	xData := make([]float32, 8*8*16)
	for i := range xData {
		xData[i] = float32(i % 5)
	}
	wData := make([]float32, 3*3*16)
	for i := range wData {
		wData[i] = float32(i % 5)
	}
	x := mustFromFloat32(t, xData, 1, 8, 8, 16)
	w := mustFromFloat32(t, wData, 3, 3, 16, 1)
	info := mustInfo(t, x, w, conv.Params{Strides: []int{2, 2}, Pad: conv.Same()})

	out := backend.FusedConv2D(x, w, nil, nil, info, activation.ReLU{})
	assert.Equal(t, tensor.Shape{1, 4, 4, 1}, out.Shape())
	assert.Equal(t, []float32{854, 431, 568, 382, 580, 427, 854, 288, 431, 568, 580, 289, 285, 570, 285, 258}, out.AsFloat32())
}

func TestFusedConv2D_Epilogues(t *testing.T) {
	backend := newTestBackend()
	x, w := basicInputs(t)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Valid()})

	tests := []struct {
		name    string
		bias    *tensor.RawTensor
		weights *tensor.RawTensor
		act     activation.Activation
		want    []float32
	}{
		{
			name: "relu",
			act:  activation.ReLU{},
			want: []float32{0, 2, 0, 5, 0, 8, 0, 11, 0, 14, 0, 17, 0, 20, 0, 23},
		},
		{
			name: "bias",
			bias: mustFromFloat32(t, []float32{5, 6}, 2),
			want: []float32{0, 8, -6, 11, -12, 14, -18, 17, -24, 20, -30, 23, -36, 26, -42, 29},
		},
		{
			name: "scalar bias relu",
			bias: tensor.Scalar(5),
			act:  activation.ReLU{},
			want: []float32{0, 7, 0, 10, 0, 13, 0, 16, 0, 19, 0, 22, 0, 25, 0, 28},
		},
		{
			name:    "prelu",
			weights: mustFromFloat32(t, []float32{0.25, 0.75}, 1, 1, 2),
			act:     activation.PReLU{},
			want:    []float32{-1.25, 2, -2.75, 5, -4.25, 8, -5.75, 11, -7.25, 14, -8.75, 17, -10.25, 20, -11.75, 23},
		},
		{
			name: "leakyrelu",
			act:  activation.LeakyReLU{Alpha: 0.3},
			want: []float32{-1.5, 2, -3.3, 5, -5.1, 8, -6.9, 11, -8.7, 14, -10.5, 17, -12.3, 20, -14.1, 23},
		},
		{
			name: "elu",
			act:  activation.ELU{},
			want: []float32{-0.99326, 2, -1, 5, -1, 8, -1, 11, -1, 14, -1, 17, -1, 20, -1, 23},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := backend.FusedConv2D(x, w, tt.bias, tt.weights, info, tt.act)
			assertInDeltaSlice(t, tt.want, out.AsFloat32(), 1e-4)
		})
	}
}

func TestFusedConv2D_Sigmoid(t *testing.T) {
	backend := newTestBackend()
	x := mustFromFloat32(t, iota32(16), 2, 2, 2, 2)
	w := mustFromFloat32(t, []float32{-0.1, 0.1, -0.2, 0.05}, 1, 1, 2, 2)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Valid()})

	out := backend.FusedConv2D(x, w, nil, nil, info, activation.Sigmoid{})
	assertInDeltaSlice(t, []float32{
		0.3775407, 0.549834, 0.24973989, 0.6224593, 0.15446526, 0.6899744, 0.09112296, 0.7502601,
		0.0521535, 0.80218387, 0.02931219, 0.84553474, 0.0163025, 0.8807971, 0.0090133, 0.908877,
	}, out.AsFloat32(), 1e-5)
}

func TestFusedConv2D_NCHWPerChannelBias(t *testing.T) {
	backend := newTestBackend()
	x := mustFromFloat32(t, []float32{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}, 1, 4, 2, 2)
	w := mustFromFloat32(t, []float32{3, 3, 3, 3, 1, 1, 1, 1, 5, 5, 5, 5, 0, 0, 0, 0}, 1, 1, 4, 4)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Same(), DataFormat: conv.NCHW})

	// Per-channel NCHW bias arrives aligned as [C,1,1].
	bias := mustFromFloat32(t, []float32{1, 2, 1, 2}, 4, 1, 1)
	out := backend.FusedConv2D(x, w, bias, nil, info, nil)
	assert.Equal(t, []float32{10, 19, 28, 37, 11, 20, 29, 38, 10, 19, 28, 37, 11, 20, 29, 38}, out.AsFloat32())
}

func TestFusedConv2D_RejectsMissingWeights(t *testing.T) {
	backend := newTestBackend()
	x, w := basicInputs(t)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Valid()})

	assert.Panics(t, func() { backend.FusedConv2D(x, w, nil, nil, info, activation.PReLU{}) })
	badBias := mustFromFloat32(t, []float32{1, 2, 3}, 3)
	assert.Panics(t, func() { backend.FusedConv2D(x, w, badBias, nil, info, nil) })
}

// A dilated filter equals the same filter with zeros inserted between taps.
func TestConv2D_DilationMatchesExpandedFilter(t *testing.T) {
	backend := newTestBackend()
	x := randomTensor(t, 1, 2, 9, 8, 3)
	w := randomTensor(t, 2, 3, 2, 3, 4)

	dilated := mustInfo(t, x, w, conv.Params{Dilations: []int{2, 3}, Pad: conv.Same()})

	// Expanded filter: [5, 4, 3, 4]
	wd := w.AsFloat32()
	expanded := make([]float32, 5*4*3*4)
	for kh := 0; kh < 3; kh++ {
		for kw := 0; kw < 2; kw++ {
			for c := 0; c < 12; c++ {
				expanded[((kh*2)*4+kw*3)*12+c] = wd[(kh*2+kw)*12+c]
			}
		}
	}
	we := mustFromFloat32(t, expanded, 5, 4, 3, 4)
	plain := mustInfo(t, x, we, conv.Params{Pad: conv.Same()})

	assertInDeltaSlice(t, backend.Conv2D(x, we, plain).AsFloat32(), backend.Conv2D(x, w, dilated).AsFloat32(), 1e-5)
}

func TestConv2D_LayoutEquivalence(t *testing.T) {
	backend := newTestBackend()
	xNHWC := randomTensor(t, 3, 2, 7, 6, 3)
	w := randomTensor(t, 4, 3, 3, 3, 5)
	xNCHW := backend.Transpose(xNHWC, 0, 3, 1, 2)

	p := conv.Params{Strides: []int{2, 1}, Pad: conv.Same()}
	infoNHWC := mustInfo(t, xNHWC, w, p)
	p.DataFormat = conv.NCHW
	infoNCHW := mustInfo(t, xNCHW, w, p)

	outNHWC := backend.Conv2D(xNHWC, w, infoNHWC)
	outNCHW := backend.Conv2D(xNCHW, w, infoNCHW)

	assertInDeltaSlice(t, backend.Transpose(outNHWC, 0, 3, 1, 2).AsFloat32(), outNCHW.AsFloat32(), 1e-5)
}

func TestConv2DBackward_Fixture(t *testing.T) {
	backend := newTestBackend()
	x := mustFromFloat32(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 2, 3, 3, 1)
	w := mustFromFloat32(t, []float32{-1, 1, -2, 0.5}, 2, 2, 1, 1)
	dy := mustFromFloat32(t, []float32{3, 1, 2, 0, 3, 1, 2, 0}, 2, 2, 2, 1)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Number(0)})

	dx := backend.Conv2DInputBackward(dy, w, info)
	assert.Equal(t, x.Shape(), dx.Shape())
	assert.Equal(t, []float32{-3, 2, 1, -8, 1.5, 0.5, -4, 1, 0, -3, 2, 1, -8, 1.5, 0.5, -4, 1, 0}, dx.AsFloat32())

	dw := backend.Conv2DFilterBackward(x, dy, info)
	assert.Equal(t, w.Shape(), dw.Shape())
	assert.Equal(t, []float32{26, 38, 62, 74}, dw.AsFloat32())
}

// The backward kernels are adjoints of the forward convolution:
// <conv(x, w), dy> == <x, dX(dy)> == <w, dW(dy)>.
func TestConv2DBackward_Adjoint(t *testing.T) {
	tests := []struct {
		name   string
		x, w   []int
		params conv.Params
	}{
		{"valid", []int{2, 6, 5, 3}, []int{3, 2, 3, 4}, conv.Params{Pad: conv.Valid()}},
		{"same strided", []int{1, 7, 7, 2}, []int{3, 3, 2, 3}, conv.Params{Strides: []int{2}, Pad: conv.Same()}},
		{"dilated", []int{2, 8, 8, 2}, []int{3, 3, 2, 2}, conv.Params{Dilations: []int{2}, Pad: conv.Number(1)}},
		{"explicit nchw", []int{1, 3, 5, 6}, []int{2, 3, 3, 2}, conv.Params{
			Pad:        conv.Explicit([4][2]float64{{0, 0}, {0, 0}, {1, 0}, {2, 1}}),
			DataFormat: conv.NCHW,
		}},
		{"pointwise", []int{2, 3, 3, 4}, []int{1, 1, 4, 2}, conv.Params{Pad: conv.Valid()}},
	}
	backend := newTestBackend()
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := uint64(10 * (i + 1))
			x := randomTensor(t, seed, tt.x...)
			w := randomTensor(t, seed+1, tt.w...)
			info := mustInfo(t, x, w, tt.params)
			dy := randomTensor(t, seed+2, info.OutShape...)

			y := backend.Conv2D(x, w, info)
			dx := backend.Conv2DInputBackward(dy, w, info)
			dw := backend.Conv2DFilterBackward(x, dy, info)

			lhs := dot(y, dy)
			assert.InDelta(t, lhs, dot(x, dx), 1e-3)
			assert.InDelta(t, lhs, dot(w, dw), 1e-3)
		})
	}
}

func TestWorkspaceBytes(t *testing.T) {
	x, w := basicInputs(t)
	info := mustInfo(t, x, w, conv.Params{Pad: conv.Valid()})
	assert.Equal(t, 0, WorkspaceBytes(info))

	w3 := mustFromFloat32(t, make([]float32, 3*3*2*1), 3, 3, 2, 1)
	info = mustInfo(t, x, w3, conv.Params{Pad: conv.Same()})
	// rows = 2*2*2, cols = 3*3*2
	assert.Equal(t, 8*18*4, WorkspaceBytes(info))
}
