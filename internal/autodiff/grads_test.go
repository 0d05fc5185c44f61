package autodiff_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/autodiff"
	"github.com/born-ml/fusedconv/internal/backend/cpu"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/fused"
	"github.com/born-ml/fusedconv/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return r
}

func randomRaw(t *testing.T, rng *rand.Rand, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32)
	require.NoError(t, err)
	data := r.AsFloat32()
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return r
}

func assertClose(t *testing.T, want, got []float32, delta float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], delta, "index %d", i)
	}
}

// The gradient fixture: a 2x2 filter over a 3x3 image, batch 2.
func fixtureInputs(t *testing.T) (x, filter, dy *tensor.RawTensor) {
	t.Helper()
	x = raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 2, 3, 3, 1)
	filter = raw(t, []float32{-1, 1, -2, 0.5}, 2, 2, 1, 1)
	dy = raw(t, []float32{3, 1, 2, 0, 3, 1, 2, 0}, 2, 2, 2, 1)
	return x, filter, dy
}

func TestGrads_Fixture(t *testing.T) {
	b := autodiff.New(cpu.New())
	x, filter, dy := fixtureInputs(t)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{X: in[0], Filter: in[1], Pad: conv.Valid()})
	}, []*tensor.RawTensor{x, filter}, dy)
	require.NoError(t, err)
	require.Len(t, grads, 2)

	assert.Equal(t, x.Shape(), grads[0].Shape())
	assert.Equal(t, []float32{-3, 2, 1, -8, 1.5, 0.5, -4, 1, 0, -3, 2, 1, -8, 1.5, 0.5, -4, 1, 0}, grads[0].AsFloat32())
	assert.Equal(t, filter.Shape(), grads[1].Shape())
	assert.Equal(t, []float32{26, 38, 62, 74}, grads[1].AsFloat32())
	assert.Zero(t, b.Tape().NumOps(), "tape must be cleared")
}

// A fused call and the equivalent chain of separate conv, add and
// activation ops give the same gradients.
func TestGrads_FusedMatchesUnfused(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		x       []int
		filter  []int
		bias    []int
		weights []int
		strides []int
		pad     conv.Padding
		format  conv.DataFormat
		act     activation.Activation
	}{
		{name: "linear full bias", x: []int{2, 5, 5, 3}, filter: []int{3, 3, 3, 2}, bias: []int{2, 3, 3, 2}, pad: conv.Valid(), act: activation.Linear{}},
		{name: "relu", x: []int{2, 5, 5, 3}, filter: []int{3, 3, 3, 2}, bias: []int{2}, pad: conv.Valid(), act: activation.ReLU{}},
		{name: "elu scalar bias", x: []int{2, 5, 5, 3}, filter: []int{3, 3, 3, 2}, bias: []int{1}, pad: conv.Valid(), act: activation.ELU{}},
		{name: "relu6", x: []int{2, 5, 5, 3}, filter: []int{3, 3, 3, 2}, bias: []int{2}, pad: conv.Valid(), act: activation.ReLU6{}},
		{name: "sigmoid", x: []int{2, 5, 5, 3}, filter: []int{3, 3, 3, 2}, bias: []int{2}, pad: conv.Valid(), act: activation.Sigmoid{}},
		{name: "leakyrelu", x: []int{2, 5, 5, 3}, filter: []int{3, 3, 3, 2}, bias: []int{2}, pad: conv.Valid(), act: activation.LeakyReLU{Alpha: 0.2}},
		{name: "same stride 2 relu", x: []int{1, 6, 5, 2}, filter: []int{3, 2, 2, 3}, bias: []int{3}, strides: []int{2}, pad: conv.Same(), act: activation.ReLU{}},
		{name: "prelu per-channel", x: []int{1, 5, 5, 2}, filter: []int{3, 3, 2, 3}, bias: []int{3}, weights: []int{3}, pad: conv.Same(), act: activation.PReLU{}},
		{name: "nchw per-channel bias relu", x: []int{2, 3, 4, 4}, filter: []int{3, 3, 3, 2}, bias: []int{2}, pad: conv.Same(), format: conv.NCHW, act: activation.ReLU{}},
		{name: "nchw rank 3 bias elu", x: []int{2, 3, 4, 4}, filter: []int{3, 3, 3, 2}, bias: []int{2, 1, 1}, strides: []int{1, 2}, pad: conv.Same(), format: conv.NCHW, act: activation.ELU{}},
		{name: "nchw prelu per-channel", x: []int{1, 2, 5, 5}, filter: []int{3, 3, 2, 3}, bias: []int{3}, weights: []int{3}, pad: conv.Valid(), format: conv.NCHW, act: activation.PReLU{}},
		{name: "nchw prelu full weights", x: []int{1, 2, 5, 5}, filter: []int{3, 3, 2, 3}, weights: []int{3, 3, 3}, pad: conv.Valid(), format: conv.NCHW, act: activation.PReLU{}},
		{name: "pointwise nchw leakyrelu", x: []int{2, 4, 3, 3}, filter: []int{1, 1, 4, 3}, bias: []int{3}, pad: conv.Valid(), format: conv.NCHW, act: activation.LeakyReLU{Alpha: 0.1}},
		{name: "depthwise same prelu", op: fused.OpDepthwiseConv2D, x: []int{1, 5, 5, 2}, filter: []int{3, 3, 2, 2}, bias: []int{4}, weights: []int{4}, pad: conv.Same(), act: activation.PReLU{}},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(11, uint64(i)))
			inputs := []*tensor.RawTensor{randomRaw(t, rng, tt.x...), randomRaw(t, rng, tt.filter...)}
			if tt.bias != nil {
				inputs = append(inputs, randomRaw(t, rng, tt.bias...))
			}
			var weights *tensor.RawTensor
			if tt.weights != nil {
				weights = randomRaw(t, rng, tt.weights...)
			}
			op := tt.op
			if op == "" {
				op = fused.OpConv2D
			}

			b := autodiff.New(cpu.New())
			prepare := func(in []*tensor.RawTensor) (*fused.Prepared, error) {
				cfg := fused.Conv2DConfig{
					X: in[0], Filter: in[1], PreluWeights: weights,
					Strides: tt.strides, Pad: tt.pad, DataFormat: tt.format, Activation: tt.act,
				}
				if len(in) > 2 {
					cfg.Bias = in[2]
				}
				return fused.Prepare(b, cfg, op)
			}

			p, err := prepare(inputs)
			require.NoError(t, err)
			dy := randomRaw(t, rng, p.Info.OutShape...)

			fusedGrads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
				p, err := prepare(in)
				if err != nil {
					return nil, err
				}
				return p.Run(b), nil
			}, inputs, dy)
			require.NoError(t, err)

			plainGrads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
				p, err := prepare(in)
				if err != nil {
					return nil, err
				}
				return p.RunUnfused(b), nil
			}, inputs, dy)
			require.NoError(t, err)

			for k := range inputs {
				assert.Equal(t, inputs[k].Shape(), fusedGrads[k].Shape(), "input %d", k)
				assert.Equal(t, plainGrads[k].Shape(), fusedGrads[k].Shape(), "input %d", k)
				assertClose(t, plainGrads[k].AsFloat32(), fusedGrads[k].AsFloat32(), 1e-4)
			}
		})
	}
}

func TestGrads_BiasReducesOverBroadcast(t *testing.T) {
	b := autodiff.New(cpu.New())
	x, filter, dy := fixtureInputs(t)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{X: in[0], Filter: in[1], Pad: conv.Valid(), Bias: in[2]})
	}, []*tensor.RawTensor{x, filter, raw(t, []float32{0.5}, 1)}, dy)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{1}, grads[2].Shape())
	assert.Equal(t, []float32{12}, grads[2].AsFloat32())
}

func TestGrads_NCHWPerChannelBias(t *testing.T) {
	b := autodiff.New(cpu.New())
	x := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, 1, 2, 2, 2)
	filter := raw(t, []float32{-1, 1, -2, 0.5}, 1, 1, 2, 2)
	bias := raw(t, []float32{1, 2}, 2)
	dy := raw(t, []float32{1, 2, 3, 4, 10, 20, 30, 40}, 1, 2, 2, 2)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{
			X: in[0], Filter: in[1], Pad: conv.Valid(), DataFormat: conv.NCHW, Bias: in[2],
		})
	}, []*tensor.RawTensor{x, filter, bias}, dy)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{2}, grads[2].Shape())
	assert.Equal(t, []float32{10, 100}, grads[2].AsFloat32())
}

func TestGrads_Rank3Input(t *testing.T) {
	b := autodiff.New(cpu.New())
	x := raw(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 3, 3, 1)
	filter := raw(t, []float32{-1, 1, -2, 0.5}, 2, 2, 1, 1)
	dy := raw(t, []float32{3, 1, 2, 0}, 2, 2, 1)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{X: in[0], Filter: in[1], Pad: conv.Valid()})
	}, []*tensor.RawTensor{x, filter}, dy)
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{3, 3, 1}, grads[0].Shape())
	assert.Equal(t, []float32{-3, 2, 1, -8, 1.5, 0.5, -4, 1, 0}, grads[0].AsFloat32())
	assert.Equal(t, []float32{13, 19, 31, 37}, grads[1].AsFloat32())
}

func TestGrads_PReLUWeightsGetZeroGradient(t *testing.T) {
	b := autodiff.New(cpu.New())
	x, filter, dy := fixtureInputs(t)
	alpha := raw(t, []float32{0.1}, 1)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{
			X: in[0], Filter: in[1], Pad: conv.Valid(),
			Activation: activation.PReLU{}, PreluWeights: in[2],
		})
	}, []*tensor.RawTensor{x, filter, alpha}, dy)
	require.NoError(t, err)

	assert.Equal(t, []float32{0}, grads[2].AsFloat32())
}

func TestGrads_UnusedInputAndDefaultSeed(t *testing.T) {
	b := autodiff.New(cpu.New())
	x, filter, _ := fixtureInputs(t)
	unused := raw(t, []float32{1, 2, 3}, 3)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{X: in[0], Filter: in[1], Pad: conv.Valid()})
	}, []*tensor.RawTensor{x, filter, unused}, nil)
	require.NoError(t, err)

	// With a ones seed dFilter is the sum of every patch.
	assert.Equal(t, []float32{24, 32, 48, 56}, grads[1].AsFloat32())
	assert.Equal(t, []float32{0, 0, 0}, grads[2].AsFloat32())
}

func TestGrads_Errors(t *testing.T) {
	b := autodiff.New(cpu.New())
	x, filter, _ := fixtureInputs(t)

	_, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{X: in[0], Filter: in[1], Pad: conv.Valid()})
	}, []*tensor.RawTensor{x, filter}, raw(t, []float32{1, 2}, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match output shape")

	_, err = b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return fused.Conv2D(b, fused.Conv2DConfig{X: in[0], Filter: in[1], Pad: conv.Same(), DimRoundingMode: conv.RoundCeil})
	}, []*tensor.RawTensor{x, filter}, nil)
	require.ErrorIs(t, err, conv.ErrConfig)
	assert.Zero(t, b.Tape().NumOps())
	assert.False(t, b.Tape().IsRecording())
}

func TestGrads_PanicStopsRecording(t *testing.T) {
	b := autodiff.New(cpu.New())
	x, filter, _ := fixtureInputs(t)

	assert.Panics(t, func() {
		_, _ = b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
			b.Add(in[0], in[0])
			panic("kernel failure")
		}, []*tensor.RawTensor{x, filter}, nil)
	})
	assert.False(t, b.Tape().IsRecording())
	assert.Zero(t, b.Tape().NumOps())
}

// numericalGrad estimates d(sum(f(inputs) * dy)) / d inputs[idx] with central differences.
func numericalGrad(t *testing.T, f autodiff.Func, inputs []*tensor.RawTensor, idx int, dy *tensor.RawTensor) []float32 {
	t.Helper()
	const eps = 1e-2

	loss := func() float64 {
		out, err := f(inputs)
		require.NoError(t, err)
		var sum float64
		for i, v := range out.AsFloat32() {
			sum += float64(v) * float64(dy.AsFloat32()[i])
		}
		return sum
	}

	data := inputs[idx].AsFloat32()
	grad := make([]float32, len(data))
	for i := range data {
		orig := data[i]
		data[i] = orig + eps
		plus := loss()
		data[i] = orig - eps
		minus := loss()
		data[i] = orig
		grad[i] = float32((plus - minus) / (2 * eps))
	}
	return grad
}

func TestGrads_Numerical(t *testing.T) {
	tests := []struct {
		name      string
		depthwise bool
		xShape    []int
		fShape    []int
		biasShape []int
		strides   []int
		dilations []int
		pad       conv.Padding
		format    conv.DataFormat
		act       activation.Activation
	}{
		{name: "valid", xShape: []int{2, 5, 5, 3}, fShape: []int{3, 3, 3, 2}, biasShape: []int{2}, pad: conv.Valid(), act: activation.Sigmoid{}},
		{name: "same stride 2", xShape: []int{1, 6, 5, 2}, fShape: []int{3, 2, 2, 3}, biasShape: []int{3}, strides: []int{2}, pad: conv.Same(), act: activation.Sigmoid{}},
		{name: "dilation 2", xShape: []int{1, 7, 7, 2}, fShape: []int{3, 3, 2, 2}, dilations: []int{2}, pad: conv.Same(), act: activation.Linear{}},
		{name: "number pad", xShape: []int{1, 4, 4, 2}, fShape: []int{2, 3, 2, 2}, biasShape: []int{2}, pad: conv.Number(1), act: activation.Sigmoid{}},
		{name: "explicit pad", xShape: []int{1, 4, 5, 1}, fShape: []int{2, 2, 1, 2}, pad: conv.Explicit([4][2]float64{{0, 0}, {1, 0}, {0, 2}, {0, 0}}), act: activation.Linear{}},
		{name: "nchw", xShape: []int{2, 3, 4, 4}, fShape: []int{3, 3, 3, 2}, biasShape: []int{2}, strides: []int{1, 2}, pad: conv.Same(), format: conv.NCHW, act: activation.Sigmoid{}},
		{name: "pointwise", xShape: []int{2, 3, 3, 4}, fShape: []int{1, 1, 4, 3}, biasShape: []int{3}, pad: conv.Valid(), act: activation.Sigmoid{}},
		{name: "depthwise", depthwise: true, xShape: []int{1, 5, 5, 2}, fShape: []int{3, 3, 2, 2}, biasShape: []int{4}, pad: conv.Same(), act: activation.Sigmoid{}},
		{name: "depthwise dilation", depthwise: true, xShape: []int{1, 6, 6, 3}, fShape: []int{2, 2, 3, 1}, dilations: []int{2, 1}, pad: conv.Valid(), act: activation.Linear{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, uint64(len(tt.name))))
			inputs := []*tensor.RawTensor{
				randomRaw(t, rng, tt.xShape...),
				randomRaw(t, rng, tt.fShape...),
			}
			if tt.biasShape != nil {
				inputs = append(inputs, randomRaw(t, rng, tt.biasShape...))
			}

			op := fused.Conv2D
			if tt.depthwise {
				op = fused.DepthwiseConv2D
			}
			makeFunc := func(backend tensor.Backend) autodiff.Func {
				return func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
					cfg := fused.Conv2DConfig{
						X: in[0], Filter: in[1],
						Strides: tt.strides, Dilations: tt.dilations, Pad: tt.pad,
						DataFormat: tt.format, Activation: tt.act,
					}
					if len(in) > 2 {
						cfg.Bias = in[2]
					}
					return op(backend, cfg)
				}
			}

			plain := cpu.New()
			out, err := makeFunc(plain)(inputs)
			require.NoError(t, err)
			dy := randomRaw(t, rng, out.Shape()...)

			b := autodiff.New(cpu.New())
			grads, err := b.Grads(makeFunc(b), inputs, dy)
			require.NoError(t, err)

			for i := range inputs {
				want := numericalGrad(t, makeFunc(plain), inputs, i, dy)
				got := grads[i].AsFloat32()
				require.Len(t, got, len(want))
				for j := range want {
					tol := 5e-3 * math.Max(1, math.Abs(float64(want[j])))
					assert.InDelta(t, want[j], got[j], tol, "input %d index %d", i, j)
				}
			}
		})
	}
}

func TestTape_Recording(t *testing.T) {
	b := autodiff.New(cpu.New())
	x := raw(t, []float32{1, 2}, 2)

	b.Add(x, x)
	assert.Zero(t, b.Tape().NumOps(), "operations outside recording are not taped")

	b.Tape().StartRecording()
	assert.True(t, b.Tape().IsRecording())
	y := b.Mul(x, x)
	b.Add(y, x)
	assert.Equal(t, 2, b.Tape().NumOps())

	b.Tape().StopRecording()
	b.Add(x, x)
	assert.Equal(t, 2, b.Tape().NumOps())

	b.Tape().Clear()
	assert.Zero(t, b.Tape().NumOps())
	assert.Equal(t, "Autodiff(CPU)", b.Name())
}

// x is used twice, so its gradients accumulate: d(x*x + x)/dx = 2x + 1.
func TestTape_BackwardAccumulates(t *testing.T) {
	b := autodiff.New(cpu.New())
	x := raw(t, []float32{1, 2, 3}, 3)

	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return b.Add(b.Mul(in[0], in[0]), in[0]), nil
	}, []*tensor.RawTensor{x}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 5, 7}, grads[0].AsFloat32())
}
