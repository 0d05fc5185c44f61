package main

import (
	"fmt"
	"math"
	"os"

	"github.com/born-ml/fusedconv/internal/autodiff"
	"github.com/born-ml/fusedconv/internal/backend/cpu"
	"github.com/born-ml/fusedconv/internal/fused"
	"github.com/born-ml/fusedconv/internal/parallel"
	"github.com/born-ml/fusedconv/internal/serialization"
	"github.com/born-ml/fusedconv/internal/tensor"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) backend() *cpu.CPUBackend {
	return cpu.NewWithConfig(parallel.DefaultConfig().WithWorkers(c.workers))
}

func (c *cli) load(path string) (*Case, *compiled, error) {
	tc, err := LoadCase(path)
	if err != nil {
		return nil, nil, err
	}
	comp, err := tc.compile()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	c.logger.Debug("case loaded",
		zap.String("path", path),
		zap.String("op", tc.Op),
		zap.Ints("x", comp.cfg.X.Shape()),
		zap.Ints("filter", comp.cfg.Filter.Shape()),
		zap.String("activation", comp.cfg.Activation.Name()),
	)
	return tc, comp, nil
}

func (c *cli) runForward(cmd *cobra.Command, args []string) error {
	tc, comp, err := c.load(args[0])
	if err != nil {
		return err
	}

	b := c.backend()
	p, err := fused.Prepare(b, comp.cfg, tc.Op)
	if err != nil {
		return err
	}
	c.logger.Debug("geometry",
		zap.Ints("out", p.Info.OutShape),
		zap.Int("padTop", p.Info.PadTop),
		zap.Int("padBottom", p.Info.PadBottom),
		zap.Int("padLeft", p.Info.PadLeft),
		zap.Int("padRight", p.Info.PadRight),
		zap.Bool("pointwise", p.Info.IsPointwise()),
		zap.String("workspace", humanize.Bytes(uint64(cpu.WorkspaceBytes(p.Info)))),
		zap.Int("workers", b.Parallel().NumWorkers),
	)

	results := []namedTensor{{Name: "y", Tensor: p.Run(b)}}
	if err := c.saveResults(results, tc.Op); err != nil {
		return err
	}
	return writeTensors(cmd.OutOrStdout(), c.format, results)
}

func (c *cli) runGrad(cmd *cobra.Command, args []string) error {
	tc, comp, err := c.load(args[0])
	if err != nil {
		return err
	}

	b := autodiff.New(c.backend())
	grads, err := b.Grads(fusedFunc(b, comp.cfg, tc.Op), comp.inputs, comp.dy)
	if err != nil {
		return err
	}

	results := make([]namedTensor, len(grads))
	for i, g := range grads {
		results[i] = namedTensor{Name: comp.names[i], Tensor: g}
	}
	if err := c.saveResults(results, tc.Op); err != nil {
		return err
	}
	return writeTensors(cmd.OutOrStdout(), c.format, results)
}

func (c *cli) runCheck(cmd *cobra.Command, args []string) error {
	tc, comp, err := c.load(args[0])
	if err != nil {
		return err
	}

	b := autodiff.New(c.backend())
	fusedOut, fusedGrads, err := evaluate(b, fusedFunc(b, comp.cfg, tc.Op), comp)
	if err != nil {
		return err
	}
	plainOut, plainGrads, err := evaluate(b, unfusedFunc(b, comp.cfg, tc.Op), comp)
	if err != nil {
		return err
	}

	diffs := []diffRow{{Name: "y", Shape: fusedOut.Shape(), MaxAbsDiff: maxAbsDiff(fusedOut, plainOut)}}
	for i := range fusedGrads {
		diffs = append(diffs, diffRow{
			Name:       comp.names[i],
			Shape:      fusedGrads[i].Shape(),
			MaxAbsDiff: maxAbsDiff(fusedGrads[i], plainGrads[i]),
		})
	}
	if err := writeDiffs(cmd.OutOrStdout(), c.format, diffs); err != nil {
		return err
	}

	for _, d := range diffs {
		if d.MaxAbsDiff > c.tolerance {
			c.logger.Warn("fused and unfused results differ",
				zap.String("tensor", d.Name), zap.Float64("maxAbsDiff", d.MaxAbsDiff), zap.Float64("tolerance", c.tolerance))
			return fmt.Errorf("%s differs by %g, tolerance %g", d.Name, d.MaxAbsDiff, c.tolerance)
		}
	}
	return nil
}

// saveResults writes results to the --save path, if one was given.
func (c *cli) saveResults(results []namedTensor, op string) (err error) {
	if c.save == "" {
		return nil
	}
	tensors := make(map[string]*tensor.RawTensor, len(results))
	for _, r := range results {
		tensors[r.Name] = r.Tensor
	}

	f, err := os.Create(c.save)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	if err := serialization.Write(f, tensors, map[string]string{"op": op, "producer": "fusedconv " + version}); err != nil {
		return err
	}
	c.logger.Debug("results saved", zap.String("path", c.save), zap.Int("tensors", len(tensors)))
	return nil
}

// evaluate runs f for its output and gradients.
func evaluate[B tensor.Backend](b *autodiff.AutodiffBackend[B], f autodiff.Func, comp *compiled) (*tensor.RawTensor, []*tensor.RawTensor, error) {
	var out *tensor.RawTensor
	grads, err := b.Grads(func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		y, err := f(in)
		out = y
		return y, err
	}, comp.inputs, comp.dy)
	if err != nil {
		return nil, nil, err
	}
	return out, grads, nil
}

// withInputs returns cfg with x, filter and bias taken from in.
func withInputs(cfg fused.Conv2DConfig, in []*tensor.RawTensor) fused.Conv2DConfig {
	cfg.X, cfg.Filter = in[0], in[1]
	if len(in) > 2 {
		cfg.Bias = in[2]
	}
	return cfg
}

func fusedFunc(b tensor.Backend, cfg fused.Conv2DConfig, op string) autodiff.Func {
	return func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		p, err := fused.Prepare(b, withInputs(cfg, in), op)
		if err != nil {
			return nil, err
		}
		return p.Run(b), nil
	}
}

// unfusedFunc computes the same result as separate conv, add and
// activation ops, each recorded on its own.
func unfusedFunc(b tensor.Backend, cfg fused.Conv2DConfig, op string) autodiff.Func {
	return func(in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		p, err := fused.Prepare(b, withInputs(cfg, in), op)
		if err != nil {
			return nil, err
		}
		return p.RunUnfused(b), nil
	}
}

func maxAbsDiff(a, b *tensor.RawTensor) float64 {
	av, bv := a.AsFloat32(), b.AsFloat32()
	if len(av) != len(bv) {
		return math.Inf(1)
	}
	var m float64
	for i := range av {
		m = math.Max(m, math.Abs(float64(av[i])-float64(bv[i])))
	}
	return m
}
