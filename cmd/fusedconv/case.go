package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/born-ml/fusedconv/internal/conv"
	"github.com/born-ml/fusedconv/internal/fused"
	"github.com/born-ml/fusedconv/internal/serialization"
	"github.com/born-ml/fusedconv/internal/tensor"
	"gopkg.in/yaml.v3"
)

// tensorSpec is a tensor in a case file: either a literal or a reference to
// a tensor stored in a SafeTensors file.
type tensorSpec struct {
	Shape []int     `yaml:"shape"`
	Data  []float32 `yaml:"data"`
	DType string    `yaml:"dtype,omitempty"`

	File   string `yaml:"file,omitempty"`   // relative to the case file
	Tensor string `yaml:"tensor,omitempty"` // defaults to the field name
}

// padSpec accepts "same", "valid", a number, or four [before, after] pairs.
type padSpec struct {
	conv.Padding
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *padSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch strings.ToLower(node.Value) {
		case "same":
			p.Padding = conv.Same()
			return nil
		case "valid":
			p.Padding = conv.Valid()
			return nil
		}
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("line %d: pad must be same, valid, a number or four pairs", node.Line)
		}
		p.Padding = conv.Number(v)
		return nil
	case yaml.SequenceNode:
		var pairs [][]float64
		if err := node.Decode(&pairs); err != nil {
			return fmt.Errorf("line %d: explicit pad: %w", node.Line, err)
		}
		if len(pairs) != 4 {
			return fmt.Errorf("line %d: explicit pad needs 4 pairs, got %d", node.Line, len(pairs))
		}
		var explicit [4][2]float64
		for i, pair := range pairs {
			if len(pair) != 2 {
				return fmt.Errorf("line %d: explicit pad pair %d needs 2 values, got %d", node.Line, i, len(pair))
			}
			explicit[i] = [2]float64{pair[0], pair[1]}
		}
		p.Padding = conv.Explicit(explicit)
		return nil
	default:
		return fmt.Errorf("line %d: pad must be same, valid, a number or four pairs", node.Line)
	}
}

// Case describes one fused convolution call.
type Case struct {
	Op              string      `yaml:"op"`
	X               tensorSpec  `yaml:"x"`
	Filter          tensorSpec  `yaml:"filter"`
	Bias            *tensorSpec `yaml:"bias,omitempty"`
	PreluWeights    *tensorSpec `yaml:"preluWeights,omitempty"`
	Dy              *tensorSpec `yaml:"dy,omitempty"`
	Strides         []int       `yaml:"strides,omitempty"`
	Pad             padSpec     `yaml:"pad"`
	DataFormat      string      `yaml:"dataFormat,omitempty"`
	Dilations       []int       `yaml:"dilations,omitempty"`
	DimRoundingMode string      `yaml:"dimRoundingMode,omitempty"`
	Activation      string      `yaml:"activation,omitempty"`
	LeakyReLUAlpha  *float32    `yaml:"leakyreluAlpha,omitempty"`

	dir string
}

// LoadCase reads and parses a case file.
func LoadCase(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file: %w", err)
	}
	c, err := ParseCase(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// ParseCase parses a YAML case.
func ParseCase(data []byte) (*Case, error) {
	var c Case
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse case: %w", err)
	}
	switch c.Op {
	case "":
		c.Op = fused.OpConv2D
	case fused.OpConv2D, fused.OpDepthwiseConv2D:
	default:
		return nil, fmt.Errorf("unknown op %q", c.Op)
	}
	return &c, nil
}

// compiled is a case with its tensors materialized.
type compiled struct {
	cfg    fused.Conv2DConfig
	dy     *tensor.RawTensor
	inputs []*tensor.RawTensor // x, filter and bias if present
	names  []string
}

// compile builds the config and tensors for c.
func (c *Case) compile() (*compiled, error) {
	x, err := c.X.build("x", c.dir)
	if err != nil {
		return nil, err
	}
	filter, err := c.Filter.build("filter", c.dir)
	if err != nil {
		return nil, err
	}
	format, err := conv.ParseDataFormat(c.DataFormat)
	if err != nil {
		return nil, err
	}
	mode, err := conv.ParseRoundingMode(c.DimRoundingMode)
	if err != nil {
		return nil, err
	}
	act, err := activation.Parse(c.Activation, c.LeakyReLUAlpha)
	if err != nil {
		return nil, err
	}

	out := &compiled{
		cfg: fused.Conv2DConfig{
			X:               x,
			Filter:          filter,
			Strides:         c.Strides,
			Pad:             c.Pad.Padding,
			DataFormat:      format,
			Dilations:       c.Dilations,
			DimRoundingMode: mode,
			Activation:      act,
		},
		inputs: []*tensor.RawTensor{x, filter},
		names:  []string{"dx", "dFilter"},
	}
	if c.Bias != nil {
		if out.cfg.Bias, err = c.Bias.build("bias", c.dir); err != nil {
			return nil, err
		}
		out.inputs = append(out.inputs, out.cfg.Bias)
		out.names = append(out.names, "dBias")
	}
	if c.PreluWeights != nil {
		if out.cfg.PreluWeights, err = c.PreluWeights.build("preluWeights", c.dir); err != nil {
			return nil, err
		}
	}
	if c.Dy != nil {
		if out.dy, err = c.Dy.build("dy", c.dir); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *tensorSpec) build(name, dir string) (*tensor.RawTensor, error) {
	if s.File != "" {
		return s.load(name, dir)
	}
	dtype, ok := tensor.ParseDataType(s.DType)
	if !ok {
		return nil, fmt.Errorf("%s: unknown dtype %q", name, s.DType)
	}
	var (
		t   *tensor.RawTensor
		err error
	)
	if dtype == tensor.Int32 {
		ints := make([]int32, len(s.Data))
		for i, v := range s.Data {
			ints[i] = int32(v)
		}
		t, err = tensor.FromInt32(ints, s.Shape)
	} else {
		t, err = tensor.FromFloat32(s.Data, s.Shape)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (s *tensorSpec) load(name, dir string) (*tensor.RawTensor, error) {
	path := s.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer f.Close()

	tensors, _, err := serialization.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", name, path, err)
	}
	key := s.Tensor
	if key == "" {
		key = name
	}
	t, ok := tensors[key]
	if !ok {
		return nil, fmt.Errorf("%s: %s has no tensor %q", name, path, key)
	}
	if s.Shape != nil && !t.Shape().Equal(s.Shape) {
		return nil, fmt.Errorf("%s: tensor %q has shape %v, case expects %v", name, key, t.Shape(), s.Shape)
	}
	return t, nil
}
