// Package activation defines the element-wise activations that can be fused
// into a convolution epilogue, together with their derivatives.
//
// Activations are pure scalar functions. Per-element slopes (the PReLU
// weights or the LeakyReLU alpha) are supplied by the caller, which keeps
// this package free of tensor dependencies.
package activation

import (
	"fmt"
	"math"
	"strings"
)

// DefaultLeakyReLUAlpha is used when a leakyrelu activation is requested
// without an explicit alpha.
const DefaultLeakyReLUAlpha = 0.2

// Activation is a fused activation function.
type Activation interface {
	// Name returns the canonical lower-case name.
	Name() string
	// Forward applies the activation to z. slope is only read by
	// LeakyReLU and PReLU.
	Forward(z, slope float32) float32
	// Derivative returns d activation / dz at z. For Sigmoid the result is
	// computed from z itself, not from the activation output.
	Derivative(z, slope float32) float32

	sealed()
}

// Linear is the identity.
type Linear struct{}

// ReLU is max(0, z).
type ReLU struct{}

// ReLU6 is min(max(0, z), 6).
type ReLU6 struct{}

// ELU is z for z >= 0, else exp(z) - 1.
type ELU struct{}

// Sigmoid is 1 / (1 + exp(-z)).
type Sigmoid struct{}

// LeakyReLU is z for z >= 0, else Alpha * z.
type LeakyReLU struct {
	Alpha float32
}

// PReLU is z for z >= 0, else w * z where w comes from a weights tensor
// broadcast against the output.
type PReLU struct{}

func (Linear) Name() string    { return "linear" }
func (ReLU) Name() string      { return "relu" }
func (ReLU6) Name() string     { return "relu6" }
func (ELU) Name() string       { return "elu" }
func (Sigmoid) Name() string   { return "sigmoid" }
func (LeakyReLU) Name() string { return "leakyrelu" }
func (PReLU) Name() string     { return "prelu" }

func (Linear) Forward(z, _ float32) float32 { return z }

func (ReLU) Forward(z, _ float32) float32 {
	if z > 0 {
		return z
	}
	return 0
}

func (ReLU6) Forward(z, _ float32) float32 {
	switch {
	case z < 0:
		return 0
	case z > 6:
		return 6
	default:
		return z
	}
}

func (ELU) Forward(z, _ float32) float32 {
	if z >= 0 {
		return z
	}
	return float32(math.Expm1(float64(z)))
}

func (Sigmoid) Forward(z, _ float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(z))))
}

func (a LeakyReLU) Forward(z, _ float32) float32 {
	if z >= 0 {
		return z
	}
	return a.Alpha * z
}

func (PReLU) Forward(z, slope float32) float32 {
	if z >= 0 {
		return z
	}
	return slope * z
}

func (Linear) Derivative(_, _ float32) float32 { return 1 }

func (ReLU) Derivative(z, _ float32) float32 {
	if z > 0 {
		return 1
	}
	return 0
}

func (ReLU6) Derivative(z, _ float32) float32 {
	if z > 0 && z <= 6 {
		return 1
	}
	return 0
}

func (ELU) Derivative(z, _ float32) float32 {
	if z >= 0 {
		return 1
	}
	return float32(math.Exp(float64(z)))
}

func (s Sigmoid) Derivative(z, _ float32) float32 {
	y := s.Forward(z, 0)
	return y * (1 - y)
}

func (a LeakyReLU) Derivative(z, _ float32) float32 {
	if z >= 0 {
		return 1
	}
	return a.Alpha
}

func (PReLU) Derivative(z, slope float32) float32 {
	if z >= 0 {
		return 1
	}
	return slope
}

func (Linear) sealed()    {}
func (ReLU) sealed()      {}
func (ReLU6) sealed()     {}
func (ELU) sealed()       {}
func (Sigmoid) sealed()   {}
func (LeakyReLU) sealed() {}
func (PReLU) sealed()     {}

// NeedsWeights reports whether act reads a per-element weights tensor.
func NeedsWeights(act Activation) bool {
	_, ok := act.(PReLU)
	return ok
}

// IsLinear reports whether act is nil or Linear.
func IsLinear(act Activation) bool {
	if act == nil {
		return true
	}
	_, ok := act.(Linear)
	return ok
}

// OrLinear returns act, or Linear when act is nil.
func OrLinear(act Activation) Activation {
	if act == nil {
		return Linear{}
	}
	return act
}

// Parse returns the activation named name. alpha is the leakyrelu slope;
// nil selects DefaultLeakyReLUAlpha.
func Parse(name string, alpha *float32) (Activation, error) {
	switch strings.ToLower(name) {
	case "", "linear":
		return Linear{}, nil
	case "relu":
		return ReLU{}, nil
	case "relu6":
		return ReLU6{}, nil
	case "elu":
		return ELU{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "leakyrelu":
		if alpha == nil {
			return LeakyReLU{Alpha: DefaultLeakyReLUAlpha}, nil
		}
		return LeakyReLU{Alpha: *alpha}, nil
	case "prelu":
		return PReLU{}, nil
	default:
		return nil, fmt.Errorf("unknown fused activation %s (want one of %s)", name, strings.Join(Names(), ", "))
	}
}

// Names lists every supported activation name.
func Names() []string {
	return []string{"linear", "relu", "relu6", "elu", "sigmoid", "leakyrelu", "prelu"}
}
