package conv

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataFormat is the memory layout of the convolution input and output.
type DataFormat int

// Supported layouts.
const (
	NHWC DataFormat = iota // [batch, height, width, channels]
	NCHW                   // [batch, channels, height, width]
)

// String returns the layout name.
func (f DataFormat) String() string {
	switch f {
	case NHWC:
		return "NHWC"
	case NCHW:
		return "NCHW"
	default:
		return "unknown"
	}
}

// ParseDataFormat parses "NHWC" or "NCHW". Empty means NHWC.
func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToUpper(s) {
	case "", "NHWC":
		return NHWC, nil
	case "NCHW":
		return NCHW, nil
	default:
		return 0, fmt.Errorf("unknown dataFormat %s", s)
	}
}

// RoundingMode selects how fractional output sizes are rounded.
type RoundingMode int

// Rounding modes. RoundNone truncates.
const (
	RoundNone RoundingMode = iota
	RoundFloor
	RoundRound
	RoundCeil
)

// String returns the mode name.
func (m RoundingMode) String() string {
	switch m {
	case RoundNone:
		return ""
	case RoundFloor:
		return "floor"
	case RoundRound:
		return "round"
	case RoundCeil:
		return "ceil"
	default:
		return "unknown"
	}
}

// ParseRoundingMode parses "floor", "round" or "ceil". Empty means RoundNone.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch s {
	case "":
		return RoundNone, nil
	case "floor":
		return RoundFloor, nil
	case "round":
		return RoundRound, nil
	case "ceil":
		return RoundCeil, nil
	default:
		return 0, fmt.Errorf("unknown roundingMode %s", s)
	}
}

// apply rounds v according to the mode.
func (m RoundingMode) apply(v float64) int {
	switch m {
	case RoundFloor:
		return int(math.Floor(v))
	case RoundRound:
		return int(math.Round(v))
	case RoundCeil:
		return int(math.Ceil(v))
	default:
		return int(math.Trunc(v))
	}
}

// PadKind identifies the padding variant.
type PadKind int

// Padding variants.
const (
	PadValid PadKind = iota
	PadSame
	PadNumber
	PadExplicit
)

// String returns the variant name.
func (k PadKind) String() string {
	switch k {
	case PadValid:
		return "valid"
	case PadSame:
		return "same"
	case PadNumber:
		return "number"
	case PadExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Padding is the padding argument of a convolution.
//
// Numeric values are float64 so that fractional input can be carried to
// validation and rejected there rather than truncated at the call site.
type Padding struct {
	kind     PadKind
	value    float64
	explicit [4][2]float64
}

// Valid is no padding.
func Valid() Padding { return Padding{kind: PadValid} }

// Same pads so that the output spatial size is ceil(in / stride).
func Same() Padding { return Padding{kind: PadSame} }

// Number pads every spatial edge by p pixels.
func Number(p float64) Padding { return Padding{kind: PadNumber, value: p} }

// Explicit takes [before, after] pairs for the four input dimensions in the
// order of the data format. Batch and channel pairs are ignored.
func Explicit(pairs [4][2]float64) Padding { return Padding{kind: PadExplicit, explicit: pairs} }

// Kind returns the padding variant.
func (p Padding) Kind() PadKind { return p.kind }

// Pairs returns the explicit pairs of a PadExplicit padding.
func (p Padding) Pairs() [4][2]float64 { return p.explicit }

// String formats the padding the way it would be written in a config.
func (p Padding) String() string {
	switch p.kind {
	case PadNumber:
		return strconv.FormatFloat(p.value, 'g', -1, 64)
	case PadExplicit:
		parts := make([]string, 0, 4)
		for _, pair := range p.explicit {
			parts = append(parts, fmt.Sprintf("[%g,%g]", pair[0], pair[1]))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return p.kind.String()
	}
}

func isInt(v float64) bool {
	return v == math.Trunc(v) && !math.IsInf(v, 0)
}

// CheckPadOnDimRoundingMode rejects a rounding mode combined with string
// padding or with non-integer numeric padding.
func CheckPadOnDimRoundingMode(op string, pad Padding, mode RoundingMode) error {
	if mode == RoundNone {
		return nil
	}
	switch pad.kind {
	case PadValid, PadSame:
		return Errorf(KindConfig, op, "pad must be an integer when using dimRoundingMode %s but got pad %s.", mode, pad)
	case PadNumber:
		if !isInt(pad.value) {
			return Errorf(KindConfig, op, "pad must be an integer when using dimRoundingMode %s but got pad %g.", mode, pad.value)
		}
	case PadExplicit:
		for _, pair := range pad.explicit {
			for _, v := range pair {
				if !isInt(v) {
					return Errorf(KindConfig, op, "pad must be an integer when using dimRoundingMode %s but got pad %g.", mode, v)
				}
			}
		}
	default:
		return Errorf(KindConfig, op, "Unknown padding parameter: %s", pad)
	}
	return nil
}
