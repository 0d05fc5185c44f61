package conv

import "fmt"

// Kind classifies validation failures.
type Kind int

// Error kinds.
const (
	KindDType  Kind = iota + 1 // wrong tensor dtype
	KindConfig                 // invalid parameter combination
	KindShape                  // incompatible shapes or ranks
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDType:
		return "dtype"
	case KindConfig:
		return "config"
	case KindShape:
		return "shape"
	default:
		return "unknown"
	}
}

// Error is a validation failure raised before any computation starts.
//
// Use errors.Is with ErrDType, ErrConfig or ErrShape to classify it.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

// Sentinels for errors.Is.
var (
	ErrDType  = &Error{Kind: KindDType}
	ErrConfig = &Error{Kind: KindConfig}
	ErrShape  = &Error{Kind: KindShape}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String() + " error"
	}
	return e.Msg
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Kind == e.Kind
}

// Errorf builds an "Error in <op>: ..." validation error.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Msg:  fmt.Sprintf("Error in %s: ", op) + fmt.Sprintf(format, args...),
	}
}

// DTypeError reports an argument with the wrong dtype.
func DTypeError(arg, op, want, got string) *Error {
	return &Error{
		Kind: KindDType,
		Op:   op,
		Msg:  fmt.Sprintf("Argument '%s' passed to '%s' must be %s tensor, but got %s tensor", arg, op, want, got),
	}
}
