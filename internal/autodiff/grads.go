package autodiff

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/tensor"
)

// Func is a differentiable computation over a list of inputs. It must run
// its operations through the AutodiffBackend that Grads is called on.
type Func func(inputs []*tensor.RawTensor) (*tensor.RawTensor, error)

// Grads evaluates f on inputs and returns the gradient of its output with
// respect to every input, in input order.
//
// dy seeds the backward pass and must have the output's shape; nil means
// a tensor of ones. Inputs that do not influence the output get zero
// gradients, so the result never contains nil entries.
//
// The tape is cleared before and after the call.
func (b *AutodiffBackend[B]) Grads(f Func, inputs []*tensor.RawTensor, dy *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	b.tape.Clear()
	defer b.tape.Clear()
	out, err := b.record(f, inputs)
	if err != nil {
		return nil, err
	}

	if dy == nil {
		if dy, err = tensor.Ones(out.Shape()); err != nil {
			return nil, fmt.Errorf("grads: seed gradient: %w", err)
		}
	} else if !dy.Shape().Equal(out.Shape()) {
		return nil, fmt.Errorf("grads: dy shape %v does not match output shape %v", dy.Shape(), out.Shape())
	}

	grads := b.tape.Backward(out, dy, b.inner)

	result := make([]*tensor.RawTensor, len(inputs))
	for i, in := range inputs {
		if g, ok := grads[in]; ok {
			result[i] = g
			continue
		}
		zero, err := tensor.Zeros(in.Shape())
		if err != nil {
			return nil, fmt.Errorf("grads: zero gradient for input %d: %w", i, err)
		}
		result[i] = zero
	}
	return result, nil
}

// record runs f with the tape recording. Recording stops even if f panics.
func (b *AutodiffBackend[B]) record(f Func, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	b.tape.StartRecording()
	defer b.tape.StopRecording()
	return f(inputs)
}
