package autodiff

import (
	"github.com/born-ml/fusedconv/internal/autodiff/ops"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// GradientTape is the op log of one forward pass. Ops are appended while
// recording is on and replayed newest first by Backward.
type GradientTape struct {
	ops       []ops.Operation
	recording bool
}

// NewGradientTape returns an empty tape that is not recording.
func NewGradientTape() *GradientTape {
	return &GradientTape{ops: make([]ops.Operation, 0, 8)}
}

// StartRecording turns recording on.
func (t *GradientTape) StartRecording() { t.recording = true }

// StopRecording turns recording off. Recorded ops are kept.
func (t *GradientTape) StopRecording() { t.recording = false }

// IsRecording reports whether Record currently appends.
func (t *GradientTape) IsRecording() bool { return t.recording }

// Record appends op if the tape is recording.
func (t *GradientTape) Record(op ops.Operation) {
	if !t.recording {
		return
	}
	t.ops = append(t.ops, op)
}

// Clear drops every recorded op without touching the recording flag.
func (t *GradientTape) Clear() {
	clear(t.ops)
	t.ops = t.ops[:0]
}

// NumOps returns the number of recorded ops.
func (t *GradientTape) NumOps() int { return len(t.ops) }

// Backward propagates outputGrad from output through the recorded ops and
// returns the gradient of every tensor it reached, keyed by tensor identity.
// A tensor consumed by several ops receives the sum of their contributions.
// Nothing computed here is recorded.
func (t *GradientTape) Backward(output, outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	grads := map[*tensor.RawTensor]*tensor.RawTensor{output: outputGrad}

	saved := t.recording
	t.recording = false
	defer func() { t.recording = saved }()

	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		dy, reached := grads[op.Output()]
		if !reached {
			continue
		}
		inputGrads := op.Backward(dy, backend)
		for j, in := range op.Inputs() {
			if in == nil || j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			if prev, ok := grads[in]; ok {
				grads[in] = backend.Add(prev, inputGrads[j])
			} else {
				grads[in] = inputGrads[j]
			}
		}
	}
	return grads
}
