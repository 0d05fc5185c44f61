package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/tensor"
)

// SumTo sums x over its broadcast axes so that the result has shape.
// shape must broadcast to x's shape.
func (cpu *CPUBackend) SumTo(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	xShape := x.Shape()
	if xShape.Equal(shape) {
		return x.Clone()
	}
	out, _, err := tensor.BroadcastShapes(shape, xShape)
	if err != nil || !out.Equal(xShape) {
		panic(fmt.Sprintf("sumTo: cannot reduce %v to %v", xShape, shape))
	}

	result := tensor.MustNewRaw(shape, tensor.Float32)
	dst := result.AsFloat32()
	src := x.AsFloat32()
	idx := newIndexer(shape, xShape)
	for i, v := range src {
		dst[idx(i)] += v
	}
	return result
}
