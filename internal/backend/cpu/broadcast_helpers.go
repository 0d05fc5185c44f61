package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/tensor"
)

// indexer maps a flat index in outShape to the flat index of the element
// read from a tensor of shape inShape broadcast to outShape.
type indexer func(i int) int

// newIndexer returns the cheapest indexer for the pair of shapes.
func newIndexer(inShape, outShape tensor.Shape) indexer {
	switch {
	case inShape.NumElements() == 1:
		return func(int) int { return 0 }
	case inShape.Equal(outShape):
		return func(i int) int { return i }
	}

	// A trailing block of inShape that matches outShape contiguously can be
	// indexed by modulo. This covers per-channel NHWC biases.
	if trailing := trailingBlock(inShape, outShape); trailing == inShape.NumElements() {
		return func(i int) int { return i % trailing }
	}

	strides := inShape.ComputeStrides()
	return func(i int) int {
		return tensor.BroadcastIndex(i, outShape, inShape, strides)
	}
}

// trailingBlock returns the number of elements in the longest suffix of
// inShape that equals the same suffix of outShape, after dropping leading
// unit dimensions of inShape.
func trailingBlock(inShape, outShape tensor.Shape) int {
	n := 1
	offset := len(outShape) - len(inShape)
	for d := len(inShape) - 1; d >= 0; d-- {
		if inShape[d] != outShape[d+offset] {
			for k := d; k >= 0; k-- {
				if inShape[k] != 1 {
					return -1
				}
			}
			return n
		}
		n *= inShape[d]
	}
	return n
}

// binaryOp applies f element-wise over the broadcast of a and b.
func binaryOp(name string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	outShape, _, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result := tensor.MustNewRaw(outShape, tensor.Float32)
	dst := result.AsFloat32()
	aData, bData := a.AsFloat32(), b.AsFloat32()
	ai := newIndexer(a.Shape(), outShape)
	bi := newIndexer(b.Shape(), outShape)

	for i := range dst {
		dst[i] = f(aData[ai(i)], bData[bi(i)])
	}
	return result
}
