// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go CPU backend for the fused convolutions.
//
// # Overview
//
// The backend computes in NHWC. Convolutions lower the input to a patch
// matrix (im2row) and multiply it by the filter with a row-parallel matmul;
// 1x1 stride-1 unpadded convolutions skip the patch matrix entirely.
// Depthwise convolutions run direct loops. Bias and activation are applied
// in place on the convolution output.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/fusedconv/backend/cpu"
//	    "github.com/born-ml/fusedconv/fused"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    y, err := fused.Conv2D(backend, fused.Conv2DConfig{X: x, Filter: w, Pad: fused.Same()})
//	}
//
// # Thread Safety
//
// The CPU backend is safe for concurrent use. Each operation splits its
// work across a bounded worker group and shares no mutable state.
package cpu
