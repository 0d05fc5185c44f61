// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the raw tensor type and backend interface used by
// the fusedconv operations.
//
// # Overview
//
// A RawTensor is a dense, row-major buffer with a shape and a data type.
// Only float32 tensors take part in computation; int32 tensors exist so that
// callers get a clear dtype error instead of a silent conversion.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/fusedconv/backend/cpu"
//	    "github.com/born-ml/fusedconv/tensor"
//	)
//
//	func main() {
//	    x, err := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{1, 2, 2, 1})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    backend := cpu.New()
//	    y := backend.Add(x, tensor.Scalar(1))
//	}
//
// # Broadcasting
//
// Element-wise operations, biases and PReLU weights follow NumPy
// broadcasting rules:
//
//	a: (2, 3, 3, 4)
//	b:          (4)
//	=> (2, 3, 3, 4)
package tensor
