// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/fusedconv/internal/backend/cpu"
	"github.com/born-ml/fusedconv/internal/parallel"
	"github.com/born-ml/fusedconv/tensor"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend that uses every available core.
func New() *Backend {
	return internalcpu.New()
}

// NewWithWorkers creates a CPU backend limited to n workers.
// n == 1 runs everything on the calling goroutine; n <= 0 keeps the default.
func NewWithWorkers(n int) *Backend {
	return internalcpu.NewWithConfig(parallel.DefaultConfig().WithWorkers(n))
}
