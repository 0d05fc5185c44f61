package cpu

import (
	"fmt"

	"github.com/born-ml/fusedconv/internal/parallel"
	"github.com/born-ml/fusedconv/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result := tensor.MustNewRaw(tensor.Shape{m, n}, tensor.Float32)
	matmulFloat32(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.par)
	return result
}

// matmulFloat32 computes C = A @ B for row-major A [m, k] and B [k, n].
// Rows of C are split across workers. The i-k-j loop order streams B rows.
func matmulFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.ForRange(m, func(start, end int) {
		for i := start; i < end; i++ {
			row := c[i*n : (i+1)*n]
			clear(row)
			for p := 0; p < k; p++ {
				av := a[i*k+p]
				if av == 0 {
					continue
				}
				bRow := b[p*n : (p+1)*n]
				for j, bv := range bRow {
					row[j] += av * bv
				}
			}
		}
	}, rowConfig(cfg, k*n))
}

// matmulTransAFloat32 computes C = Aᵀ @ B for A [k, m] and B [k, n].
func matmulTransAFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.ForRange(m, func(start, end int) {
		for i := start; i < end; i++ {
			row := c[i*n : (i+1)*n]
			clear(row)
			for p := 0; p < k; p++ {
				av := a[p*m+i]
				if av == 0 {
					continue
				}
				bRow := b[p*n : (p+1)*n]
				for j, bv := range bRow {
					row[j] += av * bv
				}
			}
		}
	}, rowConfig(cfg, k*n))
}

// matmulTransBFloat32 computes C = A @ Bᵀ for A [m, k] and B [n, k].
func matmulTransBFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.ForRange(m, func(start, end int) {
		for i := start; i < end; i++ {
			aRow := a[i*k : (i+1)*k]
			for j := 0; j < n; j++ {
				bRow := b[j*k : (j+1)*k]
				var sum float32
				for p, av := range aRow {
					sum += av * bRow[p]
				}
				c[i*n+j] = sum
			}
		}
	}, rowConfig(cfg, k*n))
}

// rowConfig lowers the minimum chunk size when each row carries a lot of
// work, so that short, wide products still spread across workers.
func rowConfig(cfg parallel.Config, workPerRow int) parallel.Config {
	if workPerRow >= 4096 {
		cfg.MinChunkSize = 1
	}
	return cfg
}
