package bayesian

import (
	"context"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/optimization/kernels"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// BenchmarkGPFit measures how GP fitting scales with the history length.
func BenchmarkGPFit(b *testing.B) {
	for _, n := range []int{20, 80, 150} {
		b.Run(benchName(n), func(b *testing.B) {
			rng := rand.New(rand.NewSource(1))
			X := mat.NewDense(n, 3, nil)
			y := mat.NewVecDense(n, nil)
			for i := 0; i < n; i++ {
				for j := 0; j < 3; j++ {
					X.Set(i, j, rng.Float64())
				}
				y.SetVec(i, rng.NormFloat64())
			}

			gp := NewGP(kernels.NewMatern52Kernel(0.2, 1.0), 1e-6, nil)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = gp.Fit(X, y)
			}
		})
	}
}

// BenchmarkProposer measures a full search over a two-parameter space.
func BenchmarkProposer(b *testing.B) {
	space := searchspace.New(searchspace.Float("x", 0, 1), searchspace.Float("y", 0, 1))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		driver := optimization.NewDriver(optimization.DriverConfig{
			Proposer: NewProposer(Config{Seed: int64(i + 1)}),
		})
		_, _ = driver.Minimize(context.Background(), quadratic, 30, space)
	}
}

func benchName(n int) string {
	switch {
	case n < 50:
		return "Small"
	case n < 100:
		return "Medium"
	default:
		return "Large"
	}
}
