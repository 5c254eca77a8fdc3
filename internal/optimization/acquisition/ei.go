// Package acquisition scores candidate points for the Bayesian proposer.
package acquisition

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement is the expected amount by which a point with Gaussian
// posterior N(mu, sigma²) undercuts the best loss seen so far by more than
// the margin xi. Losses are minimised.
type ExpectedImprovement struct {
	best float64
	xi   float64
}

// NewExpectedImprovement returns EI against the incumbent loss best. xi is
// in the units of the loss.
func NewExpectedImprovement(best, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{best: best, xi: xi}
}

// Best returns the incumbent loss.
func (ei *ExpectedImprovement) Best() float64 {
	return ei.best
}

// Compute returns EI for posterior mean mu and standard deviation sigma.
// The result is never negative, and NaN inputs score 0.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.best - mu - ei.xi
	if math.IsNaN(improvement) || math.IsNaN(sigma) {
		return 0
	}

	// Certain prediction: EI collapses to the plain improvement.
	if sigma <= 1e-10 {
		return math.Max(improvement, 0)
	}

	z := improvement / sigma
	return math.Max(improvement*distuv.UnitNormal.CDF(z)+sigma*distuv.UnitNormal.Prob(z), 0)
}

// Batch returns EI for every pair of posterior mean and variance, as
// produced by a GP prediction over many candidates.
func (ei *ExpectedImprovement) Batch(mean, variance mat.Vector) []float64 {
	out := make([]float64, mean.Len())
	for i := range out {
		out[i] = ei.Compute(mean.AtVec(i), math.Sqrt(math.Max(variance.AtVec(i), 0)))
	}
	return out
}
