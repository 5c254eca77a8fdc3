package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LinearKernel is the inner product <x1, x2>.
type LinearKernel struct{}

// NewLinearKernel creates a linear kernel.
func NewLinearKernel() *LinearKernel {
	return &LinearKernel{}
}

// Eval returns <x1, x2>.
func (k *LinearKernel) Eval(x1, x2 []float64) float64 {
	return floats.Dot(x1, x2)
}

// Hyperparameters returns nil; the linear kernel has none.
func (k *LinearKernel) Hyperparameters() []float64 {
	return nil
}

// SetHyperparameters accepts only an empty slice.
func (k *LinearKernel) SetHyperparameters(params []float64) error {
	if len(params) != 0 {
		return fmt.Errorf("expected 0 hyperparameters, got %d", len(params))
	}
	return nil
}

// PolynomialKernel is (gamma <x1, x2> + coef0)^degree.
type PolynomialKernel struct {
	gamma  float64
	coef0  float64
	degree int
}

// NewPolynomialKernel creates a polynomial kernel. degree must be >= 1.
func NewPolynomialKernel(gamma, coef0 float64, degree int) *PolynomialKernel {
	if degree < 1 {
		panic(fmt.Sprintf("degree must be >= 1, got %d", degree))
	}
	return &PolynomialKernel{gamma: gamma, coef0: coef0, degree: degree}
}

// Eval computes the polynomial kernel value between x1 and x2.
func (k *PolynomialKernel) Eval(x1, x2 []float64) float64 {
	base := k.gamma*floats.Dot(x1, x2) + k.coef0
	out := 1.0
	for i := 0; i < k.degree; i++ {
		out *= base
	}
	return out
}

// Hyperparameters returns gamma, coef0 and degree.
func (k *PolynomialKernel) Hyperparameters() []float64 {
	return []float64{k.gamma, k.coef0, float64(k.degree)}
}

// SetHyperparameters sets gamma, coef0 and degree; degree is rounded.
func (k *PolynomialKernel) SetHyperparameters(params []float64) error {
	if len(params) != 3 {
		return fmt.Errorf("expected 3 hyperparameters, got %d", len(params))
	}
	degree := int(math.Round(params[2]))
	if degree < 1 {
		return fmt.Errorf("degree must be >= 1, got %v", params[2])
	}
	k.gamma, k.coef0, k.degree = params[0], params[1], degree
	return nil
}

// RadialKernel is exp(-gamma ||x1 - x2||^2), the SVM parameterisation of the
// squared exponential. gamma = 0 gives the constant kernel.
type RadialKernel struct {
	gamma float64
}

// NewRadialKernel creates a radial kernel. gamma must be >= 0.
func NewRadialKernel(gamma float64) *RadialKernel {
	if gamma < 0 || math.IsNaN(gamma) {
		panic(fmt.Sprintf("gamma must be non-negative, got %v", gamma))
	}
	return &RadialKernel{gamma: gamma}
}

// Eval computes the radial kernel value between x1 and x2.
func (k *RadialKernel) Eval(x1, x2 []float64) float64 {
	return math.Exp(-k.gamma * sqDist(x1, x2))
}

// Hyperparameters returns gamma.
func (k *RadialKernel) Hyperparameters() []float64 {
	return []float64{k.gamma}
}

// SetHyperparameters sets gamma.
func (k *RadialKernel) SetHyperparameters(params []float64) error {
	if len(params) != 1 {
		return fmt.Errorf("expected 1 hyperparameter, got %d", len(params))
	}
	if params[0] < 0 {
		return fmt.Errorf("gamma must be non-negative, got %v", params[0])
	}
	k.gamma = params[0]
	return nil
}
