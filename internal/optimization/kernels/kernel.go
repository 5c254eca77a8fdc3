// Package kernels implements the stationary covariances of the
// Gaussian-process proposer and the kernel families of the support-vector
// regressor.
package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Names accepted by NewStationary.
const (
	NameRBF      = "rbf"
	NameMatern52 = "matern52"
)

// Kernel is a similarity between two points of equal length.
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// NewStationary returns the covariance called name with the given length
// scale and signal variance. The empty name selects Matérn 5/2.
func NewStationary(name string, lengthScale, signalVar float64) (Kernel, error) {
	if lengthScale <= 0 || signalVar <= 0 {
		return nil, fmt.Errorf("hyperparameters must be positive, got %v", []float64{lengthScale, signalVar})
	}
	switch name {
	case "", NameMatern52:
		return NewMatern52Kernel(lengthScale, signalVar), nil
	case NameRBF:
		return NewRBFKernel(lengthScale, signalVar), nil
	default:
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
}

// stationary holds what every isotropic covariance shares: k depends on the
// points only through ||x1-x2|| / lengthScale and peaks at signalVar.
type stationary struct {
	lengthScale float64
	signalVar   float64
}

func newStationary(lengthScale, signalVar float64) stationary {
	if lengthScale <= 0 {
		panic(fmt.Sprintf("lengthScale must be positive, got %v", lengthScale))
	}
	if signalVar <= 0 {
		panic(fmt.Sprintf("signalVar must be positive, got %v", signalVar))
	}
	return stationary{lengthScale: lengthScale, signalVar: signalVar}
}

// Hyperparameters returns the length scale and the signal variance.
func (s *stationary) Hyperparameters() []float64 {
	return []float64{s.lengthScale, s.signalVar}
}

// SetHyperparameters expects the length scale and the signal variance, both
// positive.
func (s *stationary) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	if params[0] <= 0 || params[1] <= 0 {
		return fmt.Errorf("hyperparameters must be positive, got %v", params)
	}
	s.lengthScale, s.signalVar = params[0], params[1]
	return nil
}

// scaled returns ||x1-x2|| / lengthScale.
func (s *stationary) scaled(x1, x2 []float64) float64 {
	return math.Sqrt(sqDist(x1, x2)) / s.lengthScale
}

// sqDist returns ||x1-x2||^2.
func sqDist(x1, x2 []float64) float64 {
	sum := 0.0
	for i := range x1 {
		d := x1[i] - x2[i]
		sum += d * d
	}
	return sum
}

// RBFKernel is the squared exponential covariance
// signalVar * exp(-r²/2) with r = ||x1-x2|| / lengthScale.
type RBFKernel struct {
	stationary
}

// NewRBFKernel panics on non-positive hyperparameters.
func NewRBFKernel(lengthScale, signalVar float64) *RBFKernel {
	return &RBFKernel{newStationary(lengthScale, signalVar)}
}

func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r := k.scaled(x1, x2)
	return k.signalVar * math.Exp(-0.5*r*r)
}

// Matern52Kernel is the Matérn covariance with smoothness 5/2. Its sample
// paths are twice differentiable, which suits validation-loss surfaces better
// than the infinitely smooth RBF.
type Matern52Kernel struct {
	stationary
}

// NewMatern52Kernel panics on non-positive hyperparameters.
func NewMatern52Kernel(lengthScale, signalVar float64) *Matern52Kernel {
	return &Matern52Kernel{newStationary(lengthScale, signalVar)}
}

func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(5) * k.scaled(x1, x2)
	return k.signalVar * (1 + r + r*r/3) * math.Exp(-r)
}

// Gram fills dst with k(x_i, x_j) over the rows of X and adds diag to the
// diagonal. dst must be n×n for n rows.
func Gram(dst *mat.SymDense, k Kernel, X *mat.Dense, diag float64) {
	n, _ := X.Dims()
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		dst.SetSym(i, i, k.Eval(xi, xi)+diag)
		for j := i + 1; j < n; j++ {
			dst.SetSym(i, j, k.Eval(xi, X.RawRowView(j)))
		}
	}
}

// Cross sets dst[j] = k(x, x_j) for every row x_j of X.
func Cross(dst []float64, k Kernel, X *mat.Dense, x []float64) {
	for j := range dst {
		dst[j] = k.Eval(x, X.RawRowView(j))
	}
}
