package svr

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization/kernels"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// Configuration keys read by ParseParams.
const (
	KeyKernel  = "kernel"
	KeyC       = "C"
	KeyGamma   = "gamma"
	KeyDegree  = "degree"
	KeyCoef0   = "coef0"
	KeyEpsilon = "epsilon"
)

// Kernel families.
const (
	KernelLinear = "linear"
	KernelPoly   = "poly"
	KernelRBF    = "rbf"
)

// Defaults applied to absent parameters.
const (
	DefaultC       = 1.0
	DefaultDegree  = 3
	DefaultCoef0   = 0.0
	DefaultEpsilon = 0.1
)

// Params is the kernel family of a model with that family's parameters. It
// is one of Linear, Poly or RBF.
type Params interface {
	// Family is the kernel tag.
	Family() string
	// Cost is the box constraint C.
	Cost() float64
	// kernel builds the kernel; X is the training matrix used by the
	// "scale" gamma heuristic.
	kernel(X *mat.Dense) kernels.Kernel
}

// Linear is the linear kernel.
type Linear struct {
	C float64
}

// Poly is the polynomial kernel (Gamma <x, x'> + Coef0)^Degree.
type Poly struct {
	C      float64
	Degree int
	Coef0  float64
	// Gamma is used when ScaleGamma is false.
	Gamma      float64
	ScaleGamma bool
}

// RBF is the radial kernel exp(-Gamma ||x - x'||^2).
type RBF struct {
	C float64
	// Gamma is used when ScaleGamma is false.
	Gamma      float64
	ScaleGamma bool
}

func (Linear) Family() string { return KernelLinear }
func (Poly) Family() string   { return KernelPoly }
func (RBF) Family() string    { return KernelRBF }

func (p Linear) Cost() float64 { return p.C }
func (p Poly) Cost() float64   { return p.C }
func (p RBF) Cost() float64    { return p.C }

func (p Linear) kernel(*mat.Dense) kernels.Kernel {
	return kernels.NewLinearKernel()
}

func (p Poly) kernel(X *mat.Dense) kernels.Kernel {
	gamma := p.Gamma
	if p.ScaleGamma {
		gamma = ScaleGamma(X)
	}
	return kernels.NewPolynomialKernel(gamma, p.Coef0, p.Degree)
}

func (p RBF) kernel(X *mat.Dense) kernels.Kernel {
	gamma := p.Gamma
	if p.ScaleGamma {
		gamma = ScaleGamma(X)
	}
	return kernels.NewRadialKernel(gamma)
}

func (p Linear) String() string { return fmt.Sprintf("linear(C=%g)", p.C) }
func (p Poly) String() string {
	return fmt.Sprintf("poly(C=%g, degree=%d, coef0=%g, gamma=%s)", p.C, p.Degree, p.Coef0, gammaString(p.Gamma, p.ScaleGamma))
}
func (p RBF) String() string {
	return fmt.Sprintf("rbf(C=%g, gamma=%s)", p.C, gammaString(p.Gamma, p.ScaleGamma))
}

func gammaString(gamma float64, scale bool) string {
	if scale {
		return "scale"
	}
	return fmt.Sprintf("%g", gamma)
}

// ScaleGamma is 1 / (p * Var(X)) over all entries of X, or 1 when X is
// constant.
func ScaleGamma(X *mat.Dense) float64 {
	r, c := X.Dims()
	all := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		all = append(all, X.RawRowView(i)...)
	}
	_, variance := stat.PopMeanVariance(all, nil)
	if !(variance > 0) {
		return 1
	}
	return 1 / (float64(c) * variance)
}

// ParseParams reads a kernel family and its parameters from cfg. A missing
// "kernel" choice selects RBF. Missing parameters take their defaults: C=1,
// gamma="scale", degree=3, coef0=0. A sampled degree is rounded to the
// nearest integer and raised to at least 1.
func ParseParams(cfg searchspace.Configuration) (Params, error) {
	const op = "ParseParams"

	c := DefaultC
	if v, ok := cfg.Float(KeyC); ok {
		c = v
	}
	if !(c > 0) || math.IsInf(c, 0) {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "C must be positive, got %v", c).
			WithComponent("svr").WithOperation(op)
	}

	gamma, hasGamma := cfg.Float(KeyGamma)
	if hasGamma && (gamma < 0 || math.IsNaN(gamma)) {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "gamma must be non-negative, got %v", gamma).
			WithComponent("svr").WithOperation(op)
	}

	family, ok := cfg.Choice(KeyKernel)
	if !ok {
		family = KernelRBF
	}

	switch family {
	case KernelLinear:
		return Linear{C: c}, nil
	case KernelRBF:
		return RBF{C: c, Gamma: gamma, ScaleGamma: !hasGamma}, nil
	case KernelPoly:
		degree := DefaultDegree
		if v, ok := cfg.Float(KeyDegree); ok {
			degree = max(int(math.Round(v)), 1)
		}
		coef0 := DefaultCoef0
		if v, ok := cfg.Float(KeyCoef0); ok {
			coef0 = v
		}
		return Poly{C: c, Degree: degree, Coef0: coef0, Gamma: gamma, ScaleGamma: !hasGamma}, nil
	default:
		return nil, errors.Newf(errors.ErrUnknownKernel, "unknown kernel %q", family).
			WithComponent("svr").WithOperation(op)
	}
}
