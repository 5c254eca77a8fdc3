// Package svr implements epsilon-insensitive support vector regression and
// the glue that scores hyperparameter configurations with it.
package svr

import (
	"context"
	"math"
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization/kernels"
)

// Regressor is a model that learns a scalar target from feature rows.
type Regressor interface {
	Fit(ctx context.Context, X *mat.Dense, y []float64) error
	Predict(X *mat.Dense) ([]float64, error)
}

const (
	defaultTol     = 1e-3
	defaultMaxIter = 1000

	// Rows above which the kernel matrix is filled concurrently.
	parallelThreshold = 512
)

// SVR is an epsilon-SVR solved in the dual by coordinate descent. The bias
// is absorbed into the kernel as K + 1, so the only constraint left is the
// box |beta_i| <= C.
type SVR struct {
	Kernel  kernels.Kernel
	C       float64
	Epsilon float64
	// Tol stops the solver once no coefficient moved more than Tol in an epoch.
	Tol float64
	// MaxIter bounds the number of epochs.
	MaxIter int

	support    *mat.Dense
	beta       []float64
	yMean      float64
	nFeatures  int
	iterations int
	fitted     bool
}

var _ Regressor = (*SVR)(nil)

// Option configures an SVR.
type Option func(*SVR)

// WithEpsilon sets the width of the insensitive tube.
func WithEpsilon(eps float64) Option {
	return func(s *SVR) {
		s.Epsilon = eps
	}
}

// WithTol sets the convergence tolerance.
func WithTol(tol float64) Option {
	return func(s *SVR) {
		s.Tol = tol
	}
}

// WithMaxIter sets the epoch limit.
func WithMaxIter(n int) Option {
	return func(s *SVR) {
		s.MaxIter = n
	}
}

// New creates an SVR with the given kernel and box constraint.
func New(kernel kernels.Kernel, c float64, opts ...Option) *SVR {
	s := &SVR{
		Kernel:  kernel,
		C:       c,
		Epsilon: DefaultEpsilon,
		Tol:     defaultTol,
		MaxIter: defaultMaxIter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromParams creates an SVR for p. X is the training matrix, used only
// to resolve the "scale" gamma.
func NewFromParams(p Params, X *mat.Dense, opts ...Option) *SVR {
	return New(p.kernel(X), p.Cost(), opts...)
}

// Fit trains the model. Targets are centred on their mean before solving.
func (s *SVR) Fit(ctx context.Context, X *mat.Dense, y []float64) error {
	const op = "SVR.Fit"

	if X == nil || X.IsEmpty() {
		return errors.New(errors.ErrInvalidConfiguration, "empty training data").WithComponent("svr").WithOperation(op)
	}
	n, p := X.Dims()
	if n != len(y) {
		return errors.Newf(errors.ErrDimensionMismatch, "X has %d rows but y has %d values", n, len(y)).
			WithComponent("svr").WithOperation(op)
	}
	if s.Kernel == nil || !(s.C > 0) || s.Epsilon < 0 {
		return errors.Newf(errors.ErrInvalidConfiguration, "invalid model: C=%v epsilon=%v", s.C, s.Epsilon).
			WithComponent("svr").WithOperation(op)
	}
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New(errors.ErrInvalidConfiguration, "targets must be finite").WithComponent("svr").WithOperation(op)
		}
	}

	Q := s.gram(X)
	yMean := stat.Mean(y, nil)
	beta := make([]float64, n)
	grad := make([]float64, n) // Q beta

	tol := s.Tol
	if tol <= 0 {
		tol = defaultTol
	}
	maxIter := s.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}

	epochs := 0
	for epochs < maxIter {
		epochs++
		if err := ctx.Err(); err != nil {
			return err
		}

		maxDelta := 0.0
		for i := 0; i < n; i++ {
			qii := Q.At(i, i)
			if qii < 1e-12 {
				continue
			}
			r := grad[i] - qii*beta[i] - (y[i] - yMean)
			next := -softThreshold(r, s.Epsilon) / qii
			next = math.Max(-s.C, math.Min(s.C, next))

			delta := next - beta[i]
			if delta == 0 {
				continue
			}
			beta[i] = next
			floats.AddScaled(grad, delta, Q.RawRowView(i))
			maxDelta = math.Max(maxDelta, math.Abs(delta))
		}
		if maxDelta < tol {
			break
		}
	}

	nSupport := 0
	for _, b := range beta {
		if b != 0 {
			nSupport++
		}
	}
	s.support = nil
	s.beta = make([]float64, 0, nSupport)
	if nSupport > 0 {
		s.support = mat.NewDense(nSupport, p, nil)
		k := 0
		for i, b := range beta {
			if b == 0 {
				continue
			}
			s.support.SetRow(k, X.RawRowView(i))
			s.beta = append(s.beta, b)
			k++
		}
	}
	s.yMean = yMean
	s.nFeatures = p
	s.iterations = epochs
	s.fitted = true
	return nil
}

// gram returns K(X, X) + 1, filled by rows concurrently for large inputs.
func (s *SVR) gram(X *mat.Dense) *mat.Dense {
	n, _ := X.Dims()
	Q := mat.NewDense(n, n, nil)
	row := func(i int) {
		xi := X.RawRowView(i)
		for j := 0; j < n; j++ {
			Q.Set(i, j, s.Kernel.Eval(xi, X.RawRowView(j))+1)
		}
	}

	if n <= parallelThreshold {
		for i := 0; i < n; i++ {
			row(i)
		}
		return Q
	}

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		p.Go(func() { row(i) })
	}
	p.Wait()
	return Q
}

// Predict returns yMean + sum_j beta_j (K(x_j, x) + 1) for every row of X.
func (s *SVR) Predict(X *mat.Dense) ([]float64, error) {
	const op = "SVR.Predict"

	if !s.fitted {
		return nil, errors.New(errors.ErrNotFitted, "predict called before fit").WithComponent("svr").WithOperation(op)
	}
	if X == nil || X.IsEmpty() {
		return nil, errors.New(errors.ErrInvalidConfiguration, "no rows to predict").WithComponent("svr").WithOperation(op)
	}
	r, c := X.Dims()
	if c != s.nFeatures {
		return nil, errors.Newf(errors.ErrDimensionMismatch, "model has %d features, X has %d", s.nFeatures, c).
			WithComponent("svr").WithOperation(op)
	}

	out := make([]float64, r)
	for i := range out {
		x := X.RawRowView(i)
		f := s.yMean
		for j, b := range s.beta {
			f += b * (s.Kernel.Eval(s.support.RawRowView(j), x) + 1)
		}
		out[i] = f
	}
	return out, nil
}

// NumSupport returns the number of support vectors of the fitted model.
func (s *SVR) NumSupport() int {
	return len(s.beta)
}

// Iterations returns the number of epochs the last Fit ran.
func (s *SVR) Iterations() int {
	return s.iterations
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}
