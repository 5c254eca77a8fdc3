// Package bayesian implements the Gaussian-process proposer: a surrogate
// model per branch of the search space and expected improvement to choose
// where to evaluate next.
package bayesian

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization/kernels"
)

const (
	component = "gaussian_process"

	initialJitter  = 1e-10
	maxJitterTries = 8
)

// GP is a Gaussian process regressor with a zero prior mean on standardised
// targets.
type GP struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training data
	X *mat.Dense

	// Target standardisation
	yMean  float64
	yScale float64

	// Precomputed values
	target []float64
	alpha  *mat.VecDense
	chol   *mat.Cholesky
	jitter float64

	pool   *MatrixPool
	logger *zap.Logger
}

// NewGP creates a new Gaussian process. A nil logger disables logging.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		pool:     NewMatrixPool(),
		logger:   logger.Named(component),
	}
}

// SetPool makes the GP draw its kernel matrices from p.
func (gp *GP) SetPool(p *MatrixPool) {
	if p != nil {
		gp.pool = p
	}
}

// Fit conditions the GP on the rows of X and targets y. When the kernel
// matrix is numerically singular, increasing jitter is added to its diagonal.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return gp.fail(errors.New(errors.ErrInvalidConfiguration, "input matrices must not be nil"), op)
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return gp.fail(errors.New(errors.ErrInvalidConfiguration, "input matrix X must not be empty"), op)
	}
	if nSamples != y.Len() {
		return gp.fail(errors.Newf(errors.ErrDimensionMismatch,
			"X has %d samples but y has length %d", nSamples, y.Len()), op)
	}

	raw := mat.Col(nil, 0, y)
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return gp.fail(errors.New(errors.ErrInvalidConfiguration, "targets must be finite"), op)
		}
	}

	gp.yMean, gp.yScale = stat.MeanStdDev(raw, nil)
	if nSamples < 2 || !(gp.yScale > 1e-12) {
		gp.yScale = 1
	}
	target := make([]float64, nSamples)
	for i, v := range raw {
		target[i] = (v - gp.yMean) / gp.yScale
	}

	K := gp.pool.GetSymDense(nSamples)
	defer gp.pool.PutSymDense(K)
	kernels.Gram(K, gp.kernel, X, gp.noiseVar)

	var chol mat.Cholesky
	jitter := 0.0
	ok := false
	for try := 0; ; try++ {
		if ok = chol.Factorize(K); ok || try == maxJitterTries {
			break
		}
		step := initialJitter * math.Pow(10, float64(try))
		for i := 0; i < nSamples; i++ {
			K.SetSym(i, i, K.At(i, i)+step-jitter)
		}
		jitter = step
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", try+1),
			zap.Float64("jitter", jitter))
	}
	if !ok {
		return gp.fail(errors.New(errors.ErrInvalidConfiguration,
			"kernel matrix is not positive definite"), op)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, mat.NewVecDense(nSamples, target)); err != nil {
		return gp.fail(errors.Wrap(err, errors.ErrInvalidConfiguration, "solve for weights"), op)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.target = target
	gp.alpha = alpha
	gp.chol = &chol
	gp.jitter = jitter

	gp.logger.Debug("Fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
		zap.Float64("jitter", jitter),
	)
	return nil
}

// Predict returns the posterior mean and variance of the latent function at
// the rows of X, in the units of the training targets.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, gp.fail(errors.New(errors.ErrInvalidConfiguration, "input matrix X is nil"), op)
	}
	if gp.alpha == nil {
		return nil, nil, gp.fail(errors.New(errors.ErrNotFitted, "model not trained"), op)
	}
	nTest, nFeatures := X.Dims()
	nTrain, trainFeatures := gp.X.Dims()
	if nFeatures != trainFeatures {
		return nil, nil, gp.fail(errors.Newf(errors.ErrDimensionMismatch,
			"X has %d features, model was fitted on %d", nFeatures, trainFeatures), op)
	}

	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)
	kStar := mat.NewVecDense(nTrain, nil)
	v := mat.NewVecDense(nTrain, nil)

	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		kernels.Cross(kStar.RawVector().Data, gp.kernel, gp.X, xStar)
		mean.SetVec(i, gp.yMean+gp.yScale*mat.Dot(kStar, gp.alpha))

		if err := gp.chol.SolveVecTo(v, kStar); err != nil {
			return nil, nil, gp.fail(errors.Wrap(err, errors.ErrInvalidConfiguration, "solve for variance"), op)
		}
		// Clamp tiny negatives from cancellation.
		latent := math.Max(0, gp.kernel.Eval(xStar, xStar)-mat.Dot(kStar, v))
		variance.SetVec(i, gp.yScale*gp.yScale*latent)
	}

	return mean, variance, nil
}

// PredictPoint is Predict for a single point, returning the posterior mean
// and standard deviation.
func (gp *GP) PredictPoint(x []float64) (float64, float64, error) {
	mean, variance, err := gp.Predict(mat.NewDense(1, len(x), x))
	if err != nil {
		return 0, 0, err
	}
	return mean.AtVec(0), math.Sqrt(variance.AtVec(0)), nil
}

// LogMarginalLikelihood returns log p(y | X) of the standardised targets
// under the fitted hyperparameters.
func (gp *GP) LogMarginalLikelihood() (float64, error) {
	if gp.alpha == nil {
		return 0, gp.fail(errors.New(errors.ErrNotFitted, "model not trained"), "GP.LogMarginalLikelihood")
	}
	n := gp.alpha.Len()
	fit := floats.Dot(gp.target, gp.alpha.RawVector().Data)
	return -0.5*fit - 0.5*gp.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi), nil
}

// Scale is the standard deviation used to standardise the targets.
func (gp *GP) Scale() float64 {
	return gp.yScale
}

// Jitter is the diagonal jitter the last Fit needed; 0 when none.
func (gp *GP) Jitter() float64 {
	return gp.jitter
}

func (gp *GP) fail(err error, op string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		e.WithComponent(component).WithOperation(op)
	}
	return err
}
