package crossval

import (
	"context"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/telemetry"
)

// ScoreFunc scores cfg by training on train and evaluating on test. Lower is
// better.
type ScoreFunc func(ctx context.Context, train, test dataset.Dataset, cfg searchspace.Configuration) (float64, error)

// Validator runs repeated k-fold cross-validation.
type Validator struct {
	// NumFolds is the number of folds per iteration; at least 2.
	NumFolds int
	// NumIter is the number of independent partitions; 0 means 1.
	NumIter int
	// Seed makes partitions reproducible: iteration i uses
	// DeriveSeed(Seed, i). 0 means a fresh partition on every call.
	Seed int64
	// Workers bounds how many folds of one iteration are scored at once.
	Workers int

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Validate returns the mean over iterations of the mean fold score.
func (v Validator) Validate(ctx context.Context, fn ScoreFunc, data dataset.Dataset, cfg searchspace.Configuration) (float64, error) {
	scores, err := v.Scores(ctx, fn, data, cfg)
	if err != nil {
		return math.NaN(), err
	}
	means := make([]float64, len(scores))
	for i, s := range scores {
		means[i] = stat.Mean(s, nil)
	}
	return stat.Mean(means, nil), nil
}

// Scores returns every fold score, indexed by iteration then fold. The
// first failing fold aborts the run.
func (v Validator) Scores(ctx context.Context, fn ScoreFunc, data dataset.Dataset, cfg searchspace.Configuration) ([][]float64, error) {
	const op = "Validator.Scores"

	if fn == nil {
		return nil, errors.New(errors.ErrInvalidConfiguration, "score function is nil").
			WithComponent("crossval").WithOperation(op)
	}
	iters := v.NumIter
	if iters == 0 {
		iters = 1
	}
	if iters < 0 {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "iterations must be positive, got %d", iters).
			WithComponent("crossval").WithOperation(op)
	}

	logger := v.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	scores := make([][]float64, iters)
	for it := 0; it < iters; it++ {
		folds, err := MakeFolds(data.Len(), v.NumFolds, NewRand(DeriveSeed(v.Seed, int64(it))))
		if err != nil {
			return nil, err
		}

		scores[it] = make([]float64, v.NumFolds)
		if err := v.scoreFolds(ctx, fn, data, cfg, folds, it, scores[it]); err != nil {
			return nil, err
		}
		logger.Debug("Cross-validation iteration",
			zap.Int("iteration", it),
			zap.Float64s("scores", scores[it]),
			zap.Stringer("configuration", cfg))
	}
	return scores, nil
}

// scoreFolds writes the score of each fold into its slot of out.
func (v Validator) scoreFolds(ctx context.Context, fn ScoreFunc, data dataset.Dataset, cfg searchspace.Configuration, folds Assignment, it int, out []float64) error {
	one := func(ctx context.Context, fold int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		train, test := folds.Split(fold)
		start := time.Now()
		score, err := fn(ctx, data.Subset(train), data.Subset(test), cfg)
		v.Metrics.ObserveFold(time.Since(start))
		if err != nil {
			return errors.Wrapf(err, nil, "iteration %d fold %d", it, fold)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return errors.Newf(errors.ErrInvalidConfiguration,
				"iteration %d fold %d: non-finite score %v", it, fold, score).WithComponent("crossval")
		}
		out[fold] = score
		return nil
	}

	if v.Workers < 2 {
		for fold := range out {
			if err := one(ctx, fold); err != nil {
				return err
			}
		}
		return nil
	}

	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(v.Workers)
	for fold := range out {
		p.Go(func(ctx context.Context) error {
			return one(ctx, fold)
		})
	}
	return p.Wait()
}

// Wrap binds fn to data and returns an objective over configurations alone.
func (v Validator) Wrap(fn ScoreFunc, data dataset.Dataset) optimization.Objective {
	return func(ctx context.Context, cfg searchspace.Configuration) (float64, error) {
		return v.Validate(ctx, fn, data, cfg)
	}
}

// CrossValidate scores cfg with sequential numFolds-fold cross-validation
// repeated numIter times.
func CrossValidate(ctx context.Context, fn ScoreFunc, data dataset.Dataset, cfg searchspace.Configuration, numFolds, numIter int, seed int64) (float64, error) {
	return Validator{NumFolds: numFolds, NumIter: numIter, Seed: seed}.Validate(ctx, fn, data, cfg)
}
