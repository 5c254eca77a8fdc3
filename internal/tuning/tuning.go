// Package tuning runs nested cross-validation: an outer k-fold loop that
// estimates generalisation error, and inside each outer training set an
// optimizer whose objective is an inner cross-validation.
package tuning

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nestedcv/internal/crossval"
	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/metrics"
	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/svr"
	"github.com/copyleftdev/nestedcv/internal/telemetry"
)

// seedStride separates the seeds of consecutive outer folds.
const seedStride = 1000

// Experiment is the outer cross-validation shared by every model compared on
// a dataset. Two runs of the same seeded Experiment use the same outer folds;
// an unseeded Experiment draws a new partition per run, so callers comparing
// models set Seed from crossval.ResolveSeed.
type Experiment struct {
	Data dataset.Dataset
	// OuterFolds is the number of outer folds; at least 2.
	OuterFolds int
	// Seed fixes the outer partition and derives every inner seed. 0 means
	// unseeded.
	Seed int64
	// Loss scores held-out predictions. Defaults to MSE.
	Loss metrics.Loss
	// Score overrides the model. Defaults to an SVR scored with Loss.
	Score crossval.ScoreFunc
	// SVR options used by the default Score.
	SVR []svr.Option

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	// OnFold, when set, is called after each outer fold.
	OnFold func(FoldReport)
}

// TuneSettings configures the search run on each outer training set.
type TuneSettings struct {
	InnerFolds int
	// InnerIter is the number of inner partitions averaged per evaluation.
	InnerIter int
	Budget    int
	// Space defaults to RBFSpace.
	Space *searchspace.Space
	// Proposer is a name accepted by NewProposer.
	Proposer string
	// Workers bounds concurrent evaluations and concurrent inner folds.
	Workers int
}

// FoldReport is the outcome of one outer fold.
type FoldReport struct {
	Fold      int
	TrainSize int
	TestSize  int
	// Best is the configuration used on the held-out fold; empty for an
	// untuned run.
	Best searchspace.Configuration
	// InnerScore is the inner cross-validation score of Best; NaN for an
	// untuned run.
	InnerScore float64
	// Score is the held-out loss.
	Score    float64
	Duration time.Duration
	// Trace and Dropped describe the search; empty for an untuned run.
	Trace   []optimization.Evaluation
	Dropped int
}

// Report is a nested cross-validation estimate.
type Report struct {
	Name string
	// Score is the mean held-out loss over the outer folds.
	Score float64
	// StdDev is the sample standard deviation of the held-out losses.
	StdDev float64
	Folds  []FoldReport
}

// Untuned estimates the error of the model with its default
// hyperparameters.
func (e Experiment) Untuned(ctx context.Context) (*Report, error) {
	score := e.scoreFunc()
	return e.run(ctx, "untuned", func(ctx context.Context, fold int, train, test dataset.Dataset) (FoldReport, error) {
		loss, err := score(ctx, train, test, searchspace.Configuration{})
		if err != nil {
			return FoldReport{}, err
		}
		return FoldReport{InnerScore: math.NaN(), Score: loss}, nil
	})
}

// Tuned estimates the error of the whole tuning procedure: on every outer
// training set the optimizer spends s.Budget evaluations of an inner
// cross-validation, then the best configuration is refitted on the full
// training set and scored on the held-out fold.
func (e Experiment) Tuned(ctx context.Context, s TuneSettings) (*Report, error) {
	const op = "Experiment.Tuned"

	if s.Budget < 1 {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "budget must be >= 1, got %d", s.Budget).
			WithComponent("tuning").WithOperation(op)
	}
	if s.InnerFolds < 2 {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "inner folds must be >= 2, got %d", s.InnerFolds).
			WithComponent("tuning").WithOperation(op)
	}
	space := s.Space
	if space == nil {
		space = RBFSpace()
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if _, err := NewProposer(s.Proposer, 0, nil); err != nil {
		return nil, err
	}

	score := e.scoreFunc()
	logger := e.logger()
	name := "tuned"
	if s.Proposer != "" {
		name += "/" + s.Proposer
	}

	return e.run(ctx, name, func(ctx context.Context, fold int, train, test dataset.Dataset) (FoldReport, error) {
		seed := e.foldSeed(fold)
		inner := crossval.Validator{
			NumFolds: s.InnerFolds,
			NumIter:  s.InnerIter,
			Seed:     seed,
			Workers:  s.Workers,
			Logger:   logger,
			Metrics:  e.Metrics,
		}
		proposer, err := NewProposer(s.Proposer, proposerSeed(seed), logger)
		if err != nil {
			return FoldReport{}, err
		}
		driver := optimization.NewDriver(optimization.DriverConfig{
			Proposer: proposer,
			Workers:  s.Workers,
			Logger:   logger,
			Metrics:  e.Metrics,
		})

		result, err := driver.Minimize(ctx, inner.Wrap(score, train), s.Budget, space)
		if err != nil {
			return FoldReport{}, errors.Wrapf(err, nil, "outer fold %d search", fold)
		}

		loss, err := score(ctx, train, test, result.Best)
		if err != nil {
			return FoldReport{}, errors.Wrapf(err, nil, "outer fold %d refit with %s", fold, result.Best)
		}
		return FoldReport{
			Best:       result.Best,
			InnerScore: result.BestScore,
			Score:      loss,
			Trace:      result.Trace,
			Dropped:    result.Dropped,
		}, nil
	})
}

type foldFunc func(ctx context.Context, fold int, train, test dataset.Dataset) (FoldReport, error)

// run drives the outer loop. Outer folds run one after another; the
// parallelism lives inside each fold.
func (e Experiment) run(ctx context.Context, name string, fn foldFunc) (*Report, error) {
	if e.OuterFolds < 2 {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "outer folds must be >= 2, got %d", e.OuterFolds).
			WithComponent("tuning").WithOperation("Experiment.run")
	}
	folds, err := crossval.MakeFolds(e.Data.Len(), e.OuterFolds, crossval.NewRand(e.Seed))
	if err != nil {
		return nil, err
	}

	logger := e.logger().With(zap.String("run", name))
	report := &Report{Name: name, Folds: make([]FoldReport, 0, e.OuterFolds)}
	scores := make([]float64, 0, e.OuterFolds)

	for fold := 0; fold < e.OuterFolds; fold++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trainIdx, testIdx := folds.Split(fold)
		train, test := e.Data.Subset(trainIdx), e.Data.Subset(testIdx)

		start := time.Now()
		fr, err := fn(ctx, fold, train, test)
		if err != nil {
			return nil, err
		}
		fr.Fold = fold
		fr.TrainSize = len(trainIdx)
		fr.TestSize = len(testIdx)
		fr.Duration = time.Since(start)

		logger.Info("Outer fold finished",
			zap.Int("fold", fold),
			zap.Stringer("best", fr.Best),
			zap.Float64("inner_score", fr.InnerScore),
			zap.Float64("score", fr.Score),
			zap.Duration("duration", fr.Duration),
		)
		report.Folds = append(report.Folds, fr)
		scores = append(scores, fr.Score)
		if e.OnFold != nil {
			e.OnFold(fr)
		}
	}

	report.Score = stat.Mean(scores, nil)
	report.StdDev = stat.StdDev(scores, nil)
	logger.Info("Nested cross-validation finished",
		zap.Float64("score", report.Score),
		zap.Float64("std_dev", report.StdDev),
	)
	return report, nil
}

func (e Experiment) scoreFunc() crossval.ScoreFunc {
	if e.Score != nil {
		return e.Score
	}
	return svr.ScoreFunc(e.Loss, e.SVR...)
}

func (e Experiment) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger.Named("tuning")
}

// foldSeed derives the inner seed of an outer fold; unseeded experiments
// stay unseeded.
func (e Experiment) foldSeed(fold int) int64 {
	return crossval.DeriveSeed(e.Seed, seedStride*int64(fold+1))
}

func proposerSeed(foldSeed int64) int64 {
	return crossval.DeriveSeed(foldSeed, seedStride/2)
}
