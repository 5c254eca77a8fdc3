package svr

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/nestedcv/internal/crossval"
	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/metrics"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// FromConfig builds an unfitted SVR for cfg. An "epsilon" value in cfg
// overrides the default tube width and any WithEpsilon option.
func FromConfig(cfg searchspace.Configuration, X *mat.Dense, opts ...Option) (*SVR, error) {
	params, err := ParseParams(cfg)
	if err != nil {
		return nil, err
	}
	if eps, ok := cfg.Float(KeyEpsilon); ok {
		if eps < 0 || math.IsNaN(eps) {
			return nil, errors.Newf(errors.ErrInvalidConfiguration, "epsilon must be non-negative, got %v", eps).
				WithComponent("svr").WithOperation("FromConfig")
		}
		// Never write into the caller's backing array; ScoreFunc shares it
		// between concurrent folds.
		opts = append(opts[:len(opts):len(opts)], WithEpsilon(eps))
	}
	return NewFromParams(params, X, opts...), nil
}

// ScoreFunc returns a cross-validation score function that fits an SVR for
// the configuration on the training rows and reports loss on the test rows.
// A nil loss means MSE.
func ScoreFunc(loss metrics.Loss, opts ...Option) crossval.ScoreFunc {
	if loss == nil {
		loss = metrics.MSE
	}
	return func(ctx context.Context, train, test dataset.Dataset, cfg searchspace.Configuration) (float64, error) {
		model, err := FromConfig(cfg, train.X, opts...)
		if err != nil {
			return math.NaN(), err
		}
		if err := model.Fit(ctx, train.X, train.Y); err != nil {
			return math.NaN(), err
		}
		pred, err := model.Predict(test.X)
		if err != nil {
			return math.NaN(), err
		}
		return loss(test.Y, pred)
	}
}
