// Package metrics implements the regression losses used to score folds.
package metrics

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

// Loss compares true targets with predictions. Lower is better.
type Loss func(yTrue, yPred []float64) (float64, error)

// MSE is the mean squared error.
func MSE(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return math.NaN(), err
	}
	d := floats.Distance(yTrue, yPred, 2)
	return d * d / float64(len(yTrue)), nil
}

// RMSE is the root mean squared error.
func RMSE(yTrue, yPred []float64) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return math.NaN(), err
	}
	return math.Sqrt(mse), nil
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return math.NaN(), err
	}
	return floats.Distance(yTrue, yPred, 1) / float64(len(yTrue)), nil
}

// ByName returns the loss called name ("mse", "rmse" or "mae"). The empty
// name selects MSE.
func ByName(name string) (Loss, error) {
	switch strings.ToLower(name) {
	case "", "mse":
		return MSE, nil
	case "rmse":
		return RMSE, nil
	case "mae":
		return MAE, nil
	default:
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "unknown loss %q", name).WithComponent("metrics")
	}
}

func check(yTrue, yPred []float64) error {
	if len(yTrue) == 0 {
		return errors.New(errors.ErrInvalidConfiguration, "no targets to score").WithComponent("metrics")
	}
	if len(yTrue) != len(yPred) {
		return errors.Newf(errors.ErrInvalidConfiguration,
			"%d targets but %d predictions", len(yTrue), len(yPred)).WithComponent("metrics")
	}
	return nil
}
