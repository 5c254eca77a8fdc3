package tuning

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/optimization/bayesian"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/svr"
)

// Proposer names accepted by NewProposer.
const (
	ProposerRandom   = "random"
	ProposerGrid     = "grid"
	ProposerBayesian = "bayesian"
)

// DefaultGridPoints is the number of grid levels per parameter.
const DefaultGridPoints = 5

// NewProposer returns the sampling policy called name. An empty name selects
// random search.
func NewProposer(name string, seed int64, logger *zap.Logger) (optimization.Proposer, error) {
	switch name {
	case "", ProposerRandom:
		return optimization.NewRandomProposer(seed), nil
	case ProposerGrid:
		return optimization.NewGridProposer(DefaultGridPoints), nil
	case ProposerBayesian:
		cfg := bayesian.DefaultConfig()
		cfg.Seed = seed
		cfg.Logger = logger
		return bayesian.NewProposer(cfg), nil
	default:
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "unknown proposer %q", name).
			WithComponent("tuning")
	}
}

// RBFSpace is the radial-kernel space of the basic experiment:
// C in [1, 100] and gamma in [0, 50].
func RBFSpace() *searchspace.Space {
	return searchspace.New(
		searchspace.Float(svr.KeyC, 1, 100),
		searchspace.Float(svr.KeyGamma, 0, 50),
	)
}

// KernelSpace lets the optimizer pick the kernel family together with the
// family's own parameters.
func KernelSpace() *searchspace.Space {
	return searchspace.New(
		searchspace.Choice(svr.KeyKernel,
			searchspace.Opt(svr.KernelLinear,
				searchspace.Float(svr.KeyC, 1, 100),
			),
			searchspace.Opt(svr.KernelRBF,
				searchspace.Float(svr.KeyC, 1, 100),
				searchspace.Float(svr.KeyGamma, 0, 50),
			),
			searchspace.Opt(svr.KernelPoly,
				searchspace.Float(svr.KeyC, 1, 100),
				searchspace.Float(svr.KeyDegree, 2, 5),
				searchspace.Float(svr.KeyCoef0, 0, 1),
			),
		),
	)
}
