package server

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/copyleftdev/nestedcv/internal/config"
	"github.com/copyleftdev/nestedcv/internal/crossval"
	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/metrics"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/tuning"
)

// Defaults of the synthetic dataset source.
const (
	defaultSyntheticSamples = 150
	defaultSyntheticNoise   = 1.0
)

// tuneRequest is a validated tuning.start request.
type tuneRequest struct {
	Data dataset.Dataset
	// Space is nil for an untuned run.
	Space *searchspace.Space

	OuterFolds int
	InnerFolds int
	InnerIter  int
	Budget     int
	Seed       int64
	Proposer   string
	Workers    int
	LossName   string
	Loss       metrics.Loss
}

// parseTuneRequest reads a request of the form
//
//	{
//	  "dataset": {"synthetic": {"samples": 150, "noise": 1}},
//	  "standardize": true,
//	  "space": {"C": [1, 100], "gamma": [0, 50]},
//	  "outer_folds": 3, "inner_folds": 5, "inner_iter": 2,
//	  "budget": 150, "seed": 42, "proposer": "random", "loss": "mse"
//	}
//
// The dataset is either synthetic, inline ("features" and "targets") or CSV
// text ("csv" with an optional "target" column). "space" is a search space
// document, or one of the presets "rbf" and "kernel"; without it the run is
// untuned. Missing numbers take the defaults of cfg.
func parseTuneRequest(params gjson.Result, cfg *config.Config) (tuneRequest, error) {
	if !params.IsObject() {
		return tuneRequest{}, invalidParams("expected an object")
	}

	req := tuneRequest{
		OuterFolds: intOr(params, "outer_folds", cfg.Tuning.OuterFolds),
		InnerFolds: intOr(params, "inner_folds", cfg.Tuning.InnerFolds),
		InnerIter:  intOr(params, "inner_iter", cfg.Tuning.InnerIter),
		Budget:     intOr(params, "budget", cfg.Tuning.Budget),
		Workers:    intOr(params, "workers", cfg.Tuning.Workers),
		Seed:       cfg.Tuning.Seed,
		Proposer:   cfg.Tuning.Proposer,
		LossName:   strings.ToLower(params.Get("loss").String()),
	}
	if v := params.Get("seed"); v.Exists() {
		req.Seed = v.Int()
	}
	if v := params.Get("proposer"); v.Exists() {
		req.Proposer = v.String()
	}

	loss, err := metrics.ByName(req.LossName)
	if err != nil {
		return tuneRequest{}, err
	}
	req.Loss = loss
	if _, err := tuning.NewProposer(req.Proposer, 0, nil); err != nil {
		return tuneRequest{}, err
	}

	switch {
	case req.OuterFolds < 2:
		return tuneRequest{}, invalidParams("outer_folds must be >= 2")
	case req.InnerFolds < 2:
		return tuneRequest{}, invalidParams("inner_folds must be >= 2")
	case req.InnerIter < 1:
		return tuneRequest{}, invalidParams("inner_iter must be >= 1")
	case req.Budget < 1:
		return tuneRequest{}, invalidParams("budget must be >= 1")
	case req.Workers < 1:
		return tuneRequest{}, invalidParams("workers must be >= 1")
	}
	lim := cfg.Limits
	switch {
	case req.OuterFolds > lim.MaxFolds:
		return tuneRequest{}, invalidParamsf("outer_folds must be <= %d", lim.MaxFolds)
	case req.InnerFolds > lim.MaxFolds:
		return tuneRequest{}, invalidParamsf("inner_folds must be <= %d", lim.MaxFolds)
	case req.InnerIter > lim.MaxInnerIter:
		return tuneRequest{}, invalidParamsf("inner_iter must be <= %d", lim.MaxInnerIter)
	case req.Budget > lim.MaxBudget:
		return tuneRequest{}, invalidParamsf("budget must be <= %d", lim.MaxBudget)
	case req.Workers > lim.MaxWorkers:
		return tuneRequest{}, invalidParamsf("workers must be <= %d", lim.MaxWorkers)
	}

	req.Data, err = parseDataset(params.Get("dataset"), req.Seed, lim.MaxSamples)
	if err != nil {
		return tuneRequest{}, err
	}
	if req.Data.Len() > lim.MaxSamples {
		return tuneRequest{}, invalidParamsf("dataset has %d samples, at most %d allowed", req.Data.Len(), lim.MaxSamples)
	}
	if params.Get("standardize").Bool() {
		req.Data = req.Data.Standardize()
	}
	if req.Data.Len() < req.OuterFolds {
		return tuneRequest{}, errors.Newf(errors.ErrInvalidConfiguration,
			"%d samples cannot fill %d outer folds", req.Data.Len(), req.OuterFolds).WithComponent("server")
	}

	req.Space, err = parseSpace(params.Get("space"))
	if err != nil {
		return tuneRequest{}, err
	}
	return req, nil
}

// parseDataset builds the request dataset. Synthetic sizes above maxSamples
// are rejected before any row is generated.
func parseDataset(v gjson.Result, seed int64, maxSamples int) (dataset.Dataset, error) {
	switch {
	case !v.Exists():
		return dataset.Dataset{}, invalidParams("dataset is required")
	case v.Get("synthetic").Exists():
		syn := v.Get("synthetic")
		n := intOr(syn, "samples", defaultSyntheticSamples)
		if n < 1 {
			return dataset.Dataset{}, invalidParams("synthetic.samples must be positive")
		}
		if n > maxSamples {
			return dataset.Dataset{}, invalidParamsf("synthetic.samples must be <= %d", maxSamples)
		}
		noise := defaultSyntheticNoise
		if nv := syn.Get("noise"); nv.Exists() {
			noise = nv.Float()
		}
		return dataset.Friedman1(n, noise, crossval.NewRand(seed)), nil
	case v.Get("csv").Exists():
		return dataset.LoadCSV(strings.NewReader(v.Get("csv").String()), v.Get("target").String())
	default:
		return dataset.FromJSON(v)
	}
}

func parseSpace(v gjson.Result) (*searchspace.Space, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if v.Type == gjson.String {
		switch v.String() {
		case "rbf":
			return tuning.RBFSpace(), nil
		case "kernel":
			return tuning.KernelSpace(), nil
		default:
			return nil, errors.Newf(errors.ErrInvalidConfiguration, "unknown space preset %q", v.String()).
				WithComponent("server")
		}
	}
	return searchspace.FromJSON(v)
}

// parseJobID reads {"job_id": "..."}.
func parseJobID(params gjson.Result) (string, error) {
	id := params.Get("job_id").String()
	if id == "" {
		return "", invalidParams("job_id is required")
	}
	return id, nil
}

func intOr(v gjson.Result, path string, def int) int {
	if r := v.Get(path); r.Exists() {
		return int(r.Int())
	}
	return def
}

func invalidParams(msg string) error {
	return errors.New(errors.ErrInvalidConfiguration, msg).WithComponent("server")
}

func invalidParamsf(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrInvalidConfiguration, format, args...).WithComponent("server")
}
