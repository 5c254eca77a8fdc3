// Command nestedcv estimates the error of an untuned and a tuned SVR with
// nested cross-validation, on a CSV file or on synthetic Friedman #1 data.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/copyleftdev/nestedcv/internal/config"
	"github.com/copyleftdev/nestedcv/internal/crossval"
	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/logging"
	"github.com/copyleftdev/nestedcv/internal/metrics"
	"github.com/copyleftdev/nestedcv/internal/report"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/tuning"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "nestedcv: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	data        string
	target      string
	samples     int
	noise       float64
	scale       float64
	standardize bool

	space      string
	outer      int
	inner      int
	innerIter  int
	budget     int
	seed       int64
	proposer   string
	workers    int
	loss       string
	skipTuned  bool
	plotDir    string
	jsonOutput bool
}

func parseFlags(args []string, cfg *config.Config, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("nestedcv", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.data, "data", "", "CSV file with a header row; synthetic Friedman #1 data when empty")
	fs.StringVar(&o.target, "target", "", "target column of the CSV file (default: last column)")
	fs.IntVar(&o.samples, "samples", 150, "number of synthetic samples")
	fs.Float64Var(&o.noise, "noise", 1, "noise level of the synthetic data")
	fs.Float64Var(&o.scale, "scale", 1, "multiply the targets by this factor")
	fs.BoolVar(&o.standardize, "standardize", false, "standardize the feature columns")

	fs.StringVar(&o.space, "space", "rbf", `search space: "rbf", "kernel" or a JSON file`)
	fs.IntVar(&o.outer, "outer", cfg.Tuning.OuterFolds, "outer folds")
	fs.IntVar(&o.inner, "inner", cfg.Tuning.InnerFolds, "inner folds")
	fs.IntVar(&o.innerIter, "inner-iter", cfg.Tuning.InnerIter, "inner cross-validation repetitions")
	fs.IntVar(&o.budget, "budget", cfg.Tuning.Budget, "evaluations per outer fold")
	fs.Int64Var(&o.seed, "seed", cfg.Tuning.Seed, "random seed; 0 draws one from the clock")
	fs.StringVar(&o.proposer, "proposer", cfg.Tuning.Proposer, "random, grid or bayesian")
	fs.IntVar(&o.workers, "workers", cfg.Tuning.Workers, "concurrent evaluations")
	fs.StringVar(&o.loss, "loss", "mse", "mse, rmse or mae")
	fs.BoolVar(&o.skipTuned, "untuned-only", false, "only estimate the default model")
	fs.StringVar(&o.plotDir, "plot", "", "directory for per-fold trace plots")
	fs.BoolVar(&o.jsonOutput, "json", false, "print the reports as JSON")

	if err := fs.Parse(args); err != nil {
		return options{}, errors.Wrap(err, errors.ErrInvalidConfiguration, "parse flags")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o, err := parseFlags(args, cfg, stderr)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Both runs must score on the same outer folds.
	o.seed = crossval.ResolveSeed(o.seed)
	logger.Info("Using seed", map[string]interface{}{"seed": o.seed})

	loss, err := metrics.ByName(o.loss)
	if err != nil {
		return err
	}
	data, err := loadData(o)
	if err != nil {
		return err
	}
	logger.Info("Dataset loaded", map[string]interface{}{
		"samples":  data.Len(),
		"features": data.NumFeatures(),
		"source":   sourceName(o),
	})

	exp := tuning.Experiment{
		Data:       data,
		OuterFolds: o.outer,
		Seed:       o.seed,
		Loss:       loss,
		Logger:     logger.Zap(),
	}

	untuned, err := exp.Untuned(ctx)
	if err != nil {
		return errors.Wrap(err, nil, "untuned run")
	}
	reports := []*tuning.Report{untuned}

	if !o.skipTuned {
		space, err := loadSpace(o.space)
		if err != nil {
			return err
		}
		tuned, err := exp.Tuned(ctx, tuning.TuneSettings{
			InnerFolds: o.inner,
			InnerIter:  o.innerIter,
			Budget:     o.budget,
			Space:      space,
			Proposer:   o.proposer,
			Workers:    o.workers,
		})
		if err != nil {
			return errors.Wrap(err, nil, "tuned run")
		}
		reports = append(reports, tuned)

		if o.plotDir != "" {
			if err := plotTraces(o.plotDir, tuned); err != nil {
				return err
			}
		}
	}

	if o.jsonOutput {
		return writeJSON(stdout, reports)
	}
	for _, r := range reports {
		if err := report.Summary(stdout, r); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
	}
	return report.Compare(stdout, reports...)
}

func loadData(o options) (dataset.Dataset, error) {
	var data dataset.Dataset
	if o.data == "" {
		data = dataset.Friedman1(o.samples, o.noise, crossval.NewRand(o.seed))
	} else {
		f, err := os.Open(o.data)
		if err != nil {
			return dataset.Dataset{}, errors.Wrapf(err, errors.ErrInvalidConfiguration, "open %s", o.data)
		}
		defer f.Close()
		if data, err = dataset.LoadCSV(f, o.target); err != nil {
			return dataset.Dataset{}, err
		}
	}

	if o.standardize {
		data = data.Standardize()
	}
	if o.scale != 1 {
		y := make([]float64, len(data.Y))
		for i, v := range data.Y {
			y[i] = v * o.scale
		}
		data.Y = y
	}
	return data, nil
}

func sourceName(o options) string {
	if o.data == "" {
		return "friedman1"
	}
	return filepath.Base(o.data)
}

func loadSpace(name string) (*searchspace.Space, error) {
	switch name {
	case "", "rbf":
		return tuning.RBFSpace(), nil
	case "kernel":
		return tuning.KernelSpace(), nil
	}
	doc, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInvalidConfiguration, "read search space %s", name)
	}
	return searchspace.Parse(doc)
}

func plotTraces(dir string, r *tuning.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrInvalidConfiguration, "create %s", dir)
	}
	for _, f := range r.Folds {
		path := filepath.Join(dir, fmt.Sprintf("fold-%d.png", f.Fold))
		title := fmt.Sprintf("%s, outer fold %d", r.Name, f.Fold)
		if err := report.PlotTrace(f.Trace, title, path); err != nil {
			return err
		}
	}
	return nil
}

type foldJSON struct {
	Fold       int                       `json:"fold"`
	Best       searchspace.Configuration `json:"best"`
	InnerScore *float64                  `json:"inner_score"`
	Score      float64                   `json:"score"`
	Dropped    int                       `json:"dropped"`
}

type reportJSON struct {
	Name   string     `json:"name"`
	Score  float64    `json:"score"`
	StdDev float64    `json:"std_dev"`
	Folds  []foldJSON `json:"folds"`
}

func writeJSON(w io.Writer, reports []*tuning.Report) error {
	out := make([]reportJSON, len(reports))
	for i, r := range reports {
		out[i] = reportJSON{Name: r.Name, Score: r.Score, StdDev: r.StdDev}
		for _, f := range r.Folds {
			fj := foldJSON{Fold: f.Fold, Best: f.Best, Score: f.Score, Dropped: f.Dropped}
			if f.Trace != nil {
				inner := f.InnerScore
				fj.InnerScore = &inner
			}
			out[i].Folds = append(out[i].Folds, fj)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
