// Package config reads the process configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/logging"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging logging.Config
	// Tuning holds the defaults of a nested cross-validation run. Requests
	// and command line flags override them.
	Tuning struct {
		OuterFolds int    `env:"TUNE_OUTER_FOLDS" envDefault:"3"`
		InnerFolds int    `env:"TUNE_INNER_FOLDS" envDefault:"5"`
		InnerIter  int    `env:"TUNE_INNER_ITER" envDefault:"2"`
		Budget     int    `env:"TUNE_BUDGET" envDefault:"150"`
		Seed       int64  `env:"TUNE_SEED" envDefault:"0"`
		Proposer   string `env:"TUNE_PROPOSER" envDefault:"random"`
		Workers    int    `env:"TUNE_WORKERS" envDefault:"1"`
	}
	// Limits cap what one server request may ask for. The SVR holds an n×n
	// Gram matrix per fit, so MaxSamples bounds memory per evaluation.
	Limits struct {
		MaxSamples   int `env:"TUNE_MAX_SAMPLES" envDefault:"2000"`
		MaxFolds     int `env:"TUNE_MAX_FOLDS" envDefault:"20"`
		MaxInnerIter int `env:"TUNE_MAX_INNER_ITER" envDefault:"10"`
		MaxBudget    int `env:"TUNE_MAX_BUDGET" envDefault:"1000"`
		MaxWorkers   int `env:"TUNE_MAX_WORKERS" envDefault:"16"`
	}
	Optimization struct {
		// WorkerCount bounds the number of tuning jobs the server runs at once.
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
	}
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidConfiguration, "parse environment")
	}

	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no run could satisfy.
func (c *Config) Validate() error {
	switch {
	case c.Tuning.OuterFolds < 2:
		return errors.Newf(errors.ErrInvalidConfiguration, "TUNE_OUTER_FOLDS must be >= 2, got %d", c.Tuning.OuterFolds)
	case c.Tuning.InnerFolds < 2:
		return errors.Newf(errors.ErrInvalidConfiguration, "TUNE_INNER_FOLDS must be >= 2, got %d", c.Tuning.InnerFolds)
	case c.Tuning.InnerIter < 1:
		return errors.Newf(errors.ErrInvalidConfiguration, "TUNE_INNER_ITER must be >= 1, got %d", c.Tuning.InnerIter)
	case c.Tuning.Budget < 1:
		return errors.Newf(errors.ErrInvalidConfiguration, "TUNE_BUDGET must be >= 1, got %d", c.Tuning.Budget)
	case c.Tuning.Workers < 1:
		return errors.Newf(errors.ErrInvalidConfiguration, "TUNE_WORKERS must be >= 1, got %d", c.Tuning.Workers)
	case c.Optimization.WorkerCount < 1:
		return errors.Newf(errors.ErrInvalidConfiguration, "OPT_WORKER_COUNT must be >= 1, got %d", c.Optimization.WorkerCount)
	}
	return c.validateLimits()
}

// validateLimits checks that every limit admits the tuning defaults.
func (c *Config) validateLimits() error {
	limits := []struct {
		name    string
		max     int
		minimum int
		dflt    int
	}{
		{"TUNE_MAX_SAMPLES", c.Limits.MaxSamples, 2, 0},
		{"TUNE_MAX_FOLDS", c.Limits.MaxFolds, 2, max(c.Tuning.OuterFolds, c.Tuning.InnerFolds)},
		{"TUNE_MAX_INNER_ITER", c.Limits.MaxInnerIter, 1, c.Tuning.InnerIter},
		{"TUNE_MAX_BUDGET", c.Limits.MaxBudget, 1, c.Tuning.Budget},
		{"TUNE_MAX_WORKERS", c.Limits.MaxWorkers, 1, c.Tuning.Workers},
	}
	for _, l := range limits {
		if l.max < l.minimum {
			return errors.Newf(errors.ErrInvalidConfiguration, "%s must be >= %d, got %d", l.name, l.minimum, l.max)
		}
		if l.dflt > l.max {
			return errors.Newf(errors.ErrInvalidConfiguration, "%s must be >= the default %d, got %d", l.name, l.dflt, l.max)
		}
	}
	return nil
}
