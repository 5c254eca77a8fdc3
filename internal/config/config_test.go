package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.HTTP.IdleTimeout)
	assert.Equal(t, 3, cfg.Tuning.OuterFolds)
	assert.Equal(t, 5, cfg.Tuning.InnerFolds)
	assert.Equal(t, 2, cfg.Tuning.InnerIter)
	assert.Equal(t, 150, cfg.Tuning.Budget)
	assert.Equal(t, int64(0), cfg.Tuning.Seed)
	assert.Equal(t, "random", cfg.Tuning.Proposer)
	assert.Equal(t, 10, cfg.Optimization.WorkerCount)
	assert.Equal(t, 2000, cfg.Limits.MaxSamples)
	assert.Equal(t, 20, cfg.Limits.MaxFolds)
	assert.Equal(t, 10, cfg.Limits.MaxInnerIter)
	assert.Equal(t, 1000, cfg.Limits.MaxBudget)
	assert.Equal(t, 16, cfg.Limits.MaxWorkers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTP_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("TUNE_OUTER_FOLDS", "10")
	t.Setenv("TUNE_BUDGET", "40")
	t.Setenv("TUNE_SEED", "42")
	t.Setenv("TUNE_PROPOSER", "bayesian")
	t.Setenv("OPT_WORKER_COUNT", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 10, cfg.Tuning.OuterFolds)
	assert.Equal(t, 40, cfg.Tuning.Budget)
	assert.Equal(t, int64(42), cfg.Tuning.Seed)
	assert.Equal(t, "bayesian", cfg.Tuning.Proposer)
	assert.Equal(t, 2, cfg.Optimization.WorkerCount)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		msg   string
	}{
		{"unparsable port", "HTTP_PORT", "eighty", "parse environment"},
		{"bad duration", "HTTP_READ_TIMEOUT", "soon", "parse environment"},
		{"one outer fold", "TUNE_OUTER_FOLDS", "1", "TUNE_OUTER_FOLDS must be >= 2, got 1"},
		{"one inner fold", "TUNE_INNER_FOLDS", "1", "TUNE_INNER_FOLDS must be >= 2, got 1"},
		{"no repetitions", "TUNE_INNER_ITER", "0", "TUNE_INNER_ITER must be >= 1, got 0"},
		{"no budget", "TUNE_BUDGET", "0", "TUNE_BUDGET must be >= 1, got 0"},
		{"no evaluation workers", "TUNE_WORKERS", "0", "TUNE_WORKERS must be >= 1, got 0"},
		{"no job slots", "OPT_WORKER_COUNT", "-3", "OPT_WORKER_COUNT must be >= 1, got -3"},
		{"no samples allowed", "TUNE_MAX_SAMPLES", "1", "TUNE_MAX_SAMPLES must be >= 2, got 1"},
		{"budget limit below default", "TUNE_MAX_BUDGET", "100", "TUNE_MAX_BUDGET must be >= the default 150, got 100"},
		{"fold limit below default", "TUNE_MAX_FOLDS", "4", "TUNE_MAX_FOLDS must be >= the default 5, got 4"},
		{"no workers allowed", "TUNE_MAX_WORKERS", "0", "TUNE_MAX_WORKERS must be >= 1, got 0"},
		{"iteration limit below default", "TUNE_MAX_INNER_ITER", "1", "TUNE_MAX_INNER_ITER must be >= the default 2, got 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration), "got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
