package optimization

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/telemetry"
)

func kernelSpace() *searchspace.Space {
	return searchspace.New(
		searchspace.Choice("kernel",
			searchspace.Opt("linear", searchspace.Float("C", 1, 100)),
			searchspace.Opt("rbf", searchspace.Float("C", 1, 100), searchspace.Float("gamma", 0, 50)),
			searchspace.Opt("poly",
				searchspace.Float("C", 1, 100),
				searchspace.Float("degree", 2, 5),
				searchspace.Float("coef0", 0, 1),
			),
		),
	)
}

func TestDriverSpendsExactBudget(t *testing.T) {
	tests := []struct {
		name    string
		space   *searchspace.Space
		budget  int
		workers int
	}{
		{
			name:   "single range",
			space:  searchspace.New(searchspace.Float("C", 1, 100)),
			budget: 1,
		},
		{
			name:   "rbf space",
			space:  searchspace.New(searchspace.Float("C", 1, 100), searchspace.Float("gamma", 0, 50)),
			budget: 150,
		},
		{
			name:    "kernel choice in parallel",
			space:   kernelSpace(),
			budget:  150,
			workers: 8,
		},
		{
			name:    "budget not a multiple of workers",
			space:   kernelSpace(),
			budget:  13,
			workers: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objective, calls := countingObjective(sphere)
			driver := NewDriver(DriverConfig{Seed: 42, Workers: tt.workers})

			result, err := driver.Minimize(context.Background(), objective, tt.budget, tt.space)
			require.NoError(t, err)

			assert.Equal(t, int64(tt.budget), calls.Load())
			require.Len(t, result.Trace, tt.budget)
			for i, ev := range result.Trace {
				assert.Equal(t, i, ev.Index)
			}
			assertWithinSpace(t, tt.space, result.Trace)

			best := result.Trace[result.BestIndex]
			assert.Equal(t, best.Score, result.BestScore)
			assert.Equal(t, best.Configuration, result.Best)
			for _, ev := range result.Trace {
				assert.GreaterOrEqual(t, ev.Score, result.BestScore)
			}
		})
	}
}

func TestDriverVisitsEveryBranch(t *testing.T) {
	driver := NewDriver(DriverConfig{Seed: 3})
	result, err := driver.Minimize(context.Background(), sphere, 60, kernelSpace())
	require.NoError(t, err)

	seen := map[string]int{}
	for _, ev := range result.Trace {
		seen[ev.Branch]++
		kernel, ok := ev.Configuration.Choice("kernel")
		require.True(t, ok)
		assert.Equal(t, kernel, ev.Branch)

		switch kernel {
		case "linear":
			assert.False(t, ev.Configuration.Has("gamma"))
			assert.False(t, ev.Configuration.Has("degree"))
		case "rbf":
			assert.True(t, ev.Configuration.Has("gamma"))
			assert.False(t, ev.Configuration.Has("coef0"))
		}
	}
	assert.Len(t, seen, 3)
}

func TestDriverInvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		objective Objective
		budget    int
		space     *searchspace.Space
		kind      error
	}{
		{
			name:   "nil objective",
			budget: 5,
			space:  searchspace.New(searchspace.Float("x", 0, 1)),
			kind:   errors.ErrInvalidConfiguration,
		},
		{
			name:      "zero budget",
			objective: sphere,
			space:     searchspace.New(searchspace.Float("x", 0, 1)),
			kind:      errors.ErrInvalidConfiguration,
		},
		{
			name:      "inverted range",
			objective: sphere,
			budget:    5,
			space:     searchspace.New(searchspace.Float("x", 1, 0)),
			kind:      errors.ErrInvalidRange,
		},
		{
			name:      "duplicate option",
			objective: sphere,
			budget:    5,
			space: searchspace.New(searchspace.Choice("kernel",
				searchspace.Opt("rbf"), searchspace.Opt("rbf"))),
			kind: errors.ErrDuplicateBranchKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls *atomic.Int64
			objective := tt.objective
			if objective != nil {
				objective, calls = countingObjective(tt.objective)
			}
			_, err := NewDriver(DriverConfig{Seed: 1}).Minimize(context.Background(), objective, tt.budget, tt.space)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
			if calls != nil {
				assert.Zero(t, calls.Load())
			}
		})
	}
}

func TestDriverDropsFailedEvaluations(t *testing.T) {
	space := searchspace.New(searchspace.Float("x", -1, 1))

	var calls int
	objective := func(ctx context.Context, cfg searchspace.Configuration) (float64, error) {
		calls++
		switch calls % 4 {
		case 1:
			return 0, fmt.Errorf("fit diverged")
		case 2:
			return math.NaN(), nil
		case 3:
			panic("solver blew up")
		}
		return sphere(ctx, cfg)
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	driver := NewDriver(DriverConfig{Seed: 5, Metrics: metrics})

	result, err := driver.Minimize(context.Background(), objective, 20, space)
	require.NoError(t, err)
	assert.Equal(t, 20, calls)
	assert.Len(t, result.Trace, 20)
	assert.Equal(t, 15, result.Dropped)

	for _, ev := range result.Trace {
		if ev.Index%4 == 3 {
			assert.True(t, ev.OK(), "evaluation %d", ev.Index)
			continue
		}
		assert.False(t, ev.OK(), "evaluation %d", ev.Index)
		assert.True(t, math.IsNaN(ev.Score))
	}
	assert.Equal(t, 3, result.BestIndex%4)

	expected := `
# HELP nestedcv_evaluations_total Objective evaluations by search-space branch and outcome.
# TYPE nestedcv_evaluations_total counter
nestedcv_evaluations_total{branch="default",outcome="dropped"} 15
nestedcv_evaluations_total{branch="default",outcome="ok"} 5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "nestedcv_evaluations_total"))
}

func TestDriverAllEvaluationsFail(t *testing.T) {
	objective := func(context.Context, searchspace.Configuration) (float64, error) {
		return 0, fmt.Errorf("always fails")
	}

	result, err := NewDriver(DriverConfig{Seed: 1, Workers: 3}).
		Minimize(context.Background(), objective, 7, searchspace.New(searchspace.Float("x", 0, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoValidConfiguration))
	require.NotNil(t, result)
	assert.Len(t, result.Trace, 7)
	assert.Equal(t, 7, result.Dropped)
	assert.Equal(t, -1, result.BestIndex)
}

func TestDriverTiesKeepFirst(t *testing.T) {
	constant := func(context.Context, searchspace.Configuration) (float64, error) {
		return 1, nil
	}

	for _, workers := range []int{1, 4} {
		result, err := NewDriver(DriverConfig{Seed: 9, Workers: workers}).
			Minimize(context.Background(), constant, 10, kernelSpace())
		require.NoError(t, err)
		assert.Equal(t, 0, result.BestIndex)
		assert.Equal(t, result.Trace[0].Configuration, result.Best)
	}
}

func TestDriverSeeding(t *testing.T) {
	run := func(seed int64, workers int) []Evaluation {
		result, err := NewDriver(DriverConfig{Seed: seed, Workers: workers}).
			Minimize(context.Background(), sphere, 25, kernelSpace())
		require.NoError(t, err)
		return result.Trace
	}

	seeded := run(7, 1)
	assert.Equal(t, seeded, run(7, 1), "same seed, same trace")
	assert.Equal(t, seeded, run(7, 6), "parallel evaluation keeps proposal order")
	assert.NotEqual(t, run(0, 1), run(0, 1), "unseeded runs differ")
}

type badProposer struct{}

func (badProposer) Propose(context.Context, []searchspace.Branch, []Evaluation) (Proposal, error) {
	return Proposal{Branch: 3}, nil
}

func TestDriverRejectsBadProposals(t *testing.T) {
	_, err := NewDriver(DriverConfig{Proposer: badProposer{}}).
		Minimize(context.Background(), sphere, 3, searchspace.New(searchspace.Float("x", 0, 1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
}

func TestDriverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	objective, calls := countingObjective(sphere)
	result, err := NewDriver(DriverConfig{Seed: 1}).
		Minimize(ctx, objective, 10, searchspace.New(searchspace.Float("x", 0, 1)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Zero(t, calls.Load())
}
