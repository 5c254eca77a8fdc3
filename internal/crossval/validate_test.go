package crossval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// indexed returns a dataset whose target is the sample index.
func indexed(t *testing.T, n int) dataset.Dataset {
	t.Helper()
	rows := make([][]float64, n)
	y := make([]float64, n)
	for i := range rows {
		rows[i] = []float64{float64(i)}
		y[i] = float64(i)
	}
	d, err := dataset.FromRows(rows, y)
	require.NoError(t, err)
	return d
}

// testSets records the test targets seen by each call, in call order.
type testSets struct {
	mu   sync.Mutex
	sets []string
}

func (r *testSets) fn(_ context.Context, _, test dataset.Dataset, _ searchspace.Configuration) (float64, error) {
	ys := append([]float64(nil), test.Y...)
	sort.Float64s(ys)
	r.mu.Lock()
	r.sets = append(r.sets, fmt.Sprint(ys))
	r.mu.Unlock()
	return 0, nil
}

func TestValidateMeanOfMeans(t *testing.T) {
	data := indexed(t, 10)
	foldSize := func(_ context.Context, _, test dataset.Dataset, _ searchspace.Configuration) (float64, error) {
		return float64(test.Len()), nil
	}

	// Folds of 4, 3 and 3: the unweighted mean is 10/3, a sample-weighted
	// mean would be 3.4.
	score, err := Validator{NumFolds: 3, Seed: 1}.Validate(context.Background(), foldSize, data, searchspace.Configuration{})
	require.NoError(t, err)
	assert.InDelta(t, 10.0/3.0, score, 1e-12)

	var calls int
	perIteration := func(context.Context, dataset.Dataset, dataset.Dataset, searchspace.Configuration) (float64, error) {
		it := calls / 2
		calls++
		return float64(it), nil
	}
	score, err = Validator{NumFolds: 2, NumIter: 3, Seed: 1}.Validate(context.Background(), perIteration, data, searchspace.Configuration{})
	require.NoError(t, err)
	assert.Equal(t, 6, calls)
	assert.InDelta(t, 1.0, score, 1e-12)
}

func TestValidateSplits(t *testing.T) {
	const n = 23
	data := indexed(t, n)
	cfg := searchspace.Configuration{
		Choices: map[string]string{"kernel": "rbf"},
		Values:  map[string]float64{"C": 10, "gamma": 0.5},
	}

	var calls int
	fn := func(_ context.Context, train, test dataset.Dataset, got searchspace.Configuration) (float64, error) {
		calls++
		assert.Equal(t, cfg, got, "configuration must pass through unchanged")
		assert.Equal(t, n, train.Len()+test.Len())

		all := append(append([]float64(nil), train.Y...), test.Y...)
		sort.Float64s(all)
		for i, v := range all {
			assert.Equal(t, float64(i), v)
		}
		// Rows travel with their targets.
		for i, v := range test.Y {
			assert.Equal(t, v, test.X.At(i, 0))
		}
		return 1, nil
	}

	score, err := Validator{NumFolds: 5, NumIter: 2}.Validate(context.Background(), fn, data, cfg)
	require.NoError(t, err)
	assert.Equal(t, 10, calls)
	assert.Equal(t, 1.0, score)
}

func TestValidateSeeding(t *testing.T) {
	data := indexed(t, 30)
	run := func(v Validator) []string {
		var rec testSets
		_, err := v.Validate(context.Background(), rec.fn, data, searchspace.Configuration{})
		require.NoError(t, err)
		return rec.sets
	}

	seeded := Validator{NumFolds: 3, NumIter: 2, Seed: 17}
	first := run(seeded)
	assert.Equal(t, first, run(seeded), "seeded runs are identical")
	assert.NotEqual(t, first[:3], first[3:], "iterations use different partitions")

	unseeded := Validator{NumFolds: 3}
	assert.NotEqual(t, run(unseeded), run(unseeded), "unseeded runs differ")

	// Iteration 1 of seed -1 derives from a sum of 0 and must stay seeded.
	negative := Validator{NumFolds: 3, NumIter: 2, Seed: -1}
	assert.Equal(t, run(negative), run(negative), "negative seeds are reproducible")
}

func TestValidateFailFast(t *testing.T) {
	data := indexed(t, 12)

	var calls int
	fn := func(context.Context, dataset.Dataset, dataset.Dataset, searchspace.Configuration) (float64, error) {
		calls++
		if calls == 2 {
			return 0, errors.New(errors.ErrUnknownKernel, "unknown kernel \"sigmoid\"")
		}
		return 1, nil
	}

	score, err := Validator{NumFolds: 4, NumIter: 3, Seed: 1}.Validate(context.Background(), fn, data, searchspace.Configuration{})
	require.Error(t, err)
	assert.True(t, math.IsNaN(score))
	assert.Equal(t, 2, calls, "no fold after the failing one is scored")
	assert.True(t, errors.Is(err, errors.ErrUnknownKernel))
	assert.Contains(t, err.Error(), "iteration 0 fold 1")
}

func TestValidateNonFiniteScore(t *testing.T) {
	data := indexed(t, 6)
	for _, bad := range []float64{math.NaN(), math.Inf(1)} {
		fn := func(context.Context, dataset.Dataset, dataset.Dataset, searchspace.Configuration) (float64, error) {
			return bad, nil
		}
		_, err := Validator{NumFolds: 2, Seed: 1}.Validate(context.Background(), fn, data, searchspace.Configuration{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
	}
}

func TestValidateInvalid(t *testing.T) {
	data := indexed(t, 4)
	noop := func(context.Context, dataset.Dataset, dataset.Dataset, searchspace.Configuration) (float64, error) {
		return 0, nil
	}

	tests := []struct {
		name string
		v    Validator
		fn   ScoreFunc
	}{
		{name: "one fold", v: Validator{NumFolds: 1}, fn: noop},
		{name: "too many folds", v: Validator{NumFolds: 5}, fn: noop},
		{name: "negative iterations", v: Validator{NumFolds: 2, NumIter: -1}, fn: noop},
		{name: "nil score function", v: Validator{NumFolds: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.v.Validate(context.Background(), tt.fn, data, searchspace.Configuration{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
		})
	}
}

func TestValidateParallelMatchesSequential(t *testing.T) {
	data := indexed(t, 40)
	meanTest := func(_ context.Context, _, test dataset.Dataset, _ searchspace.Configuration) (float64, error) {
		sum := 0.0
		for _, v := range test.Y {
			sum += v * v
		}
		return sum / float64(test.Len()), nil
	}

	sequential := Validator{NumFolds: 5, NumIter: 3, Seed: 8}
	parallel := sequential
	parallel.Workers = 4

	want, err := sequential.Scores(context.Background(), meanTest, data, searchspace.Configuration{})
	require.NoError(t, err)
	got, err := parallel.Scores(context.Background(), meanTest, data, searchspace.Configuration{})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	t.Run("first error wins", func(t *testing.T) {
		failing := func(context.Context, dataset.Dataset, dataset.Dataset, searchspace.Configuration) (float64, error) {
			return 0, fmt.Errorf("boom")
		}
		_, err := parallel.Validate(context.Background(), failing, data, searchspace.Configuration{})
		assert.ErrorContains(t, err, "boom")
	})
}

func TestWrapAndCrossValidate(t *testing.T) {
	data := indexed(t, 15)
	fn := func(_ context.Context, train, test dataset.Dataset, cfg searchspace.Configuration) (float64, error) {
		c, _ := cfg.Float("C")
		return c * float64(test.Len()), nil
	}
	cfg := searchspace.Configuration{Values: map[string]float64{"C": 2}}

	v := Validator{NumFolds: 3, Seed: 4}
	objective := v.Wrap(fn, data)
	got, err := objective(context.Background(), cfg)
	require.NoError(t, err)

	want, err := CrossValidate(context.Background(), fn, data, cfg, 3, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 10.0, got)
}
