package optimization

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// sphere is a quadratic objective over every numeric value of a configuration.
func sphere(_ context.Context, cfg searchspace.Configuration) (float64, error) {
	sum := 0.0
	for _, v := range cfg.Values {
		sum += v * v
	}
	return sum, nil
}

// countingObjective wraps fn and counts its calls; safe for concurrent use.
func countingObjective(fn Objective) (Objective, *atomic.Int64) {
	var calls atomic.Int64
	return func(ctx context.Context, cfg searchspace.Configuration) (float64, error) {
		calls.Add(1)
		return fn(ctx, cfg)
	}, &calls
}

// assertWithinSpace checks that every evaluation holds exactly the live
// parameters of its branch, each inside its range.
func assertWithinSpace(t *testing.T, space *searchspace.Space, trace []Evaluation) {
	t.Helper()

	branches, err := space.Flatten()
	require.NoError(t, err)
	byName := make(map[string]searchspace.Branch, len(branches))
	for _, b := range branches {
		byName[b.Name] = b
	}

	for _, ev := range trace {
		b, ok := byName[ev.Branch]
		require.True(t, ok, "unknown branch %q", ev.Branch)
		require.Len(t, ev.Configuration.Values, len(b.Ranges), "evaluation %d", ev.Index)
		require.Equal(t, b.Choices, ev.Configuration.Choices, "evaluation %d", ev.Index)
		for _, r := range b.Ranges {
			v, ok := ev.Configuration.Float(r.Name)
			require.True(t, ok, "evaluation %d lacks %s", ev.Index, r.Name)
			require.False(t, math.IsNaN(v))
			require.True(t, r.Contains(v), "evaluation %d: %s=%v outside [%v, %v]", ev.Index, r.Name, v, r.Low, r.High)
		}
	}
}
