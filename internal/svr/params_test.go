package svr

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/nestedcv/internal/crossval"
	"github.com/copyleftdev/nestedcv/internal/dataset"
	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/metrics"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

func config(kernel string, values map[string]float64) searchspace.Configuration {
	cfg := searchspace.Configuration{Values: values}
	if kernel != "" {
		cfg.Choices = map[string]string{KeyKernel: kernel}
	}
	return cfg
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name string
		cfg  searchspace.Configuration
		want Params
		kind error
	}{
		{
			name: "defaults to rbf",
			cfg:  searchspace.Configuration{},
			want: RBF{C: 1, ScaleGamma: true},
		},
		{
			name: "rbf with gamma",
			cfg:  config("", map[string]float64{"C": 10, "gamma": 0.5}),
			want: RBF{C: 10, Gamma: 0.5},
		},
		{
			name: "zero gamma is a value",
			cfg:  config(KernelRBF, map[string]float64{"C": 3, "gamma": 0}),
			want: RBF{C: 3, Gamma: 0},
		},
		{
			name: "linear",
			cfg:  config(KernelLinear, map[string]float64{"C": 42}),
			want: Linear{C: 42},
		},
		{
			name: "poly defaults",
			cfg:  config(KernelPoly, nil),
			want: Poly{C: 1, Degree: 3, Coef0: 0, ScaleGamma: true},
		},
		{
			name: "poly rounds degree",
			cfg:  config(KernelPoly, map[string]float64{"C": 5, "degree": 2.6, "coef0": 0.25}),
			want: Poly{C: 5, Degree: 3, Coef0: 0.25, ScaleGamma: true},
		},
		{
			name: "poly degree at least one",
			cfg:  config(KernelPoly, map[string]float64{"degree": 0.2}),
			want: Poly{C: 1, Degree: 1, ScaleGamma: true},
		},
		{
			name: "unknown kernel",
			cfg:  config("sigmoid", nil),
			kind: errors.ErrUnknownKernel,
		},
		{
			name: "zero C",
			cfg:  config(KernelLinear, map[string]float64{"C": 0}),
			kind: errors.ErrInvalidConfiguration,
		},
		{
			name: "NaN C",
			cfg:  config(KernelLinear, map[string]float64{"C": math.NaN()}),
			kind: errors.ErrInvalidConfiguration,
		},
		{
			name: "negative gamma",
			cfg:  config(KernelRBF, map[string]float64{"gamma": -1}),
			kind: errors.ErrInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseParams(tt.cfg)
			if tt.kind != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.kind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParamsKernel(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{0, 1, 2, 3})
	assert.InDelta(t, 0.4, ScaleGamma(X), 1e-12)
	assert.Equal(t, 1.0, ScaleGamma(mat.NewDense(2, 1, []float64{5, 5})))

	a, b := []float64{1, 0}, []float64{0, 1}
	tests := []struct {
		name   string
		params Params
		want   float64
	}{
		{name: "linear", params: Linear{C: 1}, want: 0},
		{name: "rbf scale", params: RBF{C: 1, ScaleGamma: true}, want: math.Exp(-0.8)},
		{name: "rbf fixed", params: RBF{C: 1, Gamma: 2}, want: math.Exp(-4)},
		{name: "poly", params: Poly{C: 1, Degree: 2, Coef0: 1, Gamma: 1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.params.kernel(X).Eval(a, b), 1e-12)
		})
	}

	assert.Equal(t, "poly(C=1, degree=2, coef0=1, gamma=1)", Poly{C: 1, Degree: 2, Coef0: 1, Gamma: 1}.String())
	assert.Equal(t, "rbf(C=2, gamma=scale)", RBF{C: 2, ScaleGamma: true}.String())
}

func TestFromConfig(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})

	model, err := FromConfig(config(KernelLinear, map[string]float64{"C": 7, "epsilon": 0.3}), X, WithEpsilon(0.9))
	require.NoError(t, err)
	assert.Equal(t, 7.0, model.C)
	assert.Equal(t, 0.3, model.Epsilon)

	model, err = FromConfig(config(KernelLinear, nil), X, WithEpsilon(0.9))
	require.NoError(t, err)
	assert.Equal(t, 0.9, model.Epsilon)

	_, err = FromConfig(config(KernelLinear, map[string]float64{"epsilon": -1}), X)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfiguration))
}

func TestFromConfigKeepsCallerOptions(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	opts := make([]Option, 1, 4)
	opts[0] = WithTol(1e-4)

	model, err := FromConfig(config(KernelLinear, map[string]float64{"epsilon": 0.3}), X, opts...)
	require.NoError(t, err)
	assert.Equal(t, 0.3, model.Epsilon)
	assert.Nil(t, opts[:cap(opts)][1], "spare capacity stays untouched")

	var wg sync.WaitGroup
	eps := []float64{0.01, 5, 0.2, 3}
	got := make([]float64, len(eps))
	for i, e := range eps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m, err := FromConfig(config(KernelLinear, map[string]float64{"epsilon": e}), X, opts...)
				if err != nil || m.Epsilon != e {
					got[i] = math.NaN()
					return
				}
				got[i] = m.Epsilon
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, eps, got)
}

func TestScoreFunc(t *testing.T) {
	rows := make([][]float64, 30)
	y := make([]float64, 30)
	for i := range rows {
		x := float64(i) / 29
		rows[i] = []float64{x}
		y[i] = 4*x - 1
	}
	data, err := dataset.FromRows(rows, y)
	require.NoError(t, err)

	score := ScoreFunc(metrics.MAE, WithEpsilon(0.01))

	loss, err := crossval.CrossValidate(context.Background(), score, data,
		config(KernelLinear, map[string]float64{"C": 100}), 5, 1, 3)
	require.NoError(t, err)
	assert.Less(t, loss, 0.1)

	_, err = crossval.CrossValidate(context.Background(), score, data, config("sigmoid", nil), 5, 1, 3)
	assert.True(t, errors.Is(err, errors.ErrUnknownKernel))
}
