// Package dataset holds the feature matrix / target vector pairs that the
// cross-validation harness partitions.
package dataset

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

// Dataset is an ordered sequence of feature rows paired 1:1 with scalar
// targets. Datasets are treated as read-only once built.
type Dataset struct {
	X *mat.Dense
	Y []float64
}

// New pairs X with y. It fails when the row count of X differs from len(y)
// or when X is empty.
func New(X *mat.Dense, y []float64) (Dataset, error) {
	if X == nil || X.IsEmpty() {
		return Dataset{}, errors.New(errors.ErrInvalidConfiguration, "dataset has no samples").
			WithComponent("dataset")
	}
	r, _ := X.Dims()
	if r != len(y) {
		return Dataset{}, errors.Newf(errors.ErrDimensionMismatch,
			"features have %d rows but there are %d targets", r, len(y)).WithComponent("dataset")
	}
	return Dataset{X: X, Y: y}, nil
}

// FromRows builds a Dataset from row slices. All rows must have the same
// non-zero length.
func FromRows(rows [][]float64, y []float64) (Dataset, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Dataset{}, errors.New(errors.ErrInvalidConfiguration, "dataset has no samples").
			WithComponent("dataset")
	}
	p := len(rows[0])
	data := make([]float64, 0, len(rows)*p)
	for i, row := range rows {
		if len(row) != p {
			return Dataset{}, errors.Newf(errors.ErrDimensionMismatch,
				"row %d has %d features, expected %d", i, len(row), p).WithComponent("dataset")
		}
		data = append(data, row...)
	}
	return New(mat.NewDense(len(rows), p, data), y)
}

// Len returns the number of samples.
func (d Dataset) Len() int {
	return len(d.Y)
}

// NumFeatures returns the number of feature columns.
func (d Dataset) NumFeatures() int {
	if d.X == nil {
		return 0
	}
	_, c := d.X.Dims()
	return c
}

// Subset copies the rows at idx, in order, into a new Dataset.
func (d Dataset) Subset(idx []int) Dataset {
	p := d.NumFeatures()
	if len(idx) == 0 {
		return Dataset{}
	}
	X := mat.NewDense(len(idx), p, nil)
	y := make([]float64, len(idx))
	for i, j := range idx {
		X.SetRow(i, d.X.RawRowView(j))
		y[i] = d.Y[j]
	}
	return Dataset{X: X, Y: y}
}

// Standardize returns a copy whose columns have zero mean and unit variance.
// Constant columns are only centered.
func (d Dataset) Standardize() Dataset {
	return d.mapColumns(func(col []float64) {
		mean, std := stat.MeanStdDev(col, nil)
		floats.AddConst(-mean, col)
		if std > 0 && !math.IsNaN(std) {
			floats.Scale(1/std, col)
		}
	})
}

// ScaleUnitNorm returns a copy whose columns are centered and scaled to unit
// Euclidean norm.
func (d Dataset) ScaleUnitNorm() Dataset {
	return d.mapColumns(func(col []float64) {
		floats.AddConst(-stat.Mean(col, nil), col)
		if norm := floats.Norm(col, 2); norm > 0 {
			floats.Scale(1/norm, col)
		}
	})
}

func (d Dataset) mapColumns(fn func(col []float64)) Dataset {
	r, c := d.X.Dims()
	X := mat.DenseCopyOf(d.X)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		fn(col)
		X.SetCol(j, col)
	}
	return Dataset{X: X, Y: append([]float64(nil), d.Y...)}
}

// Friedman1 generates the Friedman #1 regression problem: ten features
// uniform on [0, 1], of which the first five are informative,
//
//	y = 10 sin(pi x0 x1) + 20 (x2 - 0.5)^2 + 10 x3 + 5 x4 + noise * N(0, 1).
func Friedman1(n int, noise float64, rng *rand.Rand) Dataset {
	const p = 10
	X := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		for j := range row {
			row[j] = rng.Float64()
		}
		y[i] = 10*math.Sin(math.Pi*row[0]*row[1]) +
			20*(row[2]-0.5)*(row[2]-0.5) +
			10*row[3] + 5*row[4] +
			noise*rng.NormFloat64()
	}
	return Dataset{X: X, Y: y}
}
