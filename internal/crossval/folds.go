// Package crossval partitions datasets into folds and averages a scoring
// function over them.
package crossval

import (
	"math"
	"math/rand"
	"time"

	"github.com/copyleftdev/nestedcv/internal/errors"
)

// Assignment maps every sample index to a fold id in [0, k).
type Assignment []int

// NewRand returns a generator seeded with seed, or one seeded from the clock
// when seed is 0.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(ResolveSeed(seed)))
}

// ResolveSeed returns seed, or a non-zero seed drawn from the clock when seed
// is 0. Runs that must share a partition resolve their seed once up front.
func ResolveSeed(seed int64) int64 {
	for seed == 0 {
		seed = time.Now().UnixNano()
	}
	return seed
}

// DeriveSeed returns seed+offset for a seeded parent and 0 for an unseeded
// one. A sum that lands on 0 is replaced by math.MinInt64, so a seeded
// parent never derives an unseeded child.
func DeriveSeed(seed, offset int64) int64 {
	if seed == 0 {
		return 0
	}
	if d := seed + offset; d != 0 {
		return d
	}
	return math.MinInt64
}

// MakeFolds assigns n samples to numFolds folds. Samples are shuffled and
// cut into contiguous chunks; the first n%numFolds folds get one extra
// sample, so fold sizes differ by at most one.
func MakeFolds(n, numFolds int, rng *rand.Rand) (Assignment, error) {
	if numFolds < 2 {
		return nil, errors.Newf(errors.ErrInvalidConfiguration,
			"need at least 2 folds, got %d", numFolds).WithComponent("crossval")
	}
	if numFolds > n {
		return nil, errors.Newf(errors.ErrInvalidConfiguration,
			"cannot split %d samples into %d folds", n, numFolds).WithComponent("crossval")
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	rng.Shuffle(n, func(i, j int) {
		perm[i], perm[j] = perm[j], perm[i]
	})

	a := make(Assignment, n)
	base, extra := n/numFolds, n%numFolds
	pos := 0
	for fold := 0; fold < numFolds; fold++ {
		size := base
		if fold < extra {
			size++
		}
		for _, idx := range perm[pos : pos+size] {
			a[idx] = fold
		}
		pos += size
	}
	return a, nil
}

// NumFolds returns the number of folds.
func (a Assignment) NumFolds() int {
	k := 0
	for _, f := range a {
		if f+1 > k {
			k = f + 1
		}
	}
	return k
}

// Split returns the indices outside and inside fold, both ascending.
func (a Assignment) Split(fold int) (train, test []int) {
	for i, f := range a {
		if f == fold {
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	return train, test
}

// Sizes returns the number of samples in each fold.
func (a Assignment) Sizes() []int {
	sizes := make([]int, a.NumFolds())
	for _, f := range a {
		sizes[f]++
	}
	return sizes
}
