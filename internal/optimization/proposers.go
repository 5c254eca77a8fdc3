package optimization

import (
	"context"
	"math/rand"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// RandomProposer draws a branch uniformly, then each live parameter
// uniformly from its range.
type RandomProposer struct {
	rng *rand.Rand
}

// NewRandomProposer creates a RandomProposer; seed 0 means unseeded.
func NewRandomProposer(seed int64) *RandomProposer {
	return &RandomProposer{rng: newRand(seed)}
}

// Propose implements Proposer.
func (p *RandomProposer) Propose(_ context.Context, branches []searchspace.Branch, _ []Evaluation) (Proposal, error) {
	if len(branches) == 0 {
		return Proposal{}, errors.New(errors.ErrInvalidConfiguration, "no branches to propose from")
	}
	idx := p.rng.Intn(len(branches))
	return Proposal{Branch: idx, Values: UniformPoint(p.rng, branches[idx])}, nil
}

// UniformPoint samples every live parameter of b uniformly.
func UniformPoint(rng *rand.Rand, b searchspace.Branch) map[string]float64 {
	values := make(map[string]float64, len(b.Ranges))
	for _, r := range b.Ranges {
		values[r.Name] = r.Lerp(rng.Float64())
	}
	return values
}

// GridProposer walks a regular grid with PointsPerDim levels per parameter
// (bounds included), branch after branch in declaration order. When the
// budget exceeds the grid size the walk starts over. The walk position is
// kept on the proposer, so a batch of proposals drawn against the same
// history covers consecutive grid points.
type GridProposer struct {
	PointsPerDim int

	next int
}

// NewGridProposer creates a GridProposer; pointsPerDim below 2 becomes 2.
func NewGridProposer(pointsPerDim int) *GridProposer {
	if pointsPerDim < 2 {
		pointsPerDim = 2
	}
	return &GridProposer{PointsPerDim: pointsPerDim}
}

// Propose implements Proposer. The n-th proposal depends only on n.
func (g *GridProposer) Propose(_ context.Context, branches []searchspace.Branch, _ []Evaluation) (Proposal, error) {
	if len(branches) == 0 {
		return Proposal{}, errors.New(errors.ErrInvalidConfiguration, "no branches to propose from")
	}

	sizes := make([]int, len(branches))
	total := 0
	for i, b := range branches {
		sizes[i] = g.gridSize(b)
		total += sizes[i]
	}

	k := g.next % total
	g.next = (g.next + 1) % total
	for i, b := range branches {
		if k >= sizes[i] {
			k -= sizes[i]
			continue
		}
		values := make(map[string]float64, len(b.Ranges))
		// Mixed-radix decoding; the last parameter varies fastest.
		for j := len(b.Ranges) - 1; j >= 0; j-- {
			level := k % g.PointsPerDim
			k /= g.PointsPerDim
			r := b.Ranges[j]
			values[r.Name] = r.Lerp(float64(level) / float64(g.PointsPerDim-1))
		}
		return Proposal{Branch: i, Values: values}, nil
	}
	return Proposal{}, errors.New(errors.ErrInvalidConfiguration, "grid index out of range")
}

// gridSize is PointsPerDim^dims, saturating to keep the walk finite.
func (g *GridProposer) gridSize(b searchspace.Branch) int {
	const limit = 1 << 30
	size := 1
	for range b.Ranges {
		size *= g.PointsPerDim
		if size > limit {
			return limit
		}
	}
	return size
}
