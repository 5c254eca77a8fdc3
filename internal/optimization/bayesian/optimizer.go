package bayesian

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/optimization"
	"github.com/copyleftdev/nestedcv/internal/optimization/acquisition"
	"github.com/copyleftdev/nestedcv/internal/optimization/kernels"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// Config configures a Proposer.
type Config struct {
	// InitialPoints is the number of Latin hypercube points drawn per branch
	// before the model is used. Branches without numeric parameters get one.
	InitialPoints int
	// Xi is the exploration margin of expected improvement, as a fraction of
	// the spread of the observed scores.
	Xi float64
	// Candidates is the number of random points screened per branch before
	// local refinement.
	Candidates int
	// Restarts is the number of Nelder-Mead runs per branch.
	Restarts int
	// Kernel names the GP covariance, kernels.NameMatern52 or
	// kernels.NameRBF.
	Kernel string
	// NoiseVar is the observation noise of the GP on standardised scores.
	NoiseVar float64
	// LengthScales are the covariance length scales tried on the unit cube; the
	// one with the highest marginal likelihood is kept.
	LengthScales []float64
	// Seed seeds the proposer; 0 means unseeded.
	Seed int64
	// Logger is optional.
	Logger *zap.Logger
}

// DefaultConfig returns the default proposer configuration.
func DefaultConfig() Config {
	return Config{
		InitialPoints: 5,
		Xi:            0.01,
		Candidates:    256,
		Restarts:      3,
		Kernel:        kernels.NameMatern52,
		NoiseVar:      1e-6,
		LengthScales:  []float64{0.05, 0.1, 0.2, 0.5, 1.0},
	}
}

// Proposer is a Bayesian optimisation policy over a flattened search space.
// Each branch gets a Latin hypercube design first; after that every branch
// with numeric parameters is modelled by its own GP on the unit cube and the
// point with the highest expected improvement over the global best wins.
//
// A Proposer keeps state between calls and must not be shared between
// concurrent searches.
type Proposer struct {
	config Config
	rng    *rand.Rand
	logger *zap.Logger
	pool   *MatrixPool

	plans  map[string][][]float64
	issued map[string]int

	calls       int
	lastHistory int
	inBatch     int
}

var _ optimization.Proposer = (*Proposer)(nil)

// NewProposer creates a Proposer. Zero fields of config take their defaults.
func NewProposer(config Config) *Proposer {
	def := DefaultConfig()
	if config.InitialPoints < 1 {
		config.InitialPoints = def.InitialPoints
	}
	if config.Xi <= 0 {
		config.Xi = def.Xi
	}
	if config.Candidates < 1 {
		config.Candidates = def.Candidates
	}
	if config.Restarts < 1 {
		config.Restarts = def.Restarts
	}
	if config.Kernel == "" {
		config.Kernel = def.Kernel
	}
	if config.NoiseVar <= 0 {
		config.NoiseVar = def.NoiseVar
	}
	if len(config.LengthScales) == 0 {
		config.LengthScales = def.LengthScales
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Proposer{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("bayesian"),
		pool:   NewMatrixPool(),
		plans:  make(map[string][][]float64),
		issued: make(map[string]int),
	}
}

// Propose implements optimization.Proposer.
//
// Calls that see the same history as the previous call belong to one
// parallel batch; only the first of them uses the model, the rest are drawn
// uniformly so the batch does not collapse onto one point.
func (p *Proposer) Propose(ctx context.Context, branches []searchspace.Branch, history []optimization.Evaluation) (optimization.Proposal, error) {
	if len(branches) == 0 {
		return optimization.Proposal{}, errors.New(errors.ErrInvalidConfiguration, "no branches to propose from").
			WithOperation("Proposer.Propose")
	}

	if p.calls > 0 && len(history) == p.lastHistory {
		p.inBatch++
	} else {
		p.inBatch = 0
	}
	p.calls++
	p.lastHistory = len(history)

	if idx, ok := p.nextInitial(branches); ok {
		b := branches[idx]
		u := p.initialPoint(b)
		p.issued[b.Name]++
		return optimization.Proposal{Branch: idx, Values: fromUnit(b, u)}, nil
	}

	if err := ctx.Err(); err != nil {
		return optimization.Proposal{}, err
	}
	if p.inBatch > 0 {
		return p.randomProposal(branches), nil
	}

	best := math.Inf(1)
	for _, ev := range history {
		if ev.OK() && ev.Score < best {
			best = ev.Score
		}
	}
	if math.IsInf(best, 1) {
		return p.randomProposal(branches), nil
	}

	bestBranch, bestEI := -1, 0.0
	var bestU []float64
	for i, b := range branches {
		if b.Dims() == 0 {
			continue
		}
		gp, incumbent, err := p.fitBranch(b, history)
		if err != nil {
			p.logger.Debug("Skipping branch without a usable model",
				zap.String("branch", b.Name),
				zap.Error(err))
			continue
		}
		acq := acquisition.NewExpectedImprovement(best, p.config.Xi*gp.Scale())
		u, ei := p.maximizeAcquisition(gp, acq, b.Dims(), incumbent)
		if ei > bestEI {
			bestBranch, bestEI, bestU = i, ei, u
		}
	}

	if bestBranch < 0 {
		p.logger.Debug("No positive expected improvement, proposing at random")
		return p.randomProposal(branches), nil
	}

	p.logger.Debug("Proposal from model",
		zap.String("branch", branches[bestBranch].Name),
		zap.Float64("expected_improvement", bestEI))
	return optimization.Proposal{Branch: bestBranch, Values: fromUnit(branches[bestBranch], bestU)}, nil
}

// nextInitial returns the branch owed a design point, round robin in
// declaration order.
func (p *Proposer) nextInitial(branches []searchspace.Branch) (int, bool) {
	idx, least := -1, math.MaxInt
	for i, b := range branches {
		quota := p.config.InitialPoints
		if b.Dims() == 0 {
			quota = 1
		}
		if n := p.issued[b.Name]; n < quota && n < least {
			idx, least = i, n
		}
	}
	return idx, idx >= 0
}

func (p *Proposer) initialPoint(b searchspace.Branch) []float64 {
	plan, ok := p.plans[b.Name]
	if !ok {
		plan = latinHypercubeSample(p.rng, p.config.InitialPoints, b.Dims())
		p.plans[b.Name] = plan
	}
	return plan[p.issued[b.Name]%len(plan)]
}

// randomProposal draws a branch with numeric parameters uniformly, or any
// branch when none has them.
func (p *Proposer) randomProposal(branches []searchspace.Branch) optimization.Proposal {
	live := make([]int, 0, len(branches))
	for i, b := range branches {
		if b.Dims() > 0 {
			live = append(live, i)
		}
	}
	var idx int
	if len(live) == 0 {
		idx = p.rng.Intn(len(branches))
	} else {
		idx = live[p.rng.Intn(len(live))]
	}
	return optimization.Proposal{Branch: idx, Values: optimization.UniformPoint(p.rng, branches[idx])}
}

// fitBranch fits a GP to the successful evaluations of b and returns it with
// the unit-cube position of the branch's best observation.
func (p *Proposer) fitBranch(b searchspace.Branch, history []optimization.Evaluation) (*GP, []float64, error) {
	var xs []float64
	var ys []float64
	var incumbent []float64
	incumbentScore := math.Inf(1)
	for _, ev := range history {
		if !ev.OK() || ev.Branch != b.Name {
			continue
		}
		row := toUnit(b, ev.Configuration)
		xs = append(xs, row...)
		ys = append(ys, ev.Score)
		if ev.Score < incumbentScore {
			incumbentScore, incumbent = ev.Score, row
		}
	}
	n := len(ys)
	if n < 2 {
		return nil, nil, errors.Newf(errors.ErrInvalidConfiguration, "branch %s has %d usable observations", b.Name, n)
	}

	X := mat.NewDense(n, b.Dims(), xs)
	y := mat.NewVecDense(n, ys)

	var best *GP
	bestLML := math.Inf(-1)
	var lastErr error
	for _, ls := range p.config.LengthScales {
		kernel, err := kernels.NewStationary(p.config.Kernel, ls, 1.0)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrInvalidConfiguration, "build covariance")
		}
		gp := NewGP(kernel, p.config.NoiseVar, p.logger)
		gp.SetPool(p.pool)
		if err := gp.Fit(X, y); err != nil {
			lastErr = err
			continue
		}
		lml, err := gp.LogMarginalLikelihood()
		if err != nil || math.IsNaN(lml) {
			continue
		}
		if lml > bestLML {
			best, bestLML = gp, lml
		}
	}
	if best == nil {
		if lastErr == nil {
			lastErr = errors.New(errors.ErrInvalidConfiguration, "no length scale produced a model")
		}
		return nil, nil, lastErr
	}
	return best, incumbent, nil
}

// maximizeAcquisition screens random candidates plus the incumbent, then
// refines the most promising ones with Nelder-Mead inside the unit cube. It
// returns a nil point when the model cannot be evaluated.
func (p *Proposer) maximizeAcquisition(gp *GP, acq *acquisition.ExpectedImprovement, nDims int, incumbent []float64) ([]float64, float64) {
	score := func(u []float64) float64 {
		mu, sigma, err := gp.PredictPoint(u)
		if err != nil {
			return 0
		}
		return acq.Compute(mu, sigma)
	}

	// Screen the incumbent and the random candidates with one prediction.
	n := p.config.Candidates
	if incumbent != nil {
		n++
	}
	X := mat.NewDense(n, nDims, nil)
	row := 0
	if incumbent != nil {
		X.SetRow(row, incumbent)
		row++
	}
	for ; row < n; row++ {
		u := X.RawRowView(row)
		for j := range u {
			u[j] = p.rng.Float64()
		}
	}
	mean, variance, err := gp.Predict(X)
	if err != nil {
		p.logger.Debug("Candidate screening failed", zap.Error(err))
		return nil, 0
	}
	eis := acq.Batch(mean, variance)

	type candidate struct {
		u  []float64
		ei float64
	}
	candidates := make([]candidate, n)
	for i := range candidates {
		candidates[i] = candidate{u: X.RawRowView(i), ei: eis[i]}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ei > candidates[j].ei
	})

	bestU := append([]float64(nil), candidates[0].u...)
	bestEI := candidates[0].ei

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return -score(clampUnit(x))
		},
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 50,
		},
		FuncEvaluations: 200,
	}

	for i := 0; i < p.config.Restarts && i < len(candidates); i++ {
		method := &optimize.NelderMead{
			Reflection:  1.0,
			Expansion:   2.0,
			Contraction: 0.5,
			Shrink:      0.5,
			SimplexSize: 0.1,
		}
		result, err := optimize.Minimize(problem, candidates[i].u, settings, method)
		if result == nil {
			p.logger.Debug("Acquisition refinement failed", zap.Error(err))
			continue
		}
		if ei := -result.F; ei > bestEI {
			bestEI = ei
			bestU = clampUnit(result.X)
		}
	}

	return bestU, bestEI
}

// latinHypercubeSample draws n points in [0,1]^nDims with exactly one point
// in each of the n equal slices of every axis.
func latinHypercubeSample(rng *rand.Rand, n, nDims int) [][]float64 {
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	strata := make([]float64, n)
	for i := 0; i < nDims; i++ {
		for j := range strata {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := range samples {
			samples[j][i] = strata[j]
		}
	}
	return samples
}

func toUnit(b searchspace.Branch, cfg searchspace.Configuration) []float64 {
	u := make([]float64, len(b.Ranges))
	for i, r := range b.Ranges {
		u[i] = r.Unit(cfg.Values[r.Name])
	}
	return u
}

func fromUnit(b searchspace.Branch, u []float64) map[string]float64 {
	values := make(map[string]float64, len(b.Ranges))
	for i, r := range b.Ranges {
		values[r.Name] = r.Lerp(u[i])
	}
	return values
}

func clampUnit(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(v, 1))
	}
	return out
}
