package optimization

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/copyleftdev/nestedcv/internal/errors"
	"github.com/copyleftdev/nestedcv/internal/searchspace"
	"github.com/copyleftdev/nestedcv/internal/telemetry"
)

// DriverConfig configures a Driver.
type DriverConfig struct {
	// Proposer picks the configurations to evaluate. Defaults to uniform
	// random search seeded with Seed.
	Proposer Proposer
	// Workers is the number of configurations evaluated concurrently.
	// Values below 2 evaluate sequentially.
	Workers int
	// Seed seeds the default proposer; 0 means unseeded.
	Seed int64
	// Logger receives per-evaluation records. Defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics is optional.
	Metrics *telemetry.Metrics
}

// Driver spends an evaluation budget on a search space and keeps the best
// configuration seen.
type Driver struct {
	config DriverConfig
	logger *zap.Logger
}

var _ Minimizer = (*Driver)(nil)

// NewDriver creates a Driver.
func NewDriver(config DriverConfig) *Driver {
	if config.Proposer == nil {
		config.Proposer = NewRandomProposer(config.Seed)
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{config: config, logger: logger.Named("driver")}
}

// Minimize evaluates objective exactly budget times on configurations drawn
// from space, unless ctx is cancelled or the space is malformed.
//
// A failing evaluation is dropped: it stays in the trace with its error and
// consumes budget, but never becomes the best. When every evaluation fails
// Minimize returns ErrNoValidConfiguration. Ties keep the earliest evaluation.
func (d *Driver) Minimize(ctx context.Context, objective Objective, budget int, space *searchspace.Space) (*Result, error) {
	const op = "Driver.Minimize"

	if objective == nil {
		return nil, errors.New(errors.ErrInvalidConfiguration, "objective is nil").WithOperation(op)
	}
	if budget < 1 {
		return nil, errors.Newf(errors.ErrInvalidConfiguration, "budget must be >= 1, got %d", budget).WithOperation(op)
	}
	branches, err := space.Flatten()
	if err != nil {
		return nil, err
	}

	result := &Result{
		BestScore: math.Inf(1),
		BestIndex: -1,
		Trace:     make([]Evaluation, 0, budget),
	}

	for len(result.Trace) < budget {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := min(d.config.Workers, budget-len(result.Trace))
		pending := make([]Evaluation, batch)
		for i := range pending {
			idx := len(result.Trace) + i
			// Proposals within a batch see the same history.
			p, err := d.config.Proposer.Propose(ctx, branches, result.Trace)
			if err != nil {
				return nil, errors.Wrapf(err, nil, "propose evaluation %d", idx)
			}
			if p.Branch < 0 || p.Branch >= len(branches) {
				return nil, errors.Newf(errors.ErrInvalidConfiguration,
					"proposer returned branch %d of %d", p.Branch, len(branches)).WithOperation(op)
			}
			b := branches[p.Branch]
			cfg, err := space.Materialize(b, p.Values)
			if err != nil {
				return nil, err
			}
			pending[i] = Evaluation{Index: idx, Branch: b.Name, Configuration: cfg}
		}

		d.evaluate(ctx, objective, pending)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, ev := range pending {
			result.Trace = append(result.Trace, ev)
			if !ev.OK() {
				result.Dropped++
				continue
			}
			if ev.Score < result.BestScore {
				result.BestScore = ev.Score
				result.BestIndex = ev.Index
				result.Best = ev.Configuration
			}
		}
	}

	if result.BestIndex < 0 {
		return result, errors.Newf(errors.ErrNoValidConfiguration,
			"all %d evaluations failed", budget).WithOperation(op)
	}

	d.config.Metrics.SetBestScore(result.BestScore)
	d.logger.Debug("Optimization finished",
		zap.Int("budget", budget),
		zap.Int("dropped", result.Dropped),
		zap.Float64("best_score", result.BestScore),
		zap.Stringer("best", result.Best),
	)
	return result, nil
}

// evaluate scores pending in place. Results land in their own slot, so the
// outcome does not depend on goroutine scheduling.
func (d *Driver) evaluate(ctx context.Context, objective Objective, pending []Evaluation) {
	if len(pending) == 1 || d.config.Workers < 2 {
		for i := range pending {
			d.evaluateOne(ctx, objective, &pending[i])
		}
		return
	}

	p := pool.New().WithMaxGoroutines(d.config.Workers)
	for i := range pending {
		ev := &pending[i]
		p.Go(func() {
			d.evaluateOne(ctx, objective, ev)
		})
	}
	p.Wait()
}

func (d *Driver) evaluateOne(ctx context.Context, objective Objective, ev *Evaluation) {
	start := time.Now()
	score, err := callObjective(ctx, objective, ev.Configuration)
	if err == nil && math.IsNaN(score) {
		err = errors.New(errors.ErrInvalidConfiguration, "objective returned NaN")
	}
	d.config.Metrics.ObserveEvaluation(ev.Branch, time.Since(start), err)

	if err != nil {
		ev.Score = math.NaN()
		ev.Err = err
		d.logger.Warn("Dropped evaluation",
			zap.Int("index", ev.Index),
			zap.String("branch", ev.Branch),
			zap.Stringer("configuration", ev.Configuration),
			zap.Error(err),
		)
		return
	}

	ev.Score = score
	d.logger.Debug("Evaluation",
		zap.Int("index", ev.Index),
		zap.String("branch", ev.Branch),
		zap.Stringer("configuration", ev.Configuration),
		zap.Float64("score", score),
	)
}

// callObjective turns a panicking objective into a dropped evaluation.
func callObjective(ctx context.Context, objective Objective, cfg searchspace.Configuration) (score float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Recovered(rec, errors.ErrInvalidConfiguration)
		}
	}()
	return objective(ctx, cfg)
}

// newRand returns a generator seeded with seed, or one seeded from the
// clock when seed is 0.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
