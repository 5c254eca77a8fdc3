package optimization

import (
	"context"

	"github.com/copyleftdev/nestedcv/internal/searchspace"
)

// Minimizer is implemented by optimizers that spend an evaluation budget on
// a search space.
type Minimizer interface {
	// Minimize runs exactly budget objective evaluations and returns the
	// best configuration found.
	Minimize(ctx context.Context, objective Objective, budget int, space *searchspace.Space) (*Result, error)
}

// Objective scores one configuration. Lower is better.
type Objective func(ctx context.Context, cfg searchspace.Configuration) (float64, error)

// Proposal is the next point to evaluate: a branch of the flattened space
// and a value for each of the branch's live parameters.
type Proposal struct {
	Branch int
	Values map[string]float64
}

// Proposer is a replaceable sampling policy. It is called sequentially by
// the driver with the full history of finished evaluations.
type Proposer interface {
	Propose(ctx context.Context, branches []searchspace.Branch, history []Evaluation) (Proposal, error)
}

// Evaluation is the record of a single objective call.
type Evaluation struct {
	// Index is the position of the call within the budget.
	Index int `json:"index"`
	// Branch is the name of the branch the configuration belongs to.
	Branch string `json:"branch"`
	// Configuration is the evaluated point.
	Configuration searchspace.Configuration `json:"configuration"`
	// Score is the objective value; NaN when the evaluation was dropped.
	Score float64 `json:"score"`
	// Err is non-nil when the objective failed.
	Err error `json:"-"`
}

// OK reports whether the evaluation produced a usable score.
func (e Evaluation) OK() bool {
	return e.Err == nil
}

// Result is the outcome of a Minimize call.
type Result struct {
	Best      searchspace.Configuration
	BestScore float64
	// BestIndex is the Index of the best evaluation in Trace.
	BestIndex int
	// Trace holds every evaluation in proposal order, dropped ones included.
	Trace []Evaluation
	// Dropped counts evaluations whose objective failed.
	Dropped int
}
