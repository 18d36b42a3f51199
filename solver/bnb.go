package solver

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"
)

const intTol = 1e-6

func init() {
	Register(DefaultBackend, NewBranchAndBound())
}

// BranchAndBound is the built-in MILP backend: depth-first branch and bound
// over the integer columns, with a dense simplex solving each relaxation.
type BranchAndBound struct {
	Log      zerolog.Logger
	MaxNodes int
}

// NewBranchAndBound returns a backend with default limits and no logging.
func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{Log: zerolog.Nop(), MaxNodes: 500000}
}

type bnbNode struct {
	lower []float64
	upper []float64
}

// Solve runs branch and bound on p within the limits in opts. The returned
// Result carries duals of the linear program obtained by fixing every integer
// column at its optimal value, which is where the market-clearing shadow
// prices come from.
func (s *BranchAndBound) Solve(ctx context.Context, p *Problem, opts Options) (*Result, error) {
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	root := bnbNode{
		lower: append([]float64(nil), p.Lower...),
		upper: append([]float64(nil), p.Upper...),
	}
	stack := []bnbNode{root}

	var incumbent []float64
	incObj := math.Inf(1)
	nodes := 0
	timedOut := false

	for len(stack) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			timedOut = true
			break
		}
		if err := ctx.Err(); err != nil {
			timedOut = true
			break
		}
		nodes++
		if s.MaxNodes > 0 && nodes > s.MaxNodes {
			timedOut = true
			break
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rel := lpSolve(p, node.lower, node.upper)
		switch rel.status {
		case lpInfeasible:
			continue
		case lpUnbounded:
			if nodes == 1 {
				return &Result{Status: StatusUnbounded}, nil
			}
			continue
		case lpError:
			return &Result{Status: StatusError}, nil
		}

		// Bound pruning, honoring the relative optimality gap.
		if incumbent != nil {
			cutoff := incObj - opts.MIPGap*math.Max(math.Abs(incObj), 1e-9)
			if rel.obj >= cutoff-tol {
				continue
			}
		}

		branchCol := -1
		worstFrac := intTol
		for j := 0; j < p.NumVars(); j++ {
			if !p.Integer[j] {
				continue
			}
			f := math.Abs(rel.x[j] - math.Round(rel.x[j]))
			if f > worstFrac {
				worstFrac = f
				branchCol = j
			}
		}
		if branchCol < 0 {
			// Integral relaxation: new incumbent.
			if rel.obj < incObj-tol {
				incObj = rel.obj
				incumbent = append([]float64(nil), rel.x...)
				s.Log.Debug().Int("nodes", nodes).Float64("objective", incObj).Msg("new incumbent")
			}
			continue
		}

		floor := math.Floor(rel.x[branchCol])
		down := bnbNode{
			lower: append([]float64(nil), node.lower...),
			upper: append([]float64(nil), node.upper...),
		}
		down.upper[branchCol] = floor
		up := bnbNode{
			lower: append([]float64(nil), node.lower...),
			upper: append([]float64(nil), node.upper...),
		}
		up.lower[branchCol] = floor + 1
		stack = append(stack, down, up)
	}

	if incumbent == nil {
		if timedOut {
			return &Result{Status: StatusTimedOut}, nil
		}
		return &Result{Status: StatusInfeasible}, nil
	}
	if timedOut {
		return &Result{Status: StatusTimedOut, Objective: incObj, Values: incumbent}, nil
	}

	// Re-solve with integers pinned to recover constraint shadow prices.
	lower := append([]float64(nil), p.Lower...)
	upper := append([]float64(nil), p.Upper...)
	for j := 0; j < p.NumVars(); j++ {
		if p.Integer[j] {
			v := math.Round(incumbent[j])
			lower[j] = v
			upper[j] = v
		}
	}
	fixed := lpSolve(p, lower, upper)
	res := &Result{Status: StatusOptimal, Objective: incObj, Values: incumbent}
	if fixed.status == lpOptimal {
		res.Duals = fixed.duals
		res.Values = fixed.x
		res.Objective = fixed.obj
	}
	s.Log.Debug().Int("nodes", nodes).Float64("objective", res.Objective).Msg("branch and bound finished")
	return res, nil
}
