package solver

import "time"

// Sense is the relational sense of a linear constraint.
type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

// Status classifies the outcome of a solve.
type Status string

const (
	StatusOptimal    Status = "Optimal"
	StatusInfeasible Status = "Infeasible"
	StatusUnbounded  Status = "Unbounded"
	StatusTimedOut   Status = "TimedOut"
	StatusError      Status = "Error"
)

// Term is a single coefficient on a column of the problem.
type Term struct {
	Col  int
	Coef float64
}

// Row is one linear constraint. Name must be unique within a Problem; it is
// the handle through which callers look up shadow prices.
type Row struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Problem is a mixed-integer linear program in general form, minimized.
// Upper entries may be +Inf and Lower entries -Inf for unbounded directions.
// Columns flagged in Integer are restricted to integral values (the model
// builder only ever emits 0/1 bounds for them).
type Problem struct {
	Obj     []float64
	Lower   []float64
	Upper   []float64
	Integer []bool
	Rows    []Row
}

// NumVars returns the number of columns in the problem.
func (p *Problem) NumVars() int { return len(p.Obj) }

// AddRow appends a constraint and returns its row index.
func (p *Problem) AddRow(r Row) int {
	p.Rows = append(p.Rows, r)
	return len(p.Rows) - 1
}

// Options bound the effort a backend may spend on a problem.
type Options struct {
	Timeout time.Duration
	MIPGap  float64
}

// Result carries the solution of a Problem. Values and Duals are only
// populated when Status is StatusOptimal; Duals holds one shadow price per
// problem row, in row order.
type Result struct {
	Status    Status
	Objective float64
	Values    []float64
	Duals     []float64
}

// Dual returns the shadow price of the named row, or 0 when the row is
// unknown or the result carries no duals.
func (r *Result) Dual(p *Problem, name string) float64 {
	if r.Duals == nil {
		return 0
	}
	for i := range p.Rows {
		if p.Rows[i].Name == name {
			return r.Duals[i]
		}
	}
	return 0
}

const tol = 1e-7
