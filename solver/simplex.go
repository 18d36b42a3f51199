package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// lpStatus is the outcome of a single linear relaxation.
type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
	lpError
)

type lpResult struct {
	status lpStatus
	obj    float64
	x      []float64 // one value per problem column
	duals  []float64 // one value per problem row
}

// colSplit records how a problem column maps onto standard-form columns:
// x_j = std[pos] - std[neg] + off, with neg < 0 when the column was not split.
type colSplit struct {
	pos int
	neg int
	off float64
}

const (
	maxIterations = 50000
	degenLimit    = 200
)

// lpSolve solves the linear relaxation of p with the given bound vectors
// using a dense big-M simplex. Duals are recovered from the final basis by
// solving the transposed basis system.
func lpSolve(p *Problem, lower, upper []float64) lpResult {
	n0 := p.NumVars()

	// Map problem columns to shifted or split standard-form columns.
	splits := make([]colSplit, n0)
	nStruct := 0
	for j := 0; j < n0; j++ {
		if lower[j] > upper[j]+tol {
			return lpResult{status: lpInfeasible}
		}
		if math.IsInf(lower[j], -1) {
			splits[j] = colSplit{pos: nStruct, neg: nStruct + 1}
			nStruct += 2
		} else {
			splits[j] = colSplit{pos: nStruct, neg: -1, off: lower[j]}
			nStruct++
		}
	}

	// Assemble the row set: problem rows first, then finite upper bounds.
	type stdRow struct {
		terms []Term
		sense Sense
		rhs   float64
		orig  int // index into p.Rows, -1 for bound rows
	}
	rows := make([]stdRow, 0, len(p.Rows)+n0)
	for i := range p.Rows {
		rows = append(rows, stdRow{terms: p.Rows[i].Terms, sense: p.Rows[i].Sense, rhs: p.Rows[i].RHS, orig: i})
	}
	for j := 0; j < n0; j++ {
		if !math.IsInf(upper[j], 1) {
			rows = append(rows, stdRow{terms: []Term{{Col: j, Coef: 1}}, sense: LessEqual, rhs: upper[j], orig: -1})
		}
	}
	m := len(rows)

	// Dense standard-form matrix: structural, slack and artificial columns.
	nTotal := nStruct + 2*m // generous upper bound on slack+artificial count
	a0 := make([][]float64, m)
	tab := make([][]float64, m)
	b := make([]float64, m)
	cost := make([]float64, nTotal)
	rowScale := make([]float64, m)

	maxAbsC := 1.0
	for j := 0; j < n0; j++ {
		if v := math.Abs(p.Obj[j]); v > maxAbsC {
			maxAbsC = v
		}
	}
	bigM := 1e7 * maxAbsC

	for j := 0; j < n0; j++ {
		cost[splits[j].pos] = p.Obj[j]
		if splits[j].neg >= 0 {
			cost[splits[j].neg] = -p.Obj[j]
		}
	}

	basis := make([]int, m)
	nCols := nStruct
	for i, r := range rows {
		dense := make([]float64, nTotal)
		rhs := r.rhs
		for _, t := range r.terms {
			s := splits[t.Col]
			dense[s.pos] += t.Coef
			if s.neg >= 0 {
				dense[s.neg] -= t.Coef
			}
			rhs -= t.Coef * s.off
		}
		sense := r.sense
		rowScale[i] = 1
		if rhs < 0 {
			for j := range dense[:nStruct] {
				dense[j] = -dense[j]
			}
			rhs = -rhs
			rowScale[i] = -1
			switch sense {
			case LessEqual:
				sense = GreaterEqual
			case GreaterEqual:
				sense = LessEqual
			}
		}
		switch sense {
		case LessEqual:
			dense[nCols] = 1 // slack doubles as initial basic column
			basis[i] = nCols
			nCols++
		case GreaterEqual:
			dense[nCols] = -1 // surplus
			nCols++
			dense[nCols] = 1 // artificial
			cost[nCols] = bigM
			basis[i] = nCols
			nCols++
		case Equal:
			dense[nCols] = 1 // artificial
			cost[nCols] = bigM
			basis[i] = nCols
			nCols++
		}
		b[i] = rhs
		a0[i] = append([]float64(nil), dense...)
		tab[i] = dense
	}
	artStart := nStruct
	isArtificial := func(col int) bool { return col >= artStart && cost[col] == bigM }
	rowOrig := make([]int, m)
	for i := range rows {
		rowOrig[i] = rows[i].orig
	}

	// Big-M primal simplex with a Bland fallback under degeneracy.
	degenerate := 0
	for iter := 0; iter < maxIterations; iter++ {
		// Reduced costs under the current basis.
		cb := make([]float64, m)
		for i := range basis {
			cb[i] = cost[basis[i]]
		}
		entering := -1
		best := -tol
		for j := 0; j < nCols; j++ {
			d := cost[j]
			for i := 0; i < m; i++ {
				if tab[i][j] != 0 {
					d -= cb[i] * tab[i][j]
				}
			}
			if d < -tol {
				if degenerate >= degenLimit {
					entering = j // Bland: first improving column
					break
				}
				if d < best {
					best = d
					entering = j
				}
			}
		}
		if entering < 0 {
			// Optimal for the big-M program; positive artificials mean infeasible.
			for i := 0; i < m; i++ {
				if isArtificial(basis[i]) && b[i] > 1e-6 {
					return lpResult{status: lpInfeasible}
				}
			}
			return finishLP(p, splits, rowOrig, rowScale, a0, tab, b, cost, basis, m, nCols, artStart, bigM)
		}

		leaving := -1
		ratio := math.Inf(1)
		for i := 0; i < m; i++ {
			if tab[i][entering] > tol {
				r := b[i] / tab[i][entering]
				if r < ratio-tol || (r < ratio+tol && (leaving < 0 || basis[i] < basis[leaving])) {
					ratio = r
					leaving = i
				}
			}
		}
		if leaving < 0 {
			// No limiting row: unbounded unless artificials still carry weight.
			for i := 0; i < m; i++ {
				if isArtificial(basis[i]) && b[i] > 1e-6 {
					return lpResult{status: lpInfeasible}
				}
			}
			return lpResult{status: lpUnbounded}
		}
		if ratio < tol {
			degenerate++
		} else {
			degenerate = 0
		}
		pivot(tab, b, leaving, entering, m, nCols)
		basis[leaving] = entering
	}
	return lpResult{status: lpError}
}

func pivot(tab [][]float64, b []float64, row, col, m, nCols int) {
	pv := tab[row][col]
	for j := 0; j < nCols; j++ {
		tab[row][j] /= pv
	}
	b[row] /= pv
	for i := 0; i < m; i++ {
		if i == row {
			continue
		}
		f := tab[i][col]
		if f == 0 {
			continue
		}
		for j := 0; j < nCols; j++ {
			tab[i][j] -= f * tab[row][j]
		}
		b[i] -= f * b[row]
	}
}

// finishLP composes the solution vector, recovers duals from the final basis
// and maps both back onto the original problem rows and columns.
func finishLP(p *Problem, splits []colSplit, rowOrig []int, rowScale []float64,
	a0, tab [][]float64, b []float64, cost []float64, basis []int,
	m, nCols, artStart int, bigM float64) lpResult {

	// Pivot zero-level artificials out of the basis where a substitute column
	// exists, so the dual system is not polluted by big-M costs.
	for i := 0; i < m; i++ {
		if basis[i] < artStart || cost[basis[i]] != bigM {
			continue
		}
		for j := 0; j < artStart; j++ {
			if math.Abs(tab[i][j]) > 1e-6 {
				pivot(tab, b, i, j, m, nCols)
				basis[i] = j
				break
			}
		}
	}

	xStd := make([]float64, nCols)
	for i := 0; i < m; i++ {
		xStd[basis[i]] = b[i]
	}
	x := make([]float64, p.NumVars())
	for j := range x {
		v := xStd[splits[j].pos] + splits[j].off
		if splits[j].neg >= 0 {
			v -= xStd[splits[j].neg]
		}
		x[j] = v
	}
	obj := 0.0
	for j, c := range p.Obj {
		obj += c * x[j]
	}

	duals := solveDuals(a0, cost, basis, m)
	out := make([]float64, len(p.Rows))
	for i := 0; i < m; i++ {
		if rowOrig[i] >= 0 && duals != nil {
			out[rowOrig[i]] = duals[i] * rowScale[i]
		}
	}
	return lpResult{status: lpOptimal, obj: obj, x: x, duals: out}
}

// solveDuals solves Bᵀy = c_B for the final basis B using the untouched
// standard-form matrix.
func solveDuals(a0 [][]float64, cost []float64, basis []int, m int) []float64 {
	bt := mat.NewDense(m, m, nil)
	cb := mat.NewVecDense(m, nil)
	for k, col := range basis {
		for i := 0; i < m; i++ {
			bt.Set(k, i, a0[i][col]) // transposed on the fly
		}
		cb.SetVec(k, cost[col])
	}
	var y mat.VecDense
	if err := y.SolveVec(bt, cb); err != nil {
		return nil
	}
	out := make([]float64, m)
	for i := 0; i < m; i++ {
		out[i] = y.AtVec(i)
	}
	return out
}

func (s lpStatus) String() string {
	switch s {
	case lpOptimal:
		return "optimal"
	case lpInfeasible:
		return "infeasible"
	case lpUnbounded:
		return "unbounded"
	default:
		return fmt.Sprintf("lpStatus(%d)", int(s))
	}
}
