package milp

import (
	"fmt"
	"math"

	"github.com/devskill-org/rec-sizing/solver"
)

// VarKind enumerates the decision-variable families of the pool model.
type VarKind int

const (
	VarPCont VarKind = iota
	VarPGnNew
	VarPGnTotal
	VarEBnNew
	VarEBnTotal
	VarECmet
	VarEG
	VarEBc
	VarEBd
	VarEBat
	VarESup
	VarESur
	VarEPur
	VarESale
	VarESlc
	VarEConsumed
	VarEAlc
	VarDeltaBc
	VarDeltaSup
	VarDeltaSlc
	VarDeltaCmet
	VarDeltaAlc
	VarDeltaCoeff
	VarDeltaRecBalance
	VarDeltaMeterBalance
	VarEVStored
	VarEVCharge
	VarEVDischarge
	VarEwhTemp
	VarEwhEnergy
	VarEwhDuty
	VarEwhPostUse
	VarEwhComfortSlack
	VarEwhDeltaTemp
)

// VarKey is the structured index of one decision variable: kind plus the
// meter, sub-asset and timestep dimensions that apply to it. Unused string
// dimensions stay empty and an unused timestep is NoStep. The extractor maps
// solver columns back to domain series through these keys alone; variable
// names are never parsed.
type VarKey struct {
	Kind  VarKind
	Meter string
	Asset string
	Step  int
}

// NoStep marks a variable without a timestep dimension.
const NoStep = -1

// Domain fixes a variable's admissible values at build time.
type Domain int

const (
	NonNegative Domain = iota
	Free
	Binary
)

// VarRef is an opaque handle to a registered variable.
type VarRef int

// T is one linear term of a constraint or objective expression.
type T struct {
	V VarRef
	C float64
}

type varDef struct {
	key    VarKey
	domain Domain
}

// Model accumulates variables, constraints and the objective of one build,
// then lowers them into a solver.Problem. It is an explicit value handed
// from the builder to the extractor; nothing about a build is global.
type Model struct {
	defs  []varDef
	index map[VarKey]int
	obj   map[VarRef]float64
	rows  []solver.Row
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{index: map[VarKey]int{}, obj: map[VarRef]float64{}}
}

// Var registers a new decision variable. Registering the same key twice is a
// builder bug and panics.
func (m *Model) Var(key VarKey, d Domain) VarRef {
	if _, dup := m.index[key]; dup {
		panic(fmt.Sprintf("milp: duplicate variable %+v", key))
	}
	ref := len(m.defs)
	m.defs = append(m.defs, varDef{key: key, domain: d})
	m.index[key] = ref
	return VarRef(ref)
}

// Ref returns the handle of a registered variable.
func (m *Model) Ref(key VarKey) (VarRef, bool) {
	i, ok := m.index[key]
	return VarRef(i), ok
}

// Obj adds c times v to the minimized objective.
func (m *Model) Obj(v VarRef, c float64) {
	m.obj[v] += c
}

// Le adds the constraint Σ terms <= rhs under the given name.
func (m *Model) Le(name string, rhs float64, terms ...T) {
	m.addRow(name, solver.LessEqual, rhs, terms)
}

// Ge adds the constraint Σ terms >= rhs under the given name.
func (m *Model) Ge(name string, rhs float64, terms ...T) {
	m.addRow(name, solver.GreaterEqual, rhs, terms)
}

// Eq adds the constraint Σ terms == rhs under the given name.
func (m *Model) Eq(name string, rhs float64, terms ...T) {
	m.addRow(name, solver.Equal, rhs, terms)
}

func (m *Model) addRow(name string, sense solver.Sense, rhs float64, terms []T) {
	// Merge repeated variables so the solver sees one coefficient per column.
	merged := map[int]float64{}
	order := make([]int, 0, len(terms))
	for _, t := range terms {
		col := int(t.V)
		if _, seen := merged[col]; !seen {
			order = append(order, col)
		}
		merged[col] += t.C
	}
	row := solver.Row{Name: name, Sense: sense, RHS: rhs}
	for _, col := range order {
		if merged[col] != 0 {
			row.Terms = append(row.Terms, solver.Term{Col: col, Coef: merged[col]})
		}
	}
	m.rows = append(m.rows, row)
}

// NumVars returns the number of registered variables.
func (m *Model) NumVars() int { return len(m.defs) }

// NumRows returns the number of constraints.
func (m *Model) NumRows() int { return len(m.rows) }

// RowIndex returns the index of the first row with the given name, or -1.
func (m *Model) RowIndex(name string) int {
	for i := range m.rows {
		if m.rows[i].Name == name {
			return i
		}
	}
	return -1
}

// Problem lowers the model into the solver's general form.
func (m *Model) Problem() *solver.Problem {
	n := len(m.defs)
	p := &solver.Problem{
		Obj:     make([]float64, n),
		Lower:   make([]float64, n),
		Upper:   make([]float64, n),
		Integer: make([]bool, n),
		Rows:    m.rows,
	}
	for i, def := range m.defs {
		switch def.domain {
		case NonNegative:
			p.Upper[i] = math.Inf(1)
		case Free:
			p.Lower[i] = math.Inf(-1)
			p.Upper[i] = math.Inf(1)
		case Binary:
			p.Upper[i] = 1
			p.Integer[i] = true
		}
	}
	for v, c := range m.obj {
		p.Obj[int(v)] += c
	}
	return p
}

// Value reads the solved value of a variable out of a solver result,
// returning 0 for variables the result does not cover.
func (m *Model) Value(res *solver.Result, key VarKey) float64 {
	i, ok := m.index[key]
	if !ok || res.Values == nil || i >= len(res.Values) {
		return 0
	}
	return res.Values[i]
}
