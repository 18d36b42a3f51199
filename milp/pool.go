package milp

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/devskill-org/rec-sizing/solver"
)

// MarketEquilibriumName returns the stable name of the pool-clearing
// constraint at timestep t. Its shadow price is published as the internal
// market price, which makes this naming part of the output contract.
// When the optimum is degenerate several dual vectors are valid; the
// published price is the one of the solver's final basis, so it can differ
// between solvers at degenerate timesteps even though the primal solution
// and objective agree.
func MarketEquilibriumName(t int) string {
	return fmt.Sprintf("market_equilibrium_t%03d", t)
}

// CollectivePool is one fully built sizing/dispatch MILP for a community
// under a pool market structure. Construction is a pure one-shot build:
// changing any input requires a new CollectivePool.
type CollectivePool struct {
	Params *Params
	Model  *Model

	in     *Inputs
	log    zerolog.Logger
	eqRows []int // market-equilibrium row per timestep
	vars   *poolVars
}

// Option adjusts the construction of a CollectivePool.
type Option func(*CollectivePool)

// WithLogger attaches a logger to the build and extraction steps.
func WithLogger(log zerolog.Logger) Option {
	return func(cp *CollectivePool) { cp.log = log }
}

type poolVars struct {
	pCont, pGnNew, pGnTotal map[string]VarRef
	eBnNew, eBnTotal        map[string]VarRef

	eCmet, eG, eBc, eBd, eBat          map[string][]VarRef
	eSup, eSur, ePur, eSale, eSlc      map[string][]VarRef
	eConsumed, eAlc                    map[string][]VarRef
	dBc, dSup, dSlc, dCmet, dAlc       map[string][]VarRef
	dCoeff, dMeter                     map[string][]VarRef
	dRec                               []VarRef
	evStored, evCharge, evDischarge    map[string]map[string][]VarRef
	ewhTemp, ewhDuty, ewhUse, ewhSlack map[string]map[string][]VarRef
	ewhDelta                           map[string]map[string][]VarRef
}

// NewCollectivePool unpacks the inputs and builds the complete model:
// decision variables, objective and every constraint group.
func NewCollectivePool(in *Inputs, opts ...Option) (*CollectivePool, error) {
	params, err := UnpackParams(in)
	if err != nil {
		return nil, err
	}
	cp := &CollectivePool{
		Params: params,
		Model:  NewModel(),
		in:     in,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cp)
	}
	cp.log.Debug().
		Int("meters", len(params.MeterIDs)).
		Int("timesteps", params.Steps).
		Msg("defining the collective pool MILP problem")
	cp.declareVariables()
	cp.buildObjective()
	cp.buildConstraints()
	cp.log.Debug().
		Int("variables", cp.Model.NumVars()).
		Int("constraints", cp.Model.NumRows()).
		Msg("collective pool MILP problem defined")
	return cp, nil
}

// Problem lowers the built model to the solver's general form.
func (cp *CollectivePool) Problem() *solver.Problem {
	return cp.Model.Problem()
}

func (cp *CollectivePool) declareVariables() {
	p := cp.Params
	m := cp.Model
	v := &poolVars{
		pCont:       map[string]VarRef{},
		pGnNew:      map[string]VarRef{},
		pGnTotal:    map[string]VarRef{},
		eBnNew:      map[string]VarRef{},
		eBnTotal:    map[string]VarRef{},
		eCmet:       map[string][]VarRef{},
		eG:          map[string][]VarRef{},
		eBc:         map[string][]VarRef{},
		eBd:         map[string][]VarRef{},
		eBat:        map[string][]VarRef{},
		eSup:        map[string][]VarRef{},
		eSur:        map[string][]VarRef{},
		ePur:        map[string][]VarRef{},
		eSale:       map[string][]VarRef{},
		eSlc:        map[string][]VarRef{},
		eConsumed:   map[string][]VarRef{},
		eAlc:        map[string][]VarRef{},
		dBc:         map[string][]VarRef{},
		dSup:        map[string][]VarRef{},
		dSlc:        map[string][]VarRef{},
		dCmet:       map[string][]VarRef{},
		dAlc:        map[string][]VarRef{},
		dCoeff:      map[string][]VarRef{},
		dMeter:      map[string][]VarRef{},
		evStored:    map[string]map[string][]VarRef{},
		evCharge:    map[string]map[string][]VarRef{},
		evDischarge: map[string]map[string][]VarRef{},
		ewhTemp:     map[string]map[string][]VarRef{},
		ewhDuty:     map[string]map[string][]VarRef{},
		ewhUse:      map[string]map[string][]VarRef{},
		ewhSlack:    map[string]map[string][]VarRef{},
		ewhDelta:    map[string]map[string][]VarRef{},
	}

	if cp.in.TotalShareCoeffs {
		v.dRec = make([]VarRef, p.Steps)
		for t := 0; t < p.Steps; t++ {
			v.dRec[t] = m.Var(VarKey{Kind: VarDeltaRecBalance, Step: t}, Binary)
		}
	}

	for _, n := range p.MeterIDs {
		v.pCont[n] = m.Var(VarKey{Kind: VarPCont, Meter: n, Step: NoStep}, NonNegative)
		v.pGnNew[n] = m.Var(VarKey{Kind: VarPGnNew, Meter: n, Step: NoStep}, NonNegative)
		v.pGnTotal[n] = m.Var(VarKey{Kind: VarPGnTotal, Meter: n, Step: NoStep}, NonNegative)
		v.eBnNew[n] = m.Var(VarKey{Kind: VarEBnNew, Meter: n, Step: NoStep}, NonNegative)
		v.eBnTotal[n] = m.Var(VarKey{Kind: VarEBnTotal, Meter: n, Step: NoStep}, NonNegative)

		series := func(kind VarKind, d Domain) []VarRef {
			refs := make([]VarRef, p.Steps)
			for t := 0; t < p.Steps; t++ {
				refs[t] = m.Var(VarKey{Kind: kind, Meter: n, Step: t}, d)
			}
			return refs
		}
		v.eCmet[n] = series(VarECmet, Free)
		v.eG[n] = series(VarEG, NonNegative)
		v.eBc[n] = series(VarEBc, NonNegative)
		v.eBd[n] = series(VarEBd, NonNegative)
		v.eBat[n] = series(VarEBat, NonNegative)
		v.eSup[n] = series(VarESup, NonNegative)
		v.eSur[n] = series(VarESur, NonNegative)
		v.ePur[n] = series(VarEPur, NonNegative)
		v.eSale[n] = series(VarESale, NonNegative)
		v.eSlc[n] = series(VarESlc, NonNegative)
		v.eConsumed[n] = series(VarEConsumed, NonNegative)
		v.eAlc[n] = series(VarEAlc, NonNegative)
		v.dBc[n] = series(VarDeltaBc, Binary)
		v.dSup[n] = series(VarDeltaSup, Binary)
		v.dSlc[n] = series(VarDeltaSlc, Binary)
		v.dCmet[n] = series(VarDeltaCmet, Binary)
		v.dAlc[n] = series(VarDeltaAlc, Binary)
		if cp.in.StrictPosCoeffs {
			v.dCoeff[n] = series(VarDeltaCoeff, Binary)
		}
		if cp.in.TotalShareCoeffs {
			v.dMeter[n] = series(VarDeltaMeterBalance, Binary)
		}

		v.evStored[n] = map[string][]VarRef{}
		v.evCharge[n] = map[string][]VarRef{}
		v.evDischarge[n] = map[string][]VarRef{}
		for _, ev := range p.EVIDs[n] {
			assetSeries := func(kind VarKind) []VarRef {
				refs := make([]VarRef, p.Steps)
				for t := 0; t < p.Steps; t++ {
					refs[t] = m.Var(VarKey{Kind: kind, Meter: n, Asset: ev, Step: t}, NonNegative)
				}
				return refs
			}
			v.evStored[n][ev] = assetSeries(VarEVStored)
			v.evCharge[n][ev] = assetSeries(VarEVCharge)
			v.evDischarge[n][ev] = assetSeries(VarEVDischarge)
		}

		v.ewhTemp[n] = map[string][]VarRef{}
		v.ewhDuty[n] = map[string][]VarRef{}
		v.ewhUse[n] = map[string][]VarRef{}
		v.ewhSlack[n] = map[string][]VarRef{}
		v.ewhDelta[n] = map[string][]VarRef{}
		for _, h := range p.EWHIDs[n] {
			assetSeries := func(kind VarKind, d Domain) []VarRef {
				refs := make([]VarRef, p.Steps)
				for t := 0; t < p.Steps; t++ {
					refs[t] = m.Var(VarKey{Kind: kind, Meter: n, Asset: h, Step: t}, d)
				}
				return refs
			}
			v.ewhTemp[n][h] = assetSeries(VarEwhTemp, NonNegative)
			v.ewhDuty[n][h] = assetSeries(VarEwhDuty, NonNegative)
			v.ewhUse[n][h] = assetSeries(VarEwhPostUse, NonNegative)
			v.ewhSlack[n][h] = assetSeries(VarEwhComfortSlack, NonNegative)
			v.ewhDelta[n][h] = assetSeries(VarEwhDeltaTemp, Binary)
		}
	}
	cp.vars = v
}

// buildObjective assembles the minimized cost: weighted per-timestep energy
// costs plus one-time sizing costs scaled to the represented horizon.
func (cp *CollectivePool) buildObjective() {
	p := cp.Params
	m := cp.Model
	v := cp.vars
	for _, n := range p.MeterIDs {
		for t := 0; t < p.Steps; t++ {
			w := p.Weights[t]
			m.Obj(v.eSup[n][t], p.LBuy[n][t]*w)
			m.Obj(v.eSur[n][t], -p.LSell[n][t]*w)
			m.Obj(v.eSlc[n][t], p.LGrid[t]*w)
			if deg := p.DegCost[n]; deg != 0 {
				m.Obj(v.eBc[n][t], deg*w)
				m.Obj(v.eBd[n][t], deg*w)
			}
			for _, h := range p.EWHIDs[n] {
				if pen := cp.in.Meters[n].EWHs[h].ComfortPenalty; pen != 0 {
					m.Obj(v.ewhSlack[n][h][t], pen*w)
				}
			}
		}
		m.Obj(v.pCont[n], p.LCont[n]*p.NrDaysOrig)
		m.Obj(v.pGnNew[n], p.LGic[n]*p.NrDaysOrig)
		m.Obj(v.eBnNew[n], p.LBic[n]*p.NrDaysOrig)
	}
}

func (cp *CollectivePool) buildConstraints() {
	p := cp.Params
	m := cp.Model
	v := cp.vars
	bigM := p.BigM
	dt := p.DeltaT

	cp.eqRows = make([]int, p.Steps)
	for t := 0; t < p.Steps; t++ {
		inc := fmt.Sprintf("t%03d", t)

		// Pool clearing: internal purchases equal internal sales.
		terms := make([]T, 0, 2*len(p.MeterIDs))
		for _, n := range p.MeterIDs {
			terms = append(terms, T{v.ePur[n][t], 1}, T{v.eSale[n][t], -1})
		}
		cp.eqRows[t] = m.NumRows()
		m.Eq(MarketEquilibriumName(t), 0, terms...)

		if cp.in.TotalShareCoeffs {
			// Community surplus/deficit signal: dRec=1 when the community
			// as a whole is in deficit.
			balance := make([]T, 0, len(p.MeterIDs)+1)
			for _, n := range p.MeterIDs {
				balance = append(balance, T{v.eCmet[n][t], 1})
			}
			m.Ge("check_rec_surplus_"+inc, 0, append(balance, T{v.dRec[t], bigM})...)
			m.Le("check_rec_deficit_"+inc, bigM, append(balance[:len(balance):len(balance)], T{v.dRec[t], bigM})...)
		}
	}

	for _, n := range p.MeterIDs {
		m.Le("contracted_power_limit_"+n, p.PMeterMax[n], T{v.pCont[n], 1})
		m.Eq("new_gen_installed_"+n, -p.PGnInit[n], T{v.pGnNew[n], 1}, T{v.pGnTotal[n], -1})
		m.Ge("min_new_gen_"+n, p.PGnMin[n], T{v.pGnNew[n], 1})
		m.Le("max_new_gen_"+n, p.PGnMax[n], T{v.pGnNew[n], 1})
		m.Eq("new_storage_installed_"+n, -p.EBnInit[n], T{v.eBnNew[n], 1}, T{v.eBnTotal[n], -1})
		m.Ge("min_new_storage_"+n, p.EBnMin[n], T{v.eBnNew[n], 1})
		m.Le("max_new_storage_"+n, p.EBnMax[n], T{v.eBnNew[n], 1})
	}

	for _, n := range p.MeterIDs {
		meter := cp.in.Meters[n]
		for t := 0; t < p.Steps; t++ {
			inc := fmt.Sprintf("%s_t%03d", n, t)

			// Net-load balance: every asset's contribution to the meter's
			// net position, in one place.
			balance := []T{
				{v.eCmet[n][t], 1},
				{v.eG[n][t], 1},
				{v.eBc[n][t], -1},
				{v.eBd[n][t], 1},
			}
			for _, ev := range p.EVIDs[n] {
				balance = append(balance,
					T{v.evCharge[n][ev][t], -dt},
					T{v.evDischarge[n][ev][t], dt},
				)
			}
			for _, h := range p.EWHIDs[n] {
				balance = append(balance, T{v.ewhDuty[n][h][t], -meter.EWHs[h].Power * dt})
			}
			m.Eq("net_load_"+inc, p.EC[n][t], balance...)

			// Per-meter market equilibrium.
			switch cp.in.Context {
			case ContextPortuguese:
				m.Eq("equilibrium_"+inc, 0,
					T{v.eCmet[n][t], 1}, T{v.eSup[n][t], -1}, T{v.eSur[n][t], 1},
					T{v.eSlc[n][t], -1}, T{v.eSale[n][t], 1})
			default:
				m.Eq("equilibrium_"+inc, 0,
					T{v.eCmet[n][t], 1}, T{v.eSup[n][t], -1}, T{v.eSur[n][t], 1},
					T{v.ePur[n][t], -1}, T{v.eSale[n][t], 1})
			}

			// Contracted-power envelope.
			m.Ge("p_flow_low_limit_"+inc, 0, T{v.eCmet[n][t], 1 / dt}, T{v.pCont[n], 1})
			m.Le("p_flow_high_limit_"+inc, 0, T{v.eCmet[n][t], 1 / dt}, T{v.pCont[n], -1})

			// Generation scales the exogenous profile by installed capacity.
			m.Eq("scaled_generation_"+inc, 0,
				T{v.eG[n][t], 1}, T{v.pGnTotal[n], -p.EGFactor[n][t] * dt})

			// Storage rate limits and charge/discharge exclusivity.
			m.Le("charge_rate_limit_"+inc, 0,
				T{v.eBc[n][t], 1 / dt}, T{v.eBnTotal[n], -p.StorageRatio})
			m.Le("discharge_rate_limit_"+inc, 0,
				T{v.eBd[n][t], 1 / dt}, T{v.eBnTotal[n], -p.StorageRatio})
			m.Le("no_simultaneous_charge_"+inc, 0,
				T{v.eBc[n][t], 1 / dt}, T{v.dBc[n][t], -bigM})
			m.Le("no_simultaneous_discharge_"+inc, bigM,
				T{v.eBd[n][t], 1 / dt}, T{v.dBc[n][t], bigM})

			// Storage state update, restarting from the initial SOC at every
			// representative-day boundary.
			socInit := p.SocMin[n] / 100
			update := []T{
				{v.eBat[n][t], 1},
				{v.eBc[n][t], -p.EffBC[n]},
				{v.eBd[n][t], 1 / p.EffBD[n]},
			}
			if t%p.StepsPerDay == 0 {
				update = append(update, T{v.eBnTotal[n], -socInit})
				m.Eq("energy_update_"+inc, 0, update...)
			} else {
				update = append(update, T{v.eBat[n][t-1], -1})
				m.Eq("energy_update_"+inc, 0, update...)
			}
			m.Ge("minimum_soc_"+inc, 0,
				T{v.eBat[n][t], 1}, T{v.eBnTotal[n], -p.SocMin[n] / 100})
			m.Le("maximum_soc_"+inc, 0,
				T{v.eBat[n][t], 1}, T{v.eBnTotal[n], -p.SocMax[n] / 100})

			// Retailer supply and surplus are mutually exclusive.
			m.Le("supply_on_"+inc, 0, T{v.eSup[n][t], 1}, T{v.dSup[n][t], -bigM})
			m.Le("supply_off_"+inc, bigM, T{v.eSur[n][t], 1}, T{v.dSup[n][t], bigM})

			// Self-consumption linearization. The sign of the grid access
			// tariff decides which big-M pair applies: a positive tariff
			// pushes e_slc down onto max(min(consumed, allocated), 0), a
			// negative one pulls it up, so each branch activates its own
			// binaries and pins the other branch's to zero.
			if p.LGrid[t] >= 0 {
				m.Ge("consumption_"+inc, 0, T{v.eConsumed[n][t], 1}, T{v.eCmet[n][t], -1})
				m.Ge("allocated_energy_"+inc, 0,
					T{v.eAlc[n][t], 1}, T{v.ePur[n][t], -1}, T{v.eSale[n][t], 1})
				m.Ge("self_consumption_1_"+inc, -bigM,
					T{v.eSlc[n][t], 1}, T{v.eConsumed[n][t], -1}, T{v.dSlc[n][t], -bigM})
				m.Ge("self_consumption_2_"+inc, 0,
					T{v.eSlc[n][t], 1}, T{v.eAlc[n][t], -1}, T{v.dSlc[n][t], bigM})
				m.Eq("consumption_bin_"+inc, 0, T{v.dCmet[n][t], 1})
				m.Eq("allocated_energy_bin_"+inc, 0, T{v.dAlc[n][t], 1})
			} else {
				m.Le("consumption_1_"+inc, 0,
					T{v.eConsumed[n][t], 1}, T{v.eCmet[n][t], -1}, T{v.dCmet[n][t], -bigM})
				m.Le("consumption_2_"+inc, bigM,
					T{v.eConsumed[n][t], 1}, T{v.dCmet[n][t], bigM})
				m.Le("allocated_energy_1_"+inc, 0,
					T{v.eAlc[n][t], 1}, T{v.ePur[n][t], -1}, T{v.eSale[n][t], 1}, T{v.dAlc[n][t], -bigM})
				m.Le("allocated_energy_2_"+inc, bigM,
					T{v.eAlc[n][t], 1}, T{v.dAlc[n][t], bigM})
				m.Le("self_consumption_1_"+inc, 0,
					T{v.eSlc[n][t], 1}, T{v.eConsumed[n][t], -1})
				m.Le("self_consumption_2_"+inc, 0,
					T{v.eSlc[n][t], 1}, T{v.eAlc[n][t], -1})
				m.Eq("self_consumed_energy_bin_"+inc, 0, T{v.dSlc[n][t], 1})
			}

			if cp.in.StrictPosCoeffs {
				// Allocation coefficients implied by internal trades must
				// not go negative.
				m.Le("positive_coefficients_1_"+inc, 0,
					T{v.eSale[n][t], 1}, T{v.ePur[n][t], -1},
					T{v.eCmet[n][t], 1}, T{v.dCoeff[n][t], -bigM})
				m.Le("positive_coefficients_2_"+inc, bigM,
					T{v.eSale[n][t], 1}, T{v.ePur[n][t], -1}, T{v.dCoeff[n][t], bigM})
			}

			if cp.in.TotalShareCoeffs {
				// Meter surplus/deficit signal, then the market rule: all
				// surplus is sold internally while the community is in
				// deficit, and all deficit is bought internally while the
				// community is in surplus.
				m.Ge("check_meter_surplus_"+inc, 0,
					T{v.eCmet[n][t], 1}, T{v.dMeter[n][t], bigM})
				m.Le("check_meter_deficit_"+inc, bigM,
					T{v.eCmet[n][t], 1}, T{v.dMeter[n][t], bigM})
				m.Ge("share_all_surplus_low_"+inc, -bigM,
					T{v.eSale[n][t], 1}, T{v.eCmet[n][t], 1},
					T{v.dMeter[n][t], -bigM}, T{v.dRec[t], bigM})
				m.Le("share_all_surplus_high_"+inc, bigM,
					T{v.eSale[n][t], 1}, T{v.eCmet[n][t], 1},
					T{v.dMeter[n][t], bigM}, T{v.dRec[t], -bigM})
				m.Ge("buy_all_deficit_low_"+inc, -bigM,
					T{v.ePur[n][t], 1}, T{v.eCmet[n][t], -1},
					T{v.dRec[t], -bigM}, T{v.dMeter[n][t], bigM})
				m.Le("buy_all_deficit_high_"+inc, bigM,
					T{v.ePur[n][t], 1}, T{v.eCmet[n][t], -1},
					T{v.dRec[t], bigM}, T{v.dMeter[n][t], -bigM})
			}
		}

		cp.buildEVConstraints(n)
		cp.buildEWHConstraints(n)
	}
}

// buildEVConstraints adds per-vehicle storage dynamics: round-trip
// efficiency, exogenous trip consumption, plug-in gated power limits and
// energy bounds. States restart from the initial content at each
// representative-day boundary, like stationary storage.
func (cp *CollectivePool) buildEVConstraints(n string) {
	p := cp.Params
	m := cp.Model
	v := cp.vars
	dt := p.DeltaT
	for _, evID := range p.EVIDs[n] {
		ev := cp.in.Meters[n].EVs[evID]
		stored := v.evStored[n][evID]
		charge := v.evCharge[n][evID]
		discharge := v.evDischarge[n][evID]
		for t := 0; t < p.Steps; t++ {
			inc := fmt.Sprintf("%s_%s_t%03d", n, evID, t)

			update := []T{
				{stored[t], 1},
				{charge[t], -ev.EffBC * dt},
				{discharge[t], dt / ev.EffBD},
			}
			if t%p.StepsPerDay == 0 {
				m.Eq("ev_energy_update_"+inc, ev.InitEnergy-ev.Trip[t], update...)
			} else {
				update = append(update, T{stored[t-1], -1})
				m.Eq("ev_energy_update_"+inc, -ev.Trip[t], update...)
			}

			m.Le("ev_charge_limit_"+inc, ev.PMaxCharge*ev.EffBC*ev.PluggedIn[t], T{charge[t], 1})
			m.Le("ev_discharge_limit_"+inc, ev.PMaxDischarge*ev.EffBD*ev.PluggedIn[t], T{discharge[t], 1})
			m.Ge("ev_min_energy_"+inc, ev.MinEnergy, T{stored[t], 1})
			m.Le("ev_max_energy_"+inc, ev.BatteryCapacity, T{stored[t], 1})
		}
	}
}
