package milp

import (
	"math"

	"github.com/devskill-org/rec-sizing/solver"
)

// Outputs holds the solved operating plan and sizing decisions, plus the
// derived cost metrics and internal market prices.
type Outputs struct {
	Status   string  `json:"milp_status"`
	ObjValue float64 `json:"obj_value"`

	PCont    map[string]float64 `json:"p_cont"`
	PGnNew   map[string]float64 `json:"p_gn_new"`
	PGnTotal map[string]float64 `json:"p_gn_total"`
	EBnNew   map[string]float64 `json:"e_bn_new"`
	EBnTotal map[string]float64 `json:"e_bn_total"`

	ECmet     map[string][]float64 `json:"e_cmet"`
	EG        map[string][]float64 `json:"e_g"`
	EBc       map[string][]float64 `json:"e_bc"`
	EBd       map[string][]float64 `json:"e_bd"`
	EBat      map[string][]float64 `json:"e_bat"`
	ESup      map[string][]float64 `json:"e_sup_retail"`
	ESur      map[string][]float64 `json:"e_sur_retail"`
	EPur      map[string][]float64 `json:"e_pur_pool"`
	ESale     map[string][]float64 `json:"e_sale_pool"`
	ESlc      map[string][]float64 `json:"e_slc_pool"`
	EConsumed map[string][]float64 `json:"e_consumed"`
	EAlc      map[string][]float64 `json:"e_alc"`

	DeltaBc   map[string][]float64 `json:"delta_bc"`
	DeltaSup  map[string][]float64 `json:"delta_sup"`
	DeltaSlc  map[string][]float64 `json:"delta_slc"`
	DeltaCmet map[string][]float64 `json:"delta_cmet"`
	DeltaAlc  map[string][]float64 `json:"delta_alc"`

	DeltaCoeff        map[string][]float64 `json:"delta_coeff,omitempty"`
	DeltaRecBalance   []float64            `json:"delta_rec_balance,omitempty"`
	DeltaMeterBalance map[string][]float64 `json:"delta_meter_balance,omitempty"`

	EVStored    map[string]map[string][]float64 `json:"ev_stored,omitempty"`
	EVCharge    map[string]map[string][]float64 `json:"ev_charge,omitempty"`
	EVDischarge map[string]map[string][]float64 `json:"ev_discharge,omitempty"`

	EwhTemp         map[string]map[string][]float64 `json:"ewh_temp,omitempty"`
	EwhDuty         map[string]map[string][]float64 `json:"ewh_duty,omitempty"`
	EwhLoad         map[string]map[string][]float64 `json:"ewh_load,omitempty"`
	EwhComfortSlack map[string]map[string][]float64 `json:"ewh_comfort_slack,omitempty"`

	// CInd is each meter's individual cost over the horizon, in EUR.
	// Positive values are costs, negative values are profits.
	CInd map[string]float64 `json:"c_ind2pool"`
	// DualPrices are the pool-clearing shadow prices, one per timestep,
	// in EUR/kWh. They serve as the internal market prices.
	DualPrices []float64 `json:"dual_prices"`
}

func roundTo(x float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(x*pow) / pow
}

// Extract reads the solved variable values back out of the model and
// computes the derived metrics. A non-optimal result yields only the
// status, mirroring a solver failure upstream.
func (cp *CollectivePool) Extract(res *solver.Result) *Outputs {
	out := &Outputs{Status: string(res.Status)}
	if res.Status != solver.StatusOptimal {
		cp.log.Warn().Str("status", out.Status).Msg("no optimal solution to extract")
		return out
	}

	p := cp.Params
	v := cp.vars
	out.ObjValue = roundTo(res.Objective, 3)

	out.PCont = map[string]float64{}
	out.PGnNew = map[string]float64{}
	out.PGnTotal = map[string]float64{}
	out.EBnNew = map[string]float64{}
	out.EBnTotal = map[string]float64{}
	out.ECmet = map[string][]float64{}
	out.EG = map[string][]float64{}
	out.EBc = map[string][]float64{}
	out.EBd = map[string][]float64{}
	out.EBat = map[string][]float64{}
	out.ESup = map[string][]float64{}
	out.ESur = map[string][]float64{}
	out.EPur = map[string][]float64{}
	out.ESale = map[string][]float64{}
	out.ESlc = map[string][]float64{}
	out.EConsumed = map[string][]float64{}
	out.EAlc = map[string][]float64{}
	out.DeltaBc = map[string][]float64{}
	out.DeltaSup = map[string][]float64{}
	out.DeltaSlc = map[string][]float64{}
	out.DeltaCmet = map[string][]float64{}
	out.DeltaAlc = map[string][]float64{}
	if cp.in.StrictPosCoeffs {
		out.DeltaCoeff = map[string][]float64{}
	}
	if cp.in.TotalShareCoeffs {
		out.DeltaRecBalance = seriesValues(res, v.dRec)
		out.DeltaMeterBalance = map[string][]float64{}
	}

	for _, n := range p.MeterIDs {
		out.PCont[n] = roundTo(res.Values[int(v.pCont[n])], 6)
		out.PGnNew[n] = roundTo(res.Values[int(v.pGnNew[n])], 6)
		out.PGnTotal[n] = roundTo(res.Values[int(v.pGnTotal[n])], 6)
		out.EBnNew[n] = roundTo(res.Values[int(v.eBnNew[n])], 6)
		out.EBnTotal[n] = roundTo(res.Values[int(v.eBnTotal[n])], 6)

		out.ECmet[n] = seriesValues(res, v.eCmet[n])
		out.EG[n] = seriesValues(res, v.eG[n])
		out.EBc[n] = seriesValues(res, v.eBc[n])
		out.EBd[n] = seriesValues(res, v.eBd[n])
		out.EBat[n] = seriesValues(res, v.eBat[n])
		out.ESup[n] = seriesValues(res, v.eSup[n])
		out.ESur[n] = seriesValues(res, v.eSur[n])
		out.EPur[n] = seriesValues(res, v.ePur[n])
		out.ESale[n] = seriesValues(res, v.eSale[n])
		out.ESlc[n] = seriesValues(res, v.eSlc[n])
		out.EConsumed[n] = seriesValues(res, v.eConsumed[n])
		out.EAlc[n] = seriesValues(res, v.eAlc[n])
		out.DeltaBc[n] = seriesValues(res, v.dBc[n])
		out.DeltaSup[n] = seriesValues(res, v.dSup[n])
		out.DeltaSlc[n] = seriesValues(res, v.dSlc[n])
		out.DeltaCmet[n] = seriesValues(res, v.dCmet[n])
		out.DeltaAlc[n] = seriesValues(res, v.dAlc[n])
		if cp.in.StrictPosCoeffs {
			out.DeltaCoeff[n] = seriesValues(res, v.dCoeff[n])
		}
		if cp.in.TotalShareCoeffs {
			out.DeltaMeterBalance[n] = seriesValues(res, v.dMeter[n])
		}

		if len(p.EVIDs[n]) > 0 {
			out.EVStored = ensureNested(out.EVStored, n)
			out.EVCharge = ensureNested(out.EVCharge, n)
			out.EVDischarge = ensureNested(out.EVDischarge, n)
			for _, ev := range p.EVIDs[n] {
				out.EVStored[n][ev] = seriesValues(res, v.evStored[n][ev])
				out.EVCharge[n][ev] = seriesValues(res, v.evCharge[n][ev])
				out.EVDischarge[n][ev] = seriesValues(res, v.evDischarge[n][ev])
			}
		}
		if len(p.EWHIDs[n]) > 0 {
			out.EwhTemp = ensureNested(out.EwhTemp, n)
			out.EwhDuty = ensureNested(out.EwhDuty, n)
			out.EwhLoad = ensureNested(out.EwhLoad, n)
			out.EwhComfortSlack = ensureNested(out.EwhComfortSlack, n)
			for _, h := range p.EWHIDs[n] {
				out.EwhTemp[n][h] = seriesValues(res, v.ewhTemp[n][h])
				out.EwhDuty[n][h] = seriesValues(res, v.ewhDuty[n][h])
				out.EwhComfortSlack[n][h] = seriesValues(res, v.ewhSlack[n][h])
				power := cp.in.Meters[n].EWHs[h].Power
				load := make([]float64, p.Steps)
				for t := 0; t < p.Steps; t++ {
					load[t] = roundTo(res.Values[int(v.ewhDuty[n][h][t])]*power*p.DeltaT, 6)
				}
				out.EwhLoad[n][h] = load
			}
		}
	}

	// Each meter's weighted energy, degradation and comfort costs over the
	// horizon plus its share of the sizing investments. Internal trades
	// cancel community-wide, so these sum to ObjValue.
	out.CInd = map[string]float64{}
	for _, n := range p.MeterIDs {
		var c float64
		deg := p.DegCost[n]
		for t := 0; t < p.Steps; t++ {
			c += p.Weights[t] * (out.ESup[n][t]*p.LBuy[n][t] -
				out.ESur[n][t]*p.LSell[n][t] +
				out.ESlc[n][t]*p.LGrid[t] +
				deg*(out.EBc[n][t]+out.EBd[n][t]))
			for _, h := range p.EWHIDs[n] {
				if pen := cp.in.Meters[n].EWHs[h].ComfortPenalty; pen != 0 {
					c += p.Weights[t] * pen * out.EwhComfortSlack[n][h][t]
				}
			}
		}
		c += out.PCont[n] * p.LCont[n] * p.NrDaysOrig
		c += out.PGnNew[n] * p.LGic[n] * p.NrDaysOrig
		c += out.EBnNew[n] * p.LBic[n] * p.NrDaysOrig
		out.CInd[n] = roundTo(c, 3)
	}

	// The pool-clearing shadow prices become the internal market prices.
	// The weighted objective scales each dual by its timestep weight, so
	// the published price divides it back out.
	out.DualPrices = make([]float64, p.Steps)
	for t := 0; t < p.Steps; t++ {
		pi := res.Duals[cp.eqRows[t]]
		out.DualPrices[t] = roundTo(math.Abs(pi)/p.Weights[t], 4)
	}

	return out
}

func seriesValues(res *solver.Result, refs []VarRef) []float64 {
	vals := make([]float64, len(refs))
	for i, r := range refs {
		vals[i] = roundTo(res.Values[int(r)], 6)
	}
	return vals
}

func ensureNested(m map[string]map[string][]float64, n string) map[string]map[string][]float64 {
	if m == nil {
		m = map[string]map[string][]float64{}
	}
	if m[n] == nil {
		m[n] = map[string][]float64{}
	}
	return m
}
