// Package settlement turns a solved community sizing run into money flows:
// disaggregated cost components per installation, internal market
// compensations at the pool clearing prices, and the final bill of every
// member according to their ownership shares.
package settlement

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/devskill-org/rec-sizing/milp"
)

// Costs breaks each installation's objective contribution into its components.
type Costs struct {
	// RetailerExchanges is the net cost of buying from and selling to the
	// retailer, in EUR.
	RetailerExchanges map[string]float64 `json:"retailer_exchanges_cost"`
	// SelfConsumptionTariff is the grid access cost on self-consumed
	// energy, in EUR.
	SelfConsumptionTariff map[string]float64 `json:"sc_tariff_cost"`
	ContractedPower       map[string]float64 `json:"contractedpower_cost"`
	BatteryInvestments    map[string]float64 `json:"batteries_investments_cost"`
	PVInvestments         map[string]float64 `json:"pv_investments_cost"`
}

// InternalMarket carries the pool compensations and the installation costs
// after netting them out.
type InternalMarket struct {
	// SoldPosition is each installation's internally sold minus bought
	// energy per timestep, in kWh.
	SoldPosition map[string][]float64 `json:"sold_position"`
	// Compensation is what each installation receives (positive) or pays
	// (negative) on the internal market, in EUR.
	Compensation map[string]float64 `json:"internal_market"`
	// CompensatedCost is the individual cost net of the compensation.
	CompensatedCost map[string]float64 `json:"installation_cost_compensations"`
}

// MemberCosts allocates installation costs to members by ownership share.
type MemberCosts struct {
	PerInstallation            map[string]map[string]float64 `json:"member_cost_installation"`
	Total                      map[string]float64            `json:"member_cost"`
	CompensatedPerInstallation map[string]map[string]float64 `json:"member_cost_compensations_installation"`
	CompensatedTotal           map[string]float64            `json:"member_cost_compensations"`
}

// DisaggregateCosts splits each installation's cost into retailer
// exchanges, self-consumption tariffs, contracted power and investments.
// Per-timestep terms are weighted by the representative-day weights, one-off
// terms scale with the original horizon length.
func DisaggregateCosts(res *milp.Outputs, in *milp.Inputs) (*Costs, error) {
	if res.Status != "Optimal" {
		return nil, fmt.Errorf("cannot settle a %q run", res.Status)
	}
	weights := in.Weights
	nrDaysOld := in.NrDaysOriginal
	if nrDaysOld == 0 {
		nrDaysOld = in.NrDays
	}
	c := &Costs{
		RetailerExchanges:     map[string]float64{},
		SelfConsumptionTariff: map[string]float64{},
		ContractedPower:       map[string]float64{},
		BatteryInvestments:    map[string]float64{},
		PVInvestments:         map[string]float64{},
	}
	for _, n := range in.MeterIDs() {
		meter := in.Meters[n]
		var retailer, scTariff float64
		for t := range res.ESup[n] {
			w := 1.0
			if len(weights) > t {
				w = weights[t]
			}
			retailer += w * (res.ESup[n][t]*meter.LBuy[t] - res.ESur[n][t]*meter.LSell[t])
			scTariff += w * res.ESlc[n][t] * in.LGrid[t]
		}
		c.RetailerExchanges[n] = roundTo(retailer, 5)
		c.SelfConsumptionTariff[n] = roundTo(scTariff, 5)
		c.ContractedPower[n] = roundTo(res.PCont[n]*meter.LCont*nrDaysOld, 5)
		c.BatteryInvestments[n] = roundTo(res.EBnNew[n]*meter.LBic*nrDaysOld, 5)
		c.PVInvestments[n] = roundTo(res.PGnNew[n]*meter.LGic*nrDaysOld, 5)
	}
	return c, nil
}

// SettleInternalMarket prices every installation's internal trades at the
// pool clearing prices. Compensations are a pure transfer between
// installations: they must sum to zero, and the compensated costs must
// still add up to the collective objective value.
func SettleInternalMarket(res *milp.Outputs, in *milp.Inputs) (*InternalMarket, error) {
	if res.Status != "Optimal" {
		return nil, fmt.Errorf("cannot settle a %q run", res.Status)
	}
	weights := in.Weights
	im := &InternalMarket{
		SoldPosition:    map[string][]float64{},
		Compensation:    map[string]float64{},
		CompensatedCost: map[string]float64{},
	}
	compensationSum := decimal.Zero
	compensatedSum := decimal.Zero
	for _, n := range in.MeterIDs() {
		position := make([]float64, len(res.EPur[n]))
		var compensation float64
		for t := range position {
			w := 1.0
			if len(weights) > t {
				w = weights[t]
			}
			position[t] = res.ESale[n][t] - res.EPur[n][t]
			compensation += w * res.DualPrices[t] * position[t]
		}
		im.SoldPosition[n] = position
		im.Compensation[n] = roundTo(compensation, 4)
		im.CompensatedCost[n] = roundTo(res.CInd[n]-im.Compensation[n], 4)
		compensationSum = compensationSum.Add(decimal.NewFromFloat(im.Compensation[n]))
		compensatedSum = compensatedSum.Add(decimal.NewFromFloat(im.CompensatedCost[n]))
	}
	if !compensationSum.Round(3).IsZero() {
		return nil, fmt.Errorf("internal market compensations sum to %s, want 0", compensationSum)
	}
	if obj := decimal.NewFromFloat(res.ObjValue); !compensatedSum.Round(2).Equal(obj.Round(2)) {
		return nil, fmt.Errorf("compensated installation costs sum to %s, want objective %s",
			compensatedSum, obj)
	}
	return im, nil
}

// SettleMembers splits installation costs between members according to
// ownership shares. The shares of one installation are expected to sum
// to 1; members absent from an installation simply do not get a slice
// of it.
func SettleMembers(res *milp.Outputs, im *InternalMarket, ownership map[string]map[string]float64) (*MemberCosts, error) {
	mc := &MemberCosts{
		PerInstallation:            map[string]map[string]float64{},
		Total:                      map[string]float64{},
		CompensatedPerInstallation: map[string]map[string]float64{},
		CompensatedTotal:           map[string]float64{},
	}
	for n, shares := range ownership {
		cInd, ok := res.CInd[n]
		if !ok {
			return nil, fmt.Errorf("ownership references unknown installation %q", n)
		}
		for m, share := range shares {
			if mc.PerInstallation[m] == nil {
				mc.PerInstallation[m] = map[string]float64{}
				mc.CompensatedPerInstallation[m] = map[string]float64{}
			}
			mc.PerInstallation[m][n] = roundTo(cInd*share, 4)
			mc.CompensatedPerInstallation[m][n] = roundTo(im.CompensatedCost[n]*share, 4)
		}
	}
	memberSum := decimal.Zero
	memberCompensatedSum := decimal.Zero
	for m, perInst := range mc.PerInstallation {
		total := decimal.Zero
		compensated := decimal.Zero
		for n := range perInst {
			total = total.Add(decimal.NewFromFloat(mc.PerInstallation[m][n]))
			compensated = compensated.Add(decimal.NewFromFloat(mc.CompensatedPerInstallation[m][n]))
		}
		mc.Total[m], _ = total.Round(4).Float64()
		mc.CompensatedTotal[m], _ = compensated.Round(4).Float64()
		memberSum = memberSum.Add(total)
		memberCompensatedSum = memberCompensatedSum.Add(compensated)
	}
	if obj := decimal.NewFromFloat(res.ObjValue); !memberSum.Round(2).Equal(obj.Round(2)) {
		return nil, fmt.Errorf("member costs sum to %s, want objective %s", memberSum, obj)
	}
	installationSum := decimal.Zero
	for _, c := range im.CompensatedCost {
		installationSum = installationSum.Add(decimal.NewFromFloat(c))
	}
	if !memberCompensatedSum.Round(2).Equal(installationSum.Round(2)) {
		return nil, fmt.Errorf("compensated member costs sum to %s, want %s",
			memberCompensatedSum, installationSum)
	}
	return mc, nil
}

func roundTo(x float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(x*pow) / pow
}
