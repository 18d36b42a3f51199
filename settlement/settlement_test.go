package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/rec-sizing/milp"
)

// settledRun builds a hand-checked two-meter, two-step solution where
// Meter#1 sells internally in the first step and buys back in the second.
func settledRun() (*milp.Outputs, *milp.Inputs) {
	in := &milp.Inputs{
		NrDays:         1,
		NrDaysOriginal: 8,
		DeltaT:         1,
		LGrid:          []float64{0.01, 0.01},
		Meters: map[string]*milp.Meter{
			"Meter#1": {
				LBuy: []float64{2, 2}, LSell: []float64{0.5, 0.5},
				LCont: 0.1, LGic: 10, LBic: 5,
			},
			"Meter#2": {
				LBuy: []float64{1.5, 1.5}, LSell: []float64{0.4, 0.4},
				LCont: 0.2, LGic: 8, LBic: 4,
			},
		},
	}
	res := &milp.Outputs{
		Status:     "Optimal",
		ObjValue:   3.0,
		ESup:       map[string][]float64{"Meter#1": {1, 0}, "Meter#2": {0, 2}},
		ESur:       map[string][]float64{"Meter#1": {0, 1}, "Meter#2": {0, 0}},
		ESlc:       map[string][]float64{"Meter#1": {1, 1}, "Meter#2": {0.5, 0}},
		EPur:       map[string][]float64{"Meter#1": {0, 1}, "Meter#2": {1, 0}},
		ESale:      map[string][]float64{"Meter#1": {1, 0}, "Meter#2": {0, 1}},
		PCont:      map[string]float64{"Meter#1": 1, "Meter#2": 2},
		PGnNew:     map[string]float64{"Meter#1": 2, "Meter#2": 0},
		EBnNew:     map[string]float64{"Meter#1": 0, "Meter#2": 1},
		CInd:       map[string]float64{"Meter#1": 1.0, "Meter#2": 2.0},
		DualPrices: []float64{0.8, 0.9},
	}
	return res, in
}

func TestDisaggregateCosts(t *testing.T) {
	res, in := settledRun()
	c, err := DisaggregateCosts(res, in)
	require.NoError(t, err)

	assert.Equal(t, 1.5, c.RetailerExchanges["Meter#1"])
	assert.Equal(t, 3.0, c.RetailerExchanges["Meter#2"])
	assert.Equal(t, 0.02, c.SelfConsumptionTariff["Meter#1"])
	assert.Equal(t, 0.005, c.SelfConsumptionTariff["Meter#2"])
	// One-off terms scale with the original horizon of 8 days.
	assert.Equal(t, 0.8, c.ContractedPower["Meter#1"])
	assert.Equal(t, 3.2, c.ContractedPower["Meter#2"])
	assert.Equal(t, 160.0, c.PVInvestments["Meter#1"])
	assert.Equal(t, 0.0, c.PVInvestments["Meter#2"])
	assert.Equal(t, 0.0, c.BatteryInvestments["Meter#1"])
	assert.Equal(t, 32.0, c.BatteryInvestments["Meter#2"])
}

func TestDisaggregateCostsWeighted(t *testing.T) {
	res, in := settledRun()
	in.Weights = []float64{2, 1}
	c, err := DisaggregateCosts(res, in)
	require.NoError(t, err)

	// Step 0 counts twice: 2*(1*2) - 1*(1*0.5).
	assert.Equal(t, 3.5, c.RetailerExchanges["Meter#1"])
	assert.Equal(t, 0.03, c.SelfConsumptionTariff["Meter#1"])
}

func TestDisaggregateCostsNotOptimal(t *testing.T) {
	res, in := settledRun()
	res.Status = "Infeasible"
	_, err := DisaggregateCosts(res, in)
	assert.Error(t, err)
}

func TestSettleInternalMarket(t *testing.T) {
	res, in := settledRun()
	im, err := SettleInternalMarket(res, in)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, -1}, im.SoldPosition["Meter#1"])
	assert.Equal(t, []float64{-1, 1}, im.SoldPosition["Meter#2"])
	// Pool prices 0.8 and 0.9: Meter#1 earns 0.8 then pays 0.9.
	assert.Equal(t, -0.1, im.Compensation["Meter#1"])
	assert.Equal(t, 0.1, im.Compensation["Meter#2"])
	assert.Equal(t, 1.1, im.CompensatedCost["Meter#1"])
	assert.Equal(t, 1.9, im.CompensatedCost["Meter#2"])
}

func TestSettleInternalMarketNotZeroSum(t *testing.T) {
	res, in := settledRun()
	// A purchase with no matching sale breaks the transfer balance.
	res.ESale["Meter#2"] = []float64{0, 0}
	_, err := SettleInternalMarket(res, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to")
}

func TestSettleInternalMarketObjectiveMismatch(t *testing.T) {
	res, in := settledRun()
	res.ObjValue = 10
	_, err := SettleInternalMarket(res, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "objective")
}

func TestSettleMembers(t *testing.T) {
	res, in := settledRun()
	im, err := SettleInternalMarket(res, in)
	require.NoError(t, err)

	ownership := map[string]map[string]float64{
		"Meter#1": {"Alice": 0.5, "Bob": 0.5},
		"Meter#2": {"Alice": 1.0},
	}
	mc, err := SettleMembers(res, im, ownership)
	require.NoError(t, err)

	assert.Equal(t, 0.5, mc.PerInstallation["Alice"]["Meter#1"])
	assert.Equal(t, 2.0, mc.PerInstallation["Alice"]["Meter#2"])
	assert.Equal(t, 0.5, mc.PerInstallation["Bob"]["Meter#1"])
	assert.Equal(t, 2.5, mc.Total["Alice"])
	assert.Equal(t, 0.5, mc.Total["Bob"])

	assert.Equal(t, 0.55, mc.CompensatedPerInstallation["Alice"]["Meter#1"])
	assert.Equal(t, 1.9, mc.CompensatedPerInstallation["Alice"]["Meter#2"])
	assert.Equal(t, 2.45, mc.CompensatedTotal["Alice"])
	assert.Equal(t, 0.55, mc.CompensatedTotal["Bob"])
}

func TestSettleMembersUnknownInstallation(t *testing.T) {
	res, in := settledRun()
	im, err := SettleInternalMarket(res, in)
	require.NoError(t, err)

	_, err = SettleMembers(res, im, map[string]map[string]float64{
		"Meter#9": {"Alice": 1.0},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Meter#9")
}

func TestSettleMembersIncompleteShares(t *testing.T) {
	res, in := settledRun()
	im, err := SettleInternalMarket(res, in)
	require.NoError(t, err)

	// Half of Meter#1 is unassigned, so member costs no longer add up to
	// the objective value.
	_, err = SettleMembers(res, im, map[string]map[string]float64{
		"Meter#1": {"Alice": 0.5},
		"Meter#2": {"Alice": 1.0},
	})
	assert.Error(t, err)
}
