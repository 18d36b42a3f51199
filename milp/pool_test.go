package milp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devskill-org/rec-sizing/solver"
)

// The scenarios below are tiny two-meter communities over a 3-hour horizon
// with known optima: a community with everything already installed, one
// where new assets pay off, and one with electric vehicles behind both
// meters.

func twoMeterInputs() *Inputs {
	return &Inputs{
		NrDays:           1.0 / 8.0,
		DeltaT:           1.0,
		StorageRatio:     1.0,
		LGrid:            []float64{0.01, 0.01, 0.01},
		StrictPosCoeffs:  true,
		TotalShareCoeffs: true,
		Meters: map[string]*Meter{
			"Meter#1": {
				LBuy:      []float64{2, 2, 2},
				LSell:     []float64{0, 0, 0.9},
				LCont:     0.1,
				LGic:      0.1,
				LBic:      0.1,
				EC:        []float64{0, 0.5, 0},
				PMeterMax: 10,
				PGnInit:   1,
				EGFactor:  []float64{0.9, 0, 0},
				EBnInit:   1,
				SocMax:    100,
				EffBC:     1,
				EffBD:     1,
			},
			"Meter#2": {
				LBuy:      []float64{2, 2, 2},
				LSell:     []float64{0, 0, 0},
				LCont:     0.1,
				LGic:      0.1,
				LBic:      0.1,
				EC:        []float64{0.1, 0.1, 0.1},
				PMeterMax: 10,
				EGFactor:  []float64{0, 0, 0},
				SocMax:    100,
				EffBC:     1,
				EffBD:     1,
			},
		},
	}
}

func installInputs() *Inputs {
	in := twoMeterInputs()
	m1 := in.Meters["Meter#1"]
	m1.EGFactor = []float64{0.5, 0, 0}
	m1.EBnInit = 0
	m1.EBnMax = 1
	m2 := in.Meters["Meter#2"]
	m2.LGic = 0
	m2.EGFactor = []float64{0.1, 0.1, 0.1}
	m2.PGnMax = 1
	return in
}

func evInputs() *Inputs {
	in := installInputs()
	ev := func(initEnergy, minEnergy float64) *EV {
		return &EV{
			Trip:            []float64{0, 0.3, 0},
			PluggedIn:       []float64{1, 0, 1},
			MinEnergy:       minEnergy,
			BatteryCapacity: 1,
			InitEnergy:      initEnergy,
			EffBC:           0.99,
			EffBD:           0.99,
			PMaxCharge:      0.1,
			PMaxDischarge:   0.1,
		}
	}
	in.Meters["Meter#1"].EVs = map[string]*EV{"EV#1": ev(0.9, 0.1), "EV#2": ev(0.9, 0.1)}
	in.Meters["Meter#2"].EVs = map[string]*EV{"EV#1": ev(0.9, 0), "EV#2": ev(0.25, 0)}
	return in
}

func solvePool(t *testing.T, in *Inputs) (*CollectivePool, *Outputs) {
	t.Helper()
	pool, err := NewCollectivePool(in)
	require.NoError(t, err)
	res, err := solver.NewBranchAndBound().Solve(context.Background(), pool.Problem(), solver.Options{})
	require.NoError(t, err)
	require.Equal(t, solver.StatusOptimal, res.Status)
	return pool, pool.Extract(res)
}

// checkPoolInvariants asserts the properties every optimal pool solution
// must have, independent of which of the alternate optima the solver picks.
func checkPoolInvariants(t *testing.T, in *Inputs, out *Outputs) {
	t.Helper()
	steps := len(in.LGrid)
	for tt := 0; tt < steps; tt++ {
		var purchases, sales float64
		for _, n := range in.MeterIDs() {
			purchases += out.EPur[n][tt]
			sales += out.ESale[n][tt]
		}
		assert.InDelta(t, purchases, sales, 1e-5, "pool clearing at t=%d", tt)
	}
	for _, n := range in.MeterIDs() {
		for tt := 0; tt < steps; tt++ {
			assert.LessOrEqual(t, out.ECmet[n][tt]/in.DeltaT, out.PCont[n]+1e-5,
				"%s exceeds contracted power at t=%d", n, tt)
			assert.GreaterOrEqual(t, out.ECmet[n][tt]/in.DeltaT, -out.PCont[n]-1e-5,
				"%s exceeds contracted power at t=%d", n, tt)
		}
	}
	require.Len(t, out.DualPrices, steps)
	for tt, price := range out.DualPrices {
		assert.GreaterOrEqual(t, price, 0.0, "negative price at t=%d", tt)
		assert.LessOrEqual(t, price, 2.0, "price above the retail tariff at t=%d", tt)
	}
}

func sumCInd(out *Outputs) float64 {
	var total float64
	for _, c := range out.CInd {
		total += c
	}
	return total
}

func TestCollectivePoolNoNewAssets(t *testing.T) {
	in := twoMeterInputs()
	_, out := solvePool(t, in)

	assert.InDelta(t, -0.083, out.ObjValue, 1e-9)

	// Both meters have their expansion limits at zero.
	assert.InDelta(t, 0, out.PGnNew["Meter#1"], 1e-6)
	assert.InDelta(t, 0, out.PGnNew["Meter#2"], 1e-6)
	assert.InDelta(t, 0, out.EBnNew["Meter#1"], 1e-6)
	assert.InDelta(t, 0, out.EBnNew["Meter#2"], 1e-6)
	assert.InDelta(t, 1, out.PGnTotal["Meter#1"], 1e-6)
	assert.InDelta(t, 1, out.EBnTotal["Meter#1"], 1e-6)

	// Meter#2 has no assets at all, so its net load is its consumption and
	// its contracted power sits right on it.
	assert.InDeltaSlice(t, []float64{0.1, 0.1, 0.1}, out.ECmet["Meter#2"], 1e-6)
	assert.InDelta(t, 0.1, out.PCont["Meter#2"], 1e-6)

	// The individual costs partition the objective.
	assert.InDelta(t, out.ObjValue, sumCInd(out), 0.002)

	checkPoolInvariants(t, in, out)
}

func TestCollectivePoolNewAssetsPayOff(t *testing.T) {
	in := installInputs()
	_, out := solvePool(t, in)

	assert.InDelta(t, 0.006, out.ObjValue, 1e-9)

	// Meter#2's PV has zero investment cost and a useful profile, so it is
	// built out to the limit.
	assert.InDelta(t, 1, out.PGnNew["Meter#2"], 1e-6)
	assert.InDelta(t, 1, out.PGnTotal["Meter#2"], 1e-6)

	assert.InDelta(t, out.ObjValue, sumCInd(out), 0.002)
	checkPoolInvariants(t, in, out)
}

func TestCollectivePoolWithDegradationCost(t *testing.T) {
	in := twoMeterInputs()
	in.Meters["Meter#1"].DegCost = 0.05

	_, out := solvePool(t, in)

	// Serving the loads from the battery beats buying at the retail tariff
	// even with the cycling penalty, so the battery still moves energy and
	// the penalty shows up in the objective.
	var cycled float64
	for tt := 0; tt < 3; tt++ {
		cycled += out.EBc["Meter#1"][tt] + out.EBd["Meter#1"][tt]
	}
	assert.Greater(t, cycled, 0.0)
	assert.Greater(t, out.ObjValue, -0.083)

	// The individual costs carry the degradation term and still partition
	// the objective.
	assert.InDelta(t, out.ObjValue, sumCInd(out), 0.002)
	checkPoolInvariants(t, in, out)
}

func TestCollectivePoolWithEVs(t *testing.T) {
	in := evInputs()
	_, out := solvePool(t, in)

	assert.InDelta(t, -0.473, out.ObjValue, 1e-9)
	assert.InDelta(t, 1, out.PGnNew["Meter#2"], 1e-6)

	for _, n := range in.MeterIDs() {
		for evID, ev := range in.Meters[n].EVs {
			stored := out.EVStored[n][evID]
			require.Len(t, stored, 3)
			for tt, e := range stored {
				assert.GreaterOrEqual(t, e, ev.MinEnergy-1e-6,
					"%s/%s below minimum at t=%d", n, evID, tt)
				assert.LessOrEqual(t, e, ev.BatteryCapacity+1e-6,
					"%s/%s above capacity at t=%d", n, evID, tt)
			}
			for tt, plugged := range ev.PluggedIn {
				if plugged == 0 {
					assert.InDelta(t, 0, out.EVCharge[n][evID][tt], 1e-6,
						"%s/%s charges while away at t=%d", n, evID, tt)
					continue
				}
				// Charger power is capped after conversion losses.
				assert.LessOrEqual(t, out.EVCharge[n][evID][tt], ev.PMaxCharge*ev.EffBC+1e-9,
					"%s/%s charges above the converter cap at t=%d", n, evID, tt)
				assert.LessOrEqual(t, out.EVDischarge[n][evID][tt], ev.PMaxDischarge*ev.EffBD+1e-9,
					"%s/%s discharges above the converter cap at t=%d", n, evID, tt)
			}
		}
	}
	checkPoolInvariants(t, in, out)
}

func TestExtractNonOptimal(t *testing.T) {
	pool, err := NewCollectivePool(twoMeterInputs())
	require.NoError(t, err)

	out := pool.Extract(&solver.Result{Status: solver.StatusInfeasible})
	assert.Equal(t, "Infeasible", out.Status)
	assert.Zero(t, out.ObjValue)
	assert.Nil(t, out.PCont)
	assert.Nil(t, out.DualPrices)
}

func TestMarketEquilibriumName(t *testing.T) {
	assert.Equal(t, "market_equilibrium_t000", MarketEquilibriumName(0))
	assert.Equal(t, "market_equilibrium_t042", MarketEquilibriumName(42))
}
