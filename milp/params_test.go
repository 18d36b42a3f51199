package milp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackParams(t *testing.T) {
	p, err := UnpackParams(twoMeterInputs())
	require.NoError(t, err)

	assert.Equal(t, 3, p.Steps)
	assert.Equal(t, 24, p.StepsPerDay)
	assert.InDelta(t, 3.0, p.Horizon, 1e-9)
	assert.Equal(t, []string{"Meter#1", "Meter#2"}, p.MeterIDs)

	// nr_days_old defaults to nr_days when no clustering happened.
	assert.InDelta(t, 1.0/8.0, p.NrDaysOrig, 1e-9)

	// Weights default to all ones.
	assert.Equal(t, []float64{1, 1, 1}, p.Weights)

	// Big-M derives from the largest meter power limit.
	assert.InDelta(t, 20.0, p.BigM, 1e-9)
}

func TestUnpackParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		field  string
	}{
		{
			name:   "no meters",
			mutate: func(in *Inputs) { in.Meters = nil },
			field:  "meters",
		},
		{
			name:   "zero time step",
			mutate: func(in *Inputs) { in.DeltaT = 0 },
			field:  "delta_t",
		},
		{
			name:   "negative horizon",
			mutate: func(in *Inputs) { in.NrDays = -1 },
			field:  "nr_days",
		},
		{
			name:   "grid tariff series too short",
			mutate: func(in *Inputs) { in.LGrid = []float64{0.01} },
			field:  "l_grid",
		},
		{
			name:   "weights length mismatch",
			mutate: func(in *Inputs) { in.Weights = []float64{1, 1} },
			field:  "w_clustering",
		},
		{
			name:   "consumption series missing",
			mutate: func(in *Inputs) { in.Meters["Meter#1"].EC = nil },
			field:  "Meter#1.e_c",
		},
		{
			name:   "tariff series wrong length",
			mutate: func(in *Inputs) { in.Meters["Meter#2"].LBuy = []float64{2, 2} },
			field:  "Meter#2.l_buy",
		},
		{
			name:   "charging efficiency above one",
			mutate: func(in *Inputs) { in.Meters["Meter#1"].EffBC = 1.2 },
			field:  "Meter#1.eff_bc",
		},
		{
			name:   "discharging efficiency zero",
			mutate: func(in *Inputs) { in.Meters["Meter#1"].EffBD = 0 },
			field:  "Meter#1.eff_bd",
		},
		{
			name:   "meter power limit missing",
			mutate: func(in *Inputs) { in.Meters["Meter#2"].PMeterMax = 0 },
			field:  "Meter#2.p_meter_max",
		},
		{
			name: "EV trip series wrong length",
			mutate: func(in *Inputs) {
				in.Meters["Meter#1"].EVs = map[string]*EV{"EV#1": {
					Trip: []float64{0}, PluggedIn: []float64{1, 0, 1},
					BatteryCapacity: 1, EffBC: 0.99, EffBD: 0.99,
				}}
			},
			field: "Meter#1.EV#1.trip_ev",
		},
		{
			name: "EV capacity missing",
			mutate: func(in *Inputs) {
				in.Meters["Meter#1"].EVs = map[string]*EV{"EV#1": {
					Trip: []float64{0, 0, 0}, PluggedIn: []float64{1, 1, 1},
					EffBC: 0.99, EffBD: 0.99,
				}}
			},
			field: "Meter#1.EV#1.battery_capacity_ev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := twoMeterInputs()
			tt.mutate(in)
			_, err := UnpackParams(in)
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
