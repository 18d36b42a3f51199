package milp

import (
	"fmt"
	"math"
)

// buildEWHConstraints adds the linear thermal model of every water heater
// behind a meter. The tank is a single lumped node: an implicit energy
// balance couples the water temperature to the heating duty, standing
// losses and the energy drawn by hot-water usage. Draw energy follows one
// of two linear temperature regressors, selected by a binary on whether
// the tank sits above or below the setpoint. A comfort slack, priced in
// the objective, relaxes the comfort temperature at the timestep right
// before each draw.
func (cp *CollectivePool) buildEWHConstraints(n string) {
	p := cp.Params
	m := cp.Model
	v := cp.vars
	dt := p.DeltaT
	for _, hID := range p.EWHIDs[n] {
		h := cp.in.Meters[n].EWHs[hID]
		// The power-derived big-M can be smaller than the temperature
		// range, so the thermal disjunctions get their own constant.
		bigM := math.Max(p.BigM, 2*h.MaxTemp)
		temp := v.ewhTemp[n][hID]
		duty := v.ewhDuty[n][hID]
		use := v.ewhUse[n][hID]
		slack := v.ewhSlack[n][hID]
		delta := v.ewhDelta[n][hID]
		loss := h.LossCoeff * dt
		for t := 0; t < p.Steps; t++ {
			inc := fmt.Sprintf("%s_%s_t%03d", n, hID, t)

			// (Cth + U*dt)*temp[t] = Cth*temp[t-1] + P*duty*dt
			//                        + U*dt*Tamb - w_use[t]
			balance := []T{
				{temp[t], h.ThermalCapacity + loss},
				{duty[t], -h.Power * dt},
				{use[t], 1},
			}
			rhs := loss * h.AmbientTemp
			if t%p.StepsPerDay == 0 {
				rhs += h.ThermalCapacity * h.InitTemp
			} else {
				balance = append(balance, T{temp[t-1], -h.ThermalCapacity})
			}
			m.Eq("ewh_thermal_balance_"+inc, rhs, balance...)

			m.Ge("ewh_min_temp_"+inc, h.MinTemp, T{temp[t], 1})
			m.Le("ewh_max_temp_"+inc, h.MaxTemp, T{temp[t], 1})
			m.Le("ewh_duty_limit_"+inc, 1, T{duty[t], 1})

			if h.UsageCalendar[t] > 0.5 {
				// delta=1 when the tank is at or above the setpoint; each
				// regressor pair is released by its side of the binary.
				m.Ge("ewh_above_setpoint_"+inc, h.SetpointTemp-bigM,
					T{temp[t], 1}, T{delta[t], -bigM})
				m.Le("ewh_below_setpoint_"+inc, h.SetpointTemp-p.SmallM,
					T{temp[t], 1}, T{delta[t], -bigM})
				m.Le("ewh_use_above_high_"+inc, h.RegAboveIntercept+bigM,
					T{use[t], 1}, T{temp[t], -h.RegAboveSlope}, T{delta[t], bigM})
				m.Ge("ewh_use_above_low_"+inc, h.RegAboveIntercept-bigM,
					T{use[t], 1}, T{temp[t], -h.RegAboveSlope}, T{delta[t], -bigM})
				m.Le("ewh_use_below_high_"+inc, h.RegBelowIntercept,
					T{use[t], 1}, T{temp[t], -h.RegBelowSlope}, T{delta[t], -bigM})
				m.Ge("ewh_use_below_low_"+inc, h.RegBelowIntercept,
					T{use[t], 1}, T{temp[t], -h.RegBelowSlope}, T{delta[t], bigM})
			} else {
				m.Eq("ewh_no_usage_"+inc, 0, T{use[t], 1})
				m.Eq("ewh_setpoint_bin_"+inc, 0, T{delta[t], 1})
			}

			if h.UsageCalendar[t] < 0.5 && t+1 < p.Steps && h.UsageCalendar[t+1] > 0.5 {
				m.Ge("ewh_comfort_"+inc, h.ComfortTemp, T{temp[t], 1}, T{slack[t], 1})
			} else {
				m.Eq("ewh_comfort_slack_"+inc, 0, T{slack[t], 1})
			}
		}
	}
}
