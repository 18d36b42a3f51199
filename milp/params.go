package milp

import (
	"fmt"
	"math"
)

// smallM converts strict inequalities into safely non-strict ones inside
// big-M disjunctions that would otherwise be infeasible at exact equality
// boundaries.
const smallM = 1e-4

// Params is the uniform, index-aligned view of an Inputs bundle that the
// model builder consumes. Produced once per build by UnpackParams and never
// mutated afterwards.
type Params struct {
	NrDays       float64
	NrDaysOrig   float64
	DeltaT       float64
	StorageRatio float64
	Horizon      float64 // hours
	Steps        int     // time intervals in the horizon
	StepsPerDay  int     // time intervals in one representative day

	MeterIDs []string
	LGrid    []float64
	Weights  []float64

	LBuy     map[string][]float64
	LSell    map[string][]float64
	EC       map[string][]float64
	EGFactor map[string][]float64

	LCont     map[string]float64
	LGic      map[string]float64
	LBic      map[string]float64
	PMeterMax map[string]float64
	PGnInit   map[string]float64
	PGnMin    map[string]float64
	PGnMax    map[string]float64
	EBnInit   map[string]float64
	EBnMin    map[string]float64
	EBnMax    map[string]float64
	SocMin    map[string]float64
	SocMax    map[string]float64
	EffBC     map[string]float64
	EffBD     map[string]float64
	DegCost   map[string]float64

	EVIDs  map[string][]string
	EWHIDs map[string][]string

	BigM   float64
	SmallM float64
}

// UnpackParams normalizes the heterogeneous per-meter bundle into uniform
// parameter tables and derives the big-M constant. It fails when a required
// field is missing or a series length disagrees with the horizon.
func UnpackParams(in *Inputs) (*Params, error) {
	if len(in.Meters) == 0 {
		return nil, &ValidationError{Field: "meters", Message: "at least one meter is required"}
	}
	if in.DeltaT <= 0 {
		return nil, &ValidationError{Field: "delta_t", Message: "time step must be positive"}
	}
	if in.NrDays <= 0 {
		return nil, &ValidationError{Field: "nr_days", Message: "horizon must be positive"}
	}

	p := &Params{
		NrDays:       in.NrDays,
		NrDaysOrig:   in.NrDaysOriginal,
		DeltaT:       in.DeltaT,
		StorageRatio: in.StorageRatio,
		MeterIDs:     in.MeterIDs(),
		LBuy:         map[string][]float64{},
		LSell:        map[string][]float64{},
		EC:           map[string][]float64{},
		EGFactor:     map[string][]float64{},
		LCont:        map[string]float64{},
		LGic:         map[string]float64{},
		LBic:         map[string]float64{},
		PMeterMax:    map[string]float64{},
		PGnInit:      map[string]float64{},
		PGnMin:       map[string]float64{},
		PGnMax:       map[string]float64{},
		EBnInit:      map[string]float64{},
		EBnMin:       map[string]float64{},
		EBnMax:       map[string]float64{},
		SocMin:       map[string]float64{},
		SocMax:       map[string]float64{},
		EffBC:        map[string]float64{},
		EffBD:        map[string]float64{},
		DegCost:      map[string]float64{},
		EVIDs:        map[string][]string{},
		EWHIDs:       map[string][]string{},
		SmallM:       smallM,
	}
	if p.NrDaysOrig == 0 {
		p.NrDaysOrig = in.NrDays
	}

	p.Horizon = in.NrDays * 24
	p.Steps = int(math.Ceil(p.Horizon / in.DeltaT))
	p.StepsPerDay = int(math.Ceil(24 / in.DeltaT))

	if len(in.LGrid) != p.Steps {
		return nil, seriesLenError("l_grid", len(in.LGrid), p.Steps)
	}
	p.LGrid = in.LGrid

	p.Weights = in.Weights
	if p.Weights == nil {
		p.Weights = make([]float64, p.Steps)
		for t := range p.Weights {
			p.Weights[t] = 1
		}
	} else if len(p.Weights) != p.Steps {
		return nil, seriesLenError("w_clustering", len(p.Weights), p.Steps)
	}

	maxPower := 0.0
	for _, id := range p.MeterIDs {
		m := in.Meters[id]
		if m == nil {
			return nil, &ValidationError{Field: id, Message: "meter data is missing"}
		}
		if err := checkMeterSeries(id, m, p.Steps); err != nil {
			return nil, err
		}
		if m.EffBC <= 0 || m.EffBC > 1 {
			return nil, &ValidationError{Field: id + ".eff_bc", Message: "efficiency must be in (0, 1]"}
		}
		if m.EffBD <= 0 || m.EffBD > 1 {
			return nil, &ValidationError{Field: id + ".eff_bd", Message: "efficiency must be in (0, 1]"}
		}
		if m.PMeterMax <= 0 {
			return nil, &ValidationError{Field: id + ".p_meter_max", Message: "meter power limit must be positive"}
		}

		p.LBuy[id] = m.LBuy
		p.LSell[id] = m.LSell
		p.EC[id] = m.EC
		p.EGFactor[id] = m.EGFactor
		p.LCont[id] = m.LCont
		p.LGic[id] = m.LGic
		p.LBic[id] = m.LBic
		p.PMeterMax[id] = m.PMeterMax
		p.PGnInit[id] = m.PGnInit
		p.PGnMin[id] = m.PGnMin
		p.PGnMax[id] = m.PGnMax
		p.EBnInit[id] = m.EBnInit
		p.EBnMin[id] = m.EBnMin
		p.EBnMax[id] = m.EBnMax
		p.SocMin[id] = m.SocMin
		p.SocMax[id] = m.SocMax
		p.EffBC[id] = m.EffBC
		p.EffBD[id] = m.EffBD
		p.DegCost[id] = m.DegCost

		if m.PMeterMax > maxPower {
			maxPower = m.PMeterMax
		}

		p.EVIDs[id] = sortedKeys(m.EVs)
		for _, evID := range p.EVIDs[id] {
			ev := m.EVs[evID]
			field := fmt.Sprintf("%s.%s", id, evID)
			if len(ev.Trip) != p.Steps {
				return nil, seriesLenError(field+".trip_ev", len(ev.Trip), p.Steps)
			}
			if len(ev.PluggedIn) != p.Steps {
				return nil, seriesLenError(field+".bin_ev", len(ev.PluggedIn), p.Steps)
			}
			if ev.EffBC <= 0 || ev.EffBC > 1 || ev.EffBD <= 0 || ev.EffBD > 1 {
				return nil, &ValidationError{Field: field, Message: "EV efficiencies must be in (0, 1]"}
			}
			if ev.BatteryCapacity <= 0 {
				return nil, &ValidationError{Field: field + ".battery_capacity_ev", Message: "EV battery capacity must be positive"}
			}
		}

		p.EWHIDs[id] = sortedKeys(m.EWHs)
		for _, ewhID := range p.EWHIDs[id] {
			ewh := m.EWHs[ewhID]
			field := fmt.Sprintf("%s.%s", id, ewhID)
			if len(ewh.UsageCalendar) != p.Steps {
				return nil, seriesLenError(field+".usage_calendar", len(ewh.UsageCalendar), p.Steps)
			}
			if ewh.ThermalCapacity <= 0 {
				return nil, &ValidationError{Field: field + ".thermal_capacity", Message: "thermal capacitance must be positive"}
			}
			if ewh.Power <= 0 {
				return nil, &ValidationError{Field: field + ".power", Message: "heating power must be positive"}
			}
		}
	}

	// Large enough to never bind on the inactive branch of a disjunction,
	// small enough to stay within a few orders of magnitude of the physics.
	p.BigM = 2 * maxPower
	return p, nil
}

func checkMeterSeries(id string, m *Meter, steps int) error {
	series := []struct {
		name   string
		values []float64
	}{
		{"l_buy", m.LBuy},
		{"l_sell", m.LSell},
		{"e_c", m.EC},
		{"e_g_factor", m.EGFactor},
	}
	for _, s := range series {
		if s.values == nil {
			return &ValidationError{Field: id + "." + s.name, Message: "required series is missing"}
		}
		if len(s.values) != steps {
			return seriesLenError(id+"."+s.name, len(s.values), steps)
		}
	}
	return nil
}

func seriesLenError(field string, got, want int) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("series has %d points, horizon requires %d", got, want),
	}
}
