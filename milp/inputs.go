// Package milp encodes the sizing and dispatch problem of a collective
// energy community under a pool market structure as a mixed-integer linear
// program, and maps the flat solver solution back into structured per-meter
// time series.
package milp

import (
	"fmt"
	"sort"
)

// RegulatoryContext selects the per-meter market-equilibrium form.
type RegulatoryContext string

const (
	// ContextGeneral clears each meter's net position against retailer
	// exchange plus internal pool purchases and sales.
	ContextGeneral RegulatoryContext = "general"
	// ContextPortuguese substitutes the self-consumed energy for the pool
	// purchase in the equilibrium, per the Portuguese self-consumption rules.
	ContextPortuguese RegulatoryContext = "portuguese"
)

// Inputs is the full parameter bundle of one collective pool optimization.
// All series lengths must equal ceil(NrDays*24/DeltaT). Weights defaults to
// all ones when no day clustering was applied; NrDaysOriginal defaults to
// NrDays and keeps investment terms scaled to the pre-clustering horizon.
type Inputs struct {
	NrDays         float64   `json:"nr_days"`
	NrDaysOriginal float64   `json:"nr_days_old"`
	DeltaT         float64   `json:"delta_t"`
	StorageRatio   float64   `json:"storage_ratio"`
	LGrid          []float64 `json:"l_grid"`
	Weights        []float64 `json:"w_clustering"`

	StrictPosCoeffs  bool              `json:"strict_pos_coeffs"`
	TotalShareCoeffs bool              `json:"total_share_coeffs"`
	Context          RegulatoryContext `json:"regulatory_context"`

	Meters map[string]*Meter `json:"meters"`
}

// Meter bundles one metering point's tariffs, forecasts, asset limits and
// optional flexible sub-assets. Meters are read-only inputs; the model never
// mutates them.
type Meter struct {
	LBuy  []float64 `json:"l_buy"`  // retailer supply tariff [currency/kWh]
	LSell []float64 `json:"l_sell"` // feed-in tariff [currency/kWh]
	LCont float64   `json:"l_cont"` // contracted power tariff, adjusted to one day [currency/kW.day]
	LGic  float64   `json:"l_gic"`  // PV investment cost, adjusted to one day [currency/kW.day]
	LBic  float64   `json:"l_bic"`  // storage investment cost, adjusted to one day [currency/kWh.day]

	EC        []float64 `json:"e_c"`         // consumption forecast [kWh]
	EGFactor  []float64 `json:"e_g_factor"`  // generation profile factor for the meter's location
	PMeterMax float64   `json:"p_meter_max"` // physical power limit of the meter [kW]

	PGnInit float64 `json:"p_gn_init"` // installed PV capacity [kW]
	PGnMin  float64 `json:"p_gn_min"`  // minimum new PV capacity [kW]
	PGnMax  float64 `json:"p_gn_max"`  // maximum new PV capacity [kW]

	EBnInit float64 `json:"e_bn_init"` // installed storage capacity [kWh]
	EBnMin  float64 `json:"e_bn_min"`  // minimum new storage capacity [kWh]
	EBnMax  float64 `json:"e_bn_max"`  // maximum new storage capacity [kWh]
	SocMin  float64 `json:"soc_min"`   // minimum state of charge [%]
	SocMax  float64 `json:"soc_max"`   // maximum state of charge [%]
	EffBC   float64 `json:"eff_bc"`    // charging efficiency (0-1]
	EffBD   float64 `json:"eff_bd"`    // discharging efficiency (0-1]
	DegCost float64 `json:"deg_cost"`  // cyclic degradation penalty [currency/kWh]

	EVs  map[string]*EV  `json:"btm_evs,omitempty"`
	EWHs map[string]*EWH `json:"btm_ewhs,omitempty"`
}

// EV is a behind-the-meter electric vehicle.
type EV struct {
	Trip            []float64 `json:"trip_ev"`                // exogenous trip consumption [kWh]
	PluggedIn       []float64 `json:"bin_ev"`                 // 1 when plugged in at the meter, 0 otherwise
	MinEnergy       float64   `json:"min_energy_storage_ev"`  // minimum stored energy to guarantee [kWh]
	BatteryCapacity float64   `json:"battery_capacity_ev"`    // battery capacity [kWh]
	InitEnergy      float64   `json:"init_e_ev"`              // initial energy content [kWh]
	EffBC           float64   `json:"eff_bc_ev"`              // charging efficiency (0-1]
	EffBD           float64   `json:"eff_bd_ev"`              // discharging efficiency (0-1]
	PMaxCharge      float64   `json:"pmax_c_ev"`              // maximum charge power [kW]
	PMaxDischarge   float64   `json:"pmax_d_ev"`              // maximum discharge power [kW]
}

// EWH is a behind-the-meter electric water heater, modeled as linear thermal
// storage with comfort constraints. The post-draw energy regressors are
// fitted outside the model and arrive here as parameters.
type EWH struct {
	Power           float64   `json:"power_ewh"`            // heating power [kW]
	ThermalCapacity float64   `json:"thermal_capacity_ewh"` // water thermal capacitance [kWh/°C]
	LossCoeff       float64   `json:"loss_coeff_ewh"`       // standing heat-loss coefficient [kW/°C]
	AmbientTemp     float64   `json:"ambient_temp_ewh"`     // ambient temperature [°C]
	MinTemp         float64   `json:"min_temp_ewh"`         // minimum allowed water temperature [°C]
	MaxTemp         float64   `json:"max_temp_ewh"`         // maximum allowed water temperature [°C]
	SetpointTemp    float64   `json:"setpoint_temp_ewh"`    // regressor regime threshold [°C]
	ComfortTemp     float64   `json:"comfort_temp_ewh"`     // user hot-water comfort temperature [°C]
	ComfortPenalty  float64   `json:"comfort_penalty_ewh"`  // penalty per °C of comfort shortfall [currency/°C]
	InitTemp        float64   `json:"init_temp_ewh"`        // water temperature at each day start [°C]
	UsageCalendar   []float64 `json:"usage_calendar_ewh"`   // 1 at timesteps with a hot-water draw
	// Post-draw water-energy regressors, one per temperature regime.
	RegAboveSlope     float64 `json:"reg_above_slope_ewh"`     // [kWh/°C] when temp >= setpoint
	RegAboveIntercept float64 `json:"reg_above_intercept_ewh"` // [kWh]
	RegBelowSlope     float64 `json:"reg_below_slope_ewh"`     // [kWh/°C] when temp < setpoint
	RegBelowIntercept float64 `json:"reg_below_intercept_ewh"` // [kWh]
}

// ValidationError reports a fatal problem with the input bundle, detected
// before model construction.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// MeterIDs returns the meter identifiers in deterministic (sorted) order.
// The model, the extractor and the settlement layer all iterate meters in
// this order so that runs are reproducible.
func (in *Inputs) MeterIDs() []string {
	ids := make([]string, 0, len(in.Meters))
	for id := range in.Meters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
