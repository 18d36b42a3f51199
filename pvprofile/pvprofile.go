// Package pvprofile synthesizes clear-sky photovoltaic generation factor
// profiles from solar geometry. The factors express the energy one
// installed kWp would produce per timestep (kWh/kWp), which is the shape
// the sizing problem scales by the installed capacity. They are a
// fallback for sites without measured generation data.
package pvprofile

import (
	"fmt"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// DefaultPerformanceRatio is the assumed system-level derate covering
// inverter losses, soiling and temperature.
const DefaultPerformanceRatio = 0.8

// Site locates a photovoltaic installation.
type Site struct {
	Latitude  float64
	Longitude float64
	// PerformanceRatio scales the geometric clear-sky output; zero means
	// DefaultPerformanceRatio.
	PerformanceRatio float64
}

// DayProfile returns the generation factors for one day starting at
// midnight of the given date, sampled at deltaT hours. Each factor is the
// sine of the mid-interval solar altitude, clipped at zero, derated by the
// performance ratio and integrated over the timestep.
func (s Site) DayProfile(day time.Time, deltaT float64) ([]float64, error) {
	if deltaT <= 0 || math.Mod(24, deltaT) > 1e-9 {
		return nil, fmt.Errorf("delta_t must divide 24 hours, got %v", deltaT)
	}
	ratio := s.PerformanceRatio
	if ratio == 0 {
		ratio = DefaultPerformanceRatio
	}
	steps := int(math.Round(24 / deltaT))
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	profile := make([]float64, steps)
	for t := 0; t < steps; t++ {
		mid := midnight.Add(time.Duration((float64(t) + 0.5) * deltaT * float64(time.Hour)))
		pos := suncalc.GetPosition(mid, s.Latitude, s.Longitude)
		if alt := math.Sin(pos.Altitude); alt > 0 {
			profile[t] = alt * ratio * deltaT
		}
	}
	return profile, nil
}

// HorizonProfile concatenates day profiles for nrDays consecutive days.
func (s Site) HorizonProfile(start time.Time, nrDays int, deltaT float64) ([]float64, error) {
	if nrDays < 1 {
		return nil, fmt.Errorf("nr_days must be at least 1, got %d", nrDays)
	}
	var horizon []float64
	for d := 0; d < nrDays; d++ {
		day, err := s.DayProfile(start.AddDate(0, 0, d), deltaT)
		if err != nil {
			return nil, err
		}
		horizon = append(horizon, day...)
	}
	return horizon, nil
}
