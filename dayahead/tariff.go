package dayahead

import (
	"fmt"
	"math"
)

// Tariff converts wholesale day-ahead prices to retail tariffs. Wholesale
// prices arrive in EUR/MWh; tariffs leave in EUR/kWh.
type Tariff struct {
	// BuyMarkup is added on top of the wholesale price when buying, in
	// EUR/kWh. It stands in for network charges, taxes and supplier margin.
	BuyMarkup float64
	// SellMargin is subtracted from the wholesale price when selling, in
	// EUR/kWh. Sell tariffs never go below zero.
	SellMargin float64
}

// BuySeries converts hourly wholesale prices to a buy tariff series at the
// given timestep.
func (tf Tariff) BuySeries(hourly []float64, deltaT float64) ([]float64, error) {
	return resample(hourly, deltaT, func(price float64) float64 {
		return price/1000 + tf.BuyMarkup
	})
}

// SellSeries converts hourly wholesale prices to a sell tariff series at the
// given timestep.
func (tf Tariff) SellSeries(hourly []float64, deltaT float64) ([]float64, error) {
	return resample(hourly, deltaT, func(price float64) float64 {
		return math.Max(price/1000-tf.SellMargin, 0)
	})
}

// resample maps hourly values onto a deltaT-hour grid: sub-hourly steps
// repeat their hour's value, multi-hour steps average the hours they span.
func resample(hourly []float64, deltaT float64, convert func(float64) float64) ([]float64, error) {
	if deltaT <= 0 || math.Mod(24, deltaT) > 1e-9 {
		return nil, fmt.Errorf("delta_t must divide 24 hours, got %v", deltaT)
	}
	if deltaT > 1 && math.Mod(deltaT, 1) > 1e-9 {
		return nil, fmt.Errorf("delta_t above one hour must be whole hours, got %v", deltaT)
	}
	steps := int(math.Round(float64(len(hourly)) / deltaT))
	if int(math.Round(float64(steps)*deltaT)) != len(hourly) {
		return nil, fmt.Errorf("cannot map %d hourly prices onto a %v h timestep", len(hourly), deltaT)
	}
	out := make([]float64, steps)
	for s := 0; s < steps; s++ {
		if deltaT <= 1 {
			out[s] = convert(hourly[int(float64(s)*deltaT)])
			continue
		}
		span := int(deltaT)
		var sum float64
		for h := s * span; h < (s+1)*span; h++ {
			sum += hourly[h]
		}
		out[s] = convert(sum / float64(span))
	}
	return out, nil
}
