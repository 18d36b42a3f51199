package weather

import (
	"math"
	"time"
)

// maxSampleGap is how far a forecast sample may be from a timestep's
// midpoint before the timestep keeps its clear-sky value.
const maxSampleGap = 3 * time.Hour

// DerateFactor maps a cloud-cover fraction to the fraction of clear-sky
// irradiance that still reaches the ground, after Kasten and Czeplak.
func DerateFactor(fraction float64) float64 {
	f := math.Min(math.Max(fraction, 0), 1)
	return 1 - 0.75*math.Pow(f, 3)
}

// DerateProfile scales a clear-sky generation profile starting at the given
// instant by the forecast cloud cover. Each timestep uses the sample closest
// to its midpoint; timesteps with no sample nearby stay clear-sky.
func DerateProfile(profile []float64, start time.Time, deltaT float64, samples []CloudSample) []float64 {
	out := make([]float64, len(profile))
	for t, factor := range profile {
		mid := start.Add(time.Duration((float64(t) + 0.5) * deltaT * float64(time.Hour)))
		sample, ok := closestSample(samples, mid)
		if !ok {
			out[t] = factor
			continue
		}
		out[t] = factor * DerateFactor(sample.Fraction)
	}
	return out
}

func closestSample(samples []CloudSample, at time.Time) (CloudSample, bool) {
	var best CloudSample
	var bestGap time.Duration
	found := false
	for _, s := range samples {
		gap := s.Time.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap > maxSampleGap {
			continue
		}
		if !found || gap < bestGap {
			best = s
			bestGap = gap
			found = true
		}
	}
	return best, found
}
