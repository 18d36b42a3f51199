// Package clustering reduces long optimization horizons to a handful of
// representative days. Each day of input data becomes one observation built
// from every meter's generation factor, consumption and opportunity costs
// plus the community-wide grid tariff, and a k-medoids partition picks the
// days that stand for the rest. Medoids are actual input days, so the
// returned series are real, denormalized data ready to feed the sizing
// problem, with each representative day weighted by its cluster size.
package clustering

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// MeterSeries holds one meter's data over the full horizon, sampled at the
// clustering timestep. All four series must cover NrDays whole days.
type MeterSeries struct {
	// EGFactor is the generation profile factor, in kWh/kWp.
	EGFactor []float64 `json:"e_g_factor"`
	// EC is the consumption, in kWh.
	EC []float64 `json:"e_c"`
	// LBuy and LSell are the opportunity costs for buying and selling
	// energy from/to the retailer, in EUR/kWh.
	LBuy  []float64 `json:"l_buy"`
	LSell []float64 `json:"l_sell"`
}

// Inputs configures one clustering run.
type Inputs struct {
	NrDays               int                     `json:"nr_days"`
	DeltaT               float64                 `json:"delta_t"` // hours
	NrRepresentativeDays int                     `json:"nr_representative_days"`
	LGrid                []float64               `json:"l_grid"` // EUR/kWh, meter-agnostic
	Timeseries           map[string]*MeterSeries `json:"timeseries_data"`
}

// Outputs holds the representative days, keyed by cluster label, and the
// weight (number of represented days) of each cluster.
type Outputs struct {
	// Inertia is the total distance between each day and its medoid.
	Inertia       float64 `json:"inertia"`
	ClusterLabels []int   `json:"cluster_labels"`

	RepresentativeEGFactor map[string]map[int][]float64 `json:"representative_e_g_factor"`
	RepresentativeEC       map[string]map[int][]float64 `json:"representative_e_c"`
	RepresentativeLBuy     map[string]map[int][]float64 `json:"representative_l_buy"`
	RepresentativeLSell    map[string]map[int][]float64 `json:"representative_l_sell"`
	RepresentativeLGrid    map[int][]float64            `json:"representative_l_grid"`

	ClusterNrDays map[int]int `json:"cluster_nr_days"`
}

// KMedoids partitions the horizon's days into representative clusters and
// returns the medoid day of each cluster, denormalized back to the input
// scale. The partition is deterministic for a given input.
func KMedoids(in *Inputs, log zerolog.Logger) (*Outputs, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	stepsPerDay := int(math.Round(24 / in.DeltaT))
	meterIDs := sortedMeterIDs(in.Timeseries)
	nrMeters := len(meterIDs)
	log.Debug().
		Int("days", in.NrDays).
		Int("clusters", in.NrRepresentativeDays).
		Int("meters", nrMeters).
		Msg("clustering days into representative days")

	// One matrix per variable: a row per day, all meters' values for that
	// day concatenated in meter order.
	egMatrix := dayMatrix(in, meterIDs, stepsPerDay, func(ms *MeterSeries) []float64 { return ms.EGFactor })
	ecMatrix := dayMatrix(in, meterIDs, stepsPerDay, func(ms *MeterSeries) []float64 { return ms.EC })
	lBuyMatrix := dayMatrix(in, meterIDs, stepsPerDay, func(ms *MeterSeries) []float64 { return ms.LBuy })
	lSellMatrix := dayMatrix(in, meterIDs, stepsPerDay, func(ms *MeterSeries) []float64 { return ms.LSell })
	lGridMatrix := make([][]float64, in.NrDays)
	for d := 0; d < in.NrDays; d++ {
		lGridMatrix[d] = in.LGrid[d*stepsPerDay : (d+1)*stepsPerDay]
	}

	// The generation factor is already a per-unit profile; everything else
	// is min-max scaled so no variable dominates the distance metric.
	observations := make([][]float64, in.NrDays)
	ecNorm := normalize(ecMatrix)
	lBuyNorm := normalize(lBuyMatrix)
	lSellNorm := normalize(lSellMatrix)
	lGridNorm := normalize(lGridMatrix)
	for d := 0; d < in.NrDays; d++ {
		row := make([]float64, 0, stepsPerDay*(4*nrMeters+1))
		row = append(row, egMatrix[d]...)
		row = append(row, ecNorm[d]...)
		row = append(row, lBuyNorm[d]...)
		row = append(row, lSellNorm[d]...)
		row = append(row, lGridNorm[d]...)
		observations[d] = row
	}

	medoids, labels, inertia := pam(observations, in.NrRepresentativeDays)

	out := &Outputs{
		Inertia:                roundTo(inertia, 3),
		ClusterLabels:          labels,
		RepresentativeEGFactor: map[string]map[int][]float64{},
		RepresentativeEC:       map[string]map[int][]float64{},
		RepresentativeLBuy:     map[string]map[int][]float64{},
		RepresentativeLSell:    map[string]map[int][]float64{},
		RepresentativeLGrid:    map[int][]float64{},
		ClusterNrDays:          map[int]int{},
	}
	for label := range medoids {
		out.ClusterNrDays[label] = 0
	}
	for _, label := range labels {
		out.ClusterNrDays[label]++
	}
	// Medoids are input days, so the representative series are sliced
	// straight from the raw matrices rather than denormalized.
	for i, m := range meterIDs {
		lo, hi := i*stepsPerDay, (i+1)*stepsPerDay
		out.RepresentativeEGFactor[m] = map[int][]float64{}
		out.RepresentativeEC[m] = map[int][]float64{}
		out.RepresentativeLBuy[m] = map[int][]float64{}
		out.RepresentativeLSell[m] = map[int][]float64{}
		for label, day := range medoids {
			out.RepresentativeEGFactor[m][label] = roundSeries(egMatrix[day][lo:hi], 3)
			out.RepresentativeEC[m][label] = roundSeries(ecMatrix[day][lo:hi], 3)
			out.RepresentativeLBuy[m][label] = roundSeries(lBuyMatrix[day][lo:hi], 6)
			out.RepresentativeLSell[m][label] = roundSeries(lSellMatrix[day][lo:hi], 6)
		}
	}
	for label, day := range medoids {
		out.RepresentativeLGrid[label] = roundSeries(lGridMatrix[day], 6)
	}
	log.Debug().
		Float64("inertia", out.Inertia).
		Msg("clustering days into representative days done")
	return out, nil
}

func validate(in *Inputs) error {
	if in.NrDays < 1 {
		return fmt.Errorf("nr_days must be at least 1, got %d", in.NrDays)
	}
	if in.DeltaT <= 0 || math.Mod(24, in.DeltaT) > 1e-9 {
		return fmt.Errorf("delta_t must divide 24 hours, got %v", in.DeltaT)
	}
	if in.NrRepresentativeDays < 1 || in.NrRepresentativeDays > in.NrDays {
		return fmt.Errorf("nr_representative_days must be in [1, %d], got %d",
			in.NrDays, in.NrRepresentativeDays)
	}
	if len(in.Timeseries) == 0 {
		return fmt.Errorf("timeseries_data must contain at least one meter")
	}
	want := in.NrDays * int(math.Round(24/in.DeltaT))
	if len(in.LGrid) != want {
		return fmt.Errorf("l_grid has %d points, want %d", len(in.LGrid), want)
	}
	for m, ms := range in.Timeseries {
		for name, s := range map[string][]float64{
			"e_g_factor": ms.EGFactor, "e_c": ms.EC, "l_buy": ms.LBuy, "l_sell": ms.LSell,
		} {
			if len(s) != want {
				return fmt.Errorf("meter %q: %s has %d points, want %d", m, name, len(s), want)
			}
		}
	}
	return nil
}

func sortedMeterIDs(ts map[string]*MeterSeries) []string {
	ids := make([]string, 0, len(ts))
	for id := range ts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dayMatrix(in *Inputs, meterIDs []string, stepsPerDay int, pick func(*MeterSeries) []float64) [][]float64 {
	matrix := make([][]float64, in.NrDays)
	for d := 0; d < in.NrDays; d++ {
		row := make([]float64, 0, stepsPerDay*len(meterIDs))
		for _, m := range meterIDs {
			s := pick(in.Timeseries[m])
			row = append(row, s[d*stepsPerDay:(d+1)*stepsPerDay]...)
		}
		matrix[d] = row
	}
	return matrix
}

// normalize min-max scales a whole matrix by its global extrema, shifting
// only when the matrix is constant.
func normalize(matrix [][]float64) [][]float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range matrix {
		for _, x := range row {
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
	}
	span := hi - lo
	scaled := make([][]float64, len(matrix))
	for d, row := range matrix {
		out := make([]float64, len(row))
		for i, x := range row {
			if span > 0 {
				out[i] = (x - lo) / span
			} else {
				out[i] = x - lo
			}
		}
		scaled[d] = out
	}
	return scaled
}

// pam runs the classic partitioning-around-medoids algorithm: a greedy
// build phase followed by swap passes until no swap lowers the total
// distance. Both phases are deterministic, so repeated runs on the same
// data give the same partition.
func pam(obs [][]float64, k int) (medoids []int, labels []int, inertia float64) {
	n := len(obs)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := 0; j < i; j++ {
			d := floats.Distance(obs[i], obs[j], 2)
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	isMedoid := make([]bool, n)
	medoids = make([]int, 0, k)

	// Build: first the most central day, then whichever candidate lowers
	// the total distance the most.
	best, bestCost := 0, math.Inf(1)
	for i := 0; i < n; i++ {
		var cost float64
		for j := 0; j < n; j++ {
			cost += dist[i][j]
		}
		if cost < bestCost {
			best, bestCost = i, cost
		}
	}
	medoids = append(medoids, best)
	isMedoid[best] = true

	nearest := make([]float64, n)
	for i := 0; i < n; i++ {
		nearest[i] = dist[best][i]
	}
	for len(medoids) < k {
		best, bestGain := -1, 0.0
		for c := 0; c < n; c++ {
			if isMedoid[c] {
				continue
			}
			var gain float64
			for i := 0; i < n; i++ {
				if d := nearest[i] - dist[c][i]; d > 0 {
					gain += d
				}
			}
			if best == -1 || gain > bestGain {
				best, bestGain = c, gain
			}
		}
		medoids = append(medoids, best)
		isMedoid[best] = true
		for i := 0; i < n; i++ {
			nearest[i] = math.Min(nearest[i], dist[best][i])
		}
	}

	assign := func() float64 {
		var total float64
		for i := 0; i < n; i++ {
			var bestD float64
			bestM := -1
			for label, m := range medoids {
				// A medoid belongs to its own cluster, even when another
				// medoid is an identical day.
				if m == i {
					bestM, bestD = label, 0
					break
				}
				if bestM == -1 || dist[m][i] < bestD {
					bestM, bestD = label, dist[m][i]
				}
			}
			labels[i] = bestM
			total += bestD
		}
		return total
	}
	labels = make([]int, n)
	total := assign()

	// Swap passes.
	for improved := true; improved; {
		improved = false
		for mi, m := range medoids {
			for c := 0; c < n; c++ {
				if isMedoid[c] {
					continue
				}
				medoids[mi] = c
				if candidate := assignCost(dist, medoids, n); candidate < total-1e-12 {
					total = candidate
					isMedoid[m] = false
					isMedoid[c] = true
					improved = true
					m = c
				} else {
					medoids[mi] = m
				}
			}
		}
	}
	total = assign()
	return medoids, labels, total
}

func assignCost(dist [][]float64, medoids []int, n int) float64 {
	var total float64
	for i := 0; i < n; i++ {
		best := math.Inf(1)
		for _, m := range medoids {
			best = math.Min(best, dist[m][i])
		}
		total += best
	}
	return total
}

func roundTo(x float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(x*pow) / pow
}

func roundSeries(s []float64, places int) []float64 {
	out := make([]float64, len(s))
	for i, x := range s {
		out[i] = roundTo(x, places)
	}
	return out
}
