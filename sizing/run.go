// Package sizing orchestrates the full pipeline: input conditioning,
// optional day clustering, PV profile synthesis, the collective MILP solve
// and the settlement of the solved run into per-installation and per-member
// costs.
package sizing

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/devskill-org/rec-sizing/clustering"
	"github.com/devskill-org/rec-sizing/dayahead"
	"github.com/devskill-org/rec-sizing/milp"
	"github.com/devskill-org/rec-sizing/pvprofile"
	"github.com/devskill-org/rec-sizing/settlement"
	"github.com/devskill-org/rec-sizing/solver"
	"github.com/devskill-org/rec-sizing/weather"
)

// Results bundles everything one pipeline run produced.
type Results struct {
	*milp.Outputs

	Clustering *clustering.Outputs `json:"clustering,omitempty"`

	Costs          *settlement.Costs          `json:"costs,omitempty"`
	InternalMarket *settlement.InternalMarket `json:"internal_market,omitempty"`
	MemberCosts    *settlement.MemberCosts    `json:"member_costs,omitempty"`

	Elapsed time.Duration `json:"elapsed"`

	// prepared holds the conditioned inputs the MILP actually saw
	// (clustered series, weights, defaulted tariffs); settlement must use
	// these rather than the raw scenario.
	prepared *milp.Inputs
}

// Runner drives the sizing pipeline for one configuration.
type Runner struct {
	cfg *Config
	log zerolog.Logger

	// prices and forecast are optional data sources for scenarios that
	// omit tariffs or generation profiles.
	prices   *dayahead.Client
	forecast *weather.Client
}

// NewRunner creates a Runner. The configuration is expected to be
// validated already.
func NewRunner(cfg *Config, log zerolog.Logger) *Runner {
	r := &Runner{cfg: cfg, log: log}
	if cfg.EntsoeToken != "" {
		r.prices = dayahead.NewClient(cfg.EntsoeToken, cfg.EntsoeArea)
	}
	if cfg.WeatherUserAgent != "" {
		r.forecast = weather.NewClient(cfg.WeatherUserAgent)
	}
	return r
}

// Run conditions the scenario, optionally clusters its days, solves the
// collective MILP and extracts the results. A non-optimal solve is not an
// error: the returned Results carry the solver status and nothing else.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Results, error) {
	start := time.Now()
	r.log.Info().Msg("running the collective (pool) sizing pipeline")

	in := r.conditionInputs(ctx, &sc.Inputs)

	results := &Results{prepared: in}
	if err := r.applyClustering(in, results); err != nil {
		return nil, err
	}

	pool, err := milp.NewCollectivePool(in, milp.WithLogger(r.log))
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Float64("nr_days", in.NrDays).
		Float64("mipgap", r.cfg.MIPGap).
		Dur("timeout", r.cfg.Timeout).
		Str("solver", r.cfg.Solver).
		Msg("solving the collective MILP")
	res := solver.Run(ctx, r.log, r.cfg.Solver, pool.Problem(), solver.Options{
		Timeout: r.cfg.Timeout,
		MIPGap:  r.cfg.MIPGap,
	})

	results.Outputs = pool.Extract(res)
	results.Elapsed = time.Since(start)
	r.log.Info().
		Str("status", results.Status).
		Float64("obj_value", results.ObjValue).
		Dur("elapsed", results.Elapsed).
		Msg("collective (pool) sizing pipeline done")
	return results, nil
}

// Settle computes the disaggregated costs, internal market compensations
// and, when the scenario defines ownership, the member bills.
func (r *Runner) Settle(results *Results, sc *Scenario) error {
	costs, err := settlement.DisaggregateCosts(results.Outputs, results.prepared)
	if err != nil {
		return err
	}
	results.Costs = costs

	im, err := settlement.SettleInternalMarket(results.Outputs, results.prepared)
	if err != nil {
		return err
	}
	results.InternalMarket = im

	if len(sc.Ownership) > 0 {
		mc, err := settlement.SettleMembers(results.Outputs, im, sc.Ownership)
		if err != nil {
			return err
		}
		results.MemberCosts = mc
	}
	return nil
}

// conditionInputs applies the documented defaults and warnings on a copy
// of the scenario inputs: negative grid tariffs are flipped, missing
// generation profiles are synthesized from solar geometry and derated by
// the cloud-cover forecast, missing retail tariffs are derived from
// day-ahead market prices, and solver options outside their valid range
// revert to defaults.
func (r *Runner) conditionInputs(ctx context.Context, raw *milp.Inputs) *milp.Inputs {
	if r.cfg.Timeout <= 0 {
		def := DefaultConfig().Timeout
		r.log.Warn().Dur("timeout", r.cfg.Timeout).Dur("default", def).
			Msg("timeout <= 0; reverting to default")
		r.cfg.Timeout = def
	}
	if r.cfg.MIPGap < 0 || r.cfg.MIPGap > 1 {
		def := DefaultConfig().MIPGap
		r.log.Warn().Float64("mipgap", r.cfg.MIPGap).Float64("default", def).
			Msg("mipgap outside [0, 1]; reverting to default")
		r.cfg.MIPGap = def
	}

	in := *raw
	in.Meters = make(map[string]*milp.Meter, len(raw.Meters))
	for id, m := range raw.Meters {
		meter := *m
		in.Meters[id] = &meter
	}

	negative := false
	for _, tariff := range in.LGrid {
		if tariff < 0 {
			negative = true
			break
		}
	}
	if negative {
		r.log.Warn().Msg("one or more l_grid < 0; flipping those tariffs to positive")
		flipped := make([]float64, len(in.LGrid))
		for i, tariff := range in.LGrid {
			flipped[i] = math.Abs(tariff)
		}
		in.LGrid = flipped
	}

	steps := int(math.Ceil(in.NrDays * 24 / in.DeltaT))
	site := pvprofile.Site{
		Latitude:         r.cfg.Latitude,
		Longitude:        r.cfg.Longitude,
		PerformanceRatio: r.cfg.PVPerformanceRatio,
	}
	startDay := time.Now()
	if r.cfg.StartDate != "" {
		startDay, _ = time.Parse("2006-01-02", r.cfg.StartDate)
	}
	var cloud []weather.CloudSample
	if r.forecast != nil {
		var err error
		cloud, err = r.forecast.CloudCover(ctx, r.cfg.Latitude, r.cfg.Longitude)
		if err != nil {
			r.log.Warn().Err(err).Msg("cloud-cover forecast unavailable; profiles stay clear-sky")
		}
	}
	for id, m := range in.Meters {
		if len(m.EGFactor) > 0 || (m.PGnInit == 0 && m.PGnMax == 0) {
			continue
		}
		profile, err := site.HorizonProfile(startDay, int(math.Ceil(in.NrDays)), in.DeltaT)
		if err != nil {
			r.log.Warn().Err(err).Str("meter", id).Msg("cannot synthesize generation profile")
			continue
		}
		if len(cloud) > 0 {
			profile = weather.DerateProfile(profile, startDay, in.DeltaT, cloud)
		}
		m.EGFactor = profile[:steps]
		r.log.Info().Str("meter", id).Bool("weather_derated", len(cloud) > 0).
			Msg("synthesized a generation profile")
	}

	r.synthesizeTariffs(ctx, &in, startDay, steps)
	return &in
}

// synthesizeTariffs fills in the buy and sell tariff series of meters that
// omit them, using the bidding zone's day-ahead prices plus the configured
// markup and margin. Meters keeping their own tariffs are untouched.
func (r *Runner) synthesizeTariffs(ctx context.Context, in *milp.Inputs, startDay time.Time, steps int) {
	if r.prices == nil {
		return
	}
	missing := false
	for _, m := range in.Meters {
		if len(m.LBuy) == 0 || len(m.LSell) == 0 {
			missing = true
			break
		}
	}
	if !missing {
		return
	}

	hourly, err := r.prices.HorizonPrices(ctx, startDay, int(math.Ceil(in.NrDays)))
	if err != nil {
		r.log.Warn().Err(err).Msg("day-ahead prices unavailable; tariffs stay as given")
		return
	}
	tf := dayahead.Tariff{BuyMarkup: r.cfg.BuyMarkup, SellMargin: r.cfg.SellMargin}
	buy, err := tf.BuySeries(hourly, in.DeltaT)
	if err != nil {
		r.log.Warn().Err(err).Msg("cannot build tariff series from day-ahead prices")
		return
	}
	sell, _ := tf.SellSeries(hourly, in.DeltaT)

	for id, m := range in.Meters {
		synthesized := false
		if len(m.LBuy) == 0 {
			m.LBuy = buy[:steps]
			synthesized = true
		}
		if len(m.LSell) == 0 {
			m.LSell = sell[:steps]
			synthesized = true
		}
		if synthesized {
			r.log.Info().Str("meter", id).Msg("synthesized retail tariffs from day-ahead prices")
		}
	}
}

// applyClustering replaces the horizon's data by representative days when
// the configuration asks for fewer clusters than there are days. The
// spliced series keep the cluster label order, and every timestep of a
// representative day carries the cluster's day count as its weight.
func (r *Runner) applyClustering(in *milp.Inputs, results *Results) error {
	k := r.cfg.NrClusters
	if k <= 0 {
		return nil
	}
	nrDays := int(in.NrDays)
	if float64(nrDays) != in.NrDays || nrDays < 2 {
		r.log.Warn().Float64("nr_days", in.NrDays).
			Msg("clustering needs a whole number of days >= 2; skipping")
		return nil
	}
	if k > nrDays {
		r.log.Warn().Int("nr_clusters", k).Int("nr_days", nrDays).
			Msg("nr_clusters > nr_days; clamping")
		k = nrDays
	}
	if k == nrDays {
		return nil
	}

	clIn := &clustering.Inputs{
		NrDays:               nrDays,
		DeltaT:               in.DeltaT,
		NrRepresentativeDays: k,
		LGrid:                in.LGrid,
		Timeseries:           map[string]*clustering.MeterSeries{},
	}
	for id, m := range in.Meters {
		clIn.Timeseries[id] = &clustering.MeterSeries{
			EGFactor: m.EGFactor,
			EC:       m.EC,
			LBuy:     m.LBuy,
			LSell:    m.LSell,
		}
	}
	clOut, err := clustering.KMedoids(clIn, r.log)
	if err != nil {
		return err
	}
	results.Clustering = clOut

	stepsPerDay := int(math.Round(24 / in.DeltaT))
	for id, m := range in.Meters {
		m.EGFactor = spliceClusters(clOut.RepresentativeEGFactor[id], k)
		m.EC = spliceClusters(clOut.RepresentativeEC[id], k)
		m.LBuy = spliceClusters(clOut.RepresentativeLBuy[id], k)
		m.LSell = spliceClusters(clOut.RepresentativeLSell[id], k)
	}
	in.LGrid = spliceClusters(clOut.RepresentativeLGrid, k)
	weights := make([]float64, 0, k*stepsPerDay)
	for label := 0; label < k; label++ {
		for s := 0; s < stepsPerDay; s++ {
			weights = append(weights, float64(clOut.ClusterNrDays[label]))
		}
	}
	in.Weights = weights
	in.NrDaysOriginal = float64(nrDays)
	in.NrDays = float64(k)
	r.log.Info().Int("days", nrDays).Int("representative_days", k).
		Float64("inertia", clOut.Inertia).
		Msg("clustered the horizon into representative days")
	return nil
}

func spliceClusters(rep map[int][]float64, k int) []float64 {
	var out []float64
	for label := 0; label < k; label++ {
		out = append(out, rep[label]...)
	}
	return out
}
